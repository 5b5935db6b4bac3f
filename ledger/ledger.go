// ledger/ledger.go
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFinalized is returned when a transfer exists but the ledger has not
// yet confirmed finality. Callers retry the same request after backoff.
var ErrNotFinalized = errors.New("transfer not finalized")

// TransferInstruction is an unsigned transfer built by the ledger provider.
// Signing and submission happen client-side; the engine only hands the blob
// to the party that must sign it.
type TransferInstruction struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Blob   string          `json:"blob,omitempty"` // serialized unsigned transaction
}

// TransferStatus is the ledger's view of a submitted transfer.
type TransferStatus struct {
	Amount    decimal.Decimal `json:"amount"`
	To        string          `json:"to"`
	Finalized bool            `json:"finalized"`
}

// Provider is the external value-transfer ledger. All calls can fail
// transiently; they are safe to retry with the same arguments.
type Provider interface {
	// CreateEscrowDestination provisions a fresh funds-holding account.
	CreateEscrowDestination(ctx context.Context) (string, error)
	// BuildTransfer constructs an unsigned transfer instruction.
	BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*TransferInstruction, error)
	// GetTransferStatus reports amount, destination and finality of a
	// submitted transfer.
	GetTransferStatus(ctx context.Context, txID string) (*TransferStatus, error)
}
