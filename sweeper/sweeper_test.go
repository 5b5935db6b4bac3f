package sweeper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/escrow"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

func init() {
	logger.InitDevelopment()
}

// fakeLedger records every transfer it is asked to build.
type fakeLedger struct {
	mu        sync.Mutex
	escrows   int
	built     []*ledger.TransferInstruction
	transfers map[string]*ledger.TransferStatus
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{transfers: make(map[string]*ledger.TransferStatus)}
}

func (f *fakeLedger) CreateEscrowDestination(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escrows++
	return fmt.Sprintf("escrow-%d", f.escrows), nil
}

func (f *fakeLedger) BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*ledger.TransferInstruction, error) {
	instr := &ledger.TransferInstruction{From: from, To: to, Amount: amount}
	f.mu.Lock()
	f.built = append(f.built, instr)
	f.mu.Unlock()
	return instr, nil
}

func (f *fakeLedger) GetTransferStatus(ctx context.Context, txID string) (*ledger.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.transfers[txID]
	if !ok {
		return nil, fmt.Errorf("unknown transfer %s", txID)
	}
	return status, nil
}

func (f *fakeLedger) builtTransfers() []*ledger.TransferInstruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ledger.TransferInstruction(nil), f.built...)
}

func staleMatch(t *testing.T, store persistence.MatchStore, code string, age time.Duration) {
	t.Helper()
	err := store.CreateMatch(&models.Match{
		RoomCode:     code,
		Stake:        decimal.NewFromInt(1),
		HostIdentity: "alice",
		Status:       models.StatusPending,
		CreatedAt:    time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}
}

func TestSweep_CancelsStalePending(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	coordinator := escrow.NewCoordinator(store, provider, broadcast.Nop{})
	s := New(store, coordinator, broadcast.Nop{}, 10*time.Minute)

	staleMatch(t, store, "OLD001", time.Hour)
	staleMatch(t, store, "NEW001", time.Minute)

	s.Sweep()

	old, _ := store.GetMatch("OLD001")
	if old.Status != models.StatusCancelled {
		t.Errorf("Stale match should be cancelled, got %s", old.Status)
	}
	fresh, _ := store.GetMatch("NEW001")
	if fresh.Status != models.StatusPending {
		t.Errorf("Fresh match must not be touched, got %s", fresh.Status)
	}

	// A match nobody ever joined or funded never touches the ledger.
	if provider.escrows != 0 || len(provider.builtTransfers()) != 0 {
		t.Errorf("Sweep of an unfunded match created ledger traffic: %d escrows, %d transfers",
			provider.escrows, len(provider.builtTransfers()))
	}
}

func TestSweep_RefundsSingleDeposit(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	coordinator := escrow.NewCoordinator(store, provider, broadcast.Nop{})
	s := New(store, coordinator, broadcast.Nop{}, 10*time.Minute)

	staleMatch(t, store, "OLD002", time.Hour)
	if err := store.AttachEscrow("OLD002", "escrow-held"); err != nil {
		t.Fatalf("AttachEscrow failed: %v", err)
	}
	if _, err := store.ConfirmDeposit("OLD002", models.RoleHost); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}

	s.Sweep()

	m, _ := store.GetMatch("OLD002")
	if m.Status != models.StatusCancelled {
		t.Fatalf("Expected cancelled, got %s", m.Status)
	}

	built := provider.builtTransfers()
	if len(built) != 1 {
		t.Fatalf("Expected one refund instruction, got %d", len(built))
	}
	refund := built[0]
	if refund.From != "escrow-held" || refund.To != "alice" || !refund.Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Unexpected refund instruction: %+v", refund)
	}
}

func TestSweep_RefundStillRetrievableAfterCancel(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	coordinator := escrow.NewCoordinator(store, provider, broadcast.Nop{})
	s := New(store, coordinator, broadcast.Nop{}, 10*time.Minute)

	staleMatch(t, store, "OLD004", time.Hour)
	if err := store.AttachEscrow("OLD004", "escrow-held"); err != nil {
		t.Fatalf("AttachEscrow failed: %v", err)
	}
	if _, err := store.ConfirmDeposit("OLD004", models.RoleHost); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}

	s.Sweep()

	// The depositor asks for their refund after the sweep already ran.
	refunds, err := coordinator.RefundOnCancel(context.Background(), "OLD004")
	if err != nil {
		t.Fatalf("RefundOnCancel after sweep failed: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("Expected the refund to stay retrievable, got %d instruction(s)", len(refunds))
	}
	if refunds[0].To != "alice" || !refunds[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Unexpected refund instruction: %+v", refunds[0])
	}
}

func TestSweep_IgnoresActiveMatches(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	coordinator := escrow.NewCoordinator(store, provider, broadcast.Nop{})
	s := New(store, coordinator, broadcast.Nop{}, 10*time.Minute)

	staleMatch(t, store, "OLD003", time.Hour)
	if err := store.AssignOpponent("OLD003", "bob"); err != nil {
		t.Fatalf("AssignOpponent failed: %v", err)
	}
	if err := store.AttachEscrow("OLD003", "escrow-held"); err != nil {
		t.Fatalf("AttachEscrow failed: %v", err)
	}
	if _, err := store.ConfirmDeposit("OLD003", models.RoleHost); err != nil {
		t.Fatalf("ConfirmDeposit host failed: %v", err)
	}
	if _, err := store.ConfirmDeposit("OLD003", models.RoleOpponent); err != nil {
		t.Fatalf("ConfirmDeposit opponent failed: %v", err)
	}

	s.Sweep()

	m, _ := store.GetMatch("OLD003")
	if m.Status != models.StatusActive {
		t.Errorf("Active match must not be swept, got %s", m.Status)
	}
}
