// escrow/coordinator.go
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

var (
	ErrUnknownMatch              = errors.New("unknown match")
	ErrNotParticipant            = errors.New("identity is not part of this match")
	ErrEscrowNotReady            = errors.New("escrow destination not ready")
	ErrAlreadyDeposited          = errors.New("deposit already confirmed for this side")
	ErrDepositVerificationFailed = errors.New("deposit verification failed")
	ErrPayoutVerificationFailed  = errors.New("payout verification failed")
	ErrNotResolved               = errors.New("match is not resolved")
	ErrNotCancelled              = errors.New("match is not cancelled")
)

// two is the pool multiplier: both sides stake the same amount.
var two = decimal.NewFromInt(2)

// Coordinator drives the external ledger: escrow creation, deposit
// verification and payout issuance. Every ledger-facing operation is
// idempotent per match so callers can retry after transient failures
// without risking a second transfer.
type Coordinator struct {
	store    persistence.MatchStore
	provider ledger.Provider
	notifier broadcast.Notifier
}

func NewCoordinator(store persistence.MatchStore, provider ledger.Provider, notifier broadcast.Notifier) *Coordinator {
	return &Coordinator{store: store, provider: provider, notifier: notifier}
}

// InitiateDeposit returns the transfer instruction moving identity's stake
// into the match escrow. The host's first call creates the escrow
// destination; every later call for the same match reuses it.
func (c *Coordinator) InitiateDeposit(ctx context.Context, roomCode, identity string) (*ledger.TransferInstruction, error) {
	m, err := c.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	if err != nil {
		return nil, err
	}

	if m.Status.Terminal() {
		return nil, models.ErrMatchTerminal
	}

	role, ok := m.RoleOf(identity)
	if !ok {
		return nil, ErrNotParticipant
	}

	switch role {
	case models.RoleHost:
		if m.HostDeposited {
			return nil, ErrAlreadyDeposited
		}
		if m.EscrowAddress == "" {
			addr, err := c.ensureEscrow(ctx, m)
			if err != nil {
				return nil, err
			}
			m.EscrowAddress = addr
		}
	case models.RoleOpponent:
		if m.OpponentDeposited {
			return nil, ErrAlreadyDeposited
		}
		// The opponent deposits into the destination the host created.
		if m.EscrowAddress == "" {
			return nil, ErrEscrowNotReady
		}
	}

	return c.provider.BuildTransfer(ctx, identity, m.EscrowAddress, m.Stake)
}

// ensureEscrow creates the escrow destination at most once per match. If a
// concurrent call won the attach race, the freshly created destination is
// discarded and the recorded one is used.
func (c *Coordinator) ensureEscrow(ctx context.Context, m *models.Match) (string, error) {
	addr, err := c.provider.CreateEscrowDestination(ctx)
	if err != nil {
		return "", fmt.Errorf("creating escrow destination: %w", err)
	}

	err = c.store.AttachEscrow(m.RoomCode, addr)
	if errors.Is(err, persistence.ErrConflict) {
		current, gerr := c.store.GetMatch(m.RoomCode)
		if gerr != nil {
			return "", gerr
		}
		if current.EscrowAddress == "" {
			return "", ErrEscrowNotReady
		}
		logger.Log.Infof("Match %s already has escrow %s, discarding %s",
			m.RoomCode, current.EscrowAddress, addr)
		return current.EscrowAddress, nil
	}
	if err != nil {
		return "", err
	}

	logger.Log.Infof("Created escrow destination %s for match %s", addr, m.RoomCode)
	return addr, nil
}

// ConfirmDeposit verifies a submitted transfer against the ledger before
// marking the side's stake as escrowed. Both flags set advances the match
// to active. Confirming the same side twice with the same transfer is an
// idempotent no-op; the returned bool reports whether this call flipped
// the flag.
func (c *Coordinator) ConfirmDeposit(ctx context.Context, roomCode, identity, ledgerTxID string) (*models.Match, bool, error) {
	m, err := c.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, false, ErrUnknownMatch
	}
	if err != nil {
		return nil, false, err
	}

	if m.Status.Terminal() {
		return nil, false, models.ErrMatchTerminal
	}

	role, ok := m.RoleOf(identity)
	if !ok {
		return nil, false, ErrNotParticipant
	}

	if (role == models.RoleHost && m.HostDeposited) ||
		(role == models.RoleOpponent && m.OpponentDeposited) {
		return m, false, nil
	}

	if m.EscrowAddress == "" {
		return nil, false, ErrEscrowNotReady
	}

	// Ledger verification happens before any state change and holds no
	// lock on the match; the status guard is the concurrency token.
	status, err := c.provider.GetTransferStatus(ctx, ledgerTxID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDepositVerificationFailed, err)
	}
	if !status.Finalized {
		return nil, false, fmt.Errorf("%w: transfer %s not finalized", ErrDepositVerificationFailed, ledgerTxID)
	}
	if status.To != m.EscrowAddress {
		return nil, false, fmt.Errorf("%w: transfer destination %s does not match escrow %s",
			ErrDepositVerificationFailed, status.To, m.EscrowAddress)
	}
	if !status.Amount.Equal(m.Stake) {
		return nil, false, fmt.Errorf("%w: transfer amount %s does not match stake %s",
			ErrDepositVerificationFailed, status.Amount, m.Stake)
	}

	if _, err := c.store.ConfirmDeposit(roomCode, role); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			// A duplicate confirmation landed first; report current state.
			current, gerr := c.store.GetMatch(roomCode)
			if gerr != nil {
				return nil, false, gerr
			}
			if r, _ := current.RoleOf(identity); (r == models.RoleHost && current.HostDeposited) ||
				(r == models.RoleOpponent && current.OpponentDeposited) {
				return current, false, nil
			}
			return nil, false, models.ErrMatchTerminal
		}
		return nil, false, err
	}

	updated, err := c.store.GetMatch(roomCode)
	if err != nil {
		return nil, false, err
	}

	logger.Log.Infof("Deposit confirmed for %s side of match %s (tx %s), status now %s",
		role, roomCode, ledgerTxID, updated.Status)
	c.notifier.MatchChanged(updated)
	return updated, true, nil
}

// IssuePayout returns the instruction set settling a resolved match: one
// transfer of the full pool to the winner, or two stake refunds on a tie.
// A settled match returns an empty set, so crash-and-retry never authorizes
// a second payout.
func (c *Coordinator) IssuePayout(ctx context.Context, roomCode string) ([]*ledger.TransferInstruction, error) {
	m, err := c.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	if err != nil {
		return nil, err
	}

	if m.Status == models.StatusSettled {
		return nil, nil
	}
	if m.Status != models.StatusResolved {
		return nil, ErrNotResolved
	}

	if m.WinnerIdentity != "" {
		pool := m.Stake.Mul(two)
		instr, err := c.provider.BuildTransfer(ctx, m.EscrowAddress, m.WinnerIdentity, pool)
		if err != nil {
			return nil, err
		}
		return []*ledger.TransferInstruction{instr}, nil
	}

	// Tie: each depositor gets their own stake back.
	hostRefund, err := c.provider.BuildTransfer(ctx, m.EscrowAddress, m.HostIdentity, m.Stake)
	if err != nil {
		return nil, err
	}
	opponentRefund, err := c.provider.BuildTransfer(ctx, m.EscrowAddress, m.OpponentIdentity, m.Stake)
	if err != nil {
		return nil, err
	}
	return []*ledger.TransferInstruction{hostRefund, opponentRefund}, nil
}

// ConfirmPayout verifies payout finality with the ledger and marks the
// match settled. The match stays resolved until every expected transfer is
// final, so retrying IssuePayout after a crash stays safe.
func (c *Coordinator) ConfirmPayout(ctx context.Context, roomCode string, ledgerTxIDs []string) (*models.Match, error) {
	m, err := c.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	if err != nil {
		return nil, err
	}

	if m.Status == models.StatusSettled {
		return m, nil
	}
	if m.Status != models.StatusResolved {
		return nil, ErrNotResolved
	}

	expected := c.expectedPayouts(m)
	if len(ledgerTxIDs) != len(expected) {
		return nil, fmt.Errorf("%w: expected %d transfers, got %d",
			ErrPayoutVerificationFailed, len(expected), len(ledgerTxIDs))
	}

	remaining := make(map[string]bool, len(expected))
	for dest := range expected {
		remaining[dest] = true
	}
	for _, txID := range ledgerTxIDs {
		status, err := c.provider.GetTransferStatus(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayoutVerificationFailed, err)
		}
		if !status.Finalized {
			return nil, fmt.Errorf("%w: transfer %s not finalized", ErrPayoutVerificationFailed, txID)
		}
		amount, ok := expected[status.To]
		if !ok || !remaining[status.To] {
			return nil, fmt.Errorf("%w: unexpected transfer destination %s", ErrPayoutVerificationFailed, status.To)
		}
		if !status.Amount.Equal(amount) {
			return nil, fmt.Errorf("%w: transfer %s amount %s, expected %s",
				ErrPayoutVerificationFailed, txID, status.Amount, amount)
		}
		remaining[status.To] = false
	}

	if err := c.store.MarkSettled(roomCode); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			current, gerr := c.store.GetMatch(roomCode)
			if gerr != nil {
				return nil, gerr
			}
			if current.Status == models.StatusSettled {
				return current, nil
			}
			return nil, ErrNotResolved
		}
		return nil, err
	}

	settled, err := c.store.GetMatch(roomCode)
	if err != nil {
		return nil, err
	}

	c.recordHistory(settled)
	logger.Log.Infof("Match %s settled", roomCode)
	c.notifier.MatchChanged(settled)
	return settled, nil
}

// RefundOnCancel builds refund instructions for any deposit confirmed
// before a match was cancelled, so a single-sided deposit is never
// stranded in escrow.
func (c *Coordinator) RefundOnCancel(ctx context.Context, roomCode string) ([]*ledger.TransferInstruction, error) {
	m, err := c.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	if err != nil {
		return nil, err
	}

	if m.Status != models.StatusCancelled {
		return nil, ErrNotCancelled
	}
	if m.EscrowAddress == "" {
		return nil, nil
	}

	var instructions []*ledger.TransferInstruction
	if m.HostDeposited {
		instr, err := c.provider.BuildTransfer(ctx, m.EscrowAddress, m.HostIdentity, m.Stake)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, instr)
	}
	if m.OpponentDeposited {
		instr, err := c.provider.BuildTransfer(ctx, m.EscrowAddress, m.OpponentIdentity, m.Stake)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, instr)
	}
	if len(instructions) > 0 {
		logger.Log.Infof("Issued %d refund instruction(s) for cancelled match %s", len(instructions), roomCode)
	}
	return instructions, nil
}

func (c *Coordinator) expectedPayouts(m *models.Match) map[string]decimal.Decimal {
	if m.WinnerIdentity != "" {
		return map[string]decimal.Decimal{
			m.WinnerIdentity: m.Stake.Mul(two),
		}
	}
	return map[string]decimal.Decimal{
		m.HostIdentity:     m.Stake,
		m.OpponentIdentity: m.Stake,
	}
}

func (c *Coordinator) recordHistory(m *models.Match) {
	outcome := "tie"
	switch m.WinnerIdentity {
	case m.HostIdentity:
		outcome = "host"
	case m.OpponentIdentity:
		outcome = "opponent"
	case "":
	}
	rec := &models.MatchRecord{
		RoomCode:         m.RoomCode,
		HostIdentity:     m.HostIdentity,
		OpponentIdentity: m.OpponentIdentity,
		Stake:            m.Stake,
		WinnerIdentity:   m.WinnerIdentity,
		Outcome:          outcome,
		SettledAt:        time.Now(),
	}
	if err := c.store.SaveMatchRecord(rec); err != nil {
		// History is advisory; settlement already happened.
		logger.Log.Errorf("Failed to save match record for %s: %v", m.RoomCode, err)
	}
}
