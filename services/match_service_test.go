package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/escrow"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/matchmaker"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

func init() {
	logger.InitDevelopment()
}

type fakeLedger struct {
	mu        sync.Mutex
	escrows   int
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
	return &ledger.TransferInstruction{From: from, To: to, Amount: amount}, nil
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

// execute pretends the client signed and submitted the instruction; the
// resulting transfer is final immediately.
func (f *fakeLedger) execute(txID string, instr *ledger.TransferInstruction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[txID] = &ledger.TransferStatus{Amount: instr.Amount, To: instr.To, Finalized: true}
}

func newActiveMatch(t *testing.T, store persistence.MatchStore, code string) {
	t.Helper()
	err := store.CreateMatch(&models.Match{
		RoomCode:     code,
		Stake:        decimal.NewFromInt(1),
		HostIdentity: "alice",
		Status:       models.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}
	if err := store.AssignOpponent(code, "bob"); err != nil {
		t.Fatalf("AssignOpponent failed: %v", err)
	}
	if err := store.AttachEscrow(code, "escrow-1"); err != nil {
		t.Fatalf("AttachEscrow failed: %v", err)
	}
	if _, err := store.ConfirmDeposit(code, models.RoleHost); err != nil {
		t.Fatalf("ConfirmDeposit host failed: %v", err)
	}
	if _, err := store.ConfirmDeposit(code, models.RoleOpponent); err != nil {
		t.Fatalf("ConfirmDeposit opponent failed: %v", err)
	}
}

func TestSubmitChoice_ResolvesOnSecondHand(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewMatchService(store, broadcast.Nop{})
	newActiveMatch(t, store, "ROOM01")

	m, err := svc.SubmitChoice("ROOM01", "alice", "rock")
	if err != nil {
		t.Fatalf("SubmitChoice failed: %v", err)
	}
	if m.Status != models.StatusActive {
		t.Errorf("One hand should not resolve the match, got %s", m.Status)
	}

	m, err = svc.SubmitChoice("ROOM01", "bob", "scissors")
	if err != nil {
		t.Fatalf("SubmitChoice failed: %v", err)
	}
	if m.Status != models.StatusResolved {
		t.Errorf("Expected resolved after both hands, got %s", m.Status)
	}
	if m.WinnerIdentity != "alice" {
		t.Errorf("Rock beats scissors; winner should be alice, got %q", m.WinnerIdentity)
	}
}

func TestSubmitChoice_TieLeavesNoWinner(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewMatchService(store, broadcast.Nop{})
	newActiveMatch(t, store, "ROOM02")

	svc.SubmitChoice("ROOM02", "alice", "paper")
	m, err := svc.SubmitChoice("ROOM02", "bob", "paper")
	if err != nil {
		t.Fatalf("SubmitChoice failed: %v", err)
	}
	if m.Status != models.StatusResolved || m.WinnerIdentity != "" {
		t.Errorf("Tie should resolve with no winner, got %+v", m)
	}
}

func TestSubmitChoice_Errors(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewMatchService(store, broadcast.Nop{})
	newActiveMatch(t, store, "ROOM03")

	if _, err := svc.SubmitChoice("NOPE", "alice", "rock"); !errors.Is(err, ErrUnknownMatch) {
		t.Errorf("Expected ErrUnknownMatch, got %v", err)
	}
	if _, err := svc.SubmitChoice("ROOM03", "mallory", "rock"); !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("Expected ErrUnknownIdentity, got %v", err)
	}
	if _, err := svc.SubmitChoice("ROOM03", "alice", "lizard"); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("Expected ErrInvalidChoice, got %v", err)
	}

	if _, err := svc.SubmitChoice("ROOM03", "alice", "rock"); err != nil {
		t.Fatalf("SubmitChoice failed: %v", err)
	}
	if _, err := svc.SubmitChoice("ROOM03", "alice", "paper"); !errors.Is(err, ErrAlreadyChosen) {
		t.Errorf("Expected ErrAlreadyChosen, got %v", err)
	}
}

func TestSubmitChoice_NotActive(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewMatchService(store, broadcast.Nop{})

	err := store.CreateMatch(&models.Match{
		RoomCode:     "ROOM04",
		Stake:        decimal.NewFromInt(1),
		HostIdentity: "alice",
		Status:       models.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}

	if _, err := svc.SubmitChoice("ROOM04", "alice", "rock"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive for a pending match, got %v", err)
	}

	if err := store.CancelMatch("ROOM04"); err != nil {
		t.Fatalf("CancelMatch failed: %v", err)
	}
	if _, err := svc.SubmitChoice("ROOM04", "alice", "rock"); !errors.Is(err, models.ErrMatchTerminal) {
		t.Errorf("Expected ErrMatchTerminal for a cancelled match, got %v", err)
	}
}

// TestFullMatch_HostWins walks a complete match: find-or-join pairing, both
// deposits of stake 1, rock vs scissors, a single 2-unit payout to the host
// and settlement.
func TestFullMatch_HostWins(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	notifier := broadcast.Nop{}
	mm := matchmaker.New(store, notifier)
	coordinator := escrow.NewCoordinator(store, provider, notifier)
	svc := NewMatchService(store, notifier)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	m, role, err := mm.FindOrJoin("alice", one)
	if err != nil || role != models.RoleHost {
		t.Fatalf("FindOrJoin(alice) = %v, %v", role, err)
	}
	code := m.RoomCode

	if _, role, err = mm.FindOrJoin("bob", one); err != nil || role != models.RoleOpponent {
		t.Fatalf("FindOrJoin(bob) = %v, %v", role, err)
	}

	for i, identity := range []string{"alice", "bob"} {
		instr, err := coordinator.InitiateDeposit(ctx, code, identity)
		if err != nil {
			t.Fatalf("InitiateDeposit(%s) failed: %v", identity, err)
		}
		txID := fmt.Sprintf("tx-deposit-%d", i)
		provider.execute(txID, instr)
		if _, _, err := coordinator.ConfirmDeposit(ctx, code, identity, txID); err != nil {
			t.Fatalf("ConfirmDeposit(%s) failed: %v", identity, err)
		}
	}

	m, err = svc.GetMatch(code)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if m.Status != models.StatusActive {
		t.Fatalf("Expected active after both deposits, got %s", m.Status)
	}

	if _, err := svc.SubmitChoice(code, "alice", "rock"); err != nil {
		t.Fatalf("SubmitChoice(alice) failed: %v", err)
	}
	m, err = svc.SubmitChoice(code, "bob", "scissors")
	if err != nil {
		t.Fatalf("SubmitChoice(bob) failed: %v", err)
	}
	if m.Status != models.StatusResolved || m.WinnerIdentity != "alice" {
		t.Fatalf("Expected alice to win, got %+v", m)
	}

	payouts, err := coordinator.IssuePayout(ctx, code)
	if err != nil {
		t.Fatalf("IssuePayout failed: %v", err)
	}
	if len(payouts) != 1 || payouts[0].To != "alice" || !payouts[0].Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("Expected one 2-unit payout to alice, got %+v", payouts)
	}

	provider.execute("tx-payout", payouts[0])
	m, err = coordinator.ConfirmPayout(ctx, code, []string{"tx-payout"})
	if err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	if m.Status != models.StatusSettled {
		t.Fatalf("Expected settled, got %s", m.Status)
	}

	stats, err := svc.GetIdentityStats("alice")
	if err != nil {
		t.Fatalf("GetIdentityStats failed: %v", err)
	}
	if stats.Wins != 1 || stats.TotalMatches != 1 {
		t.Errorf("Expected one win for alice, got %+v", stats)
	}
}

// TestFullMatch_TieRefunds plays paper vs paper and checks both stakes come
// back and nobody is recorded as winner.
func TestFullMatch_TieRefunds(t *testing.T) {
	store := persistence.NewMemory()
	provider := newFakeLedger()
	notifier := broadcast.Nop{}
	mm := matchmaker.New(store, notifier)
	coordinator := escrow.NewCoordinator(store, provider, notifier)
	svc := NewMatchService(store, notifier)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	m, _, err := mm.FindOrJoin("alice", one)
	if err != nil {
		t.Fatalf("FindOrJoin(alice) failed: %v", err)
	}
	code := m.RoomCode
	if _, _, err := mm.FindOrJoin("bob", one); err != nil {
		t.Fatalf("FindOrJoin(bob) failed: %v", err)
	}

	for i, identity := range []string{"alice", "bob"} {
		instr, err := coordinator.InitiateDeposit(ctx, code, identity)
		if err != nil {
			t.Fatalf("InitiateDeposit(%s) failed: %v", identity, err)
		}
		txID := fmt.Sprintf("tx-deposit-%d", i)
		provider.execute(txID, instr)
		if _, _, err := coordinator.ConfirmDeposit(ctx, code, identity, txID); err != nil {
			t.Fatalf("ConfirmDeposit(%s) failed: %v", identity, err)
		}
	}

	svc.SubmitChoice(code, "alice", "paper")
	m, err = svc.SubmitChoice(code, "bob", "paper")
	if err != nil {
		t.Fatalf("SubmitChoice(bob) failed: %v", err)
	}
	if m.WinnerIdentity != "" {
		t.Fatalf("Tie must have no winner, got %q", m.WinnerIdentity)
	}

	refunds, err := coordinator.IssuePayout(ctx, code)
	if err != nil {
		t.Fatalf("IssuePayout failed: %v", err)
	}
	if len(refunds) != 2 {
		t.Fatalf("Expected two refunds, got %d", len(refunds))
	}
	txIDs := make([]string, 0, 2)
	for i, instr := range refunds {
		if !instr.Amount.Equal(one) {
			t.Errorf("Refund %d should be 1 unit, got %s", i, instr.Amount)
		}
		txID := fmt.Sprintf("tx-refund-%d", i)
		provider.execute(txID, instr)
		txIDs = append(txIDs, txID)
	}

	m, err = coordinator.ConfirmPayout(ctx, code, txIDs)
	if err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	if m.Status != models.StatusSettled {
		t.Fatalf("Expected settled, got %s", m.Status)
	}

	stats, err := svc.GetIdentityStats("bob")
	if err != nil {
		t.Fatalf("GetIdentityStats failed: %v", err)
	}
	if stats.Ties != 1 || stats.Wins != 0 || stats.Losses != 0 {
		t.Errorf("Expected a single tie for bob, got %+v", stats)
	}
}
