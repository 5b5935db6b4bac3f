package matchmaker

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

func init() {
	logger.InitDevelopment()
}

func newMatchmaker() *Matchmaker {
	return New(persistence.NewMemory(), broadcast.Nop{})
}

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewRoomCode()
		if err != nil {
			t.Fatalf("NewRoomCode failed: %v", err)
		}
		if len(code) != roomCodeLength {
			t.Fatalf("Expected %d-character code, got %q", roomCodeLength, code)
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Errorf("Room codes collide far too often: %d unique of 100", len(seen))
	}
}

func TestCreateMatch(t *testing.T) {
	mm := newMatchmaker()

	m, err := mm.CreateMatch("alice", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}
	if m.Status != models.StatusPending {
		t.Errorf("Expected pending status, got %s", m.Status)
	}
	if m.HostIdentity != "alice" || m.OpponentIdentity != "" {
		t.Errorf("Unexpected identities: %+v", m)
	}
}

func TestCreateMatch_InvalidStake(t *testing.T) {
	mm := newMatchmaker()

	for _, stake := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := mm.CreateMatch("alice", stake); !errors.Is(err, ErrInvalidStake) {
			t.Errorf("Expected ErrInvalidStake for stake %s, got %v", stake, err)
		}
	}
}

func TestFindOrJoin_PairsEqualStakes(t *testing.T) {
	mm := newMatchmaker()
	one := decimal.NewFromInt(1)

	created, role, err := mm.FindOrJoin("alice", one)
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}
	if role != models.RoleHost {
		t.Fatalf("First caller should host, got %s", role)
	}

	joined, role, err := mm.FindOrJoin("bob", one)
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}
	if role != models.RoleOpponent {
		t.Fatalf("Second caller should join as opponent, got %s", role)
	}
	if joined.RoomCode != created.RoomCode {
		t.Errorf("Expected pairing into %s, got %s", created.RoomCode, joined.RoomCode)
	}
	if joined.Status != models.StatusAwaitingDeposits {
		t.Errorf("Expected awaiting_deposits after join, got %s", joined.Status)
	}
}

func TestFindOrJoin_DifferentStakesDoNotPair(t *testing.T) {
	mm := newMatchmaker()

	first, _, err := mm.FindOrJoin("alice", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}

	second, role, err := mm.FindOrJoin("bob", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}
	if role != models.RoleHost {
		t.Errorf("Mismatched stake should create a new match, got role %s", role)
	}
	if second.RoomCode == first.RoomCode {
		t.Error("Different stakes must never pair")
	}
}

func TestFindOrJoin_NeverPairsWithSelf(t *testing.T) {
	mm := newMatchmaker()
	one := decimal.NewFromInt(1)

	first, _, err := mm.FindOrJoin("alice", one)
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}

	second, role, err := mm.FindOrJoin("alice", one)
	if err != nil {
		t.Fatalf("FindOrJoin failed: %v", err)
	}
	if role != models.RoleHost || second.RoomCode == first.RoomCode {
		t.Error("A host must not be paired against themselves")
	}
}

func TestJoinByCode(t *testing.T) {
	mm := newMatchmaker()
	one := decimal.NewFromInt(1)

	created, err := mm.CreateMatch("alice", one)
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}

	joined, err := mm.JoinByCode("bob", created.RoomCode)
	if err != nil {
		t.Fatalf("JoinByCode failed: %v", err)
	}
	if !joined.Stake.Equal(one) {
		t.Errorf("Join should surface the stake, got %s", joined.Stake)
	}
	if joined.OpponentIdentity != "bob" {
		t.Errorf("Expected bob as opponent, got %q", joined.OpponentIdentity)
	}
}

func TestJoinByCode_Errors(t *testing.T) {
	mm := newMatchmaker()

	created, err := mm.CreateMatch("alice", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}

	if _, err := mm.JoinByCode("bob", "NOSUCH"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
	if _, err := mm.JoinByCode("alice", created.RoomCode); !errors.Is(err, ErrSelfJoin) {
		t.Errorf("Expected ErrSelfJoin, got %v", err)
	}

	if _, err := mm.JoinByCode("bob", created.RoomCode); err != nil {
		t.Fatalf("JoinByCode failed: %v", err)
	}
	if _, err := mm.JoinByCode("carol", created.RoomCode); !errors.Is(err, ErrRoomFull) {
		t.Errorf("Expected ErrRoomFull, got %v", err)
	}
}

func TestJoinByCode_ConcurrentOneWinner(t *testing.T) {
	mm := newMatchmaker()

	created, err := mm.CreateMatch("alice", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	joiners := []string{"bob", "carol"}

	for i, identity := range joiners {
		wg.Add(1)
		go func(n int, id string) {
			defer wg.Done()
			_, results[n] = mm.JoinByCode(id, created.RoomCode)
		}(i, identity)
	}
	wg.Wait()

	successes, fulls := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRoomFull):
			fulls++
		default:
			t.Errorf("Unexpected join error: %v", err)
		}
	}
	if successes != 1 || fulls != 1 {
		t.Fatalf("Expected exactly one success and one RoomFull, got %d/%d", successes, fulls)
	}
}

func TestLeave(t *testing.T) {
	mm := newMatchmaker()

	created, err := mm.CreateMatch("alice", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CreateMatch failed: %v", err)
	}

	if _, err := mm.Leave("mallory", created.RoomCode); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant, got %v", err)
	}

	m, err := mm.Leave("alice", created.RoomCode)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if m.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled status, got %s", m.Status)
	}

	if _, err := mm.Leave("alice", created.RoomCode); !errors.Is(err, models.ErrMatchTerminal) {
		t.Errorf("Expected ErrMatchTerminal on second leave, got %v", err)
	}
}
