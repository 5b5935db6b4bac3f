// persistence/memory.go
package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/game"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
)

// Memory is an in-process MatchStore for development and tests. Guards are
// re-checked under the mutex so its conditional-update semantics match the
// SQL stores exactly.
type Memory struct {
	mu      sync.Mutex
	matches map[string]*models.Match
	records []*models.MatchRecord
}

func NewMemory() *Memory {
	return &Memory{
		matches: make(map[string]*models.Match),
	}
}

func clone(m *models.Match) *models.Match {
	c := *m
	return &c
}

func (s *Memory) CreateMatch(m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[m.RoomCode]; exists {
		return ErrConflict
	}
	c := clone(m)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()
	s.matches[m.RoomCode] = c
	return nil
}

func (s *Memory) GetMatch(roomCode string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (s *Memory) FindPendingMatch(stake decimal.Decimal, excludeIdentity string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.Match
	for _, m := range s.matches {
		if m.Status == models.StatusPending && m.OpponentIdentity == "" &&
			m.Stake.Equal(stake) && m.HostIdentity != excludeIdentity {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return clone(candidates[0]), nil
}

// locked fetches the live row under the mutex, distinguishing missing rooms.
func (s *Memory) locked(roomCode string) (*models.Match, error) {
	m, ok := s.matches[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Memory) AssignOpponent(roomCode, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.Status != models.StatusPending || m.OpponentIdentity != "" || m.HostIdentity == identity {
		return ErrConflict
	}
	m.OpponentIdentity = identity
	m.Status = models.StatusAwaitingDeposits
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) AttachEscrow(roomCode, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.EscrowAddress != "" || m.Status.Terminal() ||
		m.Status == models.StatusActive || m.Status == models.StatusResolved {
		return ErrConflict
	}
	m.EscrowAddress = address
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) ConfirmDeposit(roomCode string, role models.Role) (models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return "", err
	}
	if m.Status != models.StatusPending && m.Status != models.StatusAwaitingDeposits {
		return "", ErrConflict
	}
	switch role {
	case models.RoleHost:
		if m.HostDeposited {
			return "", ErrConflict
		}
		m.HostDeposited = true
	case models.RoleOpponent:
		if m.OpponentDeposited {
			return "", ErrConflict
		}
		m.OpponentDeposited = true
	default:
		return "", ErrConflict
	}
	if m.BothDeposited() && m.Status == models.StatusAwaitingDeposits {
		m.Status = models.StatusActive
	}
	m.UpdatedAt = time.Now()
	return m.Status, nil
}

func (s *Memory) RecordChoice(roomCode string, role models.Role, choice game.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.Status != models.StatusActive {
		return ErrConflict
	}
	switch role {
	case models.RoleHost:
		if m.HostChoice != "" {
			return ErrConflict
		}
		m.HostChoice = choice
	case models.RoleOpponent:
		if m.OpponentChoice != "" {
			return ErrConflict
		}
		m.OpponentChoice = choice
	default:
		return ErrConflict
	}
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) ResolveMatch(roomCode, winnerIdentity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.Status != models.StatusActive || m.HostChoice == "" || m.OpponentChoice == "" {
		return ErrConflict
	}
	m.WinnerIdentity = winnerIdentity
	m.Status = models.StatusResolved
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) MarkSettled(roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.Status != models.StatusResolved {
		return ErrConflict
	}
	m.Status = models.StatusSettled
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) CancelMatch(roomCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.locked(roomCode)
	if err != nil {
		return err
	}
	if m.Status != models.StatusPending && m.Status != models.StatusAwaitingDeposits {
		return ErrConflict
	}
	m.Status = models.StatusCancelled
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) FindStaleMatches(cutoff time.Time, limit int) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.Match
	for _, m := range s.matches {
		if (m.Status == models.StatusPending || m.Status == models.StatusAwaitingDeposits) &&
			m.CreatedAt.Before(cutoff) {
			stale = append(stale, clone(m))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Memory) SaveMatchRecord(rec *models.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.records = append(s.records, &c)
	return nil
}

func (s *Memory) GetIdentityStats(identity string) (*models.IdentityStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.IdentityStats{TotalStaked: decimal.Zero}
	for _, rec := range s.records {
		if rec.HostIdentity != identity && rec.OpponentIdentity != identity {
			continue
		}
		stats.TotalMatches++
		stats.TotalStaked = stats.TotalStaked.Add(rec.Stake)
		switch {
		case rec.Outcome == "tie":
			stats.Ties++
		case rec.WinnerIdentity == identity:
			stats.Wins++
		default:
			stats.Losses++
		}
	}
	return stats, nil
}

func (s *Memory) Close() error {
	return nil
}
