// services/match_service.go
package services

import (
	"errors"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/game"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

var (
	ErrUnknownMatch    = errors.New("unknown match")
	ErrUnknownIdentity = errors.New("identity matches neither side")
	ErrNotActive       = errors.New("match is not active")
	ErrAlreadyChosen   = errors.New("choice already submitted for this side")
	ErrInvalidChoice   = errors.New("choice must be rock, paper or scissors")
)

// MatchService handles choice submission and read-side views. Resolution
// runs synchronously inside the same transition that records the second
// choice.
type MatchService struct {
	store    persistence.MatchStore
	notifier broadcast.Notifier
}

func NewMatchService(store persistence.MatchStore, notifier broadcast.Notifier) *MatchService {
	return &MatchService{store: store, notifier: notifier}
}

// SubmitChoice records one side's hand. When both hands are present the
// outcome is resolved and the match advances to resolved in the same call.
func (s *MatchService) SubmitChoice(roomCode, identity, rawChoice string) (*models.Match, error) {
	choice, err := game.ParseChoice(rawChoice)
	if err != nil {
		return nil, ErrInvalidChoice
	}

	m, err := s.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	if err != nil {
		return nil, err
	}

	role, ok := m.RoleOf(identity)
	if !ok {
		return nil, ErrUnknownIdentity
	}

	if m.Status.Terminal() {
		return nil, models.ErrMatchTerminal
	}
	if m.Status != models.StatusActive {
		return nil, ErrNotActive
	}

	if err := s.store.RecordChoice(roomCode, role, choice); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return nil, s.choiceConflict(roomCode, role)
		}
		return nil, err
	}

	updated, err := s.store.GetMatch(roomCode)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("Identity %s submitted choice for match %s", identity, roomCode)

	if updated.HostChoice != "" && updated.OpponentChoice != "" {
		return s.resolve(updated)
	}

	s.notifier.MatchChanged(updated)
	return updated, nil
}

// choiceConflict re-reads the match after a lost conditional write to
// report whether the side already chose or the match moved on.
func (s *MatchService) choiceConflict(roomCode string, role models.Role) error {
	m, err := s.store.GetMatch(roomCode)
	if err != nil {
		return ErrUnknownMatch
	}
	if m.Status.Terminal() {
		return models.ErrMatchTerminal
	}
	if m.Status != models.StatusActive {
		return ErrNotActive
	}
	if (role == models.RoleHost && m.HostChoice != "") ||
		(role == models.RoleOpponent && m.OpponentChoice != "") {
		return ErrAlreadyChosen
	}
	return ErrNotActive
}

// resolve computes the winner from the two committed choices and records it
// exactly once. Losing the resolve race to the other submitter is fine:
// both compute the same deterministic result.
func (s *MatchService) resolve(m *models.Match) (*models.Match, error) {
	var winner string
	switch game.Resolve(m.HostChoice, m.OpponentChoice) {
	case game.OutcomeHost:
		winner = m.HostIdentity
	case game.OutcomeOpponent:
		winner = m.OpponentIdentity
	case game.OutcomeTie:
		winner = ""
	}

	err := s.store.ResolveMatch(m.RoomCode, winner)
	if err != nil && !errors.Is(err, persistence.ErrConflict) {
		return nil, err
	}

	resolved, err := s.store.GetMatch(m.RoomCode)
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("Match %s resolved: %s vs %s, winner %q",
		m.RoomCode, m.HostChoice, m.OpponentChoice, resolved.WinnerIdentity)
	s.notifier.MatchChanged(resolved)
	return resolved, nil
}

// GetMatch returns the current match state for rendering.
func (s *MatchService) GetMatch(roomCode string) (*models.Match, error) {
	m, err := s.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrUnknownMatch
	}
	return m, err
}

// GetIdentityStats aggregates an identity's settled match history.
func (s *MatchService) GetIdentityStats(identity string) (*models.IdentityStats, error) {
	return s.store.GetIdentityStats(identity)
}
