// matchmaker/matchmaker.go
package matchmaker

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
)

var (
	ErrInvalidStake   = errors.New("stake must be positive")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room already has an opponent")
	ErrSelfJoin       = errors.New("cannot join your own match")
	ErrNotParticipant = errors.New("identity is not part of this match")
	ErrMatchUnderway  = errors.New("match already underway, cannot cancel")
)

// joinAttempts bounds how many pending candidates a FindOrJoin call races
// for before giving up and creating a fresh match.
const joinAttempts = 3

// roomCodeAlphabet omits lookalike characters so codes survive being read
// aloud or retyped.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// Matchmaker pairs identities into matches. It owns the guarantee that each
// match gets at most one host and at most one opponent.
type Matchmaker struct {
	store    persistence.MatchStore
	notifier broadcast.Notifier
}

func New(store persistence.MatchStore, notifier broadcast.Notifier) *Matchmaker {
	return &Matchmaker{store: store, notifier: notifier}
}

// NewRoomCode generates a short human-shareable identifier.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// CreateMatch opens a new pending match hosted by identity.
func (mm *Matchmaker) CreateMatch(identity string, stake decimal.Decimal) (*models.Match, error) {
	if stake.Sign() <= 0 {
		return nil, ErrInvalidStake
	}

	// Regenerate on the rare code collision; the store's unique index is
	// the authority.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := NewRoomCode()
		if err != nil {
			return nil, err
		}
		m := &models.Match{
			RoomCode:     code,
			Stake:        stake,
			HostIdentity: identity,
			Status:       models.StatusPending,
		}
		if err := mm.store.CreateMatch(m); err != nil {
			if errors.Is(err, persistence.ErrConflict) {
				continue
			}
			return nil, err
		}
		logger.Log.Infof("Identity %s created match %s with stake %s", identity, code, stake)
		created, err := mm.store.GetMatch(code)
		if err != nil {
			return nil, err
		}
		mm.notifier.MatchChanged(created)
		return created, nil
	}
	return nil, fmt.Errorf("failed to generate a unique room code")
}

// FindOrJoin claims a pending match with an equal stake, or creates one.
// The claim is a single conditional write; losing the race against another
// joiner moves on to the next candidate.
func (mm *Matchmaker) FindOrJoin(identity string, stake decimal.Decimal) (*models.Match, models.Role, error) {
	if stake.Sign() <= 0 {
		return nil, "", ErrInvalidStake
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		candidate, err := mm.store.FindPendingMatch(stake, identity)
		if errors.Is(err, persistence.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, "", err
		}

		err = mm.store.AssignOpponent(candidate.RoomCode, identity)
		if errors.Is(err, persistence.ErrConflict) || errors.Is(err, persistence.ErrNotFound) {
			// Another joiner won this candidate.
			continue
		}
		if err != nil {
			return nil, "", err
		}

		joined, err := mm.store.GetMatch(candidate.RoomCode)
		if err != nil {
			return nil, "", err
		}
		logger.Log.Infof("Identity %s joined match %s as opponent", identity, joined.RoomCode)
		mm.notifier.MatchChanged(joined)
		return joined, models.RoleOpponent, nil
	}

	m, err := mm.CreateMatch(identity, stake)
	if err != nil {
		return nil, "", err
	}
	return m, models.RoleHost, nil
}

// JoinByCode claims the opponent slot of a specific match.
func (mm *Matchmaker) JoinByCode(identity, roomCode string) (*models.Match, error) {
	m, err := mm.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	if m.HostIdentity == identity {
		return nil, ErrSelfJoin
	}

	err = mm.store.AssignOpponent(roomCode, identity)
	if errors.Is(err, persistence.ErrConflict) {
		return nil, mm.joinConflict(roomCode, identity)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	joined, err := mm.store.GetMatch(roomCode)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("Identity %s joined match %s by code", identity, roomCode)
	mm.notifier.MatchChanged(joined)
	return joined, nil
}

// joinConflict re-reads the match after a lost claim to report why.
func (mm *Matchmaker) joinConflict(roomCode, identity string) error {
	m, err := mm.store.GetMatch(roomCode)
	if err != nil {
		return ErrRoomNotFound
	}
	switch {
	case m.HostIdentity == identity:
		return ErrSelfJoin
	case m.OpponentIdentity != "":
		return ErrRoomFull
	case m.Status.Terminal():
		return models.ErrMatchTerminal
	default:
		return ErrRoomFull
	}
}

// Leave cancels a match before both deposits land. Only a participant can
// leave; refunds for any single confirmed deposit are handled by the escrow
// coordinator after cancellation.
func (mm *Matchmaker) Leave(identity, roomCode string) (*models.Match, error) {
	m, err := mm.store.GetMatch(roomCode)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, ok := m.RoleOf(identity); !ok {
		return nil, ErrNotParticipant
	}

	if err := mm.store.CancelMatch(roomCode); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			current, gerr := mm.store.GetMatch(roomCode)
			if gerr == nil && current.Status.Terminal() {
				return nil, models.ErrMatchTerminal
			}
			return nil, ErrMatchUnderway
		}
		return nil, err
	}

	cancelled, err := mm.store.GetMatch(roomCode)
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("Identity %s left match %s, match cancelled", identity, roomCode)
	mm.notifier.MatchChanged(cancelled)
	return cancelled, nil
}
