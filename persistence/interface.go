// persistence/interface.go
package persistence

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/game"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
)

var (
	// ErrNotFound is returned when no match exists for a room code.
	ErrNotFound = errors.New("match not found")
	// ErrConflict is returned when a conditional update finds the match in a
	// different state than the guard expected. Callers re-read the match to
	// decide whether the operation already happened or is illegal.
	ErrConflict = errors.New("conditional update conflict")
)

// MatchStore is the single source of truth for match state. Every mutation
// is a conditional update guarded on the current status or on a field being
// absent, so two racing requests can never both succeed.
type MatchStore interface {
	CreateMatch(m *models.Match) error
	GetMatch(roomCode string) (*models.Match, error)

	// FindPendingMatch returns one joinable match: status pending, equal
	// stake, no opponent, host different from identity.
	FindPendingMatch(stake decimal.Decimal, excludeIdentity string) (*models.Match, error)

	// AssignOpponent claims the opponent slot. Guard: status pending, no
	// opponent assigned, host differs from identity. Advances the match to
	// awaiting_deposits in the same write.
	AssignOpponent(roomCode, identity string) error

	// AttachEscrow records the escrow destination. Guard: none attached yet.
	AttachEscrow(roomCode, address string) error

	// ConfirmDeposit sets one side's deposit flag. Guard: status pending or
	// awaiting_deposits and the flag still unset. When the other side already
	// deposited and an opponent is assigned, the match advances to active in
	// the same write. Returns the status after the update.
	ConfirmDeposit(roomCode string, role models.Role) (models.Status, error)

	// RecordChoice writes one side's choice. Guard: status active and the
	// side's choice still absent.
	RecordChoice(roomCode string, role models.Role, choice game.Choice) error

	// ResolveMatch records the winner (empty for a tie). Guard: status
	// active and both choices present.
	ResolveMatch(roomCode, winnerIdentity string) error

	// MarkSettled finalizes a paid-out match. Guard: status resolved.
	MarkSettled(roomCode string) error

	// CancelMatch aborts a match. Guard: status pending or awaiting_deposits.
	CancelMatch(roomCode string) error

	// FindStaleMatches lists matches stuck before activation since before
	// the cutoff, for the cancellation sweep.
	FindStaleMatches(cutoff time.Time, limit int) ([]*models.Match, error)

	SaveMatchRecord(rec *models.MatchRecord) error
	GetIdentityStats(identity string) (*models.IdentityStats, error)

	Close() error
}
