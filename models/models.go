// models/models.go
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/game"
)

// Role identifies which side of a match an identity occupies.
type Role string

const (
	RoleHost     Role = "host"
	RoleOpponent Role = "opponent"
)

// ErrMatchTerminal is returned for any write attempted after a match
// reached Settled or Cancelled.
var ErrMatchTerminal = errors.New("match is in a terminal state")

// Match is the durable record of one wager between two identities.
// RoomCode is the primary key; identities are opaque public-key strings.
type Match struct {
	RoomCode          string
	Stake             decimal.Decimal
	HostIdentity      string
	OpponentIdentity  string
	Status            Status
	EscrowAddress     string
	HostDeposited     bool
	OpponentDeposited bool
	HostChoice        game.Choice
	OpponentChoice    game.Choice
	WinnerIdentity    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RoleOf reports which side identity occupies, if either.
func (m *Match) RoleOf(identity string) (Role, bool) {
	switch identity {
	case m.HostIdentity:
		return RoleHost, true
	case m.OpponentIdentity:
		if identity != "" {
			return RoleOpponent, true
		}
	}
	return "", false
}

// BothDeposited reports whether both stakes are escrowed.
func (m *Match) BothDeposited() bool {
	return m.HostDeposited && m.OpponentDeposited
}

// MatchEvent is the push payload delivered to both participants on every
// state transition.
type MatchEvent struct {
	RoomCode       string `json:"room_code"`
	Status         string `json:"status"`
	HostChosen     bool   `json:"host_chosen"`
	OpponentChosen bool   `json:"opponent_chosen"`
	HostChoice     string `json:"host_choice,omitempty"`
	OpponentChoice string `json:"opponent_choice,omitempty"`
	WinnerIdentity string `json:"winner_identity,omitempty"`
}

// EventFor builds the push payload for a match's current state.
// Choices are only disclosed once the match is resolved, so neither side
// can peek at the other's hand mid-game.
func EventFor(m *Match) *MatchEvent {
	ev := &MatchEvent{
		RoomCode:       m.RoomCode,
		Status:         string(m.Status),
		HostChosen:     m.HostChoice != "",
		OpponentChosen: m.OpponentChoice != "",
	}
	if m.Status == StatusResolved || m.Status == StatusSettled {
		ev.HostChoice = string(m.HostChoice)
		ev.OpponentChoice = string(m.OpponentChoice)
		ev.WinnerIdentity = m.WinnerIdentity
	}
	return ev
}

// MatchRecord is the immutable history row persisted when a match settles.
type MatchRecord struct {
	RoomCode         string
	HostIdentity     string
	OpponentIdentity string
	Stake            decimal.Decimal
	WinnerIdentity   string
	Outcome          string // host/opponent/tie
	SettledAt        time.Time
}

// IdentityStats aggregates an identity's settled match history.
type IdentityStats struct {
	TotalMatches int             `json:"total_matches"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	Ties         int             `json:"ties"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
}
