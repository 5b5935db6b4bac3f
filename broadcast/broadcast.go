// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"

	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/network"
	"github.com/bigbagadawgz/wager-paper-scissors/session"
)

// Notifier pushes match-state changes to the two participants. It is a side
// effect sink: delivery failures never roll back a state transition.
type Notifier interface {
	MatchChanged(m *models.Match)
}

// MatchBroadcaster delivers match events to every live session of the host
// and opponent identities.
type MatchBroadcaster struct {
	sessionManager *session.Manager
}

func NewMatchBroadcaster(sessionManager *session.Manager) *MatchBroadcaster {
	return &MatchBroadcaster{sessionManager: sessionManager}
}

func (b *MatchBroadcaster) MatchChanged(m *models.Match) {
	data, err := json.Marshal(models.EventFor(m))
	if err != nil {
		logger.Log.Errorf("Error marshalling match event for %s: %v", m.RoomCode, err)
		return
	}

	identities := []string{m.HostIdentity}
	if m.OpponentIdentity != "" {
		identities = append(identities, m.OpponentIdentity)
	}

	for _, identity := range identities {
		for _, s := range b.sessionManager.GetByIdentity(identity) {
			if err := s.Send(network.MsgTypeMatchState, data); err != nil {
				// Dead connections are reaped by the read loop.
				continue
			}
		}
	}
}

// Nop discards events. Used where no push channel is wired up.
type Nop struct{}

func (Nop) MatchChanged(*models.Match) {}
