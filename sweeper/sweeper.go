// sweeper/sweeper.go
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/escrow"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
	"github.com/bigbagadawgz/wager-paper-scissors/timer"
)

// sweepBatch bounds how many stale matches one pass touches.
const sweepBatch = 100

// Sweeper cancels matches stuck before activation past the deadline, so an
// abandoned room never locks a host's intent indefinitely. Any single
// confirmed deposit is refunded through the escrow coordinator.
type Sweeper struct {
	store       persistence.MatchStore
	coordinator *escrow.Coordinator
	notifier    broadcast.Notifier
	deadline    time.Duration
	taskID      int64
	timers      *timer.Manager
}

func New(store persistence.MatchStore, coordinator *escrow.Coordinator, notifier broadcast.Notifier, deadline time.Duration) *Sweeper {
	return &Sweeper{
		store:       store,
		coordinator: coordinator,
		notifier:    notifier,
		deadline:    deadline,
	}
}

// Start schedules the recurring sweep on the given timer manager.
func (s *Sweeper) Start(timers *timer.Manager, interval time.Duration) {
	s.timers = timers
	s.taskID = timers.Schedule(interval, interval, s.Sweep)
	logger.Log.Infof("Match sweeper started: interval %v, cancel deadline %v", interval, s.deadline)
}

// Stop unschedules the sweep.
func (s *Sweeper) Stop() {
	if s.timers != nil {
		s.timers.Cancel(s.taskID)
	}
}

// Sweep runs one cancellation pass.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.deadline)
	stale, err := s.store.FindStaleMatches(cutoff, sweepBatch)
	if err != nil {
		logger.Log.Errorf("Sweep failed to list stale matches: %v", err)
		return
	}

	for _, m := range stale {
		if err := s.store.CancelMatch(m.RoomCode); err != nil {
			// A join or deposit landed between the read and the cancel;
			// leave the match alone.
			if errors.Is(err, persistence.ErrConflict) || errors.Is(err, persistence.ErrNotFound) {
				continue
			}
			logger.Log.Errorf("Sweep failed to cancel match %s: %v", m.RoomCode, err)
			continue
		}

		logger.Log.Infof("Swept stale match %s (created %v)", m.RoomCode, m.CreatedAt)

		cancelled, err := s.store.GetMatch(m.RoomCode)
		if err != nil {
			continue
		}
		s.notifier.MatchChanged(cancelled)

		if cancelled.HostDeposited || cancelled.OpponentDeposited {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.coordinator.RefundOnCancel(ctx, m.RoomCode); err != nil {
				logger.Log.Errorf("Sweep failed to issue refunds for match %s: %v", m.RoomCode, err)
			}
			cancel()
		}
	}
}
