// Package reaper schedules the removal of participants that have gone
// quiet for longer than the configured reap timeout, and cancels that
// removal on reconnect — the structured-concurrency rendering of
// §4.3's per-participant cancellable timer.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"foodmesh/internal/storage"
)

type command struct {
	userID string
	kind    commandKind
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdReconnect
)

type fireEvent struct {
	userID     string
	generation uint64
}

// Reaper owns one goroutine and a map of armed timers, one per
// tracked participant.
type Reaper struct {
	timeout time.Duration
	store   *storage.Storage
	log     zerolog.Logger

	commands chan command
	fired    chan fireEvent
}

// New returns a Reaper that removes a participant from store after it
// has been quiet for timeout.
func New(timeout time.Duration, store *storage.Storage, log zerolog.Logger) *Reaper {
	return &Reaper{
		timeout:  timeout,
		store:    store,
		log:      log,
		commands: make(chan command, 64),
		fired:    make(chan fireEvent, 64),
	}
}

// StartReapProcess arms (or re-arms) the removal timer for userID.
func (r *Reaper) StartReapProcess(userID string) {
	r.commands <- command{userID: userID, kind: cmdStart}
}

// ReconnectUser cancels userID's pending removal, if any.
func (r *Reaper) ReconnectUser(userID string) {
	r.commands <- command{userID: userID, kind: cmdReconnect}
}

// Run is the reaper's mailbox loop. It owns the *time.Timer map
// exclusively; no other goroutine ever touches it.
func (r *Reaper) Run(ctx context.Context) {
	timers := make(map[string]*time.Timer)
	generations := make(map[string]uint64)

	stopAndClear := func(userID string) {
		if t, ok := timers[userID]; ok {
			t.Stop()
			delete(timers, userID)
		}
	}

	for {
		select {
		case cmd := <-r.commands:
			switch cmd.kind {
			case cmdStart:
				// Stop before rearming even on the reset path: an
				// in-flight fire from the stale timer could otherwise
				// race this reset and reap a just-reconnected user.
				stopAndClear(cmd.userID)
				generations[cmd.userID]++
				userID, gen := cmd.userID, generations[cmd.userID]
				timers[userID] = time.AfterFunc(r.timeout, func() {
					r.fired <- fireEvent{userID: userID, generation: gen}
				})
			case cmdReconnect:
				stopAndClear(cmd.userID)
			}
		case ev := <-r.fired:
			if _, stillArmed := timers[ev.userID]; !stillArmed {
				continue
			}
			if generations[ev.userID] != ev.generation {
				continue // stale fire racing a restart
			}
			delete(timers, ev.userID)
			r.log.Info().Str("user_id", ev.userID).Msg("reap timeout elapsed, removing user")
			r.store.RemoveUser(ev.userID)
		case <-ctx.Done():
			for _, t := range timers {
				t.Stop()
			}
			return
		}
	}
}
