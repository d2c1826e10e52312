package duel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizduel/backend/internal/matchmaking"
)

// DefaultGracePeriod is how long a mid-match disconnect is allowed before the
// match is forfeited to the opponent.
const DefaultGracePeriod = 30 * time.Second

type SupervisorConfig struct {
	Orchestrator *Service
	Pool         matchmaking.Matcher
	Store        *Store
	Clock        clockwork.Clock
	GracePeriod  time.Duration
}

// Supervisor tracks players who drop mid-match and forfeits their session if
// they do not come back within the grace period.
//
// Each player has at most one outstanding grace timer. Timers carry a
// generation number: a fire that lost the race against a cancel or a
// replacement sees a mismatched generation and does nothing, so a session end
// is never processed twice.
type Supervisor struct {
	orch  *Service
	pool  matchmaking.Matcher
	store *Store
	clock clockwork.Clock
	grace time.Duration

	mu     sync.Mutex
	gen    uint64
	timers map[string]*graceTimer
}

type graceTimer struct {
	gen   uint64
	timer clockwork.Timer
}

func NewSupervisor(c SupervisorConfig) *Supervisor {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}

	sv := &Supervisor{
		orch:   c.Orchestrator,
		pool:   c.Pool,
		store:  c.Store,
		clock:  c.Clock,
		grace:  c.GracePeriod,
		timers: make(map[string]*graceTimer),
	}
	sv.orch.supervisor = sv
	return sv
}

// OnDisconnect reacts to a player's registry binding going away. Queued but
// unmatched players are simply dequeued; a participant of an active session
// gets a grace timer, and the opponent is told.
func (sv *Supervisor) OnDisconnect(ctx context.Context, playerID string) {
	if sv.pool.Dequeue(playerID) {
		// Removal never enables a new pairing, so no pairing pass follows.
		sv.orch.metrics.SetPoolDepth(sv.pool.Len())
		slog.InfoContext(ctx, "duel: queued player disconnected", "player", playerID)
		return
	}

	ls, ok := sv.store.ByPlayer(playerID)
	if !ok {
		return
	}

	ls.mu.Lock()
	sessionID := ls.s.SessionID
	opponentID := ls.s.Opponent(playerID)
	ls.mu.Unlock()

	sv.orch.notify(ctx, opponentID, TypeOpponentDisconnected, OpponentPayload{
		OpponentID: playerID,
	})

	sv.mu.Lock()
	defer sv.mu.Unlock()

	// A second disconnect before the first timer resolves replaces the timer
	// instead of stacking a second one.
	if gt, ok := sv.timers[playerID]; ok {
		gt.timer.Stop()
	}

	sv.gen++
	gen := sv.gen
	sv.timers[playerID] = &graceTimer{
		gen: gen,
		timer: sv.clock.AfterFunc(sv.grace, func() {
			sv.onGraceExpired(playerID, gen, sessionID, opponentID)
		}),
	}

	slog.InfoContext(ctx, "duel: grace period started",
		"player", playerID,
		"session", sessionID,
		"grace", sv.grace,
	)
}

// OnReconnect cancels the player's grace timer, if one is pending, and tells
// the opponent. Reconnecting after the timer fired is a no-op: the session is
// already gone.
func (sv *Supervisor) OnReconnect(ctx context.Context, playerID string) {
	sv.mu.Lock()
	gt, ok := sv.timers[playerID]
	if ok {
		gt.timer.Stop()
		delete(sv.timers, playerID)
	}
	sv.mu.Unlock()

	if !ok {
		return
	}

	ls, found := sv.store.ByPlayer(playerID)
	if !found {
		return
	}

	ls.mu.Lock()
	opponentID := ls.s.Opponent(playerID)
	ls.mu.Unlock()

	slog.InfoContext(ctx, "duel: player reconnected within grace", "player", playerID)
	sv.orch.notify(ctx, opponentID, TypeOpponentReconnected, OpponentPayload{
		OpponentID: playerID,
	})
}

func (sv *Supervisor) onGraceExpired(playerID string, gen uint64, sessionID, opponentID string) {
	sv.mu.Lock()
	gt, ok := sv.timers[playerID]
	if !ok || gt.gen != gen {
		// Lost the race against a cancel or a newer timer.
		sv.mu.Unlock()
		return
	}
	delete(sv.timers, playerID)
	sv.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.InfoContext(ctx, "duel: grace period expired, forfeiting match",
		"player", playerID,
		"session", sessionID,
	)

	sv.orch.EndMatch(ctx, sessionID, opponentID)
}

// PendingTimers returns the number of outstanding grace timers.
func (sv *Supervisor) PendingTimers() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	return len(sv.timers)
}
