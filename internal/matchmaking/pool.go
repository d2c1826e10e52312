// Package matchmaking holds the ordered waiting set of players requesting a
// duel and produces pairings from it.
package matchmaking

import (
	"sort"
	"sync"
	"time"

	"github.com/quizduel/backend/internal/errors"
)

// DefaultRatingThreshold is the widest acceptable skill-rating gap between
// two paired players.
const DefaultRatingThreshold = 200

// Entry is one waiting player.
type Entry struct {
	PlayerID    string
	SkillRating int
	EnqueuedAt  time.Time
}

// Pairing is two players removed from the pool in one step.
type Pairing struct {
	A Entry
	B Entry
}

// Matcher is the pool contract the orchestrator pairs against. The pool's
// greedy policy hides behind it so a different matcher can be swapped in
// without touching the orchestrator.
type Matcher interface {
	Enqueue(playerID string, skillRating int) error
	Dequeue(playerID string) bool
	Match() (Pairing, bool)
	Len() int
}

// Pool is the in-memory Matcher. All operations are serialized on one mutex;
// in particular Match removes both sides of a pairing inside a single
// critical section, so no concurrent enqueue or dequeue can claim one side.
type Pool struct {
	mu        sync.Mutex
	threshold int
	entries   []Entry
}

func NewPool(threshold int) *Pool {
	if threshold <= 0 {
		threshold = DefaultRatingThreshold
	}
	return &Pool{threshold: threshold}
}

// Enqueue adds a waiting player. A player with a pending entry cannot be
// enqueued twice.
func (p *Pool) Enqueue(playerID string, skillRating int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.PlayerID == playerID {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("matchmaking: player %s already queued", playerID))
		}
	}

	p.entries = append(p.entries, Entry{
		PlayerID:    playerID,
		SkillRating: skillRating,
		EnqueuedAt:  time.Now(),
	})
	return nil
}

// Dequeue removes a waiting player. Removal is idempotent; an absent player
// is not an error.
func (p *Pool) Dequeue(playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.PlayerID == playerID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Match sorts the waiting entries by skill rating and pairs the first
// adjacent pair within the rating threshold, removing both entries
// atomically. The policy is greedy: the stable sort resolves rating ties by
// insertion order, and only adjacent entries are considered.
func (p *Pool) Match() (Pairing, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) < 2 {
		return Pairing{}, false
	}

	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].SkillRating < p.entries[j].SkillRating
	})

	for i := 0; i < len(p.entries)-1; i++ {
		a, b := p.entries[i], p.entries[i+1]
		if b.SkillRating-a.SkillRating <= p.threshold {
			p.entries = append(p.entries[:i], p.entries[i+2:]...)
			return Pairing{A: a, B: b}, true
		}
	}

	return Pairing{}, false
}

// Len returns the number of waiting players.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}
