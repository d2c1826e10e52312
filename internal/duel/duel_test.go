package duel_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/duel"
	"github.com/quizduel/backend/internal/errors"
	"github.com/quizduel/backend/internal/event"
	"github.com/quizduel/backend/internal/matchmaking"
	"github.com/quizduel/backend/internal/registry"
)

// fakeConn records every message pushed to one player.
type fakeConn struct {
	mu     sync.Mutex
	msgs   []duel.Message
	closed bool
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = append(c.msgs, v.(duel.Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *fakeConn) byType(msgType string) []duel.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []duel.Message
	for _, m := range c.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakeProvider serves a fixed batch, optionally failing the first calls or
// stalling each fetch until the test releases it.
type fakeProvider struct {
	mu       sync.Mutex
	batch    []domain.Question
	failures int
	calls    int

	fetching chan struct{}
	release  chan struct{}
}

func (p *fakeProvider) FetchBatch(_ context.Context, count int) ([]domain.Question, error) {
	p.mu.Lock()
	p.calls++
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	fetching, release := p.fetching, p.release
	batch := p.batch
	p.mu.Unlock()

	if fetching != nil {
		fetching <- struct{}{}
	}
	if release != nil {
		<-release
	}

	if fail {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("question provider unavailable"))
	}

	if count > len(batch) {
		count = len(batch)
	}
	out := make([]domain.Question, count)
	copy(out, batch)
	return out, nil
}

func makeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{
			Order:         i,
			Prompt:        fmt.Sprintf("prompt %d", i),
			CorrectAnswer: "A",
			Distractors:   []string{"B", "C", "D"},
			Category:      "general",
			Difficulty:    "easy",
		}
	}
	return qs
}

type fixture struct {
	registry *registry.Registry
	pool     *matchmaking.Pool
	store    *duel.Store
	bus      *event.Bus
	provider *fakeProvider
	clock    *clockwork.FakeClock

	svc *duel.Service
	sup *duel.Supervisor

	mu    sync.Mutex
	ended []domain.EventMatchEnded
}

type option func(*fixture)

func withProviderFailures(n int) option {
	return func(f *fixture) { f.provider.failures = n }
}

func withQuestionCount(n int) option {
	return func(f *fixture) { f.provider.batch = makeQuestions(n) }
}

// withStallingProvider makes each fetch signal on provider.fetching and then
// block until provider.release is closed.
func withStallingProvider() option {
	return func(f *fixture) {
		f.provider.fetching = make(chan struct{}, 1)
		f.provider.release = make(chan struct{})
	}
}

func makeFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	f := &fixture{
		registry: registry.New(),
		pool:     matchmaking.NewPool(200),
		store:    duel.NewStore(),
		bus:      event.NewBus(),
		provider: &fakeProvider{batch: makeQuestions(3)},
		clock:    clockwork.NewFakeClock(),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.bus.Subscribe(domain.EventNameMatchEnded, func(_ context.Context, e event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.ended = append(f.ended, e.(domain.EventMatchEnded))
		return nil
	})

	f.svc = duel.NewService(duel.Config{
		Registry:          f.registry,
		Pool:              f.pool,
		Store:             f.store,
		Questions:         f.provider,
		EventBus:          f.bus,
		QuestionsPerMatch: len(f.provider.batch),
	})

	f.sup = duel.NewSupervisor(duel.SupervisorConfig{
		Orchestrator: f.svc,
		Pool:         f.pool,
		Store:        f.store,
		Clock:        f.clock,
		GracePeriod:  duel.DefaultGracePeriod,
	})

	return f
}

func (f *fixture) connect(playerID string) *fakeConn {
	c := &fakeConn{}
	f.registry.Bind(playerID, c)
	return c
}

func (f *fixture) join(t *testing.T, playerID string, rating int) {
	t.Helper()

	err := f.svc.Join(context.Background(), domain.Identity{
		PlayerID:    playerID,
		Username:    playerID,
		SkillRating: rating,
	})
	require.NoError(t, err)
}

// startMatch connects and pairs two players and returns their conns plus the
// session ID from the match_found push.
func (f *fixture) startMatch(t *testing.T) (a, b *fakeConn, sessionID string) {
	t.Helper()

	a, b = f.connect("alice"), f.connect("bob")
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1050)

	found := a.byType(duel.TypeMatchFound)
	require.Len(t, found, 1)
	return a, b, found[0].Payload.(duel.MatchFoundPayload).SessionID
}

func (f *fixture) endedEvents() []domain.EventMatchEnded {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.EventMatchEnded, len(f.ended))
	copy(out, f.ended)
	return out
}
