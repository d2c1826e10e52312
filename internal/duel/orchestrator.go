package duel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/errors"
	"github.com/quizduel/backend/internal/event"
	"github.com/quizduel/backend/internal/matchmaking"
	"github.com/quizduel/backend/internal/question"
	"github.com/quizduel/backend/internal/registry"
	"github.com/quizduel/backend/internal/telemetry"
)

type Config struct {
	Registry  *registry.Registry
	Pool      matchmaking.Matcher
	Store     *Store
	Questions question.Provider
	EventBus  *event.Bus
	Metrics   *telemetry.Metrics

	// QuestionsPerMatch is the batch size requested from the provider.
	QuestionsPerMatch int
}

// Service is the duel state machine driver. It owns every mutation of pool
// and session state; connection-lifecycle code reaches it only through Join,
// Leave, SubmitAnswer and the supervisor's forced EndMatch.
type Service struct {
	registry  *registry.Registry
	pool      matchmaking.Matcher
	store     *Store
	questions question.Provider
	eb        *event.Bus
	metrics   *telemetry.Metrics
	batchSize int

	// supervisor is back-linked by NewSupervisor so the pairing pass can
	// hand off a participant who vanished while the batch fetch was in
	// flight.
	supervisor *Supervisor
}

func NewService(c Config) *Service {
	if c.QuestionsPerMatch <= 0 {
		c.QuestionsPerMatch = question.DefaultBatchSize
	}

	return &Service{
		registry:  c.Registry,
		pool:      c.Pool,
		store:     c.Store,
		questions: c.Questions,
		eb:        c.EventBus,
		metrics:   c.Metrics,
		batchSize: c.QuestionsPerMatch,
	}
}

// Join enters the player into matchmaking and runs a pairing pass. A player
// already waiting or already in an active session cannot join again.
func (s *Service) Join(ctx context.Context, id domain.Identity) error {
	if ls, ok := s.store.ByPlayer(id.PlayerID); ok {
		ls.mu.Lock()
		sessionID := ls.s.SessionID
		ls.mu.Unlock()

		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("player %s already in match %s", id.PlayerID, sessionID))
	}

	if err := s.pool.Enqueue(id.PlayerID, id.SkillRating); err != nil {
		return err
	}

	s.metrics.SetPoolDepth(s.pool.Len())
	slog.InfoContext(ctx, "duel: player joined matchmaking",
		"player", id.PlayerID,
		"rating", id.SkillRating,
	)

	s.PairingPass(ctx)
	return nil
}

// Leave removes the player from matchmaking. Absent players are a no-op.
// No pairing pass runs here: removing an entry from the sorted pool never
// brings two remaining entries within threshold.
func (s *Service) Leave(ctx context.Context, playerID string) {
	if !s.pool.Dequeue(playerID) {
		return
	}

	s.metrics.SetPoolDepth(s.pool.Len())
	s.notify(ctx, playerID, TypeMatchmakingCancelled, MatchmakingCancelledPayload{
		Message: "You have left matchmaking.",
	})
}

// PairingPass pairs the closest waiting players, if any pair is within the
// rating threshold, and starts their duel. It runs after every enqueue and
// after every forced pool removal.
func (s *Service) PairingPass(ctx context.Context) {
	pairing, ok := s.pool.Match()
	if !ok {
		return
	}
	s.metrics.SetPoolDepth(s.pool.Len())

	qs, err := s.questions.FetchBatch(ctx, s.batchSize)
	if err != nil {
		s.abortPairing(ctx, pairing, err)
		return
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		s.abortPairing(ctx, pairing, fmt.Errorf("generate session ID: %w", err))
		return
	}

	sess := domain.Session{
		SessionID: sessionID.String(),
		PlayerA:   pairing.A.PlayerID,
		PlayerB:   pairing.B.PlayerID,
		Status:    domain.StatusActive,
		Scores: map[string]int{
			pairing.A.PlayerID: 0,
			pairing.B.PlayerID: 0,
		},
		Questions: qs,
		Answers:   make(map[int]map[string]domain.AnswerRecord),
		StartedAt: time.Now(),
	}

	if err := s.store.Create(sess); err != nil {
		s.abortPairing(ctx, pairing, err)
		return
	}

	s.metrics.MatchStarted()
	slog.InfoContext(ctx, "duel: match created",
		"session", sess.SessionID,
		"player_a", sess.PlayerA,
		"player_b", sess.PlayerB,
	)

	s.notify(ctx, sess.PlayerA, TypeMatchFound, MatchFoundPayload{
		SessionID:  sess.SessionID,
		OpponentID: sess.PlayerB,
		Questions:  qs,
	})
	s.notify(ctx, sess.PlayerB, TypeMatchFound, MatchFoundPayload{
		SessionID:  sess.SessionID,
		OpponentID: sess.PlayerA,
		Questions:  qs,
	})

	// A participant may have dropped while the batch fetch was in flight:
	// Match had already removed them from the pool and no session existed
	// yet, so their disconnect found nothing to act on. Re-route it now
	// that the session is visible.
	if s.supervisor != nil {
		for _, p := range []string{sess.PlayerA, sess.PlayerB} {
			if _, ok := s.registry.Lookup(p); !ok {
				s.supervisor.OnDisconnect(ctx, p)
			}
		}
	}
}

// abortPairing returns both players to the pool and tells them the attempt
// failed. No session state exists at this point.
func (s *Service) abortPairing(ctx context.Context, pairing matchmaking.Pairing, cause error) {
	slog.ErrorContext(ctx, "duel: pairing aborted",
		"player_a", pairing.A.PlayerID,
		"player_b", pairing.B.PlayerID,
		"error", cause,
	)

	for _, e := range []matchmaking.Entry{pairing.A, pairing.B} {
		if err := s.pool.Enqueue(e.PlayerID, e.SkillRating); err != nil {
			slog.ErrorContext(ctx, "duel: re-enqueue failed", "player", e.PlayerID, "error", err)
		}
		s.notify(ctx, e.PlayerID, TypeError, ErrorPayload{
			Message: "Match could not be started, you have been returned to matchmaking.",
		})
	}
	s.metrics.SetPoolDepth(s.pool.Len())
}

// SubmitAnswer validates and scores one player's answer.
//
// An answer to a question the player already answered is a silent no-op.
// Accepted answers are scored, both players are notified, and when both have
// answered the current question the session advances or ends.
func (s *Service) SubmitAnswer(ctx context.Context, playerID, sessionID string, order int, answer string) error {
	ls, ok := s.store.Get(sessionID)
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("unknown session %s", sessionID))
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if !ls.s.IsParticipant(playerID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("player %s is not in session %s", playerID, sessionID))
	}

	if ls.s.Status != domain.StatusActive {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s already ended", sessionID))
	}

	// A later question than the current one has not been asked yet. Earlier
	// questions stay open per player: in-order advancement does not require
	// both answers to arrive simultaneously.
	if order < 0 || order > ls.s.CurrentOrder {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question %d is not open in session %s", order, sessionID))
	}

	if ls.s.Answered(order, playerID) {
		return nil
	}

	q := ls.s.Questions[order]
	correct := answer == q.CorrectAnswer

	if ls.s.Answers[order] == nil {
		ls.s.Answers[order] = make(map[string]domain.AnswerRecord)
	}
	ls.s.Answers[order][playerID] = domain.AnswerRecord{
		QuestionOrder: order,
		PlayerID:      playerID,
		Answer:        answer,
		Correct:       correct,
	}
	if correct {
		ls.s.Scores[playerID]++
	}

	s.notifyBoth(ctx, &ls.s, TypeAnswerFeedback, AnswerFeedbackPayload{
		PlayerID:      playerID,
		QuestionOrder: order,
		IsCorrect:     correct,
		CorrectAnswer: q.CorrectAnswer,
	})
	s.notifyBoth(ctx, &ls.s, TypeScoreUpdate, ScoreUpdatePayload{
		SessionID: sessionID,
		Scores:    copyScores(ls.s.Scores),
	})

	s.advanceLocked(ctx, ls)
	return nil
}

// advanceLocked moves the session past the current question once both
// participants have answered it. Re-running after an advance is a no-op, so
// the check is safe to repeat.
func (s *Service) advanceLocked(ctx context.Context, ls *liveSession) {
	if ls.s.Status != domain.StatusActive || !ls.s.BothAnswered(ls.s.CurrentOrder) {
		return
	}

	ls.s.CurrentOrder++
	if ls.s.CurrentOrder >= len(ls.s.Questions) {
		s.endLocked(ctx, ls, "")
		return
	}

	s.notifyBoth(ctx, &ls.s, TypeNextQuestion, NextQuestionPayload{
		Question: ls.s.Questions[ls.s.CurrentOrder],
	})
}

// EndMatch forces the ENDED transition regardless of remaining questions,
// with the winner fixed by the caller. Used by the disconnection supervisor.
func (s *Service) EndMatch(ctx context.Context, sessionID, winnerID string) {
	ls, ok := s.store.Get(sessionID)
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	s.endLocked(ctx, ls, winnerID)
}

// endLocked performs the ENDED transition exactly once: winner decided,
// result published for asynchronous recording, game_ended pushed best-effort
// to both players, session evicted. A disconnected participant misses the
// push and reconciles later through the leaderboard.
func (s *Service) endLocked(ctx context.Context, ls *liveSession, winnerID string) {
	if ls.s.Status == domain.StatusEnded {
		return
	}
	ls.s.Status = domain.StatusEnded

	if winnerID == "" {
		a, b := ls.s.Scores[ls.s.PlayerA], ls.s.Scores[ls.s.PlayerB]
		switch {
		case a > b:
			winnerID = ls.s.PlayerA
		case b > a:
			winnerID = ls.s.PlayerB
		default:
			winnerID = domain.Draw
		}
	}
	ls.s.WinnerID = winnerID

	result := domain.MatchResult{
		SessionID: ls.s.SessionID,
		WinnerID:  winnerID,
		Scores:    copyScores(ls.s.Scores),
		EndedAt:   time.Now(),
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventMatchEnded{Result: result})
	}

	s.notifyBoth(ctx, &ls.s, TypeGameEnded, GameEndedPayload{
		SessionID: ls.s.SessionID,
		Winner:    winnerID,
		Scores:    result.Scores,
	})

	s.store.Remove(ls.s.SessionID)
	s.metrics.MatchEnded()

	slog.InfoContext(ctx, "duel: match ended",
		"session", ls.s.SessionID,
		"winner", winnerID,
	)
}

// notify delivers one message to one player's live connection. Absent or
// broken handles are a silent no-op; delivery is best effort.
func (s *Service) notify(ctx context.Context, playerID, msgType string, payload any) {
	conn, ok := s.registry.Lookup(playerID)
	if !ok {
		return
	}

	if err := conn.Send(Message{Type: msgType, Payload: payload}); err != nil {
		slog.WarnContext(ctx, "duel: send failed",
			"player", playerID,
			"type", msgType,
			"error", err,
		)
	}
}

func (s *Service) notifyBoth(ctx context.Context, sess *domain.Session, msgType string, payload any) {
	var eg errgroup.Group
	for _, p := range []string{sess.PlayerA, sess.PlayerB} {
		p := p
		eg.Go(func() error {
			s.notify(ctx, p, msgType, payload)
			return nil
		})
	}
	_ = eg.Wait()
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}
