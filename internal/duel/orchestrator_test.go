package duel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/duel"
	"github.com/quizduel/backend/internal/errors"
)

func TestService_Join_PairsClosePlayers(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	a, b, sessionID := f.startMatch(t)

	foundA := a.byType(duel.TypeMatchFound)
	foundB := b.byType(duel.TypeMatchFound)
	require.Len(t, foundA, 1)
	require.Len(t, foundB, 1)

	pa := foundA[0].Payload.(duel.MatchFoundPayload)
	pb := foundB[0].Payload.(duel.MatchFoundPayload)

	require.Equal(t, sessionID, pa.SessionID)
	require.Equal(t, sessionID, pb.SessionID)
	require.Equal(t, "bob", pa.OpponentID)
	require.Equal(t, "alice", pb.OpponentID)
	require.Len(t, pa.Questions, 3)

	require.Equal(t, 0, f.pool.Len(), "pool is empty after pairing")
}

func TestService_Join_NoMatchOutsideThreshold(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	a, b := f.connect("alice"), f.connect("bob")
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1500)

	require.Empty(t, a.byType(duel.TypeMatchFound))
	require.Empty(t, b.byType(duel.TypeMatchFound))
	require.Equal(t, 2, f.pool.Len())
}

func TestService_Join_Rejections(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture)
		player  string
	}{
		"a queued player cannot join again": {
			arrange: func(t *testing.T, f *fixture) {
				f.connect("alice")
				f.join(t, "alice", 1000)
			},
			player: "alice",
		},

		"a player in an active match cannot join": {
			arrange: func(t *testing.T, f *fixture) {
				f.startMatch(t)
			},
			player: "alice",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeFixture(t)
			tt.arrange(t, f)

			err := f.svc.Join(context.Background(), domain.Identity{PlayerID: tt.player, SkillRating: 1000})
			require.Error(t, err)
			require.True(t, errors.HasCode(err, errors.CodeAlreadyExists))
		})
	}
}

func TestService_Join_ProviderFailureAbortsPairing(t *testing.T) {
	t.Parallel()

	f := makeFixture(t, withProviderFailures(1))
	a, b := f.connect("alice"), f.connect("bob")
	f.join(t, "alice", 1000)
	f.join(t, "bob", 1050)

	require.Empty(t, a.byType(duel.TypeMatchFound), "no partial session is visible")
	require.Empty(t, b.byType(duel.TypeMatchFound))
	require.Len(t, a.byType(duel.TypeError), 1)
	require.Len(t, b.byType(duel.TypeError), 1)

	require.Equal(t, 2, f.pool.Len(), "both players are re-queued")
	require.False(t, f.store.IsActive("alice"))
	require.False(t, f.store.IsActive("bob"))
}

func TestService_Leave(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	a := f.connect("alice")
	f.join(t, "alice", 1000)

	f.svc.Leave(context.Background(), "alice")
	require.Equal(t, 0, f.pool.Len())
	require.Len(t, a.byType(duel.TypeMatchmakingCancelled), 1)

	// Leaving again is a quiet no-op.
	f.svc.Leave(context.Background(), "alice")
	require.Len(t, a.byType(duel.TypeMatchmakingCancelled), 1)
}

func TestService_SubmitAnswer_Rejections(t *testing.T) {
	tests := map[string]struct {
		playerID  string
		sessionID func(real string) string
		order     int
		wantCode  errors.Code
	}{
		"unknown session": {
			playerID:  "alice",
			sessionID: func(string) string { return "no-such-session" },
			order:     0,
			wantCode:  errors.CodeNotFound,
		},

		"not a participant": {
			playerID:  "mallory",
			sessionID: func(real string) string { return real },
			order:     0,
			wantCode:  errors.CodePermissionDenied,
		},

		"question not asked yet": {
			playerID:  "alice",
			sessionID: func(real string) string { return real },
			order:     1,
			wantCode:  errors.CodeFailedPrecondition,
		},

		"negative question order": {
			playerID:  "alice",
			sessionID: func(real string) string { return real },
			order:     -1,
			wantCode:  errors.CodeFailedPrecondition,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeFixture(t)
			_, _, sessionID := f.startMatch(t)

			err := f.svc.SubmitAnswer(context.Background(), tt.playerID, tt.sessionID(sessionID), tt.order, "A")
			require.Error(t, err)
			require.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestService_SubmitAnswer_ScoresAndAdvances(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	a, b, sessionID := f.startMatch(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A"))

	// One answer in: feedback and scores go to both, no advance yet.
	require.Len(t, a.byType(duel.TypeAnswerFeedback), 1)
	require.Len(t, b.byType(duel.TypeAnswerFeedback), 1)
	require.Empty(t, a.byType(duel.TypeNextQuestion))

	fb := b.byType(duel.TypeAnswerFeedback)[0].Payload.(duel.AnswerFeedbackPayload)
	require.Equal(t, "alice", fb.PlayerID)
	require.True(t, fb.IsCorrect)
	require.Equal(t, "A", fb.CorrectAnswer)

	require.NoError(t, f.svc.SubmitAnswer(ctx, "bob", sessionID, 0, "B"))

	// Both answered question 0: exactly one advance to question 1.
	nextA := a.byType(duel.TypeNextQuestion)
	nextB := b.byType(duel.TypeNextQuestion)
	require.Len(t, nextA, 1)
	require.Len(t, nextB, 1)
	require.Equal(t, 1, nextA[0].Payload.(duel.NextQuestionPayload).Question.Order)

	scores := a.byType(duel.TypeScoreUpdate)
	last := scores[len(scores)-1].Payload.(duel.ScoreUpdatePayload)
	require.Equal(t, map[string]int{"alice": 1, "bob": 0}, last.Scores)
}

func TestService_SubmitAnswer_DuplicateIsSilentNoop(t *testing.T) {
	t.Parallel()

	f := makeFixture(t)
	a, _, sessionID := f.startMatch(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A"))
	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A"), "duplicate is not an error")
	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "D"), "re-score attempts are ignored")

	require.Len(t, a.byType(duel.TypeAnswerFeedback), 1, "no second feedback for a duplicate")

	scores := a.byType(duel.TypeScoreUpdate)
	last := scores[len(scores)-1].Payload.(duel.ScoreUpdatePayload)
	require.Equal(t, 1, last.Scores["alice"], "score is never double-counted")
}

func TestService_CompletionEndsMatch(t *testing.T) {
	t.Parallel()

	f := makeFixture(t, withQuestionCount(1))
	a, b, sessionID := f.startMatch(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A"))
	require.NoError(t, f.svc.SubmitAnswer(ctx, "bob", sessionID, 0, "C"))

	endedA := a.byType(duel.TypeGameEnded)
	endedB := b.byType(duel.TypeGameEnded)
	require.Len(t, endedA, 1)
	require.Len(t, endedB, 1)

	p := endedA[0].Payload.(duel.GameEndedPayload)
	require.Equal(t, sessionID, p.SessionID)
	require.Equal(t, "alice", p.Winner)
	require.Equal(t, map[string]int{"alice": 1, "bob": 0}, p.Scores)

	f.bus.Stop()
	events := f.endedEvents()
	require.Len(t, events, 1, "result published exactly once")
	require.Equal(t, "alice", events[0].Result.WinnerID)
	require.Equal(t, map[string]int{"alice": 1, "bob": 0}, events[0].Result.Scores)

	// The session is gone from the live store.
	require.False(t, f.store.IsActive("alice"))
	require.False(t, f.store.IsActive("bob"))
	err := f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestService_CompletionDraw(t *testing.T) {
	t.Parallel()

	f := makeFixture(t, withQuestionCount(1))
	a, _, sessionID := f.startMatch(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SubmitAnswer(ctx, "alice", sessionID, 0, "A"))
	require.NoError(t, f.svc.SubmitAnswer(ctx, "bob", sessionID, 0, "A"))

	p := a.byType(duel.TypeGameEnded)[0].Payload.(duel.GameEndedPayload)
	require.Equal(t, domain.Draw, p.Winner)
}
