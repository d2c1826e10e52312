package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/errors"
	"github.com/quizduel/backend/internal/event"
)

const (
	recordAttempts = 3
	retryBackoff   = 200 * time.Millisecond
)

// DB is the slice of pgxpool.Pool the recorder needs; tests supply a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Redis is the slice of the redis client the recorder needs.
type Redis interface {
	ZAddGT(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
}

type Config struct {
	EventBus *event.Bus
	DB       DB
	Redis    Redis
	Prefix   string
}

// Service records ended matches: one result row per participant, plus a
// highscore write to the leaderboard sorted set. The leaderboard keeps the
// player's best score, so the ZADD uses GT and lower scores are no-ops.
//
// Recording runs off the event bus, after the game-ended notification has
// already been delivered. A match that cannot be recorded is logged, never
// surfaced to players.
type Service struct {
	db     DB
	redis  Redis
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		db:     c.DB,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameMatchEnded, func(ctx context.Context, e event.Event) error {
			return s.HandleMatchEnded(ctx, e.(domain.EventMatchEnded))
		})
	}

	return s
}

// HandleMatchEnded records the result for each participant, retrying each
// write a fixed number of times.
func (s *Service) HandleMatchEnded(ctx context.Context, e domain.EventMatchEnded) error {
	res := e.Result

	var firstErr error
	for playerID, finalScore := range res.Scores {
		if err := s.recordWithRetry(ctx, res, playerID, finalScore); err != nil {
			slog.ErrorContext(ctx, "score: record match result failed",
				"session", res.SessionID,
				"player", playerID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (s *Service) recordWithRetry(ctx context.Context, res domain.MatchResult, playerID string, finalScore int) error {
	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff)
		}

		err = s.RecordResult(ctx, res, playerID, finalScore)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			break
		}
	}

	return errors.New(errors.CodeInternal,
		errors.WithMessagef("record result: session=%s player=%s", res.SessionID, playerID),
		errors.WithCause(err),
	)
}

// RecordResult performs a single recording attempt for one participant.
func (s *Service) RecordResult(ctx context.Context, res domain.MatchResult, playerID string, finalScore int) error {
	const stmt = `
INSERT INTO match_results (session_id, player_id, opponent_id, score, won, ended_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	opponentID := ""
	for id := range res.Scores {
		if id != playerID {
			opponentID = id
		}
	}

	won := res.WinnerID == playerID
	if _, err := s.db.Exec(ctx, stmt, res.SessionID, playerID, opponentID, finalScore, won, res.EndedAt); err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}

	if err := s.redis.ZAddGT(ctx, s.leaderboardKey(), redis.Z{
		Score:  float64(finalScore),
		Member: playerID,
	}).Err(); err != nil {
		return fmt.Errorf("update highscore: %w", err)
	}

	return nil
}

func (s *Service) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}
