package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/errors"
)

// DefaultBatchSize is the number of questions attached to one duel.
const DefaultBatchSize = 10

const fetchAttempts = 3

// Provider returns a fixed-size ordered batch of questions for a new duel.
type Provider interface {
	FetchBatch(ctx context.Context, count int) ([]domain.Question, error)
}

type Config struct {
	DB *pgxpool.Pool
}

// PostgresProvider draws a random batch from the questions table.
type PostgresProvider struct {
	db *pgxpool.Pool
}

func NewPostgresProvider(c Config) *PostgresProvider {
	return &PostgresProvider{db: c.DB}
}

// FetchBatch returns count questions with Order assigned 0..count-1. The
// query is retried a fixed number of times; persistent failure surfaces as
// Unavailable so pairing can be aborted and both players re-queued.
func (p *PostgresProvider) FetchBatch(ctx context.Context, count int) ([]domain.Question, error) {
	var (
		qs  []domain.Question
		err error
	)

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		qs, err = p.fetch(ctx, count)
		if err == nil {
			return qs, nil
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.New(errors.CodeUnavailable,
		errors.WithMessagef("question provider unavailable"),
		errors.WithCause(err),
	)
}

func (p *PostgresProvider) fetch(ctx context.Context, count int) ([]domain.Question, error) {
	const stmt = `
SELECT prompt, correct_answer, distractors, category, difficulty
FROM questions
ORDER BY random()
LIMIT $1;`

	rows, err := p.db.Query(ctx, stmt, count)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.Prompt, &q.CorrectAnswer, &q.Distractors, &q.Category, &q.Difficulty); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	if len(qs) == 0 {
		return nil, fmt.Errorf("no questions available")
	}

	for i := range qs {
		qs[i].Order = i
	}

	return qs, nil
}
