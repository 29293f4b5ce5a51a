package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"competition-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads a competition's question bank JSONB from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, competitionID string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_banks WHERE competition_id=$1`, competitionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuestionBankNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuestionBankNotFound
	}
	return questions, nil
}

// SaveQuestions replaces the bank for a competition.
func (l *QuestionLoader) SaveQuestions(ctx context.Context, competitionID string, questions []domain.Question) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO question_banks (competition_id, data) VALUES ($1, $2)
ON CONFLICT (competition_id) DO UPDATE SET data = EXCLUDED.data`, competitionID, raw)
	if err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	return nil
}
