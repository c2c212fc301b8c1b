package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"proctor-quiz-service/internal/domain"
)

// QuizStore keeps quizzes as JSONB documents and results as rows.
type QuizStore struct {
	pool *pgxpool.Pool
}

func NewQuizStore(pool *pgxpool.Pool) *QuizStore {
	return &QuizStore{pool: pool}
}

func (s *QuizStore) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM quizzes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quiz
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err != nil {
			return nil, fmt.Errorf("unmarshal quiz: %w", err)
		}
		out = append(out, quiz)
	}
	return out, rows.Err()
}

func (s *QuizStore) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

func (s *QuizStore) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO quizzes (id, data, created_at) VALUES ($1, $2, $3)`, quiz.ID, raw, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (s *QuizStore) UpdateQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE quizzes SET data=$2 WHERE id=$1`, quiz.ID, raw)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *QuizStore) DeleteQuiz(ctx context.Context, quizID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id=$1`, quizID)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *QuizStore) AddResult(ctx context.Context, rec domain.AttemptRecord) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_results (id, user_id, user_name, quiz_id, answers, score, time_spent, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, rec.UserName, rec.QuizID, answers, rec.Score, rec.TimeSpent, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *QuizStore) ResultsByUser(ctx context.Context, userID string) ([]domain.AttemptRecord, error) {
	return s.queryResults(ctx, `WHERE user_id=$1 ORDER BY completed_at DESC`, userID)
}

func (s *QuizStore) ResultsByQuiz(ctx context.Context, quizID string) ([]domain.AttemptRecord, error) {
	return s.queryResults(ctx, `WHERE quiz_id=$1 ORDER BY score DESC, completed_at ASC`, quizID)
}

func (s *QuizStore) CountResults(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM quiz_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func (s *QuizStore) MarkTerminated(ctx context.Context, userID, quizID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_terminations (user_id, quiz_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, quizID)
	if err != nil {
		return fmt.Errorf("insert termination: %w", err)
	}
	return nil
}

func (s *QuizStore) TerminatedQuizzes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT quiz_id FROM quiz_terminations WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list terminations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan termination: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *QuizStore) queryResults(ctx context.Context, where string, arg string) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, user_name, quiz_id, answers, score, time_spent, completed_at FROM quiz_results `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var rec domain.AttemptRecord
		var answers []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.QuizID, &answers, &rec.Score, &rec.TimeSpent, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(answers, &rec.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		rec.CompletedAt = rec.CompletedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
