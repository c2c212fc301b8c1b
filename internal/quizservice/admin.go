package quizservice

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"proctor-quiz-service/internal/domain"
)

// AuthoredBy returns the quizzes adminID created, newest first.
func (s *Service) AuthoredBy(ctx context.Context, adminID string) ([]domain.Quiz, error) {
	quizzes, err := s.store.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	out := make([]domain.Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		if q.CreatedBy == adminID {
			out = append(out, q)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// AttemptCount is the number of recorded results for quizID.
func (s *Service) AttemptCount(ctx context.Context, quizID string) (int, error) {
	results, err := s.store.ResultsByQuiz(ctx, quizID)
	if err != nil {
		return 0, fmt.Errorf("list results: %w", err)
	}
	return len(results), nil
}

// UserAttempts reports every result for a quiz owned by adminID, newest
// first. Quizzes authored by someone else read as not found.
func (s *Service) UserAttempts(ctx context.Context, adminID, quizID string) ([]domain.UserAttempt, error) {
	if _, err := s.owned(ctx, adminID, quizID); err != nil {
		return nil, err
	}
	results, err := s.store.ResultsByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CompletedAt.After(results[j].CompletedAt)
	})
	out := make([]domain.UserAttempt, 0, len(results))
	for _, r := range results {
		out = append(out, domain.UserAttempt{
			UserID:      r.UserID,
			UserName:    r.UserName,
			Score:       r.Score,
			CompletedAt: r.CompletedAt,
		})
	}
	return out, nil
}

// DeleteAuthored removes quizID only when adminID created it.
func (s *Service) DeleteAuthored(ctx context.Context, adminID, quizID string) error {
	if _, err := s.owned(ctx, adminID, quizID); err != nil {
		return err
	}
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.log.Info("quiz deleted by author", zap.String("quiz_id", quizID), zap.String("admin_id", adminID))
	return nil
}

// QuizCount is the size of the catalog.
func (s *Service) QuizCount(ctx context.Context) (int, error) {
	quizzes, err := s.store.ListQuizzes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list quizzes: %w", err)
	}
	return len(quizzes), nil
}

// ResultCount is the number of attempts recorded across all quizzes.
func (s *Service) ResultCount(ctx context.Context) (int, error) {
	n, err := s.store.CountResults(ctx)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func (s *Service) owned(ctx context.Context, adminID, quizID string) (domain.Quiz, error) {
	q, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if q.CreatedBy != adminID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return q, nil
}
