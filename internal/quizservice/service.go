// Package quizservice holds the quiz REST API use cases: catalog, attempt
// results, termination records and leaderboards.
package quizservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctor-quiz-service/internal/domain"
)

// Store abstracts where quizzes and results live (in-memory, Postgres).
type Store interface {
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	UpdateQuiz(ctx context.Context, quiz domain.Quiz) error
	DeleteQuiz(ctx context.Context, quizID string) error

	AddResult(ctx context.Context, rec domain.AttemptRecord) error
	ResultsByUser(ctx context.Context, userID string) ([]domain.AttemptRecord, error)
	ResultsByQuiz(ctx context.Context, quizID string) ([]domain.AttemptRecord, error)
	CountResults(ctx context.Context) (int, error)

	// MarkTerminated is idempotent.
	MarkTerminated(ctx context.Context, userID, quizID string) error
	TerminatedQuizzes(ctx context.Context, userID string) ([]string, error)
}

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID string
	Name   string
}

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func New(store Store, log *zap.Logger) *Service {
	return NewWithClock(store, log, time.Now)
}

// NewWithClock is test-only for deterministic timestamps.
func NewWithClock(store Store, log *zap.Logger, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: now, newID: uuid.NewString}
}

// ListAvailable returns every quiz newest first, minus the ones the caller
// was terminated from, flagged with whether the caller attempted it.
func (s *Service) ListAvailable(ctx context.Context, userID string) ([]domain.QuizSummary, error) {
	quizzes, err := s.store.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	results, err := s.store.ResultsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	terminated, err := s.store.TerminatedQuizzes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list terminations: %w", err)
	}

	attempted := make(map[string]bool, len(results))
	for _, r := range results {
		attempted[r.QuizID] = true
	}
	excluded := make(map[string]bool, len(terminated))
	for _, id := range terminated {
		excluded[id] = true
	}

	sortNewestFirst(quizzes)
	out := make([]domain.QuizSummary, 0, len(quizzes))
	for _, q := range quizzes {
		if excluded[q.ID] {
			continue
		}
		summary := q.Summary()
		summary.Attempted = attempted[q.ID]
		out = append(out, summary)
	}
	return out, nil
}

// Attempted returns the caller's results newest first. Results whose quiz
// was deleted are skipped.
func (s *Service) Attempted(ctx context.Context, userID string) ([]domain.AttemptedQuiz, error) {
	results, err := s.store.ResultsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CompletedAt.After(results[j].CompletedAt)
	})

	out := make([]domain.AttemptedQuiz, 0, len(results))
	quizzes := make(map[string]*domain.Quiz)
	for _, r := range results {
		q, ok := quizzes[r.QuizID]
		if !ok {
			loaded, err := s.store.GetQuiz(ctx, r.QuizID)
			switch {
			case err == nil:
				q = &loaded
			case isNotFound(err):
				q = nil
			default:
				return nil, err
			}
			quizzes[r.QuizID] = q
		}
		if q == nil {
			continue
		}
		out = append(out, domain.AttemptedQuiz{Quiz: q.Summary(), Score: r.Score, CompletedAt: r.CompletedAt})
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, quizID string) (domain.Quiz, error) {
	if strings.TrimSpace(quizID) == "" {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return s.store.GetQuiz(ctx, quizID)
}

// Create validates and stores a new quiz authored by creatorID.
func (s *Service) Create(ctx context.Context, creatorID string, quiz domain.Quiz) (domain.Quiz, error) {
	if err := validate(quiz); err != nil {
		return domain.Quiz{}, err
	}
	quiz.ID = s.newID()
	quiz.CreatedBy = creatorID
	quiz.CreatedAt = s.now().UTC()
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	s.log.Info("quiz created", zap.String("quiz_id", quiz.ID), zap.Int("questions", len(quiz.Questions)))
	return quiz, nil
}

// Update replaces the content of an existing quiz; identity and authorship are kept.
func (s *Service) Update(ctx context.Context, quizID string, quiz domain.Quiz) (domain.Quiz, error) {
	if err := validate(quiz); err != nil {
		return domain.Quiz{}, err
	}
	existing, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	existing.Title = quiz.Title
	existing.Questions = quiz.Questions
	existing.TimeLimit = quiz.TimeLimit
	existing.PassingScore = quiz.PassingScore
	if err := s.store.UpdateQuiz(ctx, existing); err != nil {
		return domain.Quiz{}, err
	}
	return existing, nil
}

func (s *Service) Delete(ctx context.Context, quizID string) error {
	return s.store.DeleteQuiz(ctx, quizID)
}

// Submit records a finished attempt. The score is the client-computed percentage.
func (s *Service) Submit(ctx context.Context, caller Caller, quizID string, sub domain.AttemptSubmission) (domain.AttemptRecord, error) {
	if _, err := s.store.GetQuiz(ctx, quizID); err != nil {
		return domain.AttemptRecord{}, err
	}
	answers := sub.Answers
	if answers == nil {
		answers = []*int{}
	}
	rec := domain.AttemptRecord{
		ID:          s.newID(),
		UserID:      caller.UserID,
		UserName:    caller.Name,
		QuizID:      quizID,
		Answers:     answers,
		Score:       sub.Score,
		TimeSpent:   sub.TimeSpent,
		CompletedAt: s.now().UTC(),
	}
	if err := s.store.AddResult(ctx, rec); err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("store result: %w", err)
	}
	return rec, nil
}

// Terminate records that userID was removed from quizID. Repeats are no-ops.
func (s *Service) Terminate(ctx context.Context, userID, quizID string) error {
	if strings.TrimSpace(quizID) == "" {
		return domain.ErrMissingParameters
	}
	if err := s.store.MarkTerminated(ctx, userID, quizID); err != nil {
		return fmt.Errorf("record termination: %w", err)
	}
	s.log.Info("quiz terminated for user", zap.String("quiz_id", quizID), zap.String("user_id", userID))
	return nil
}

// Leaderboard ranks every result for quizID by score, earliest completion
// first on ties. UserRank is the caller's best entry, if any.
func (s *Service) Leaderboard(ctx context.Context, quizID, userID string) (domain.Leaderboard, error) {
	results, err := s.store.ResultsByQuiz(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("list results: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CompletedAt.Before(results[j].CompletedAt)
	})

	lb := domain.Leaderboard{QuizID: quizID, Entries: make([]domain.LeaderboardEntry, 0, len(results))}
	for i, r := range results {
		name := strings.TrimSpace(r.UserName)
		if name == "" {
			name = "User"
		}
		entry := domain.LeaderboardEntry{Name: name, Score: r.Score, Rank: i + 1}
		lb.Entries = append(lb.Entries, entry)
		if lb.UserRank == nil && r.UserID == userID {
			e := entry
			lb.UserRank = &e
		}
	}
	return lb, nil
}

func validate(q domain.Quiz) error {
	if strings.TrimSpace(q.Title) == "" || len(q.Questions) == 0 {
		return domain.ErrInvalidQuiz
	}
	if q.TimeLimit < 0 || q.PassingScore < 0 || q.PassingScore > 100 {
		return domain.ErrInvalidQuiz
	}
	return nil
}

func sortNewestFirst(quizzes []domain.Quiz) {
	sort.SliceStable(quizzes, func(i, j int) bool {
		return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt)
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrQuizNotFound)
}
