package memory

import (
	"context"
	"sync"

	"proctor-quiz-service/internal/domain"
)

// QuizStore is an in-memory quizservice.Store.
type QuizStore struct {
	mu         sync.RWMutex
	quizzes    map[string]domain.Quiz
	results    []domain.AttemptRecord
	terminated map[string]map[string]struct{} // user -> quiz ids
}

func NewQuizStore() *QuizStore {
	return &QuizStore{
		quizzes:    make(map[string]domain.Quiz),
		terminated: make(map[string]map[string]struct{}),
	}
}

func (s *QuizStore) ListQuizzes(_ context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		out = append(out, cloneQuiz(q))
	}
	return out, nil
}

func (s *QuizStore) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(q), nil
}

func (s *QuizStore) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (s *QuizStore) UpdateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (s *QuizStore) DeleteQuiz(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return domain.ErrQuizNotFound
	}
	delete(s.quizzes, quizID)
	return nil
}

func (s *QuizStore) AddResult(_ context.Context, rec domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, rec)
	return nil
}

func (s *QuizStore) ResultsByUser(_ context.Context, userID string) ([]domain.AttemptRecord, error) {
	return s.filterResults(func(r domain.AttemptRecord) bool { return r.UserID == userID }), nil
}

func (s *QuizStore) ResultsByQuiz(_ context.Context, quizID string) ([]domain.AttemptRecord, error) {
	return s.filterResults(func(r domain.AttemptRecord) bool { return r.QuizID == quizID }), nil
}

func (s *QuizStore) CountResults(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results), nil
}

func (s *QuizStore) MarkTerminated(_ context.Context, userID, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.terminated[userID]
	if !ok {
		set = make(map[string]struct{})
		s.terminated[userID] = set
	}
	set[quizID] = struct{}{}
	return nil
}

func (s *QuizStore) TerminatedQuizzes(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.terminated[userID]))
	for id := range s.terminated[userID] {
		out = append(out, id)
	}
	return out, nil
}

func (s *QuizStore) filterResults(keep func(domain.AttemptRecord) bool) []domain.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AttemptRecord
	for _, r := range s.results {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		questions[i] = question
	}
	q.Questions = questions
	return q
}
