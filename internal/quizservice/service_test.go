package quizservice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/infra/memory"
	"proctor-quiz-service/internal/quizservice"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTestService() (*quizservice.Service, *memory.QuizStore) {
	store := memory.NewQuizStore()
	clock := &stepClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
	return quizservice.NewWithClock(store, nil, clock.Now), store
}

func sampleQuiz(title string) domain.Quiz {
	return domain.Quiz{
		Title: title,
		Questions: []domain.Question{
			{Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: domain.MarkerIndex(1)},
		},
	}
}

func TestCreateValidatesAndAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	if _, err := svc.Create(ctx, "admin", domain.Quiz{Title: "empty"}); !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("expected invalid quiz, got %v", err)
	}
	if _, err := svc.Create(ctx, "admin", domain.Quiz{Questions: sampleQuiz("x").Questions}); !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("expected invalid quiz without title, got %v", err)
	}

	q, err := svc.Create(ctx, "admin", sampleQuiz("Math"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if q.ID == "" || q.CreatedBy != "admin" || q.CreatedAt.IsZero() {
		t.Fatalf("expected assigned identity, got %+v", q)
	}
	got, err := svc.Get(ctx, q.ID)
	if err != nil || got.Title != "Math" {
		t.Fatalf("get failed: %+v %v", got, err)
	}
}

func TestUpdateKeepsAuthorship(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	q, _ := svc.Create(ctx, "admin", sampleQuiz("Math"))

	changed := sampleQuiz("Math II")
	changed.TimeLimit = 5
	updated, err := svc.Update(ctx, q.ID, changed)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.ID != q.ID || updated.CreatedBy != "admin" || !updated.CreatedAt.Equal(q.CreatedAt) || updated.TimeLimit != 5 {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, err := svc.Update(ctx, "missing", changed); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.Delete(ctx, q.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.Delete(ctx, q.ID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListAvailableFlagsAttemptsAndHidesTerminated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	older, _ := svc.Create(ctx, "admin", sampleQuiz("Older"))
	middle, _ := svc.Create(ctx, "admin", sampleQuiz("Middle"))
	newer, _ := svc.Create(ctx, "admin", sampleQuiz("Newer"))

	if _, err := svc.Submit(ctx, quizservice.Caller{UserID: "u1"}, older.ID, domain.AttemptSubmission{Score: 100}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := svc.Terminate(ctx, "u1", middle.ID); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if err := svc.Terminate(ctx, "u1", middle.ID); err != nil {
		t.Fatalf("repeat terminate failed: %v", err)
	}

	list, err := svc.ListAvailable(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest first without terminated quiz, got %+v", list)
	}
	if list[0].Attempted || !list[1].Attempted {
		t.Fatalf("unexpected attempted flags %+v", list)
	}

	other, _ := svc.ListAvailable(ctx, "u2")
	if len(other) != 3 {
		t.Fatalf("termination must be per user, got %d quizzes", len(other))
	}
}

func TestSubmitRequiresQuiz(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Submit(context.Background(), quizservice.Caller{UserID: "u1"}, "missing", domain.AttemptSubmission{})
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptedNewestFirstSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	a, _ := svc.Create(ctx, "admin", sampleQuiz("A"))
	b, _ := svc.Create(ctx, "admin", sampleQuiz("B"))
	c, _ := svc.Create(ctx, "admin", sampleQuiz("C"))
	caller := quizservice.Caller{UserID: "u1", Name: "Ann"}

	_, _ = svc.Submit(ctx, caller, a.ID, domain.AttemptSubmission{Score: 10})
	_, _ = svc.Submit(ctx, caller, b.ID, domain.AttemptSubmission{Score: 20})
	_, _ = svc.Submit(ctx, caller, c.ID, domain.AttemptSubmission{Score: 30})
	_ = svc.Delete(ctx, b.ID)

	attempted, err := svc.Attempted(ctx, "u1")
	if err != nil {
		t.Fatalf("attempted failed: %v", err)
	}
	if len(attempted) != 2 || attempted[0].Quiz.Title != "C" || attempted[1].Score != 10 {
		t.Fatalf("unexpected attempted list %+v", attempted)
	}
	if attempted[0].Quiz.QuestionCount != 1 {
		t.Fatalf("expected quiz summary, got %+v", attempted[0].Quiz)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	q, _ := svc.Create(ctx, "admin", sampleQuiz("Math"))

	_, _ = svc.Submit(ctx, quizservice.Caller{UserID: "u1", Name: "Ann"}, q.ID, domain.AttemptSubmission{Score: 80})
	_, _ = svc.Submit(ctx, quizservice.Caller{UserID: "u2", Name: "Bob"}, q.ID, domain.AttemptSubmission{Score: 90})
	_, _ = svc.Submit(ctx, quizservice.Caller{UserID: "u3"}, q.ID, domain.AttemptSubmission{Score: 80})

	lb, err := svc.Leaderboard(ctx, q.ID, "u3")
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	want := []domain.LeaderboardEntry{
		{Name: "Bob", Score: 90, Rank: 1},
		{Name: "Ann", Score: 80, Rank: 2},
		{Name: "User", Score: 80, Rank: 3},
	}
	if len(lb.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), lb.Entries)
	}
	for i := range want {
		if lb.Entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, lb.Entries[i], want[i])
		}
	}
	if lb.UserRank == nil || lb.UserRank.Rank != 3 {
		t.Fatalf("expected caller rank 3, got %+v", lb.UserRank)
	}

	empty, err := svc.Leaderboard(ctx, "nobody", "u1")
	if err != nil || len(empty.Entries) != 0 || empty.UserRank != nil {
		t.Fatalf("expected empty leaderboard, got %+v %v", empty, err)
	}
}
