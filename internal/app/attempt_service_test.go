package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"proctor-quiz-service/internal/app"
	"proctor-quiz-service/internal/attempt"
	"proctor-quiz-service/internal/devicestore"
	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/infra/memory"
)

type stubClient struct {
	mu       sync.Mutex
	quiz     domain.Quiz
	listing  []domain.QuizSummary
	listErr  error
	lists    int
	listGate chan struct{}
}

func (c *stubClient) GetQuiz(context.Context, string, string) (domain.Quiz, error) {
	return c.quiz, nil
}

func (c *stubClient) SubmitAttempt(context.Context, string, string, domain.AttemptSubmission) error {
	return nil
}

func (c *stubClient) NotifyTermination(context.Context, string, string) error { return nil }

func (c *stubClient) ListAvailable(ctx context.Context, _ string) ([]domain.QuizSummary, error) {
	if c.listGate != nil {
		select {
		case <-c.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	return c.listing, c.listErr
}

func (c *stubClient) listCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func oneQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Basics",
		Questions: []domain.Question{
			{Text: "1+1?", Options: []string{"1", "2"}, CorrectAnswer: domain.MarkerIndex(1)},
		},
	}
}

func newTestService(client *stubClient) (*app.AttemptService, *memory.SessionStore, *app.Metrics, *devicestore.Provider) {
	sessions := memory.NewSessionStore()
	devices := devicestore.NewProvider(memory.NewKV())
	metrics := app.NewMetrics(prometheus.NewRegistry())
	svc := app.NewAttemptService(sessions, devices, client, metrics, nil, app.Options{})
	return svc, sessions, metrics, devices
}

func TestOpenLoadsAndRegistersSession(t *testing.T) {
	ctx := context.Background()
	svc, sessions, metrics, _ := newTestService(&stubClient{quiz: oneQuestionQuiz()})

	session, err := svc.Open(ctx, app.OpenRequest{UserID: "u1", DeviceID: "d1", QuizID: "quiz-1", Token: "tok"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if got := session.Snapshot().State; got != attempt.StatePrompt {
		t.Fatalf("expected prompt, got %s", got)
	}
	if got, err := svc.Get("u1", "d1", "quiz-1"); err != nil || got != session {
		t.Fatalf("expected registered session, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.ActiveConnections); v != 1 {
		t.Fatalf("expected one open session, got %v", v)
	}

	svc.Close("u1", "d1", session)
	if sessions.Len() != 0 {
		t.Fatalf("expected session dropped")
	}
	if _, err := svc.Get("u1", "d1", "quiz-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.ActiveConnections); v != 0 {
		t.Fatalf("expected no open sessions, got %v", v)
	}
}

func TestOpenReplacesOlderSession(t *testing.T) {
	ctx := context.Background()
	svc, _, metrics, _ := newTestService(&stubClient{quiz: oneQuestionQuiz()})
	req := app.OpenRequest{UserID: "u1", DeviceID: "d1", QuizID: "quiz-1", Token: "tok"}

	first, _ := svc.Open(ctx, req)
	second, _ := svc.Open(ctx, req)

	if err := first.Start(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("replaced session must be closed, got %v", err)
	}
	svc.Close("u1", "d1", first)
	if got, _ := svc.Get("u1", "d1", "quiz-1"); got != second {
		t.Fatalf("closing the stale session must keep the new one")
	}
	if v := testutil.ToFloat64(metrics.ActiveConnections); v != 1 {
		t.Fatalf("expected one open session, got %v", v)
	}
}

func TestOpenRequiresDevice(t *testing.T) {
	svc, _, _, _ := newTestService(&stubClient{})
	if _, err := svc.Open(context.Background(), app.OpenRequest{UserID: "u1", QuizID: "quiz-1"}); !errors.Is(err, domain.ErrMissingParameters) {
		t.Fatalf("expected missing parameters, got %v", err)
	}
}

func TestEventsFeedMetricsAndHistory(t *testing.T) {
	ctx := context.Background()
	svc, _, metrics, _ := newTestService(&stubClient{quiz: oneQuestionQuiz()})

	bus := attempt.NewSignalBus()
	session, _ := svc.Open(ctx, app.OpenRequest{UserID: "u1", DeviceID: "d1", QuizID: "quiz-1", Token: "tok", Signals: bus})
	defer svc.Close("u1", "d1", session)

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = session.Select(1)
	if err := session.Submit(ctx); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if v := testutil.ToFloat64(metrics.Completed.WithLabelValues("true", "false")); v != 1 {
		t.Fatalf("expected one passed completion, got %v", v)
	}

	history, err := svc.History(ctx, "u1", "d1")
	if err != nil || len(history) != 1 || history[0].Score != 100 {
		t.Fatalf("unexpected history %+v %v", history, err)
	}

	if err := session.Retake(ctx); err != nil {
		t.Fatalf("retake failed: %v", err)
	}
	bus.Publish(attempt.SignalCopy)
	if v := testutil.ToFloat64(metrics.Terminated.WithLabelValues("copy")); v != 1 {
		t.Fatalf("expected one copy termination, got %v", v)
	}
	if v := testutil.ToFloat64(metrics.Started); v != 2 {
		t.Fatalf("expected two starts, got %v", v)
	}
}

func TestCatalogCachesPerDevice(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{listing: []domain.QuizSummary{
		{ID: "quiz-1", Title: "Basics", CreatedAt: time.Now()},
		{ID: "quiz-2", Title: "Advanced", CreatedAt: time.Now()},
		{ID: "quiz-3"},
	}}
	_, _, metrics, devices := newTestService(client)
	catalog := app.NewCatalog(client, devices, time.Minute, metrics, nil)

	list, err := catalog.Available(ctx, "u1", "d1", "tok")
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected untitled quiz dropped, got %+v", list)
	}
	if _, err := catalog.Available(ctx, "u1", "d1", "tok"); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if client.listCalls() != 1 {
		t.Fatalf("expected cached listing, got %d fetches", client.listCalls())
	}
	if v := testutil.ToFloat64(metrics.ListingCacheHits.WithLabelValues("hit")); v != 1 {
		t.Fatalf("expected one cache hit, got %v", v)
	}

	store := devices.For("u1", "d1")
	_ = store.MarkTerminated(ctx, "quiz-2")
	_ = store.MarkCompleted(ctx, "quiz-1")
	_ = store.InvalidateAvailable(ctx)

	list, _ = catalog.Available(ctx, "u1", "d1", "tok")
	if client.listCalls() != 2 {
		t.Fatalf("expected refetch after invalidation")
	}
	if len(list) != 1 || list[0].ID != "quiz-1" || !list[0].Attempted {
		t.Fatalf("expected terminated hidden and completed flagged, got %+v", list)
	}

	if _, err := catalog.Available(ctx, "u1", "d2", "tok"); err != nil {
		t.Fatalf("other device lookup failed: %v", err)
	}
	if client.listCalls() != 3 {
		t.Fatalf("expected separate cache per device")
	}
}

func TestCatalogCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		listing:  []domain.QuizSummary{{ID: "quiz-1", Title: "Basics"}},
		listGate: make(chan struct{}),
	}
	_, _, metrics, devices := newTestService(client)
	catalog := app.NewCatalog(client, devices, time.Minute, metrics, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := catalog.Available(ctx, "u1", "d1", "tok"); err != nil {
				t.Errorf("available failed: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(client.listGate)
	wg.Wait()

	if n := client.listCalls(); n != 1 {
		t.Fatalf("expected one fetch for concurrent misses, got %d", n)
	}
}

func TestCatalogSharedFetchOutlivesCancelledCaller(t *testing.T) {
	client := &stubClient{
		listing:  []domain.QuizSummary{{ID: "quiz-1", Title: "Basics"}},
		listGate: make(chan struct{}),
	}
	_, _, metrics, devices := newTestService(client)
	catalog := app.NewCatalog(client, devices, time.Minute, metrics, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := catalog.Available(firstCtx, "u1", "d1", "tok")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type outcome struct {
		list []domain.QuizSummary
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		list, err := catalog.Available(context.Background(), "u1", "d1", "tok")
		second <- outcome{list, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want canceled", err)
	}
	close(client.listGate)

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller inherited cancellation: %v", got.err)
	}
	if len(got.list) != 1 || got.list[0].ID != "quiz-1" {
		t.Fatalf("unexpected listing %+v", got.list)
	}
	if n := client.listCalls(); n != 1 {
		t.Fatalf("expected one shared fetch, got %d", n)
	}
}

func TestCatalogPropagatesFetchErrors(t *testing.T) {
	client := &stubClient{listErr: errors.New("down")}
	_, _, metrics, devices := newTestService(client)
	catalog := app.NewCatalog(client, devices, time.Minute, metrics, nil)

	if _, err := catalog.Available(context.Background(), "u1", "d1", "tok"); err == nil {
		t.Fatalf("expected fetch error")
	}
	if _, err := catalog.Available(context.Background(), "", "d1", "tok"); !errors.Is(err, domain.ErrMissingParameters) {
		t.Fatalf("expected missing parameters, got %v", err)
	}
}
