package attempt_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proctor-quiz-service/internal/attempt"
	"proctor-quiz-service/internal/devicestore"
	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/infra/memory"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func capitals(timeLimitMinutes int) domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		Title:        "Capitals",
		TimeLimit:    timeLimitMinutes,
		PassingScore: 60,
		Questions: []domain.Question{
			{Text: "Capital of Italy?", Options: []string{"Rome", "Milan", "Turin"}, CorrectAnswer: domain.AnswerMarker{Index: intPtr(0)}},
			{Text: "Capital of Spain?", Options: []string{"Seville", "Madrid", "Valencia"}, CorrectAnswer: domain.AnswerMarker{Text: strPtr("1")}},
			{Text: "Capital of France?", Options: []string{"Lyon", "Nice", "Paris"}, CorrectAnswer: domain.AnswerMarker{Text: strPtr("paris")}},
		},
	}
}

type fakeClient struct {
	mu          sync.Mutex
	quiz        domain.Quiz
	getErr      error
	submitErr   error
	getCalls    int
	submissions []domain.AttemptSubmission
	notified    chan string
}

func newFakeClient(quiz domain.Quiz) *fakeClient {
	return &fakeClient{quiz: quiz, notified: make(chan string, 4)}
}

func (c *fakeClient) GetQuiz(_ context.Context, token, quizID string) (domain.Quiz, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	if c.getErr != nil {
		return domain.Quiz{}, c.getErr
	}
	return c.quiz, nil
}

func (c *fakeClient) SubmitAttempt(_ context.Context, token, quizID string, sub domain.AttemptSubmission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions = append(c.submissions, sub)
	return c.submitErr
}

func (c *fakeClient) NotifyTermination(_ context.Context, token, quizID string) error {
	c.notified <- quizID
	return nil
}

func (c *fakeClient) setGetErr(err error) {
	c.mu.Lock()
	c.getErr = err
	c.mu.Unlock()
}

func (c *fakeClient) gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls
}

func (c *fakeClient) submitted() []domain.AttemptSubmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AttemptSubmission(nil), c.submissions...)
}

type fakeDisplay struct {
	mu         sync.Mutex
	refuse     bool
	requests   int
	exits      int
	onExit     func()
	fullscreen bool
}

func (d *fakeDisplay) RequestFullscreen(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	if d.refuse {
		return domain.ErrFullscreenUnavailable
	}
	d.fullscreen = true
	return nil
}

func (d *fakeDisplay) ExitFullscreen(context.Context) error {
	d.mu.Lock()
	d.exits++
	d.fullscreen = false
	onExit := d.onExit
	d.mu.Unlock()
	if onExit != nil {
		onExit()
	}
	return nil
}

func (d *fakeDisplay) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests, d.exits
}

// manualTicks drives every countdown from the test goroutine.
type manualTicks struct {
	ch chan time.Time
}

type manualTicker struct{ ch chan time.Time }

func (m manualTicker) C() <-chan time.Time { return m.ch }
func (m manualTicker) Stop()               {}

func newManualTicks() *manualTicks {
	return &manualTicks{ch: make(chan time.Time)}
}

func (m *manualTicks) Func() attempt.TickerFunc {
	return func(time.Duration) attempt.Ticker { return manualTicker{ch: m.ch} }
}

func (m *manualTicks) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatalf("timer did not consume tick")
	}
}

// assertStopped fails if any countdown is still reading ticks.
func (m *manualTicks) assertStopped(t *testing.T) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	select {
	case m.ch <- time.Now():
		t.Fatalf("timer still running")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	session *attempt.Session
	client  *fakeClient
	display *fakeDisplay
	bus     *attempt.SignalBus
	store   *devicestore.Store
	ticks   *manualTicks
	clock   *fakeClock

	mu     sync.Mutex
	events []attempt.Event
}

func newHarness(t *testing.T, quiz domain.Quiz) *harness {
	t.Helper()
	return newHarnessWithStore(t, quiz, devicestore.New(memory.NewKV(), "device:u1:d1:"))
}

func newHarnessWithStore(t *testing.T, quiz domain.Quiz, store *devicestore.Store) *harness {
	t.Helper()
	h := &harness{
		client:  newFakeClient(quiz),
		display: &fakeDisplay{},
		bus:     attempt.NewSignalBus(),
		store:   store,
		ticks:   newManualTicks(),
		clock:   newFakeClock(),
	}
	h.session = attempt.NewSession(attempt.Config{
		QuizID:    quiz.ID,
		Token:     "token-1",
		Client:    h.client,
		Store:     store,
		Display:   h.display,
		Signals:   h.bus,
		NewTicker: h.ticks.Func(),
		Now:       h.clock.Now,
		OnEvent: func(ev attempt.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.session.Close)
	return h
}

// startAttempt loads the quiz and acknowledges the fullscreen prompt.
func (h *harness) startAttempt(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.session.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := h.session.Snapshot().State; got != attempt.StatePrompt {
		t.Fatalf("expected prompt after load, got %s", got)
	}
	if err := h.session.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}

// tickSecond advances the clock and the countdown by one second.
func (h *harness) tickSecond(t *testing.T) {
	t.Helper()
	h.clock.Advance(time.Second)
	h.ticks.tick(t)
}

func (h *harness) eventKinds() []attempt.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]attempt.EventKind, 0, len(h.events))
	for _, ev := range h.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (h *harness) lastEvent() (attempt.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return attempt.Event{}, false
	}
	return h.events[len(h.events)-1], true
}

func waitFor(t *testing.T, s *attempt.Session, desc string, cond func(attempt.Snapshot) bool) attempt.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last snapshot %+v", desc, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func answer(t *testing.T, s *attempt.Session, options ...int) {
	t.Helper()
	for i, opt := range options {
		if err := s.Select(opt); err != nil {
			t.Fatalf("select %d failed: %v", opt, err)
		}
		if i < len(options)-1 {
			if err := s.Next(); err != nil {
				t.Fatalf("next failed: %v", err)
			}
		}
	}
}

var errBoom = errors.New("boom")
