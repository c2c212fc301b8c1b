package attempt

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"proctor-quiz-service/internal/domain"
	"proctor-quiz-service/internal/scoring"
)

// State is the single tagged state of an attempt.
type State string

const (
	StateLoading    State = "loading"
	StatePrompt     State = "prompt"
	StateActive     State = "active"
	StateCompleted  State = "completed"
	StateTerminated State = "terminated"
	StateError      State = "error"
)

// Config wires a session to its collaborators. Display, Signals, Logger,
// NewTicker, Now and OnEvent are optional.
type Config struct {
	QuizID string
	Token  string

	Client  QuizClient
	Store   LocalStore
	Display Display
	Signals SignalSource

	Logger         *zap.Logger
	NewTicker      TickerFunc
	Now            func() time.Time
	PersistTimeout time.Duration
	OnEvent        func(Event)
}

// QuestionView is the current question without its correct-answer marker.
type QuestionView struct {
	Number  int      `json:"number"`
	Text    string   `json:"questionText"`
	Options []string `json:"options"`
}

// Snapshot is an immutable copy of the session for rendering.
type Snapshot struct {
	State            State               `json:"state"`
	QuizID           string              `json:"quizId"`
	Title            string              `json:"title,omitempty"`
	QuestionCount    int                 `json:"questionCount"`
	Current          int                 `json:"current"`
	Question         *QuestionView       `json:"question,omitempty"`
	Answers          []*int              `json:"answers"`
	RemainingSeconds int                 `json:"remainingSeconds"`
	ElapsedSeconds   int                 `json:"elapsedSeconds"`
	TimerExpired     bool                `json:"timerExpired"`
	Submitting       bool                `json:"submitting"`
	Score            int                 `json:"score"`
	Result           *domain.ScoreResult `json:"result,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	Advisory         string              `json:"advisory,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Session is one user's attempt at one quiz. It is safe for concurrent use by
// the transport reader, the timer goroutine and signal publishers.
type Session struct {
	quizID         string
	token          string
	client         QuizClient
	store          LocalStore
	display        Display
	monitor        *Monitor
	timer          *Timer
	reconciler     *Reconciler
	log            *zap.Logger
	now            func() time.Time
	persistTimeout time.Duration
	onEvent        func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	closed       bool
	quiz         domain.Quiz
	current      int
	answers      []*int
	remaining    int
	elapsed      int
	startedAt    time.Time
	run          int
	submitting   bool
	timerExpired bool
	score        int
	result       *domain.ScoreResult
	reason       string
	advisory     string
	errMsg       string
	subscribers  map[chan Snapshot]struct{}
}

func NewSession(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 10 * time.Second
	}
	log = log.With(zap.String("quiz_id", cfg.QuizID))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		quizID:         cfg.QuizID,
		token:          cfg.Token,
		client:         cfg.Client,
		store:          cfg.Store,
		display:        cfg.Display,
		timer:          NewTimer(cfg.NewTicker),
		reconciler:     NewReconciler(cfg.Client, cfg.Store, persistTimeout, log),
		log:            log,
		now:            now,
		persistTimeout: persistTimeout,
		onEvent:        cfg.OnEvent,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateLoading,
		subscribers:    make(map[chan Snapshot]struct{}),
	}
	s.monitor = NewMonitor(cfg.Signals, s.terminate)
	return s
}

// QuizID returns the quiz this session attempts.
func (s *Session) QuizID() string { return s.quizID }

// Load restores a durable termination or fetches the quiz. A previously
// terminated quiz is never fetched.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != StateLoading {
		s.mu.Unlock()
		return domain.ErrNotRetryable
	}
	s.mu.Unlock()

	if s.quizID == "" || s.token == "" {
		return s.fail(domain.ErrMissingParameters)
	}

	terminated, err := s.store.IsTerminated(ctx, s.quizID)
	if err != nil {
		s.log.Warn("read termination flag", zap.Error(err))
	}
	if terminated {
		s.mu.Lock()
		s.state = StateTerminated
		s.reason = ReasonPreviouslyTerminated
		s.score = 0
		s.broadcastLocked()
		s.mu.Unlock()
		return nil
	}

	quiz, err := s.client.GetQuiz(ctx, s.token, s.quizID)
	if err != nil {
		return s.fail(err)
	}
	if len(quiz.Questions) == 0 {
		return s.fail(domain.ErrInvalidQuiz)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.quiz = quiz
	s.answers = make([]*int, len(quiz.Questions))
	s.current = 0
	s.remaining = quiz.TimeLimitSeconds()
	s.state = StatePrompt
	s.broadcastLocked()
	return nil
}

// Retry reloads after a failed fetch.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return domain.ErrNotRetryable
	}
	s.state = StateLoading
	s.errMsg = ""
	s.broadcastLocked()
	s.mu.Unlock()
	return s.Load(ctx)
}

// Start acknowledges the fullscreen prompt and begins the attempt. Fullscreen
// is requested but its failure does not block the start.
func (s *Session) Start(ctx context.Context) error {
	if err := s.expect(StatePrompt, domain.ErrNotPrompting); err != nil {
		return err
	}
	fullscreen := s.enterFullscreen(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != StatePrompt {
		s.mu.Unlock()
		return domain.ErrNotPrompting
	}
	s.activateLocked(fullscreen)
	s.mu.Unlock()

	s.emit(Event{Kind: EventStarted, QuizID: s.quizID})
	return nil
}

// Retake resets a completed attempt without refetching the quiz.
func (s *Session) Retake(ctx context.Context) error {
	if err := s.expect(StateCompleted, domain.ErrNotCompleted); err != nil {
		return err
	}
	fullscreen := s.enterFullscreen(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != StateCompleted {
		s.mu.Unlock()
		return domain.ErrNotCompleted
	}
	s.activateLocked(fullscreen)
	s.mu.Unlock()

	s.emit(Event{Kind: EventStarted, QuizID: s.quizID})
	return nil
}

// Select records option for the current question. Correctness is not checked here.
func (s *Session) Select(option int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.interactiveLocked(); err != nil {
		return err
	}
	q := s.quiz.Questions[s.current]
	if option < 0 || option >= len(q.Options) {
		return domain.ErrOptionOutOfRange
	}
	s.answers[s.current] = &option
	s.broadcastLocked()
	return nil
}

// Next moves forward; it is blocked while the current question is unanswered.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.interactiveLocked(); err != nil {
		return err
	}
	if s.answers[s.current] == nil {
		return domain.ErrUnanswered
	}
	if s.current < len(s.quiz.Questions)-1 {
		s.current++
		s.broadcastLocked()
	}
	return nil
}

// Previous moves back; it is a no-op on the first question.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.interactiveLocked(); err != nil {
		return err
	}
	if s.current > 0 {
		s.current--
		s.broadcastLocked()
	}
	return nil
}

// Submit completes the attempt. Only allowed on the last question.
func (s *Session) Submit(ctx context.Context) error {
	return s.finish(ctx, true)
}

// Close ends the session: the timer and monitor stop and subscribers are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.timer.Stop()
	s.monitor.Stop()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
	s.cancel()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of snapshots starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// finish scores and persists the attempt. The in-flight guard makes the
// first caller win when the timer and a manual submit race.
func (s *Session) finish(ctx context.Context, manual bool) error {
	s.mu.Lock()
	if s.closed && manual {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != StateActive {
		s.mu.Unlock()
		return domain.ErrNotActive
	}
	if s.submitting {
		s.mu.Unlock()
		return domain.ErrSubmissionInFlight
	}
	if manual && s.current != len(s.quiz.Questions)-1 {
		s.mu.Unlock()
		return domain.ErrNotLastQuestion
	}

	// Freeze the attempt before leaving fullscreen so the exit is not a violation.
	s.submitting = true
	s.timerExpired = !manual
	s.timer.Stop()
	s.monitor.Stop()
	s.elapsed = s.elapsedLocked()
	quiz := s.quiz
	answers := cloneAnswers(s.answers)
	elapsed := s.elapsed
	s.broadcastLocked()
	s.mu.Unlock()

	s.exitFullscreen(ctx)

	result := scoring.Score(quiz.Questions, answers, quiz.EffectivePassingScore())
	rec := s.reconciler.Reconcile(ctx, Outcome{
		QuizID:      s.quizID,
		QuizTitle:   quiz.Title,
		Token:       s.token,
		Answers:     answers,
		Result:      result,
		TimeSpent:   elapsed,
		CompletedAt: s.now().UTC(),
	})

	s.mu.Lock()
	s.submitting = false
	s.state = StateCompleted
	s.result = &result
	s.score = result.Percentage
	s.advisory = rec.Advisory
	s.broadcastLocked()
	s.mu.Unlock()

	s.log.Info("attempt completed",
		zap.Int("score", result.Percentage),
		zap.Bool("passed", result.Passed),
		zap.Bool("timed_out", !manual),
		zap.Bool("submitted", rec.Submitted))
	s.emit(Event{
		Kind:      EventCompleted,
		QuizID:    s.quizID,
		Result:    &result,
		TimedOut:  !manual,
		SubmitErr: rec.SubmitErr,
	})
	return nil
}

// terminate is the monitor's violation callback. Termination wins over any
// later submit because the state leaves active under the lock.
func (s *Session) terminate(v Violation) {
	s.mu.Lock()
	if s.state != StateActive || s.submitting {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.reason = v.Reason
	s.score = 0
	s.result = nil
	s.timer.Stop()
	s.monitor.Stop()
	s.elapsed = s.elapsedLocked()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.persistTimeout)
	defer cancel()

	// The flag is written under the lock so no reader sees the terminated
	// state before it is durable.
	if err := s.store.MarkTerminated(ctx, s.quizID); err != nil {
		s.log.Error("persist termination flag", zap.Error(err))
	}
	if err := s.store.InvalidateAvailable(ctx); err != nil {
		s.log.Warn("invalidate available quizzes", zap.Error(err))
	}
	s.broadcastLocked()
	s.mu.Unlock()

	s.exitFullscreen(ctx)

	if v.NotifyRemote {
		go s.notifyTermination()
	}

	s.log.Info("attempt terminated", zap.String("signal", string(v.Signal)))
	s.emit(Event{Kind: EventTerminated, QuizID: s.quizID, Signal: v.Signal, Reason: v.Reason})
}

func (s *Session) notifyTermination() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.persistTimeout)
	defer cancel()
	if err := s.client.NotifyTermination(ctx, s.token, s.quizID); err != nil {
		s.log.Debug("termination notice failed", zap.Error(err))
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	if !s.closed {
		s.state = StateError
		s.errMsg = userMessage(err)
		s.broadcastLocked()
	}
	s.mu.Unlock()

	s.log.Warn("attempt failed to load", zap.Error(err))
	s.emit(Event{Kind: EventFailed, QuizID: s.quizID, Err: err})
	return err
}

func (s *Session) expect(state State, mismatch error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != state {
		return mismatch
	}
	return nil
}

func (s *Session) interactiveLocked() error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state != StateActive {
		return domain.ErrNotActive
	}
	if s.submitting {
		return domain.ErrSubmissionInFlight
	}
	return nil
}

// activateLocked resets every attempt attribute and starts the timer and monitor.
func (s *Session) activateLocked(fullscreen bool) {
	s.state = StateActive
	s.current = 0
	s.answers = make([]*int, len(s.quiz.Questions))
	s.remaining = s.quiz.TimeLimitSeconds()
	s.elapsed = 0
	s.startedAt = s.now()
	s.submitting = false
	s.timerExpired = false
	s.score = 0
	s.result = nil
	s.reason = ""
	s.advisory = ""
	s.run++

	run := s.run
	s.timer.Start(s.remaining,
		func(remaining int) { s.tick(run, remaining) },
		func() { s.expire(run) },
	)
	s.monitor.Start(fullscreen)
	s.broadcastLocked()
}

func (s *Session) tick(run, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run != s.run || s.state != StateActive || s.submitting {
		return
	}
	if remaining < s.remaining {
		s.remaining = remaining
	}
	s.elapsed = s.elapsedLocked()
	s.broadcastLocked()
}

func (s *Session) expire(run int) {
	s.mu.Lock()
	current := run == s.run
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.finish(s.ctx, false); err != nil && !errors.Is(err, domain.ErrSubmissionInFlight) && !errors.Is(err, domain.ErrNotActive) {
		s.log.Warn("timer submission", zap.Error(err))
	}
}

func (s *Session) enterFullscreen(ctx context.Context) bool {
	if s.display == nil {
		return false
	}
	if err := s.display.RequestFullscreen(ctx); err != nil {
		s.log.Debug("fullscreen unavailable, continuing without it", zap.Error(err))
		return false
	}
	return true
}

func (s *Session) exitFullscreen(ctx context.Context) {
	if s.display == nil {
		return
	}
	if err := s.display.ExitFullscreen(ctx); err != nil {
		s.log.Debug("exit fullscreen", zap.Error(err))
	}
}

func (s *Session) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Session) elapsedLocked() int {
	if s.startedAt.IsZero() {
		return 0
	}
	d := s.now().Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow reader never blocks the session.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:            s.state,
		QuizID:           s.quizID,
		Title:            s.quiz.Title,
		QuestionCount:    len(s.quiz.Questions),
		Current:          s.current,
		Answers:          cloneAnswers(s.answers),
		RemainingSeconds: s.remaining,
		ElapsedSeconds:   s.elapsed,
		TimerExpired:     s.timerExpired,
		Submitting:       s.submitting,
		Score:            s.score,
		Reason:           s.reason,
		Advisory:         s.advisory,
		Error:            s.errMsg,
	}
	if s.state == StateActive {
		snap.ElapsedSeconds = s.elapsedLocked()
	}
	if s.state == StatePrompt || s.state == StateActive {
		q := s.quiz.Questions[s.current]
		snap.Question = &QuestionView{
			Number:  s.current + 1,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
		}
	}
	if s.result != nil {
		res := *s.result
		snap.Result = &res
	}
	return snap
}

func cloneAnswers(in []*int) []*int {
	if in == nil {
		return nil
	}
	out := make([]*int, len(in))
	for i, a := range in {
		if a != nil {
			v := *a
			out[i] = &v
		}
	}
	return out
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingParameters):
		return "Missing quiz ID or user token"
	case errors.Is(err, domain.ErrInvalidQuiz):
		return "Invalid quiz data received"
	default:
		return "Failed to fetch quiz"
	}
}
