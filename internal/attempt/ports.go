// Package attempt implements the proctored quiz-attempt session: a countdown
// timer, an integrity monitor, the session state machine and the reconciler
// that persists a completed attempt.
package attempt

import (
	"context"

	"proctor-quiz-service/internal/domain"
)

// QuizClient is the remote quiz service as seen by one attempt.
type QuizClient interface {
	GetQuiz(ctx context.Context, token, quizID string) (domain.Quiz, error)
	SubmitAttempt(ctx context.Context, token, quizID string, submission domain.AttemptSubmission) error
	NotifyTermination(ctx context.Context, token, quizID string) error
}

// LocalStore is the durable device storage the session reads and writes.
// *devicestore.Store satisfies it.
type LocalStore interface {
	IsTerminated(ctx context.Context, quizID string) (bool, error)
	MarkTerminated(ctx context.Context, quizID string) error
	MarkCompleted(ctx context.Context, quizID string) error
	AppendHistory(ctx context.Context, rec domain.HistoryRecord) error
	InvalidateAvailable(ctx context.Context) error
}

// Display is the client's fullscreen capability. Both calls are best-effort.
type Display interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

// EventKind names a lifecycle event emitted to listeners.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventCompleted  EventKind = "completed"
	EventTerminated EventKind = "terminated"
	EventFailed     EventKind = "failed"
)

// Event is delivered to the session's listener after a transition settles.
type Event struct {
	Kind      EventKind
	QuizID    string
	Result    *domain.ScoreResult
	TimedOut  bool
	Signal    Signal
	Reason    string
	SubmitErr error
	Err       error
}
