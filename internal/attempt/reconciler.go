package attempt

import (
	"context"
	"time"

	"go.uber.org/zap"

	"proctor-quiz-service/internal/domain"
)

// AdvisoryRecordedLocally is shown when the remote submission failed.
const AdvisoryRecordedLocally = "There was an issue saving your results. Your score has been recorded locally."

// Submitter posts a finished attempt to the quiz service.
type Submitter interface {
	SubmitAttempt(ctx context.Context, token, quizID string, submission domain.AttemptSubmission) error
}

// HistoryStore records finished attempts on the device.
type HistoryStore interface {
	AppendHistory(ctx context.Context, rec domain.HistoryRecord) error
	MarkCompleted(ctx context.Context, quizID string) error
}

// Outcome is everything the reconciler needs about a completed attempt.
type Outcome struct {
	QuizID      string
	QuizTitle   string
	Token       string
	Answers     []*int
	Result      domain.ScoreResult
	TimeSpent   int
	CompletedAt time.Time
}

// Reconciliation reports what was persisted where.
type Reconciliation struct {
	Submitted bool
	SubmitErr error
	LocalErr  error
	Advisory  string
}

// Reconciler persists a completed attempt remotely and locally. Each step runs
// regardless of how the previous one went.
type Reconciler struct {
	remote  Submitter
	local   HistoryStore
	timeout time.Duration
	log     *zap.Logger
}

func NewReconciler(remote Submitter, local HistoryStore, timeout time.Duration, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{remote: remote, local: local, timeout: timeout, log: log}
}

// Reconcile never fails the attempt; problems surface as an advisory.
func (r *Reconciler) Reconcile(ctx context.Context, o Outcome) Reconciliation {
	// Persistence outlives the connection that triggered it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	var rec Reconciliation

	answers := o.Answers
	if answers == nil {
		answers = []*int{}
	}
	err := r.remote.SubmitAttempt(ctx, o.Token, o.QuizID, domain.AttemptSubmission{
		Answers:   answers,
		Score:     o.Result.Percentage,
		TimeSpent: o.TimeSpent,
	})
	if err != nil {
		r.log.Warn("remote submission failed", zap.String("quiz_id", o.QuizID), zap.Error(err))
		rec.SubmitErr = err
		rec.Advisory = AdvisoryRecordedLocally
	} else {
		rec.Submitted = true
	}

	title := o.QuizTitle
	if title == "" {
		title = "Unknown Quiz"
	}
	if err := r.local.AppendHistory(ctx, domain.HistoryRecord{
		QuizID:         o.QuizID,
		QuizTitle:      title,
		Score:          o.Result.Percentage,
		CorrectAnswers: o.Result.CorrectAnswers,
		TotalQuestions: o.Result.TotalQuestions,
		TimeSpent:      o.TimeSpent,
		CompletedAt:    o.CompletedAt,
	}); err != nil {
		r.log.Error("append local history", zap.String("quiz_id", o.QuizID), zap.Error(err))
		rec.LocalErr = err
	}

	if err := r.local.MarkCompleted(ctx, o.QuizID); err != nil {
		r.log.Error("mark quiz completed", zap.String("quiz_id", o.QuizID), zap.Error(err))
		if rec.LocalErr == nil {
			rec.LocalErr = err
		}
	}

	return rec
}
