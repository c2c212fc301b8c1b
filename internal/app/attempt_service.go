// Package app wires attempt sessions to their per-device storage, the quiz
// API and metrics, and keeps one live session per user, device and quiz.
package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"proctor-quiz-service/internal/attempt"
	"proctor-quiz-service/internal/devicestore"
	"proctor-quiz-service/internal/domain"
)

// SessionRepository abstracts how live sessions are tracked (in-memory, Redis, etc).
type SessionRepository interface {
	// Put registers session under key and returns the one it replaced, if any.
	Put(key string, session *attempt.Session) (replaced *attempt.Session)
	Get(key string) (*attempt.Session, bool)
	// Delete removes key only while it still maps to session.
	Delete(key string, session *attempt.Session)
}

// Options tunes sessions created by the service.
type Options struct {
	PersistTimeout time.Duration
	NewTicker      attempt.TickerFunc
	Now            func() time.Time
}

// AttemptService contains the attempt gateway use cases.
type AttemptService struct {
	sessions SessionRepository
	devices  *devicestore.Provider
	client   attempt.QuizClient
	metrics  *Metrics
	log      *zap.Logger
	opts     Options
}

func NewAttemptService(sessions SessionRepository, devices *devicestore.Provider, client attempt.QuizClient, metrics *Metrics, log *zap.Logger, opts Options) *AttemptService {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AttemptService{sessions: sessions, devices: devices, client: client, metrics: metrics, log: log, opts: opts}
}

// OpenRequest identifies an attempt and the connection serving it.
type OpenRequest struct {
	UserID   string
	DeviceID string
	QuizID   string
	Token    string
	Display  attempt.Display
	Signals  attempt.SignalSource
}

// SessionKey is the registry key for one user's attempt at a quiz on a device.
func SessionKey(userID, deviceID, quizID string) string {
	return userID + ":" + deviceID + ":" + quizID
}

// Open creates and loads a session, replacing any older one for the same key.
// A load failure is reported through the session's error state, not here.
func (s *AttemptService) Open(ctx context.Context, req OpenRequest) (*attempt.Session, error) {
	if req.UserID == "" || req.DeviceID == "" {
		return nil, domain.ErrMissingParameters
	}
	log := s.log.With(zap.String("user_id", req.UserID), zap.String("device_id", req.DeviceID))

	session := attempt.NewSession(attempt.Config{
		QuizID:         req.QuizID,
		Token:          req.Token,
		Client:         s.client,
		Store:          s.devices.For(req.UserID, req.DeviceID),
		Display:        req.Display,
		Signals:        req.Signals,
		Logger:         log,
		NewTicker:      s.opts.NewTicker,
		Now:            s.opts.Now,
		PersistTimeout: s.opts.PersistTimeout,
		OnEvent:        s.record,
	})

	key := SessionKey(req.UserID, req.DeviceID, req.QuizID)
	if replaced := s.sessions.Put(key, session); replaced != nil {
		log.Info("replacing open attempt", zap.String("quiz_id", req.QuizID))
		replaced.Close()
		s.metrics.ActiveConnections.Dec()
	}
	s.metrics.ActiveConnections.Inc()

	if err := session.Load(ctx); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		log.Debug("attempt load", zap.String("quiz_id", req.QuizID), zap.Error(err))
	}
	return session, nil
}

// Get returns the live session for a key.
func (s *AttemptService) Get(userID, deviceID, quizID string) (*attempt.Session, error) {
	session, ok := s.sessions.Get(SessionKey(userID, deviceID, quizID))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Close ends session and drops it from the registry if it is still current.
func (s *AttemptService) Close(userID, deviceID string, session *attempt.Session) {
	key := SessionKey(userID, deviceID, session.QuizID())
	current, ok := s.sessions.Get(key)
	session.Close()
	if ok && current == session {
		s.sessions.Delete(key, session)
		s.metrics.ActiveConnections.Dec()
	}
}

// History returns the attempts recorded on a device.
func (s *AttemptService) History(ctx context.Context, userID, deviceID string) ([]domain.HistoryRecord, error) {
	return s.devices.For(userID, deviceID).History(ctx)
}

func (s *AttemptService) record(ev attempt.Event) {
	switch ev.Kind {
	case attempt.EventStarted:
		s.metrics.Started.Inc()
	case attempt.EventCompleted:
		if ev.Result != nil {
			s.metrics.Completed.WithLabelValues(boolLabel(ev.Result.Passed), boolLabel(ev.TimedOut)).Inc()
			s.metrics.Score.Observe(float64(ev.Result.Percentage))
		}
		if ev.SubmitErr != nil {
			s.metrics.SubmissionFailed.Inc()
		}
	case attempt.EventTerminated:
		s.metrics.Terminated.WithLabelValues(string(ev.Signal)).Inc()
	case attempt.EventFailed:
		s.metrics.LoadFailed.Inc()
	}
}
