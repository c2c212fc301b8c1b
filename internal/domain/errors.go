package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no attempt session is open for a key.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrSessionClosed is returned for interactions after the session was closed.
	ErrSessionClosed = errors.New("attempt session closed")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz indicates a quiz without a title or without questions.
	ErrInvalidQuiz = errors.New("invalid quiz data")
	// ErrMissingParameters is returned when a quiz id or credential is absent.
	ErrMissingParameters = errors.New("missing quiz id or user token")

	// ErrNotActive is returned for interactions outside the active state.
	ErrNotActive = errors.New("attempt is not active")
	// ErrNotPrompting is returned when starting a session that is not awaiting acknowledgement.
	ErrNotPrompting = errors.New("attempt is not awaiting start")
	// ErrNotCompleted is returned when retaking an attempt that has not completed.
	ErrNotCompleted = errors.New("attempt is not completed")
	// ErrNotRetryable is returned when retrying a session that is not in the error state.
	ErrNotRetryable = errors.New("attempt is not in an error state")
	// ErrUnanswered blocks moving past a question without an answer.
	ErrUnanswered = errors.New("current question is unanswered")
	// ErrNotLastQuestion blocks a manual submit before the last question.
	ErrNotLastQuestion = errors.New("submit is only allowed on the last question")
	// ErrOptionOutOfRange indicates a selected option index outside the question's options.
	ErrOptionOutOfRange = errors.New("option out of range")
	// ErrSubmissionInFlight is returned by a second concurrent submit.
	ErrSubmissionInFlight = errors.New("submission already in progress")
	// ErrFullscreenUnavailable means the client cannot or would not enter fullscreen.
	ErrFullscreenUnavailable = errors.New("fullscreen unavailable")

	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a valid credential without the required role.
	ErrForbidden = errors.New("forbidden")
)
