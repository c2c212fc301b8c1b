package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultTimeLimitSeconds applies when a quiz has no positive time limit.
	DefaultTimeLimitSeconds = 120
	// DefaultPassingScore applies when a quiz has no passing score.
	DefaultPassingScore = 60
)

// AnswerMarker holds a question's correct-answer marker exactly as authored:
// a zero-based option index, or a string that is either a numeric index or
// the literal text of the correct option.
type AnswerMarker struct {
	Index *int
	Text  *string
}

// MarkerIndex builds a marker from a zero-based option index.
func MarkerIndex(i int) AnswerMarker { return AnswerMarker{Index: &i} }

// MarkerText builds a marker from a string (numeric index or option text).
func MarkerText(s string) AnswerMarker { return AnswerMarker{Text: &s} }

// IsZero reports whether no marker was authored.
func (m AnswerMarker) IsZero() bool { return m.Index == nil && m.Text == nil }

func (m AnswerMarker) MarshalJSON() ([]byte, error) {
	switch {
	case m.Index != nil:
		return json.Marshal(*m.Index)
	case m.Text != nil:
		return json.Marshal(*m.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number, a string or null. Non-integral numbers are
// kept as text so they never match an option index.
func (m *AnswerMarker) UnmarshalJSON(data []byte) error {
	*m = AnswerMarker{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		m.Text = &s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("correct answer marker: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		idx := int(i)
		m.Index = &idx
		return nil
	}
	s := n.String()
	m.Text = &s
	return nil
}

// Question is a multiple-choice question with string options.
type Question struct {
	Text          string       `json:"questionText"`
	Options       []string     `json:"options"`
	CorrectAnswer AnswerMarker `json:"correctAnswer"`
}

// Quiz is immutable for the duration of an attempt.
type Quiz struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Questions    []Question `json:"questions"`
	TimeLimit    int        `json:"timeLimit,omitempty"` // minutes
	PassingScore int        `json:"passingScore,omitempty"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// TimeLimitSeconds converts the authored limit, falling back to the default.
func (q Quiz) TimeLimitSeconds() int {
	if q.TimeLimit > 0 {
		return q.TimeLimit * 60
	}
	return DefaultTimeLimitSeconds
}

// EffectivePassingScore returns the passing percentage, defaulting to 60.
func (q Quiz) EffectivePassingScore() int {
	if q.PassingScore > 0 {
		return q.PassingScore
	}
	return DefaultPassingScore
}

// Summary is the listing view of a quiz.
func (q Quiz) Summary() QuizSummary {
	return QuizSummary{
		ID:            q.ID,
		Title:         q.Title,
		QuestionCount: len(q.Questions),
		TimeLimit:     q.TimeLimit,
		PassingScore:  q.EffectivePassingScore(),
		CreatedAt:     q.CreatedAt,
	}
}

// QuizSummary describes a quiz without its questions.
type QuizSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	QuestionCount int       `json:"questionCount"`
	TimeLimit     int       `json:"timeLimit,omitempty"`
	PassingScore  int       `json:"passingScore"`
	CreatedAt     time.Time `json:"createdAt"`
	Attempted     bool      `json:"attempted"`
}

// QuestionResult is the per-question review line of a scored attempt.
type QuestionResult struct {
	Number       int    `json:"questionNumber"`
	Text         string `json:"questionText"`
	Selected     *int   `json:"userAnswer"`
	SelectedText string `json:"userAnswerText"`
	CorrectIndex *int   `json:"correctAnswer"`
	CorrectText  string `json:"correctAnswerText"`
	Correct      bool   `json:"isCorrect"`
}

// ScoreResult is derived from questions and answers and never stored as mutable state.
type ScoreResult struct {
	CorrectAnswers int              `json:"correctAnswers"`
	TotalQuestions int              `json:"totalQuestions"`
	Percentage     int              `json:"percentage"`
	Passed         bool             `json:"passed"`
	Details        []QuestionResult `json:"detailedResults"`
}

// AttemptSubmission is the body posted to the remote submission endpoint.
type AttemptSubmission struct {
	Answers   []*int `json:"answers"`
	Score     int    `json:"score"`
	TimeSpent int    `json:"timeSpent"`
}

// AttemptRecord is a stored submission on the quiz service.
type AttemptRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName,omitempty"`
	QuizID      string    `json:"quizId"`
	Answers     []*int    `json:"answers"`
	Score       int       `json:"score"`
	TimeSpent   int       `json:"timeSpent"`
	CompletedAt time.Time `json:"completedAt"`
}

// AttemptedQuiz is one line of a user's attempt history on the quiz service.
type AttemptedQuiz struct {
	Quiz        QuizSummary `json:"quiz"`
	Score       int         `json:"score"`
	CompletedAt time.Time   `json:"completedAt"`
}

// HistoryRecord is the device-local record of a completed attempt.
type HistoryRecord struct {
	QuizID         string    `json:"quizId"`
	QuizTitle      string    `json:"quizTitle"`
	Score          int       `json:"score"`
	CorrectAnswers int       `json:"correctAnswers"`
	TotalQuestions int       `json:"totalQuestions"`
	TimeSpent      int       `json:"timeSpent"`
	CompletedAt    time.Time `json:"completedAt"`
}

// LeaderboardEntry is one ranked result.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Rank  int    `json:"rank"`
}

// Leaderboard captures the ordered results for a quiz.
type Leaderboard struct {
	QuizID   string             `json:"quizId"`
	Entries  []LeaderboardEntry `json:"leaderboard"`
	UserRank *LeaderboardEntry  `json:"userRank"`
}

// UserAttempt is one line of a quiz author's attempt report.
type UserAttempt struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

// Count is the body of the counting endpoints.
type Count struct {
	Count int `json:"count"`
}
