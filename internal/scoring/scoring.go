// Package scoring normalizes correct-answer markers and scores attempts.
// Everything here is pure: inputs are never mutated and identical inputs
// always produce identical results.
package scoring

import (
	"strconv"
	"strings"

	"proctor-quiz-service/internal/domain"
)

// NormalizeMarker resolves a question's correct-answer marker to a zero-based
// option index. A numeric string is parsed as an index, any other string is
// matched case-insensitively against the options, and a number is used as-is.
// The boolean is false when no index can be derived.
func NormalizeMarker(q domain.Question) (int, bool) {
	switch {
	case q.CorrectAnswer.Index != nil:
		return *q.CorrectAnswer.Index, true
	case q.CorrectAnswer.Text != nil:
		text := *q.CorrectAnswer.Text
		if idx, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			return idx, true
		}
		for i, opt := range q.Options {
			if strings.EqualFold(opt, text) {
				return i, true
			}
		}
	}
	return 0, false
}

// Score compares each answer slot with the normalized marker of its question.
// A nil slot never matches, not even index 0.
func Score(questions []domain.Question, answers []*int, passingScore int) domain.ScoreResult {
	if passingScore <= 0 {
		passingScore = domain.DefaultPassingScore
	}

	result := domain.ScoreResult{
		TotalQuestions: len(questions),
		Details:        make([]domain.QuestionResult, 0, len(questions)),
	}

	for i, q := range questions {
		var selected *int
		if i < len(answers) && answers[i] != nil {
			v := *answers[i]
			selected = &v
		}

		detail := domain.QuestionResult{
			Number:       i + 1,
			Text:         q.Text,
			Selected:     selected,
			SelectedText: "Not answered",
			CorrectText:  "Unknown",
		}
		if selected != nil {
			detail.SelectedText = optionText(q.Options, *selected)
		}

		if idx, ok := NormalizeMarker(q); ok {
			correct := idx
			detail.CorrectIndex = &correct
			if text := optionText(q.Options, idx); text != "" {
				detail.CorrectText = text
			}
			detail.Correct = selected != nil && *selected == idx
		}

		if detail.Correct {
			result.CorrectAnswers++
		}
		result.Details = append(result.Details, detail)
	}

	result.Percentage = Percentage(result.CorrectAnswers, result.TotalQuestions)
	result.Passed = result.TotalQuestions > 0 && result.Percentage >= passingScore
	return result
}

// Percentage returns round(correct/total*100), half rounding up, or 0 when total is 0.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}

func optionText(options []string, idx int) string {
	if idx < 0 || idx >= len(options) {
		return ""
	}
	return options[idx]
}
