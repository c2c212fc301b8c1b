package scoring

import (
	"encoding/json"
	"reflect"
	"testing"

	"proctor-quiz-service/internal/domain"
)

func intp(v int) *int { return &v }

func capitals(marker domain.AnswerMarker) domain.Question {
	return domain.Question{
		Text:          "Capital of France?",
		Options:       []string{"Berlin", "Madrid", "Paris", "Rome"},
		CorrectAnswer: marker,
	}
}

func TestNormalizeMarkerEncodings(t *testing.T) {
	cases := map[string]domain.AnswerMarker{
		"index":          domain.MarkerIndex(2),
		"numeric string": domain.MarkerText("2"),
		"option text":    domain.MarkerText("Paris"),
		"folded text":    domain.MarkerText("pARIS"),
	}
	for name, marker := range cases {
		idx, ok := NormalizeMarker(capitals(marker))
		if !ok || idx != 2 {
			t.Fatalf("%s: expected index 2, got %d (ok=%v)", name, idx, ok)
		}
	}
}

func TestEncodingsProduceIdenticalResults(t *testing.T) {
	answers := []*int{intp(2)}
	var first domain.ScoreResult
	for i, marker := range []domain.AnswerMarker{
		domain.MarkerIndex(2),
		domain.MarkerText("2"),
		domain.MarkerText("PARIS"),
	} {
		got := Score([]domain.Question{capitals(marker)}, answers, 60)
		if i == 0 {
			first = got
			continue
		}
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("encoding %d scored differently: %+v vs %+v", i, first, got)
		}
	}
	if first.CorrectAnswers != 1 || first.Percentage != 100 || !first.Passed {
		t.Fatalf("unexpected result %+v", first)
	}
}

func TestNormalizeMarkerUnparseable(t *testing.T) {
	if _, ok := NormalizeMarker(capitals(domain.MarkerText("Lisbon"))); ok {
		t.Fatalf("expected no index for unknown option text")
	}
	if _, ok := NormalizeMarker(capitals(domain.AnswerMarker{})); ok {
		t.Fatalf("expected no index for missing marker")
	}

	res := Score([]domain.Question{capitals(domain.MarkerText("Lisbon"))}, []*int{intp(0)}, 60)
	if res.CorrectAnswers != 0 || res.Details[0].Correct {
		t.Fatalf("unparseable marker must score incorrect, got %+v", res)
	}
	if res.Details[0].CorrectText != "Unknown" {
		t.Fatalf("expected Unknown correct text, got %q", res.Details[0].CorrectText)
	}
}

func TestNilAnswerNeverMatchesIndexZero(t *testing.T) {
	q := capitals(domain.MarkerIndex(0))
	res := Score([]domain.Question{q}, []*int{nil}, 60)
	if res.CorrectAnswers != 0 {
		t.Fatalf("unanswered question counted as correct")
	}
	if res.Details[0].SelectedText != "Not answered" {
		t.Fatalf("unexpected selected text %q", res.Details[0].SelectedText)
	}
}

func TestScenarioTwoOfThree(t *testing.T) {
	questions := []domain.Question{
		capitals(domain.MarkerIndex(2)),
		capitals(domain.MarkerText("Paris")),
		capitals(domain.MarkerText("2")),
	}
	res := Score(questions, []*int{intp(2), intp(0), intp(2)}, 60)
	if res.CorrectAnswers != 2 || res.TotalQuestions != 3 {
		t.Fatalf("expected 2/3, got %d/%d", res.CorrectAnswers, res.TotalQuestions)
	}
	if res.Percentage != 67 || !res.Passed {
		t.Fatalf("expected 67%% passed, got %d%% passed=%v", res.Percentage, res.Passed)
	}
}

func TestPercentageAndPassedFormulas(t *testing.T) {
	cases := []struct {
		correct, total, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{3, 8, 38},
		{5, 5, 100},
	}
	for _, c := range cases {
		if got := Percentage(c.correct, c.total); got != c.want {
			t.Fatalf("Percentage(%d,%d) = %d, want %d", c.correct, c.total, got, c.want)
		}
	}

	empty := Score(nil, nil, 0)
	if empty.Percentage != 0 || empty.Passed {
		t.Fatalf("empty quiz must be 0%% and not passed, got %+v", empty)
	}

	q := []domain.Question{capitals(domain.MarkerIndex(2)), capitals(domain.MarkerIndex(2))}
	half := Score(q, []*int{intp(2), nil}, 0)
	if half.Percentage != 50 || half.Passed {
		t.Fatalf("50%% must fail the default passing score, got %+v", half)
	}
	if lenient := Score(q, []*int{intp(2), nil}, 50); !lenient.Passed {
		t.Fatalf("50%% must pass a 50%% passing score")
	}
}

func TestScoreIsPureAndRepeatable(t *testing.T) {
	questions := []domain.Question{capitals(domain.MarkerText("paris")), capitals(domain.MarkerIndex(1))}
	answers := []*int{intp(2), intp(3)}

	a := Score(questions, answers, 60)
	b := Score(questions, answers, 60)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("scoring not repeatable:\n%s\n%s", ja, jb)
	}
	if *answers[0] != 2 || *answers[1] != 3 {
		t.Fatalf("answers mutated: %v %v", *answers[0], *answers[1])
	}
	// Result details must not alias the caller's slots.
	*a.Details[0].Selected = 9
	if *answers[0] != 2 {
		t.Fatalf("result aliases input answers")
	}
}

func TestMarkerJSONForms(t *testing.T) {
	var q struct {
		A domain.AnswerMarker `json:"a"`
		B domain.AnswerMarker `json:"b"`
		C domain.AnswerMarker `json:"c"`
		D domain.AnswerMarker `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":2,"b":"2","c":"Paris","d":null}`), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if q.A.Index == nil || *q.A.Index != 2 {
		t.Fatalf("numeric marker not decoded as index")
	}
	if q.B.Text == nil || *q.B.Text != "2" || q.C.Text == nil || *q.C.Text != "Paris" {
		t.Fatalf("string markers not decoded as text")
	}
	if !q.D.IsZero() {
		t.Fatalf("null marker should be empty")
	}
}
