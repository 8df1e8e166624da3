package model

import "strings"

// Kind is the closed set of question kinds the evaluator understands.
type Kind string

const (
	KindMCQ             Kind = "mcq"
	KindMultipleCorrect Kind = "multiple_correct"
	KindTrueFalse       Kind = "true_false"
	KindNumeric         Kind = "numeric"
	KindShortAnswer     Kind = "short_answer"
	KindEssay           Kind = "essay"
	// KindUnknown covers any type string not listed above.
	KindUnknown Kind = "unknown"
)

// ParseKind maps a raw question type to a Kind. It never fails: anything
// unrecognised becomes KindUnknown.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMCQ, KindMultipleCorrect, KindTrueFalse, KindNumeric, KindShortAnswer, KindEssay:
		return k
	default:
		return KindUnknown
	}
}

// Question is a single exam question. Immutable once the exam is published.
type Question struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Text           string   `json:"text"`
	Options        []string `json:"options,omitempty"`
	CorrectAnswer  any      `json:"correctAnswer,omitempty"`
	CorrectAnswers []string `json:"correctAnswers,omitempty"`
	// Tolerance is the accepted absolute difference for numeric questions.
	// Zero means exact match.
	Tolerance float64 `json:"tolerance,omitempty"`
	Marks     float64 `json:"marks"`
	Rubric    string  `json:"rubric,omitempty"`
}

// Kind returns the parsed question kind.
func (q Question) Kind() Kind {
	return ParseKind(q.Type)
}

// WithoutAnswerKey returns a copy safe to show to students.
func (q Question) WithoutAnswerKey() Question {
	q.CorrectAnswer = nil
	q.CorrectAnswers = nil
	q.Tolerance = 0
	q.Rubric = ""
	return q
}

// Answers maps question IDs to whatever the student submitted (decoded JSON).
type Answers map[string]any

// ExamStatus is the lifecycle state of a published exam.
type ExamStatus string

const (
	ExamActive ExamStatus = "active"
	ExamClosed ExamStatus = "closed"
)

// Exam is a published exam with its answer key.
type Exam struct {
	ID              string     `json:"examId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	PassThreshold   int        `json:"passThreshold"`
	TotalMarks      float64    `json:"totalMarks"`
	Questions       []Question `json:"questions"`
	Status          ExamStatus `json:"status"`
	CreatedAt       int64      `json:"createdAt"`
}

// ForStudents returns a copy of the exam with the answer key removed.
func (e Exam) ForStudents() Exam {
	qs := make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		qs[i] = q.WithoutAnswerKey()
	}
	e.Questions = qs
	return e
}

// SumMarks returns Σ marks over the questions.
func SumMarks(questions []Question) float64 {
	var total float64
	for _, q := range questions {
		total += q.Marks
	}
	return total
}
