// Package evaluator grades objective questions against an answer key and
// merges human scores for everything else into a final result.
//
// Grading is deterministic and keeps no state between calls.
package evaluator

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fairtest/fairtest/internal/model"
)

// EvaluateExam grades answers against questions. Each question contributes
// exactly one QuestionScore. Questions that cannot be graded by machine are
// scored 0 and listed in ManualGrading; they still count toward MaxScore.
func EvaluateExam(questions []model.Question, answers model.Answers) model.AutoEvalResult {
	res := model.AutoEvalResult{
		QuestionScores: make([]model.QuestionScore, 0, len(questions)),
		AutoGraded:     []string{},
		ManualGrading:  []string{},
	}

	for _, q := range questions {
		qs := scoreQuestion(q, answers[q.ID])
		res.QuestionScores = append(res.QuestionScores, qs)
		if qs.AutoGraded {
			res.AutoGraded = append(res.AutoGraded, q.ID)
		} else {
			res.ManualGrading = append(res.ManualGrading, q.ID)
		}
		res.TotalScore += qs.Score
		res.MaxScore += qs.MaxMarks
	}
	return res
}

func scoreQuestion(q model.Question, answer any) model.QuestionScore {
	marks := q.Marks
	if marks < 0 || math.IsNaN(marks) {
		marks = 0
	}

	switch q.Kind() {
	case model.KindMCQ:
		return scoreSingle(q.ID, marks, correctSingle(q), answer, normalizeChoice)
	case model.KindTrueFalse:
		return scoreSingle(q.ID, marks, correctSingle(q), answer, normalizeBool)
	case model.KindMultipleCorrect:
		return scoreMultiple(q, marks, answer)
	case model.KindNumeric:
		return scoreNumeric(q, marks, answer)
	case model.KindShortAnswer, model.KindEssay:
		return manual(q.ID, marks, model.ReasonNeedsManual)
	case model.KindUnknown:
		return manual(q.ID, marks, model.ReasonUnknownType)
	}
	// Unreachable while ParseKind stays total; kept so a new Kind that is
	// not handled above still degrades to manual grading.
	return manual(q.ID, marks, model.ReasonUnknownType)
}

func manual(id string, marks float64, reason model.ScoreReason) model.QuestionScore {
	return model.QuestionScore{QuestionID: id, MaxMarks: marks, Reason: reason}
}

func graded(id string, marks float64, correct bool) model.QuestionScore {
	qs := model.QuestionScore{QuestionID: id, MaxMarks: marks, AutoGraded: true, Correct: correct, Reason: model.ReasonWrong}
	if correct {
		qs.Score = marks
		qs.Reason = model.ReasonCorrect
	}
	return qs
}

func unanswered(id string, marks float64) model.QuestionScore {
	return model.QuestionScore{QuestionID: id, MaxMarks: marks, AutoGraded: true, Reason: model.ReasonUnanswered}
}

func correctSingle(q model.Question) any {
	if q.CorrectAnswer != nil {
		return q.CorrectAnswer
	}
	if len(q.CorrectAnswers) == 1 {
		return q.CorrectAnswers[0]
	}
	return nil
}

func scoreSingle(id string, marks float64, key, answer any, normalize func(any) (string, bool)) model.QuestionScore {
	correct, ok := normalize(key)
	if !ok {
		return manual(id, marks, model.ReasonMalformedAnswerKey)
	}
	if isBlank(answer) {
		return unanswered(id, marks)
	}
	selected, ok := normalize(answer)
	if !ok {
		return graded(id, marks, false)
	}
	return graded(id, marks, selected == correct)
}

func scoreMultiple(q model.Question, marks float64, answer any) model.QuestionScore {
	keyList := q.CorrectAnswers
	if len(keyList) == 0 {
		keyList = anyToStringSlice(q.CorrectAnswer)
	}
	correctSet := normalizeStringSet(keyList)
	if len(correctSet) == 0 {
		return manual(q.ID, marks, model.ReasonMalformedAnswerKey)
	}
	if isBlank(answer) {
		return unanswered(q.ID, marks)
	}
	selected := normalizeStringSet(anyToStringSlice(answer))
	if len(selected) == 0 {
		return unanswered(q.ID, marks)
	}
	return graded(q.ID, marks, equalSet(selected, correctSet))
}

func scoreNumeric(q model.Question, marks float64, answer any) model.QuestionScore {
	want, ok := toFloat(q.CorrectAnswer)
	if !ok {
		return manual(q.ID, marks, model.ReasonMalformedAnswerKey)
	}
	if isBlank(answer) {
		return unanswered(q.ID, marks)
	}
	got, ok := toFloat(answer)
	if !ok {
		return graded(q.ID, marks, false)
	}
	tolerance := math.Abs(q.Tolerance)
	if math.IsNaN(tolerance) {
		tolerance = 0
	}
	return graded(q.ID, marks, math.Abs(got-want) <= tolerance)
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// normalizeChoice renders a single selected option as a trimmed string.
// Numbers are formatted canonically so 2 and 2.0 compare equal.
func normalizeChoice(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		if len(t) == 1 {
			return normalizeChoice(t[0])
		}
	case []string:
		if len(t) == 1 {
			return normalizeChoice(t[0])
		}
	}
	return "", false
}

func normalizeBool(v any) (string, bool) {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t), true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return "true", true
		case "false":
			return "false", true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func anyToStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := normalizeChoice(it); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

func normalizeStringSet(in []string) []string {
	set := map[string]struct{}{}
	for _, v := range in {
		s := strings.TrimSpace(v)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// equalSet compares two sorted, de-duplicated slices.
func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
