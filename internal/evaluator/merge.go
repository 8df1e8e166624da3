package evaluator

import (
	"log/slog"
	"math"
	"slices"

	"github.com/fairtest/fairtest/internal/model"
)

// DefaultPassThreshold is the pass percentage used when an exam sets none.
const DefaultPassThreshold = 40

// MergeFinalScore folds manual scores into an auto evaluation.
//
// Only questions listed in result.ManualGrading are touched. A missing (or
// NaN) manual score counts as 0, and every manual score is clamped to
// [0, maxMarks]. Manual scores for auto-graded questions are ignored. The
// totals are recomputed from the question scores; result is not modified.
func MergeFinalScore(result model.AutoEvalResult, manualScores map[string]float64) model.FinalResult {
	scores := make([]model.QuestionScore, len(result.QuestionScores))
	copy(scores, result.QuestionScores)

	for i, qs := range scores {
		if !slices.Contains(result.ManualGrading, qs.QuestionID) {
			continue
		}
		score := manualScoreOrZero(manualScores, qs.QuestionID)
		score = clamp(score, 0, qs.MaxMarks)
		scores[i].Score = score
		scores[i].Correct = qs.MaxMarks > 0 && score == qs.MaxMarks
		scores[i].Reason = model.ReasonManual
	}

	for id := range manualScores {
		if slices.Contains(result.AutoGraded, id) {
			slog.Debug("ignoring manual score for auto-graded question", "question_id", id)
		}
	}

	var total, maxScore float64
	for _, qs := range scores {
		total += qs.Score
		maxScore += qs.MaxMarks
	}

	return model.FinalResult{
		TotalScore:     total,
		MaxScore:       maxScore,
		Percentage:     Percentage(total, maxScore),
		QuestionScores: scores,
	}
}

// manualScoreOrZero is the documented default: a manual-grading question
// the evaluator left blank scores zero rather than failing the merge.
func manualScoreOrZero(manual map[string]float64, id string) float64 {
	v, ok := manual[id]
	if !ok || math.IsNaN(v) {
		return 0
	}
	return v
}

// Percentage returns round(100*total/maxScore), or 0 when maxScore is not
// positive.
func Percentage(total, maxScore float64) int {
	if maxScore <= 0 {
		return 0
	}
	return int(math.Round(100 * total / maxScore))
}

// Passed reports whether final meets threshold. A non-positive threshold
// selects DefaultPassThreshold.
func Passed(final model.FinalResult, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}
	return final.Percentage >= threshold
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}
