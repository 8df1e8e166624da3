// Package views renders the HTML pages of the evaluator console.
package views

//go:generate templ generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fairtest/fairtest/internal/fairtest"
	appI18n "github.com/fairtest/fairtest/internal/i18n"
	"github.com/fairtest/fairtest/internal/model"
)

// reviewRow is one question of a review as it is displayed.
type reviewRow struct {
	ID      string
	Text    string
	Answer  string
	Score   string
	Max     string
	Grading string // "auto" or "manual"
	Status  string
}

func reviewTitle(ctx context.Context, review fairtest.Review) string {
	return appI18n.Td(ctx, "ReviewTitle", map[string]any{"ID": review.Submission.ID})
}

func autoScoreLine(ctx context.Context, review fairtest.Review) string {
	return appI18n.Td(ctx, "ReviewAutoScore", map[string]any{
		"Score": formatMarks(review.Auto.TotalScore),
		"Max":   formatMarks(review.Auto.MaxScore),
	})
}

// reviewRows lists the exam's questions in order with the submitted answer
// and the automatic score of each.
func reviewRows(ctx context.Context, review fairtest.Review) []reviewRow {
	scores := make(map[string]model.QuestionScore, len(review.Auto.QuestionScores))
	for _, qs := range review.Auto.QuestionScores {
		scores[qs.QuestionID] = qs
	}

	rows := make([]reviewRow, 0, len(review.Exam.Questions))
	for _, q := range review.Exam.Questions {
		qs := scores[q.ID]
		row := reviewRow{
			ID:      q.ID,
			Text:    q.Text,
			Answer:  appI18n.T(ctx, "ReviewNoAnswer"),
			Score:   formatMarks(qs.Score),
			Max:     formatMarks(q.Marks),
			Grading: "auto",
			Status:  appI18n.T(ctx, "ReviewAutoGraded"),
		}
		if !qs.AutoGraded {
			row.Grading, row.Status = "manual", appI18n.T(ctx, "ReviewManual")
		}
		if answer, ok := review.Submission.Answers[q.ID]; ok && answer != nil {
			row.Answer = displayAnswer(answer)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatMarks(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func displayAnswer(answer any) string {
	if s, ok := answer.(string); ok {
		return s
	}
	b, err := json.Marshal(answer)
	if err != nil {
		return fmt.Sprint(answer)
	}
	return string(b)
}
