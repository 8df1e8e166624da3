package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fairtest/fairtest/internal/evaluator"
	"github.com/fairtest/fairtest/internal/model"
)

// ExportResults builds an export of every result of an exam. Results carry
// only FINAL_HASH values; nothing in the export links back to a wallet.
func (s *Store) ExportResults(ctx context.Context, examID string) (model.ResultsExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("get exam: %w", err)
	}
	stats, err := s.GetExamStats(ctx, examID)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("get stats: %w", err)
	}
	results, err := s.GetExamResults(ctx, examID)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("get results: %w", err)
	}

	threshold := exam.PassThreshold
	if threshold <= 0 {
		threshold = evaluator.DefaultPassThreshold
	}

	return model.ResultsExport{
		ExamID:        exam.ID,
		Title:         exam.Title,
		ExportedAt:    time.Now().UTC(),
		PassThreshold: threshold,
		NumQuestions:  len(exam.Questions),
		Stats:         stats,
		Results:       results,
	}, nil
}
