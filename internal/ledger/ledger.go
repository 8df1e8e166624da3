// Package ledger defines the append-only record store the exam service
// writes exams, submissions and results to.
//
// The persistence format is not part of the contract. Implementations only
// promise that writes are durable once a call returns nil and that errors
// wrap one of the sentinels below.
package ledger

import (
	"context"
	"errors"

	"github.com/fairtest/fairtest/internal/model"
)

var (
	// ErrWrite wraps any failure to persist a record.
	ErrWrite = errors.New("ledger write failed")
	// ErrRead wraps any failure to load a record.
	ErrRead = errors.New("ledger read failed")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("ledger record not found")
	// ErrAlreadyEvaluated is returned when a submission already has a result.
	ErrAlreadyEvaluated = errors.New("submission already evaluated")
)

// Ledger is the collaborator the service depends on.
type Ledger interface {
	StoreExam(ctx context.Context, exam model.Exam) (string, error)
	GetExam(ctx context.Context, examID string) (model.Exam, error)

	StoreSubmission(ctx context.Context, sub model.Submission) (string, error)
	GetSubmission(ctx context.Context, submissionID string) (model.Submission, error)
	GetPendingSubmissions(ctx context.Context, examID string) ([]model.PendingSubmission, error)

	// StoreResult records a result and marks its submission evaluated.
	StoreResult(ctx context.Context, result model.ResultRecord) (string, error)
	GetStudentResults(ctx context.Context, finalHash string) ([]model.ResultRecord, error)
	GetExamStats(ctx context.Context, examID string) (model.ExamStats, error)
}
