package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fairtest/fairtest/internal/ledger"
	"github.com/fairtest/fairtest/internal/model"
)

// StoreSubmission appends a pending submission. Only the anonymized payload
// and the answer sheet are stored.
func (s *Store) StoreSubmission(ctx context.Context, sub model.Submission) (string, error) {
	if sub.ID == "" {
		sub.ID = "sub_" + uuid.NewString()
	}
	if sub.SubmittedAt == 0 {
		sub.SubmittedAt = time.Now().UnixMilli()
	}
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return "", fmt.Errorf("%w: encode answers: %w", ledger.ErrWrite, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, exam_id, final_hash, answer_hash, payload_timestamp, answers, time_taken, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Payload.ExamID, sub.Payload.FinalHash, sub.Payload.AnswerHash, sub.Payload.Timestamp,
		string(answers), sub.TimeTaken, model.SubmissionPending, sub.SubmittedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert submission: %w", ledger.ErrWrite, err)
	}
	return sub.ID, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (model.Submission, error) {
	var (
		sub     model.Submission
		answers string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, final_hash, answer_hash, payload_timestamp, answers, time_taken, status, result_id, submitted_at
		 FROM submissions WHERE id = ?`, submissionID,
	).Scan(&sub.ID, &sub.Payload.ExamID, &sub.Payload.FinalHash, &sub.Payload.AnswerHash, &sub.Payload.Timestamp,
		&answers, &sub.TimeTaken, &sub.Status, &sub.ResultID, &sub.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, fmt.Errorf("%w: submission %s", ledger.ErrNotFound, submissionID)
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: submission %s: %w", ledger.ErrRead, submissionID, err)
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return model.Submission{}, fmt.Errorf("%w: decode answers of %s: %w", ledger.ErrRead, submissionID, err)
	}
	return sub, nil
}

// GetPendingSubmissions lists submissions of an exam that have no result
// yet, oldest first.
func (s *Store) GetPendingSubmissions(ctx context.Context, examID string) ([]model.PendingSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, final_hash, answers FROM submissions
		 WHERE exam_id = ? AND status = ? ORDER BY submitted_at, id`,
		examID, model.SubmissionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pending submissions: %w", ledger.ErrRead, err)
	}
	defer rows.Close()
	pending := []model.PendingSubmission{}
	for rows.Next() {
		var (
			p       model.PendingSubmission
			answers string
		)
		if err := rows.Scan(&p.SubmissionID, &p.FinalHash, &answers); err != nil {
			return nil, fmt.Errorf("%w: scan submission: %w", ledger.ErrRead, err)
		}
		if err := json.Unmarshal([]byte(answers), &p.Answers); err != nil {
			return nil, fmt.Errorf("%w: decode answers of %s: %w", ledger.ErrRead, p.SubmissionID, err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pending submissions: %w", ledger.ErrRead, err)
	}
	return pending, nil
}

// StoreResult inserts a result and flips its submission to evaluated in one
// transaction. A submission can be evaluated once.
func (s *Store) StoreResult(ctx context.Context, result model.ResultRecord) (string, error) {
	if result.ID == "" {
		result.ID = "result_" + uuid.NewString()
	}
	if result.EvaluatedAt == 0 {
		result.EvaluatedAt = time.Now().UnixMilli()
	}
	scores, err := json.Marshal(result.QuestionScores)
	if err != nil {
		return "", fmt.Errorf("%w: encode question scores: %w", ledger.ErrWrite, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %w", ledger.ErrWrite, err)
	}
	defer tx.Rollback()

	var status model.SubmissionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id = ?`, result.SubmissionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: submission %s", ledger.ErrNotFound, result.SubmissionID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: submission %s: %w", ledger.ErrRead, result.SubmissionID, err)
	}
	if status == model.SubmissionEvaluated {
		return "", fmt.Errorf("%w: %s", ledger.ErrAlreadyEvaluated, result.SubmissionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO results (id, submission_id, exam_id, student_final_hash, evaluator_final_hash,
		 score, max_score, percentage, passed, feedback, question_scores, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.SubmissionID, result.ExamID, result.StudentFinalHash, result.EvaluatorFinalHash,
		result.Score, result.MaxScore, result.Percentage, result.Passed, result.Feedback, string(scores), result.EvaluatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert result: %w", ledger.ErrWrite, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET status = ?, result_id = ? WHERE id = ?`,
		model.SubmissionEvaluated, result.ID, result.SubmissionID,
	)
	if err != nil {
		return "", fmt.Errorf("%w: update submission: %w", ledger.ErrWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %w", ledger.ErrWrite, err)
	}
	return result.ID, nil
}

const resultColumns = `id, submission_id, exam_id, student_final_hash, evaluator_final_hash,
	score, max_score, percentage, passed, feedback, question_scores, evaluated_at`

// GetStudentResults returns every result recorded for a student FINAL_HASH.
func (s *Store) GetStudentResults(ctx context.Context, finalHash string) ([]model.ResultRecord, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM results WHERE student_final_hash = ? ORDER BY evaluated_at, id`, finalHash)
}

// GetExamResults returns every result of an exam.
func (s *Store) GetExamResults(ctx context.Context, examID string) ([]model.ResultRecord, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM results WHERE exam_id = ? ORDER BY evaluated_at, id`, examID)
}

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]model.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: results: %w", ledger.ErrRead, err)
	}
	defer rows.Close()
	results := []model.ResultRecord{}
	for rows.Next() {
		var (
			r      model.ResultRecord
			scores string
		)
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.ExamID, &r.StudentFinalHash, &r.EvaluatorFinalHash,
			&r.Score, &r.MaxScore, &r.Percentage, &r.Passed, &r.Feedback, &scores, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan result: %w", ledger.ErrRead, err)
		}
		if err := json.Unmarshal([]byte(scores), &r.QuestionScores); err != nil {
			return nil, fmt.Errorf("%w: decode question scores of %s: %w", ledger.ErrRead, r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: results: %w", ledger.ErrRead, err)
	}
	return results, nil
}

// GetExamStats counts submissions and results of an exam. AvgScore is the
// mean result percentage rounded to one decimal.
func (s *Store) GetExamStats(ctx context.Context, examID string) (model.ExamStats, error) {
	var stats model.ExamStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE exam_id = ?`, examID,
	).Scan(&stats.TotalSubmissions)
	if err != nil {
		return stats, fmt.Errorf("%w: count submissions: %w", ledger.ErrRead, err)
	}

	var avg sql.NullFloat64
	var passed sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(passed), AVG(percentage) FROM results WHERE exam_id = ?`, examID,
	).Scan(&stats.Evaluated, &passed, &avg)
	if err != nil {
		return stats, fmt.Errorf("%w: aggregate results: %w", ledger.ErrRead, err)
	}
	stats.Pending = stats.TotalSubmissions - stats.Evaluated
	stats.Passed = int(passed.Int64)
	stats.Failed = stats.Evaluated - stats.Passed
	if avg.Valid {
		stats.AvgScore = math.Round(avg.Float64*10) / 10
	}
	return stats, nil
}
