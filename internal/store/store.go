package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairtest/fairtest/internal/ledger"
	"github.com/fairtest/fairtest/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the sqlite reference ledger. The same type also serves as the
// device-local identity store when opened on a separate file.
type Store struct {
	db *sql.DB
}

var _ ledger.Ledger = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: databases are per-connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		pass_threshold INTEGER NOT NULL DEFAULT 0,
		total_marks REAL NOT NULL DEFAULT 0,
		questions TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		final_hash TEXT NOT NULL,
		answer_hash TEXT NOT NULL,
		payload_timestamp INTEGER NOT NULL,
		answers TEXT NOT NULL,
		time_taken INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending_evaluation',
		result_id TEXT NOT NULL DEFAULT '',
		submitted_at INTEGER NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_exam ON submissions(exam_id, status);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL UNIQUE,
		exam_id TEXT NOT NULL,
		student_final_hash TEXT NOT NULL,
		evaluator_final_hash TEXT NOT NULL,
		score REAL NOT NULL,
		max_score REAL NOT NULL,
		percentage INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		question_scores TEXT NOT NULL,
		evaluated_at INTEGER NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_student ON results(student_final_hash);

	CREATE TABLE IF NOT EXISTS local_identities (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'evaluator',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		operator_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (operator_id) REFERENCES operators(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		hash TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		exam_id TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StoreExam inserts a published exam. An empty ID is replaced by a fresh
// one; TotalMarks is always recomputed from the questions.
func (s *Store) StoreExam(ctx context.Context, exam model.Exam) (string, error) {
	if exam.ID == "" {
		exam.ID = "exam_" + uuid.NewString()
	}
	if exam.Status == "" {
		exam.Status = model.ExamActive
	}
	if exam.CreatedAt == 0 {
		exam.CreatedAt = time.Now().UnixMilli()
	}
	exam.TotalMarks = model.SumMarks(exam.Questions)

	questions, err := json.Marshal(exam.Questions)
	if err != nil {
		return "", fmt.Errorf("%w: encode questions: %w", ledger.ErrWrite, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (id, title, description, duration_minutes, pass_threshold, total_marks, questions, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exam.ID, exam.Title, exam.Description, exam.DurationMinutes, exam.PassThreshold,
		exam.TotalMarks, string(questions), exam.Status, exam.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert exam %s: %w", ledger.ErrWrite, exam.ID, err)
	}
	return exam.ID, nil
}

// GetExam returns an exam with its answer key.
func (s *Store) GetExam(ctx context.Context, examID string) (model.Exam, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, duration_minutes, pass_threshold, total_marks, questions, status, created_at
		 FROM exams WHERE id = ?`, examID,
	)
	exam, err := scanExam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, fmt.Errorf("%w: exam %s", ledger.ErrNotFound, examID)
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("%w: exam %s: %w", ledger.ErrRead, examID, err)
	}
	return exam, nil
}

// ListExams returns all exams, newest first.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, duration_minutes, pass_threshold, total_marks, questions, status, created_at
		 FROM exams ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list exams: %w", ledger.ErrRead, err)
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		exam, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan exam: %w", ledger.ErrRead, err)
		}
		exams = append(exams, exam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list exams: %w", ledger.ErrRead, err)
	}
	return exams, nil
}

// SetExamStatus opens or closes an exam.
func (s *Store) SetExamStatus(ctx context.Context, examID string, status model.ExamStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET status = ? WHERE id = ?`, status, examID)
	if err != nil {
		return fmt.Errorf("%w: update exam %s: %w", ledger.ErrWrite, examID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: exam %s", ledger.ErrNotFound, examID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(row scanner) (model.Exam, error) {
	var (
		exam      model.Exam
		questions string
	)
	err := row.Scan(&exam.ID, &exam.Title, &exam.Description, &exam.DurationMinutes, &exam.PassThreshold,
		&exam.TotalMarks, &questions, &exam.Status, &exam.CreatedAt)
	if err != nil {
		return exam, err
	}
	if err := json.Unmarshal([]byte(questions), &exam.Questions); err != nil {
		return exam, fmt.Errorf("decode questions: %w", err)
	}
	return exam, nil
}
