package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// FindImport returns the exam ID an exam file with this content hash was
// imported as, or "" if it was never imported.
func (s *Store) FindImport(ctx context.Context, hash string) (string, error) {
	var examID string
	err := s.db.QueryRowContext(ctx, `SELECT exam_id FROM imported_files WHERE hash = ?`, hash).Scan(&examID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return examID, err
}

// RecordImport remembers that the file with this hash produced examID.
func (s *Store) RecordImport(ctx context.Context, hash, filename, examID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (hash, filename, exam_id, imported_at) VALUES (?, ?, ?, ?)`,
		hash, filename, examID, time.Now(),
	)
	return err
}
