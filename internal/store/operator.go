package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairtest/fairtest/internal/model"
)

// ErrDuplicateOperator is returned when a username is already taken.
var ErrDuplicateOperator = errors.New("operator already exists")

// CreateOperator inserts a new operator account. PasswordHash must already
// be a bcrypt hash.
func (s *Store) CreateOperator(ctx context.Context, op model.Operator) (int64, error) {
	existing, err := s.GetOperatorByUsername(ctx, op.Username)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateOperator, op.Username)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.Username, op.DisplayName, op.PasswordHash, op.Role, op.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create operator", "username", op.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created operator", "id", id, "username", op.Username, "role", op.Role)
	return id, nil
}

const operatorColumns = `id, username, display_name, password_hash, role, active, created_at`

// GetOperatorByUsername returns an operator by username, or nil.
func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*model.Operator, error) {
	return s.getOperator(ctx, `SELECT `+operatorColumns+` FROM operators WHERE username = ?`, username)
}

// GetOperatorByID returns an operator by ID, or nil.
func (s *Store) GetOperatorByID(ctx context.Context, id int64) (*model.Operator, error) {
	return s.getOperator(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id = ?`, id)
}

func (s *Store) getOperator(ctx context.Context, query string, arg any) (*model.Operator, error) {
	var op model.Operator
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&op.ID, &op.Username, &op.DisplayName, &op.PasswordHash, &op.Role, &op.Active, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperators returns all operators.
func (s *Store) ListOperators(ctx context.Context) ([]model.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []model.Operator
	for rows.Next() {
		var op model.Operator
		if err := rows.Scan(&op.ID, &op.Username, &op.DisplayName, &op.PasswordHash, &op.Role, &op.Active, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ToggleOperatorActive flips the active flag on an operator. Deactivating
// also drops the operator's tokens.
func (s *Store) ToggleOperatorActive(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE operators SET active = NOT active WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE operator_id = ? AND
		 (SELECT active FROM operators WHERE id = ?) = 0`, id, id)
	return err
}

// OperatorCount returns the total number of operators.
func (s *Store) OperatorCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count)
	return count, err
}
