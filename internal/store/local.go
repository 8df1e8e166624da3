package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/fairtest/fairtest/internal/identity"
)

var (
	_ identity.Store  = (*Store)(nil)
	_ identity.Lister = (*Store)(nil)
)

// Put upserts a value in the local_identities table.
func (s *Store) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO local_identities (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

// Get returns the value stored under key. ok is false if the key is missing.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM local_identities WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Keys lists the keys held in the local identity table.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM local_identities ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
