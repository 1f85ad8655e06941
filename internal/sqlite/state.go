package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ganot/desksync/internal/repository"
)

var _ repository.StateStore = (*StateStore)(nil)

// StateStore implements repository.StateStore for SQLite
type StateStore struct {
	db *DB
}

// NewStateStore creates a new StateStore
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the value stored under key
func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get local state %q: %w", key, err)
	}
	return value, nil
}

// Update reads key and stores fn's result inside one BEGIN IMMEDIATE
// transaction. The write lock is taken before the read, so writers in
// other processes are serialized instead of overwriting each other. An
// error from fn rolls the transaction back and is returned as is.
func (s *StateStore) Update(ctx context.Context, key string, fn func(value string, found bool) (string, error)) (err error) {
	if key == "" {
		return repository.ErrInvalidInput
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		if isBusy(err) {
			return fmt.Errorf("failed to update local state %q: database busy: %w", key, err)
		}
		return fmt.Errorf("failed to begin update of local state %q: %w", key, err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var value string
	found := true
	err = conn.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		found, err = false, nil
	}
	if err != nil {
		return fmt.Errorf("failed to read local state %q: %w", key, err)
	}

	next, err := fn(value, found)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err = conn.ExecContext(ctx, query, key, next, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write local state %q: %w", key, err)
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit local state %q: %w", key, err)
	}
	return nil
}
