package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// busyTimeout is applied to every pooled connection: another process may
// hold the write lock briefly.
const busyTimeout = "_pragma=busy_timeout(5000)"

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dataSourceName+sep+busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own database.
	if dataSourceName == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema if it does not exist yet
func (db *DB) RunMigrations() error {
	migration := `
-- Local key/value state shared between client processes
CREATE TABLE IF NOT EXISTS local_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
