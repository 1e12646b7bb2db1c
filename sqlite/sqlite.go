// Package sqlite is a thin wrapper around database/sql, scoped to exactly
// what the metadata store needs from it: statement execution, one-row and
// multi-row queries, and transactions, opened with the pragmas a
// single-process embedded store wants (WAL journal, a busy timeout so
// concurrent writers queue instead of failing immediately, and foreign key
// enforcement).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const busyTimeout = 5 * time.Second

// Database is a thin wrapper around *sql.DB with no knowledge of any
// schema built on top of it.
type Database struct {
	db *sql.DB
}

// Open connects to a SQLite database at path and applies the fixed pragmas
// the metadata store relies on.
func Open(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: apply %s: %w", pragma, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec runs a statement that returns no rows.
func (d *Database) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query runs a statement and returns its rows to the caller.
func (d *Database) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (d *Database) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx opens a transaction; the caller decides how to use it.
func (d *Database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a thin wrapper around *sql.Tx with no schema-level logic.
type Tx struct {
	tx *sql.Tx
}

// Exec runs a statement within the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
