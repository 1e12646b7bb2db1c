package metadata

import (
	"context"
	"fmt"

	sqlitewrap "ctx/sqlite"
)

// migration is one forward-only schema change, applied at most once per
// store. A _migrations table tracks applied schema versions; there is no
// data-level record migration here, only schema DDL.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS packs (
				pack_id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				policies_json TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS artifacts (
				artifact_id TEXT PRIMARY KEY,
				type_json TEXT NOT NULL,
				source_uri TEXT NOT NULL,
				content_hash TEXT,
				meta_json TEXT NOT NULL,
				token_est INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS pack_items (
				pack_id TEXT NOT NULL REFERENCES packs(pack_id) ON DELETE CASCADE,
				artifact_id TEXT NOT NULL REFERENCES artifacts(artifact_id) ON DELETE CASCADE,
				priority INTEGER NOT NULL,
				added_at INTEGER NOT NULL,
				seq INTEGER NOT NULL,
				PRIMARY KEY (pack_id, artifact_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pack_items_order
				ON pack_items(pack_id, priority DESC, added_at ASC)`,
			`CREATE TABLE IF NOT EXISTS snapshots (
				snapshot_id TEXT PRIMARY KEY,
				pack_id TEXT NOT NULL REFERENCES packs(pack_id) ON DELETE CASCADE,
				label TEXT,
				render_hash TEXT NOT NULL,
				payload_hash TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_render_hash ON snapshots(render_hash)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			// Optional per-artifact snapshot membership, populated only
			// when a caller asks CreateSnapshot to record it.
			`CREATE TABLE IF NOT EXISTS snapshot_items (
				snapshot_id TEXT NOT NULL REFERENCES snapshots(snapshot_id) ON DELETE CASCADE,
				artifact_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				PRIMARY KEY (snapshot_id, position)
			)`,
		},
	},
}

// migrate applies every migration whose version has not yet run, each in
// its own transaction, recording it in _migrations as it goes.
func migrate(ctx context.Context, db *sqlitewrap.Database) error {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("metadata: create _migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return fmt.Errorf("metadata: read _migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("metadata: scan _migrations: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("metadata: apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sqlitewrap.Database, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, applied_at) VALUES (?, strftime('%s','now'))`,
		m.version); err != nil {
		return err
	}
	return tx.Commit()
}
