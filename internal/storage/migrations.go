package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is a single versioned, append-only schema change. up receives
// the shared connection (not a *sql.Tx) because some statements — CREATE
// VIRTUAL TABLE for FTS5, PRAGMA — aren't transactional in SQLite; the
// runner instead wraps the whole step in a BEGIN/COMMIT around the call
// using a dedicated connection, exactly as a script-based migration would.
type migration struct {
	Version int
	Name    string
	// Up runs unconditionally. It must be idempotent: re-running an already
	// applied version must be a no-op (CREATE TABLE IF NOT EXISTS, etc).
	Up func(ctx context.Context, db *sql.DB) error
	// VectorOnly marks a migration that only makes sense when a vector
	// extension is loaded. Skipped (and re-attempted on a later Open) when
	// Engine.hasVectorSupport is false.
	VectorOnly bool
}

// migrationsList is the append-only, ordered set of schema changes. Never
// edit a prior entry; add a new version instead.
var migrationsList = []migration{
	{1, "core_schema", migrateCoreSchema, false},
	{2, "fts_observations", migrateObservationsFTS, false},
	{3, "graph_schema", migrateGraphSchema, false},
	{4, "debug_paths", migrateDebugPaths, false},
	{5, "topic_and_threshold", migrateTopicAndThreshold, false},
	{6, "research_and_tools", migrateResearchAndTools, false},
	{7, "staleness_and_metadata", migrateStalenessAndMetadata, false},
	{8, "vector_observation_embeddings", migrateVectorObservations, true},
	{9, "vector_tool_registry", migrateVectorToolRegistry, true},
}

func (e *Engine) migrate(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := e.db.QueryContext(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrationsList {
		if applied[m.Version] {
			continue
		}
		if m.VectorOnly && !e.hasVectorSupport {
			// Skipped, not recorded as applied: it auto-applies on a later
			// Open() once the extension is present, per spec §4.1.
			continue
		}

		// The pool is capped at one connection (Engine.Open), so issuing
		// BEGIN/COMMIT directly against e.db and passing e.db to Up is safe:
		// every statement lands on the same underlying connection.
		if _, err := e.db.ExecContext(ctx, "BEGIN"); err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		runErr := m.Up(ctx, e.db)
		if runErr == nil {
			_, runErr = e.db.ExecContext(ctx,
				"INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))",
				m.Version, m.Name)
		}

		if runErr != nil {
			_, _ = e.db.ExecContext(ctx, "ROLLBACK")
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, runErr)
		}
		if _, err := e.db.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
