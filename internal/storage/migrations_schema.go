package storage

import (
	"context"
	"database/sql"
)

// migrateCoreSchema creates observations, sessions, context_stashes, and
// project_metadata — the tables every other migration and repository
// depends on.
func migrateCoreSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			rowid             INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			project_hash      TEXT NOT NULL,
			content           TEXT NOT NULL,
			title             TEXT,
			source            TEXT NOT NULL,
			kind              TEXT NOT NULL,
			session_id        TEXT,
			embedding         BLOB,
			embedding_model   TEXT,
			embedding_version TEXT,
			classification    TEXT,
			classified_at     TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,
			deleted_at        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_deleted ON observations(project_hash) WHERE deleted_at IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_observations_classification ON observations(classification)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			project_hash TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			ended_at     TEXT,
			summary      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_hash)`,
		// Enforces "exactly one open session per project" at the storage
		// layer: only one row per project_hash may have ended_at IS NULL.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_open
			ON sessions(project_hash) WHERE ended_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS context_stashes (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			topic_label     TEXT NOT NULL,
			summary         TEXT NOT NULL,
			observations    TEXT NOT NULL,
			observation_ids TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'stashed'
				CHECK (status IN ('stashed', 'resumed', 'expired')),
			created_at      TEXT NOT NULL,
			resumed_at      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stashes_project ON context_stashes(project_id)`,

		`CREATE TABLE IF NOT EXISTS project_metadata (
			project_hash TEXT NOT NULL,
			key          TEXT NOT NULL,
			value        TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			PRIMARY KEY (project_hash, key)
		)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateObservationsFTS builds the external-content FTS5 index over
// observations plus the three triggers that keep it synchronized, per spec
// §4.1/§6 (bit-exact: the FTS table pivots on the autoincrement rowid so
// full-text results survive VACUUM/compaction).
func migrateObservationsFTS(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
			title, content,
			content='observations', content_rowid='rowid',
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS observations_fts_ai AFTER INSERT ON observations BEGIN
			INSERT INTO observations_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS observations_fts_ad AFTER DELETE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS observations_fts_au AFTER UPDATE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
			INSERT INTO observations_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END`,
	}
	return execAll(ctx, db, stmts)
}

// migrateGraphSchema creates graph_nodes and graph_edges with their closed
// type taxonomies and the edge weight constraint (spec §3, §6); the degree
// cap is enforced by GraphRepo, not by the schema.
func migrateGraphSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL CHECK (type IN ('Project','File','Decision','Problem','Solution','Reference')),
			name            TEXT NOT NULL,
			metadata        TEXT NOT NULL DEFAULT '{}',
			observation_ids TEXT NOT NULL DEFAULT '[]',
			project_hash    TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_nodes_natural_key
			ON graph_nodes(name, type, project_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_project ON graph_nodes(project_hash)`,

		`CREATE TABLE IF NOT EXISTS graph_edges (
			id           TEXT PRIMARY KEY,
			source_id    TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			target_id    TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			type         TEXT NOT NULL CHECK (type IN (
				'related_to','solved_by','caused_by','modifies',
				'informed_by','references','verified_by','preceded_by'
			)),
			weight       REAL NOT NULL DEFAULT 0.5 CHECK (weight >= 0.0 AND weight <= 1.0),
			metadata     TEXT NOT NULL DEFAULT '{}',
			project_hash TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_edges_natural_key
			ON graph_edges(source_id, target_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_project ON graph_edges(project_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateDebugPaths creates debug_paths and path_waypoints (cascade on path
// delete) per spec §3/§6.
func migrateDebugPaths(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS debug_paths (
			id           TEXT PRIMARY KEY,
			project_hash TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','resolved','abandoned')),
			started_at   TEXT NOT NULL,
			resolved_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_debug_paths_project ON debug_paths(project_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_debug_paths_status ON debug_paths(project_hash, status)`,

		`CREATE TABLE IF NOT EXISTS path_waypoints (
			id              TEXT PRIMARY KEY,
			path_id         TEXT NOT NULL REFERENCES debug_paths(id) ON DELETE CASCADE,
			sequence_order  INTEGER NOT NULL,
			type            TEXT NOT NULL CHECK (type IN (
				'error','attempt','failure','success','pivot','revert','discovery','resolution'
			)),
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_waypoints_path_seq ON path_waypoints(path_id, sequence_order)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateTopicAndThreshold creates threshold_history and shift_decisions,
// the persistence backing the adaptive topic-shift detector (spec §4.6).
func migrateTopicAndThreshold(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threshold_history (
			id                 TEXT PRIMARY KEY,
			project_hash       TEXT NOT NULL,
			session_id         TEXT,
			mean               REAL NOT NULL,
			variance           REAL NOT NULL,
			observation_count  INTEGER NOT NULL,
			closed_at          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_history_project ON threshold_history(project_hash, closed_at)`,

		`CREATE TABLE IF NOT EXISTS shift_decisions (
			id              TEXT PRIMARY KEY,
			project_hash    TEXT NOT NULL,
			observation_id  TEXT,
			distance        REAL NOT NULL,
			threshold       REAL NOT NULL,
			ewma_mean       REAL NOT NULL,
			ewma_variance   REAL NOT NULL,
			sensitivity     REAL NOT NULL,
			shifted         INTEGER NOT NULL,
			confidence      REAL NOT NULL,
			stash_id        TEXT,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shift_decisions_project ON shift_decisions(project_hash, created_at)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateResearchAndTools creates research_buffer, pending_notifications,
// tool_registry, and tool_usage_events (spec §3).
func migrateResearchAndTools(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS research_buffer (
			id           TEXT PRIMARY KEY,
			project_hash TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			tool_name    TEXT NOT NULL,
			target       TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_research_buffer_project ON research_buffer(project_hash, created_at)`,

		`CREATE TABLE IF NOT EXISTS pending_notifications (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			message      TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_project ON pending_notifications(project_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS tool_registry (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			tool_type       TEXT NOT NULL,
			scope           TEXT NOT NULL CHECK (scope IN ('global','project','plugin')),
			source          TEXT NOT NULL,
			project_hash    TEXT,
			description     TEXT,
			server_name     TEXT,
			usage_count     INTEGER NOT NULL DEFAULT 0,
			last_used_at    TEXT,
			status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','stale','demoted')),
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tool_registry_natural_key
			ON tool_registry(name, COALESCE(project_hash, ''))`,

		`CREATE TABLE IF NOT EXISTS tool_usage_events (
			id          TEXT PRIMARY KEY,
			tool_id     TEXT NOT NULL REFERENCES tool_registry(id) ON DELETE CASCADE,
			session_id  TEXT,
			success     INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_usage_tool ON tool_usage_events(tool_id, created_at)`,

		// External-content FTS over the tool registry, independent of the
		// vector index, so name/description lookup degrades gracefully the
		// same way observation search does when the vector extension is
		// absent.
		`CREATE VIRTUAL TABLE IF NOT EXISTS tool_registry_fts USING fts5(
			name, description,
			content='tool_registry', content_rowid='rowid',
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS tool_registry_fts_ai AFTER INSERT ON tool_registry BEGIN
			INSERT INTO tool_registry_fts(rowid, name, description) VALUES (new.rowid, new.name, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS tool_registry_fts_ad AFTER DELETE ON tool_registry BEGIN
			INSERT INTO tool_registry_fts(tool_registry_fts, rowid, name, description) VALUES ('delete', old.rowid, old.name, old.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS tool_registry_fts_au AFTER UPDATE ON tool_registry BEGIN
			INSERT INTO tool_registry_fts(tool_registry_fts, rowid, name, description) VALUES ('delete', old.rowid, old.name, old.description);
			INSERT INTO tool_registry_fts(rowid, name, description) VALUES (new.rowid, new.name, new.description);
		END`,
	}
	return execAll(ctx, db, stmts)
}

// migrateStalenessAndMetadata creates staleness_flags (curation's advisory
// contradiction markers, spec §4.9 step 4).
func migrateStalenessAndMetadata(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS staleness_flags (
			observation_id TEXT PRIMARY KEY,
			project_hash   TEXT NOT NULL,
			node_id        TEXT NOT NULL,
			reason         TEXT NOT NULL,
			flagged_by     TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staleness_project ON staleness_flags(project_hash)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateVectorObservations creates the observation vector table. Skipped
// (and revisited on next Open) when no vector extension is loaded.
func migrateVectorObservations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS observation_embeddings USING vec0(
			observation_id TEXT PRIMARY KEY,
			embedding      float[384] distance_metric=cosine
		)`)
	return err
}

// migrateVectorToolRegistry mirrors the tool registry into a vector index
// so future semantic tool lookup can reuse the same hybrid-search machinery
// as observations (spec §3's "tool_registry (+ FTS + optional vector)").
func migrateVectorToolRegistry(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS tool_registry_embeddings USING vec0(
			tool_id   TEXT PRIMARY KEY,
			embedding float[384] distance_metric=cosine
		)`)
	return err
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
