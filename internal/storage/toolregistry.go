package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// ToolRegistryRepo tracks tools available to the agent (MCP servers, CLI
// plugins, built-ins), their usage counters, and liveness status (spec §3,
// supplemented by the usage-event aggregation described in the expanded
// specification).
type ToolRegistryRepo struct {
	db *sql.DB
}

func NewToolRegistryRepo(db *sql.DB) *ToolRegistryRepo {
	return &ToolRegistryRepo{db: db}
}

// RegisterParams describes a tool to upsert into the registry.
type RegisterParams struct {
	Name        string
	ToolType    string
	Scope       string
	Source      string
	ProjectHash *string
	Description *string
	ServerName  *string
}

// Register upserts a tool by its natural key (name, project_hash). A tool
// already registered is reactivated (status reset to active) rather than
// duplicated.
func (r *ToolRegistryRepo) Register(ctx context.Context, p RegisterParams) (*ToolRegistryEntry, error) {
	existing, err := r.GetByName(ctx, p.Name, p.ProjectHash)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	if existing != nil {
		_, err := r.db.ExecContext(ctx, `
			UPDATE tool_registry
			SET tool_type = ?, scope = ?, source = ?, description = ?, server_name = ?,
			    status = ?, updated_at = ?
			WHERE id = ?`,
			p.ToolType, p.Scope, p.Source, p.Description, p.ServerName, ToolStatusActive, isoTime(now), existing.ID)
		if err != nil {
			return nil, wrapDBError("toolregistry: register: update", err)
		}
		return r.GetByID(ctx, existing.ID)
	}

	t := &ToolRegistryEntry{
		ID:          ids.New(),
		Name:        p.Name,
		ToolType:    p.ToolType,
		Scope:       p.Scope,
		Source:      p.Source,
		ProjectHash: p.ProjectHash,
		Description: p.Description,
		ServerName:  p.ServerName,
		Status:      ToolStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tool_registry
			(id, name, tool_type, scope, source, project_hash, description, server_name,
			 usage_count, last_used_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
		t.ID, t.Name, t.ToolType, t.Scope, t.Source, t.ProjectHash, t.Description, t.ServerName,
		t.Status, isoTime(now), isoTime(now))
	if err != nil {
		return nil, wrapDBError("toolregistry: register: insert", err)
	}
	return t, nil
}

// GetByID returns a tool by ID.
func (r *ToolRegistryRepo) GetByID(ctx context.Context, id string) (*ToolRegistryEntry, error) {
	row := r.db.QueryRowContext(ctx, toolSelectCols+` FROM tool_registry WHERE id = ?`, id)
	return scanTool(row)
}

// GetByName returns a tool by its natural key.
func (r *ToolRegistryRepo) GetByName(ctx context.Context, name string, projectHash *string) (*ToolRegistryEntry, error) {
	ph := ""
	if projectHash != nil {
		ph = *projectHash
	}
	row := r.db.QueryRowContext(ctx, toolSelectCols+` FROM tool_registry WHERE name = ? AND COALESCE(project_hash, '') = ?`, name, ph)
	return scanTool(row)
}

// ListActive returns active (non-demoted) tools visible to a project:
// global-scope tools plus the project's own.
func (r *ToolRegistryRepo) ListActive(ctx context.Context, projectHash string) ([]*ToolRegistryEntry, error) {
	rows, err := r.db.QueryContext(ctx, toolSelectCols+`
		FROM tool_registry
		WHERE status != ? AND (scope = ? OR project_hash = ?)
		ORDER BY usage_count DESC`, ToolStatusDemoted, ToolScopeGlobal, projectHash)
	if err != nil {
		return nil, wrapDBError("toolregistry: list_active", err)
	}
	defer rows.Close()
	return scanTools(rows)
}

// RecordUsage logs a usage event and bumps the tool's counters. success
// is stored on the usage event only; the curation agent's low-value prune
// pass (FlagIdle) reads last_used_at, not success.
func (r *ToolRegistryRepo) RecordUsage(ctx context.Context, toolID string, sessionID *string, success bool) error {
	now := time.Now().UTC()
	succ := 0
	if success {
		succ = 1
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("toolregistry: record_usage: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tool_usage_events (id, tool_id, session_id, success, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ids.New(), toolID, sessionID, succ, isoTime(now)); err != nil {
		return wrapDBError("toolregistry: record_usage: insert event", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tool_registry SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?`,
		isoTime(now), isoTime(now), ToolStatusStale, ToolStatusActive, toolID); err != nil {
		return wrapDBError("toolregistry: record_usage: update tool", err)
	}

	return tx.Commit()
}

// FlagIdle marks tools unused since cutoff as stale, and tools unused since
// a longer demoteCutoff as demoted, implementing the idle-demotion pass the
// expanded specification adds to tool registry maintenance.
func (r *ToolRegistryRepo) FlagIdle(ctx context.Context, staleCutoff, demoteCutoff time.Time) (staled, demoted int64, err error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tool_registry SET status = ?, updated_at = ?
		WHERE status = ? AND (last_used_at IS NULL OR last_used_at < ?) AND created_at < ?`,
		ToolStatusStale, isoTime(time.Now().UTC()), ToolStatusActive, isoTime(staleCutoff), isoTime(staleCutoff))
	if err != nil {
		return 0, 0, wrapDBError("toolregistry: flag_idle: stale", err)
	}
	staled, _ = res.RowsAffected()

	res, err = r.db.ExecContext(ctx, `
		UPDATE tool_registry SET status = ?, updated_at = ?
		WHERE status = ? AND (last_used_at IS NULL OR last_used_at < ?)`,
		ToolStatusDemoted, isoTime(time.Now().UTC()), ToolStatusStale, isoTime(demoteCutoff))
	if err != nil {
		return staled, 0, wrapDBError("toolregistry: flag_idle: demote", err)
	}
	demoted, _ = res.RowsAffected()
	return staled, demoted, nil
}

const toolSelectCols = `
	SELECT id, name, tool_type, scope, source, project_hash, description, server_name,
	       usage_count, last_used_at, status, created_at, updated_at`

func scanTool(row *sql.Row) (*ToolRegistryEntry, error) {
	var t ToolRegistryEntry
	var projectHash, description, serverName, lastUsedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Name, &t.ToolType, &t.Scope, &t.Source, &projectHash, &description,
		&serverName, &t.UsageCount, &lastUsedAt, &t.Status, &createdAt, &updatedAt); err != nil {
		return nil, wrapDBError("toolregistry: scan", err)
	}
	applyToolScan(&t, projectHash, description, serverName, lastUsedAt, createdAt, updatedAt)
	return &t, nil
}

func scanTools(rows *sql.Rows) ([]*ToolRegistryEntry, error) {
	var out []*ToolRegistryEntry
	for rows.Next() {
		var t ToolRegistryEntry
		var projectHash, description, serverName, lastUsedAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.ToolType, &t.Scope, &t.Source, &projectHash, &description,
			&serverName, &t.UsageCount, &lastUsedAt, &t.Status, &createdAt, &updatedAt); err != nil {
			return nil, wrapDBError("toolregistry: scan", err)
		}
		applyToolScan(&t, projectHash, description, serverName, lastUsedAt, createdAt, updatedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func applyToolScan(t *ToolRegistryEntry, projectHash, description, serverName, lastUsedAt sql.NullString, createdAt, updatedAt string) {
	if projectHash.Valid {
		v := projectHash.String
		t.ProjectHash = &v
	}
	if description.Valid {
		v := description.String
		t.Description = &v
	}
	if serverName.Valid {
		v := serverName.String
		t.ServerName = &v
	}
	if lastUsedAt.Valid {
		ts := parseISOTime(lastUsedAt.String)
		t.LastUsedAt = &ts
	}
	t.CreatedAt = parseISOTime(createdAt)
	t.UpdatedAt = parseISOTime(updatedAt)
}
