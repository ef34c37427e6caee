package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// ResearchRepo buffers tool-use provenance (what was looked up, and with
// which tool) until the 30-minute flush folds it into an observation
// (spec §3/§4.4).
type ResearchRepo struct {
	db          *sql.DB
	projectHash string
}

func NewResearchRepo(db *sql.DB, projectHash string) *ResearchRepo {
	return &ResearchRepo{db: db, projectHash: projectHash}
}

// Record appends a tool-use event to the buffer.
func (r *ResearchRepo) Record(ctx context.Context, sessionID, toolName, target string) (*ResearchBufferEntry, error) {
	e := &ResearchBufferEntry{
		ID:          ids.New(),
		ProjectHash: r.projectHash,
		SessionID:   sessionID,
		ToolName:    toolName,
		Target:      target,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO research_buffer (id, project_hash, session_id, tool_name, target, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectHash, e.SessionID, e.ToolName, e.Target, isoTime(e.CreatedAt))
	if err != nil {
		return nil, wrapDBError("research: record", err)
	}
	return e, nil
}

// DuePending returns buffered entries older than the flush window, oldest
// first, ready to be folded into an observation and deleted.
func (r *ResearchRepo) DuePending(ctx context.Context, olderThan time.Time, limit int) ([]*ResearchBufferEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_hash, session_id, tool_name, target, created_at
		FROM research_buffer
		WHERE project_hash = ? AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`, r.projectHash, isoTime(olderThan), limit)
	if err != nil {
		return nil, wrapDBError("research: due_pending", err)
	}
	defer rows.Close()

	var out []*ResearchBufferEntry
	for rows.Next() {
		var e ResearchBufferEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ProjectHash, &e.SessionID, &e.ToolName, &e.Target, &createdAt); err != nil {
			return nil, wrapDBError("research: scan", err)
		}
		e.CreatedAt = parseISOTime(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteFlushed removes buffer entries once they've been folded into an
// observation.
func (r *ResearchRepo) DeleteFlushed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("research: delete_flushed: begin", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM research_buffer WHERE id = ? AND project_hash = ?`, id, r.projectHash); err != nil {
			return wrapDBError("research: delete_flushed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("research: delete_flushed: commit", err)
	}
	return nil
}
