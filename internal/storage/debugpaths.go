package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// DebugPathRepo persists debug paths and their ordered waypoints (spec §3,
// §4.5). sequence_order is assigned by AddWaypoint (MAX+1 per path); the
// unique index on (path_id, sequence_order) rejects a race that would
// otherwise silently interleave two concurrent appenders.
type DebugPathRepo struct {
	db          *sql.DB
	projectHash string
}

func NewDebugPathRepo(db *sql.DB, projectHash string) *DebugPathRepo {
	return &DebugPathRepo{db: db, projectHash: projectHash}
}

// Open starts a new active debug path.
func (r *DebugPathRepo) Open(ctx context.Context) (*DebugPath, error) {
	p := &DebugPath{
		ID:          ids.New(),
		ProjectHash: r.projectHash,
		Status:      PathActive,
		StartedAt:   time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO debug_paths (id, project_hash, status, started_at)
		VALUES (?, ?, ?, ?)`, p.ID, p.ProjectHash, p.Status, isoTime(p.StartedAt))
	if err != nil {
		return nil, wrapDBError("debugpaths: open", err)
	}
	return p, nil
}

// GetActive returns the currently active debug path for the project, if
// any, used to recover in-flight state on process start (spec §4.5).
func (r *DebugPathRepo) GetActive(ctx context.Context) (*DebugPath, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_hash, status, started_at, resolved_at
		FROM debug_paths WHERE project_hash = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, r.projectHash, PathActive)
	return scanDebugPath(row)
}

// SetStatus transitions a path's status, stamping resolved_at when moving
// to resolved.
func (r *DebugPathRepo) SetStatus(ctx context.Context, id, status string) error {
	var resolvedAt any
	if status == PathResolved {
		resolvedAt = isoTime(time.Now().UTC())
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE debug_paths SET status = ?, resolved_at = ? WHERE id = ? AND project_hash = ?`,
		status, resolvedAt, id, r.projectHash)
	if err != nil {
		return wrapDBError("debugpaths: set_status", err)
	}
	return nil
}

// NextSequence returns the next sequence_order for a path (max+1, or 0 for
// an empty path).
func (r *DebugPathRepo) NextSequence(ctx context.Context, pathID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence_order) FROM path_waypoints WHERE path_id = ?`, pathID).Scan(&max)
	if err != nil {
		return 0, wrapDBError("debugpaths: next_sequence", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// AddWaypoint appends a waypoint at the next sequence position.
func (r *DebugPathRepo) AddWaypoint(ctx context.Context, pathID, waypointType, content string) (*PathWaypoint, error) {
	seq, err := r.NextSequence(ctx, pathID)
	if err != nil {
		return nil, err
	}
	w := &PathWaypoint{
		ID:            ids.New(),
		PathID:        pathID,
		SequenceOrder: seq,
		Type:          waypointType,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO path_waypoints (id, path_id, sequence_order, type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.PathID, w.SequenceOrder, w.Type, w.Content, isoTime(w.CreatedAt))
	if err != nil {
		return nil, wrapDBError("debugpaths: add_waypoint", err)
	}
	return w, nil
}

// ListWaypoints returns every waypoint of a path, in sequence order.
func (r *DebugPathRepo) ListWaypoints(ctx context.Context, pathID string) ([]*PathWaypoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, path_id, sequence_order, type, content, created_at
		FROM path_waypoints WHERE path_id = ? ORDER BY sequence_order ASC`, pathID)
	if err != nil {
		return nil, wrapDBError("debugpaths: list_waypoints", err)
	}
	defer rows.Close()

	var out []*PathWaypoint
	for rows.Next() {
		var w PathWaypoint
		var createdAt string
		if err := rows.Scan(&w.ID, &w.PathID, &w.SequenceOrder, &w.Type, &w.Content, &createdAt); err != nil {
			return nil, wrapDBError("debugpaths: scan_waypoint", err)
		}
		w.CreatedAt = parseISOTime(createdAt)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// RecentWaypoints returns the waypoints of one path created at or after
// since, in sequence order.
func (r *DebugPathRepo) RecentWaypoints(ctx context.Context, pathID string, since time.Time) ([]*PathWaypoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, path_id, sequence_order, type, content, created_at
		FROM path_waypoints WHERE path_id = ? AND created_at >= ? ORDER BY sequence_order ASC`,
		pathID, isoTime(since))
	if err != nil {
		return nil, wrapDBError("debugpaths: recent_waypoints", err)
	}
	defer rows.Close()

	var out []*PathWaypoint
	for rows.Next() {
		var w PathWaypoint
		var createdAt string
		if err := rows.Scan(&w.ID, &w.PathID, &w.SequenceOrder, &w.Type, &w.Content, &createdAt); err != nil {
			return nil, wrapDBError("debugpaths: scan_waypoint", err)
		}
		w.CreatedAt = parseISOTime(createdAt)
		out = append(out, &w)
	}
	return out, rows.Err()
}

func scanDebugPath(row *sql.Row) (*DebugPath, error) {
	var p DebugPath
	var startedAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&p.ID, &p.ProjectHash, &p.Status, &startedAt, &resolvedAt); err != nil {
		return nil, wrapDBError("debugpaths: scan", err)
	}
	p.StartedAt = parseISOTime(startedAt)
	if resolvedAt.Valid {
		t := parseISOTime(resolvedAt.String)
		p.ResolvedAt = &t
	}
	return &p, nil
}
