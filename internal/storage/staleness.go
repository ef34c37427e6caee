package storage

import (
	"context"
	"database/sql"
	"time"
)

// StalenessRepo records advisory contradiction flags the curation agent
// raises against observations it suspects a newer one has superseded (spec
// §4.9 step 4). Flags are advisory only: nothing here deletes or hides the
// flagged observation.
type StalenessRepo struct {
	db          *sql.DB
	projectHash string
}

func NewStalenessRepo(db *sql.DB, projectHash string) *StalenessRepo {
	return &StalenessRepo{db: db, projectHash: projectHash}
}

// Flag records (or idempotently replaces) a staleness flag for an
// observation. One flag per observation: a newer contradiction simply
// overwrites the reason and flagged_by.
func (r *StalenessRepo) Flag(ctx context.Context, observationID, nodeID, reason, flaggedBy string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO staleness_flags (observation_id, project_hash, node_id, reason, flagged_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		observationID, r.projectHash, nodeID, reason, flaggedBy, isoTime(time.Now().UTC()))
	if err != nil {
		return wrapDBError("staleness: flag", err)
	}
	return nil
}

// IsFlagged reports whether an observation currently carries a staleness
// flag.
func (r *StalenessRepo) IsFlagged(ctx context.Context, observationID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staleness_flags WHERE observation_id = ? AND project_hash = ?`,
		observationID, r.projectHash).Scan(&n)
	if err != nil {
		return false, wrapDBError("staleness: is_flagged", err)
	}
	return n > 0, nil
}

// Clear removes a staleness flag, e.g. once a curator confirms the
// observation is still accurate.
func (r *StalenessRepo) Clear(ctx context.Context, observationID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM staleness_flags WHERE observation_id = ? AND project_hash = ?`,
		observationID, r.projectHash)
	if err != nil {
		return wrapDBError("staleness: clear", err)
	}
	return nil
}

// List returns every flag for the project, most recent first.
func (r *StalenessRepo) List(ctx context.Context, limit int) ([]*StalenessFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT observation_id, project_hash, node_id, reason, flagged_by, created_at
		FROM staleness_flags WHERE project_hash = ? ORDER BY created_at DESC LIMIT ?`,
		r.projectHash, limit)
	if err != nil {
		return nil, wrapDBError("staleness: list", err)
	}
	defer rows.Close()

	var out []*StalenessFlag
	for rows.Next() {
		var f StalenessFlag
		var createdAt string
		if err := rows.Scan(&f.ObservationID, &f.ProjectHash, &f.NodeID, &f.Reason, &f.FlaggedBy, &createdAt); err != nil {
			return nil, wrapDBError("staleness: scan", err)
		}
		f.CreatedAt = parseISOTime(createdAt)
		out = append(out, &f)
	}
	return out, rows.Err()
}
