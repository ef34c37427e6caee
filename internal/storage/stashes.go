package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// StashRepo persists context stashes: frozen, self-contained snapshots of
// the observations active under a topic at the moment a shift away from it
// was detected (spec §3, §4.7).
type StashRepo struct {
	db        *sql.DB
	projectID string
}

func NewStashRepo(db *sql.DB, projectID string) *StashRepo {
	return &StashRepo{db: db, projectID: projectID}
}

// Create freezes the given observations into a new stash. The snapshot is
// a deep copy: later edits or deletes to the source observations never
// change what a resumed stash shows.
func (r *StashRepo) Create(ctx context.Context, sessionID, topicLabel, summary string, obs []*Observation) (*ContextStash, error) {
	snaps := make([]ObservationSnapshot, 0, len(obs))
	ids_ := make([]string, 0, len(obs))
	for _, o := range obs {
		snaps = append(snaps, ObservationSnapshot{
			ID:      o.ID,
			Title:   o.Title,
			Content: o.Content,
			Source:  o.Source,
			Kind:    o.Kind,
		})
		ids_ = append(ids_, o.ID)
	}

	payload, err := json.Marshal(snaps)
	if err != nil {
		return nil, fmt.Errorf("stashes: create: marshal snapshot: %w", err)
	}

	s := &ContextStash{
		ID:             ids.New(),
		ProjectID:      r.projectID,
		SessionID:      sessionID,
		TopicLabel:     topicLabel,
		Summary:        summary,
		Observations:   snaps,
		ObservationIDs: ids_,
		Status:         StashStashed,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO context_stashes
			(id, project_id, session_id, topic_label, summary, observations,
			 observation_ids, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.SessionID, s.TopicLabel, s.Summary, payload,
		strings.Join(ids_, ","), s.Status, isoTime(s.CreatedAt))
	if err != nil {
		return nil, wrapDBError("stashes: create", err)
	}
	return s, nil
}

// GetByID returns a stash by ID.
func (r *StashRepo) GetByID(ctx context.Context, id string) (*ContextStash, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, session_id, topic_label, summary, observations,
		       observation_ids, status, created_at, resumed_at
		FROM context_stashes WHERE id = ? AND project_id = ?`, id, r.projectID)
	return scanStash(row)
}

// ListActive returns stashes still in the "stashed" state, most recent
// first, for a topic-resumption picker.
func (r *StashRepo) ListActive(ctx context.Context, limit int) ([]*ContextStash, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, session_id, topic_label, summary, observations,
		       observation_ids, status, created_at, resumed_at
		FROM context_stashes
		WHERE project_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT ?`, r.projectID, StashStashed, limit)
	if err != nil {
		return nil, wrapDBError("stashes: list_active", err)
	}
	defer rows.Close()

	var out []*ContextStash
	for rows.Next() {
		s, err := scanStashRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Resume marks a stash resumed. A second resume leaves the row unchanged
// and returns an error wrapping ErrNotFound, since no stashed row matches.
func (r *StashRepo) Resume(ctx context.Context, id string) (*ContextStash, error) {
	now := isoTime(time.Now().UTC())
	res, err := r.db.ExecContext(ctx, `
		UPDATE context_stashes SET status = ?, resumed_at = ?
		WHERE id = ? AND project_id = ? AND status = ?`,
		StashResumed, now, id, r.projectID, StashStashed)
	if err != nil {
		return nil, wrapDBError("stashes: resume", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("stashes: resume %s: %w", id, ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

// Expire marks stashes older than cutoff and still stashed as expired; used
// by the curation agent's staleness pass.
func (r *StashRepo) Expire(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE context_stashes SET status = ? WHERE project_id = ? AND status = ? AND created_at < ?`,
		StashExpired, r.projectID, StashStashed, isoTime(cutoff))
	if err != nil {
		return 0, wrapDBError("stashes: expire", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanStash(row *sql.Row) (*ContextStash, error) {
	var s ContextStash
	var snapshot []byte
	var idsCSV string
	var createdAt string
	var resumedAt sql.NullString
	if err := row.Scan(&s.ID, &s.ProjectID, &s.SessionID, &s.TopicLabel, &s.Summary, &snapshot,
		&idsCSV, &s.Status, &createdAt, &resumedAt); err != nil {
		return nil, wrapDBError("stashes: scan", err)
	}
	return finishStashScan(&s, snapshot, idsCSV, createdAt, resumedAt)
}

func scanStashRow(rows *sql.Rows) (*ContextStash, error) {
	var s ContextStash
	var snapshot []byte
	var idsCSV string
	var createdAt string
	var resumedAt sql.NullString
	if err := rows.Scan(&s.ID, &s.ProjectID, &s.SessionID, &s.TopicLabel, &s.Summary, &snapshot,
		&idsCSV, &s.Status, &createdAt, &resumedAt); err != nil {
		return nil, wrapDBError("stashes: scan", err)
	}
	return finishStashScan(&s, snapshot, idsCSV, createdAt, resumedAt)
}

func finishStashScan(s *ContextStash, snapshot []byte, idsCSV, createdAt string, resumedAt sql.NullString) (*ContextStash, error) {
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &s.Observations); err != nil {
			return nil, fmt.Errorf("stashes: unmarshal snapshot: %w", err)
		}
	}
	if idsCSV != "" {
		s.ObservationIDs = strings.Split(idsCSV, ",")
	}
	s.CreatedAt = parseISOTime(createdAt)
	if resumedAt.Valid {
		t := parseISOTime(resumedAt.String)
		s.ResumedAt = &t
	}
	return s, nil
}
