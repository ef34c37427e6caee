package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// SessionRepo tracks logical work sessions. A project may have at most one
// open (EndedAt == nil) session at a time, enforced by a partial unique
// index in the schema rather than application-level locking.
type SessionRepo struct {
	db          *sql.DB
	projectHash string
}

func NewSessionRepo(db *sql.DB, projectHash string) *SessionRepo {
	return &SessionRepo{db: db, projectHash: projectHash}
}

// Open starts a new session, closing out any prior open session first
// (defensive: the unique index would otherwise reject the insert if the
// caller forgot to close the previous one, e.g. after an unclean exit).
func (r *SessionRepo) Open(ctx context.Context) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("sessions: open: begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE project_hash = ? AND ended_at IS NULL`,
		isoTime(now), r.projectHash); err != nil {
		return nil, wrapDBError("sessions: open: close stale", err)
	}

	s := &Session{
		ID:          ids.New(),
		ProjectHash: r.projectHash,
		StartedAt:   now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, project_hash, started_at) VALUES (?, ?, ?)`,
		s.ID, s.ProjectHash, isoTime(now)); err != nil {
		return nil, wrapDBError("sessions: open: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("sessions: open: commit", err)
	}
	return s, nil
}

// Close ends a session and records an optional summary.
func (r *SessionRepo) Close(ctx context.Context, id string, summary *string) error {
	now := isoTime(time.Now().UTC())
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ? AND project_hash = ? AND ended_at IS NULL`,
		now, summary, id, r.projectHash)
	if err != nil {
		return wrapDBError("sessions: close", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sessions: close %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetCurrent returns the open session for the project, if any.
func (r *SessionRepo) GetCurrent(ctx context.Context) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, project_hash, started_at, ended_at, summary
		 FROM sessions WHERE project_hash = ? AND ended_at IS NULL`,
		r.projectHash)
	return scanSession(row)
}

// GetByID returns a session regardless of open/closed state.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, project_hash, started_at, ended_at, summary
		 FROM sessions WHERE id = ? AND project_hash = ?`,
		id, r.projectHash)
	return scanSession(row)
}

// ListRecent returns the most recently started sessions, newest first.
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_hash, started_at, ended_at, summary
		 FROM sessions WHERE project_hash = ? ORDER BY started_at DESC LIMIT ?`,
		r.projectHash, limit)
	if err != nil {
		return nil, wrapDBError("sessions: list_recent", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var endedAt, summary sql.NullString
	var startedAt string
	if err := row.Scan(&s.ID, &s.ProjectHash, &startedAt, &endedAt, &summary); err != nil {
		return nil, wrapDBError("sessions: scan", err)
	}
	s.StartedAt = parseISOTime(startedAt)
	if endedAt.Valid {
		t := parseISOTime(endedAt.String)
		s.EndedAt = &t
	}
	if summary.Valid {
		v := summary.String
		s.Summary = &v
	}
	return &s, nil
}

func scanSessionRow(rows *sql.Rows) (*Session, error) {
	var s Session
	var endedAt, summary sql.NullString
	var startedAt string
	if err := rows.Scan(&s.ID, &s.ProjectHash, &startedAt, &endedAt, &summary); err != nil {
		return nil, wrapDBError("sessions: scan", err)
	}
	s.StartedAt = parseISOTime(startedAt)
	if endedAt.Valid {
		t := parseISOTime(endedAt.String)
		s.EndedAt = &t
	}
	if summary.Valid {
		v := summary.String
		s.Summary = &v
	}
	return &s, nil
}
