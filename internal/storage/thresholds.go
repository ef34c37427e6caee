package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// ThresholdRepo persists the topic-shift detector's adaptive state: the
// EWMA seed carried across sessions, and an audit trail of every shift
// decision made (spec §4.6).
type ThresholdRepo struct {
	db          *sql.DB
	projectHash string
}

func NewThresholdRepo(db *sql.DB, projectHash string) *ThresholdRepo {
	return &ThresholdRepo{db: db, projectHash: projectHash}
}

// SaveState persists the EWMA mean/variance at session close, seeding the
// next session's cold-start average.
func (r *ThresholdRepo) SaveState(ctx context.Context, sessionID *string, mean, variance float64, observationCount int) (*ThresholdState, error) {
	s := &ThresholdState{
		ID:               ids.New(),
		ProjectHash:      r.projectHash,
		SessionID:        sessionID,
		Mean:             mean,
		Variance:         variance,
		ObservationCount: observationCount,
		ClosedAt:         time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threshold_history
			(id, project_hash, session_id, mean, variance, observation_count, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectHash, s.SessionID, s.Mean, s.Variance, s.ObservationCount, isoTime(s.ClosedAt))
	if err != nil {
		return nil, wrapDBError("thresholds: save_state", err)
	}
	return s, nil
}

// SeedAverage averages the mean/variance across the last n closed sessions
// for this project, used to seed a cold-started detector (spec §4.6's
// "average of the last 10 sessions' closing values").
func (r *ThresholdRepo) SeedAverage(ctx context.Context, n int) (mean, variance float64, found bool, err error) {
	if n <= 0 {
		n = 10
	}
	rows, qerr := r.db.QueryContext(ctx, `
		SELECT mean, variance FROM threshold_history
		WHERE project_hash = ?
		ORDER BY closed_at DESC LIMIT ?`, r.projectHash, n)
	if qerr != nil {
		return 0, 0, false, wrapDBError("thresholds: seed_average", qerr)
	}
	defer rows.Close()

	var sumMean, sumVar float64
	var count int
	for rows.Next() {
		var m, v float64
		if err := rows.Scan(&m, &v); err != nil {
			return 0, 0, false, wrapDBError("thresholds: seed_average scan", err)
		}
		sumMean += m
		sumVar += v
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, false, err
	}
	if count == 0 {
		return 0, 0, false, nil
	}
	return sumMean / float64(count), sumVar / float64(count), true, nil
}

// RecordShiftDecision appends an audit row for one detector invocation.
func (r *ThresholdRepo) RecordShiftDecision(ctx context.Context, d *ShiftDecision) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	shifted := 0
	if d.Shifted {
		shifted = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shift_decisions
			(id, project_hash, observation_id, distance, threshold, ewma_mean, ewma_variance,
			 sensitivity, shifted, confidence, stash_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, r.projectHash, d.ObservationID, d.Distance, d.Threshold, d.EWMAMean, d.EWMAVariance,
		d.Sensitivity, shifted, d.Confidence, d.StashID, isoTime(d.CreatedAt))
	if err != nil {
		return wrapDBError("thresholds: record_shift_decision", err)
	}
	return nil
}

// ListDecisions returns shift decisions since a point in time, oldest
// first, for the audit/debugging accessor the detector's adaptive
// behavior needs exposed (supplements spec §4.6's in-memory-only
// description with a persisted, queryable trail).
func (r *ThresholdRepo) ListDecisions(ctx context.Context, since time.Time, limit int) ([]*ShiftDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_hash, observation_id, distance, threshold, ewma_mean, ewma_variance,
		       sensitivity, shifted, confidence, stash_id, created_at
		FROM shift_decisions
		WHERE project_hash = ? AND created_at >= ?
		ORDER BY created_at ASC LIMIT ?`, r.projectHash, isoTime(since), limit)
	if err != nil {
		return nil, wrapDBError("thresholds: list_decisions", err)
	}
	defer rows.Close()

	var out []*ShiftDecision
	for rows.Next() {
		var d ShiftDecision
		var obsID, stashID sql.NullString
		var shifted int
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectHash, &obsID, &d.Distance, &d.Threshold, &d.EWMAMean,
			&d.EWMAVariance, &d.Sensitivity, &shifted, &d.Confidence, &stashID, &createdAt); err != nil {
			return nil, wrapDBError("thresholds: scan decision", err)
		}
		if obsID.Valid {
			v := obsID.String
			d.ObservationID = &v
		}
		if stashID.Valid {
			v := stashID.String
			d.StashID = &v
		}
		d.Shifted = shifted != 0
		d.CreatedAt = parseISOTime(createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}
