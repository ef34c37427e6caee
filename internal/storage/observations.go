package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// classificationGraceWindow is how long a freshly-captured, still
// unclassified observation remains visible in default listings (spec §4.2,
// open question in spec §9 — resolved here: the window is a fixed 60s,
// independent of include_unclassified, which additionally surfaces *all*
// unclassified rows regardless of age).
const classificationGraceWindow = 60 * time.Second

// ObservationRepo is the project-scoped observation repository. It captures
// the connection and project hash at construction time; every statement it
// runs carries the project_hash predicate so callers cannot read rows
// belonging to a different project.
type ObservationRepo struct {
	db          *sql.DB
	projectHash string

	stmtGetByID         *sql.Stmt
	stmtGetByIDAnyState *sql.Stmt
	stmtSoftDelete      *sql.Stmt
	stmtRestore         *sql.Stmt
	stmtUpdateClass     *sql.Stmt
}

// NewObservationRepo prepares the repository's fixed-shape statements.
func NewObservationRepo(db *sql.DB, projectHash string) (*ObservationRepo, error) {
	r := &ObservationRepo{db: db, projectHash: projectHash}

	var err error
	r.stmtGetByID, err = db.Prepare(`
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE id = ? AND project_hash = ? AND deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("prepare get_by_id: %w", err)
	}

	r.stmtGetByIDAnyState, err = db.Prepare(`
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE id = ? AND project_hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare get_by_id_including_deleted: %w", err)
	}

	r.stmtSoftDelete, err = db.Prepare(`
		UPDATE observations SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND project_hash = ? AND deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("prepare soft_delete: %w", err)
	}

	r.stmtRestore, err = db.Prepare(`
		UPDATE observations SET deleted_at = NULL, updated_at = ?
		WHERE id = ? AND project_hash = ? AND deleted_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("prepare restore: %w", err)
	}

	r.stmtUpdateClass, err = db.Prepare(`
		UPDATE observations SET classification = ?, classified_at = ?
		WHERE id = ? AND project_hash = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare update_classification: %w", err)
	}

	return r, nil
}

// CreateParams are the inputs accepted by Create.
type CreateParams struct {
	Content   string
	Title     *string
	Source    string
	Kind      string
	SessionID *string
	Embedding []float32
}

// Create inserts a new observation and returns the stored row.
func (r *ObservationRepo) Create(ctx context.Context, p CreateParams) (*Observation, error) {
	if len(p.Content) < 1 || len(p.Content) > 100_000 {
		return nil, fmt.Errorf("observations: create: %w: content must be 1..100000 chars", ErrInvalidInput)
	}
	if p.Title != nil && len(*p.Title) > 200 {
		return nil, fmt.Errorf("observations: create: %w: title must be <=200 chars", ErrInvalidInput)
	}
	if p.Kind == "" {
		p.Kind = KindFinding
	}

	now := time.Now().UTC()
	obs := &Observation{
		ID:          ids.New(),
		ProjectHash: r.projectHash,
		Content:     p.Content,
		Title:       p.Title,
		Source:      p.Source,
		Kind:        p.Kind,
		SessionID:   p.SessionID,
		Embedding:   p.Embedding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO observations
			(id, project_hash, content, title, source, kind, session_id, embedding,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.ProjectHash, obs.Content, obs.Title, obs.Source, obs.Kind, obs.SessionID,
		encodeEmbedding(obs.Embedding), isoTime(now), isoTime(now))
	if err != nil {
		return nil, wrapDBError("observations: create", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return nil, wrapDBError("observations: create: rowid", err)
	}
	obs.RowID = rowID
	return obs, nil
}

// GetByID returns a non-deleted, project-scoped observation.
func (r *ObservationRepo) GetByID(ctx context.Context, id string) (*Observation, error) {
	row := r.stmtGetByID.QueryRowContext(ctx, id, r.projectHash)
	return scanObservation(row)
}

// GetByIDIncludingDeleted returns the observation even if soft-deleted;
// required by Restore.
func (r *ObservationRepo) GetByIDIncludingDeleted(ctx context.Context, id string) (*Observation, error) {
	row := r.stmtGetByIDAnyState.QueryRowContext(ctx, id, r.projectHash)
	return scanObservation(row)
}

// ListParams filters List.
type ListParams struct {
	Limit               int
	Offset              int
	SessionID           *string
	Since               *time.Time
	Kind                *string
	IncludeUnclassified bool
}

// List returns non-deleted observations, excluding noise classification
// unless IncludeUnclassified is set, and including unclassified rows within
// the 60s grace window regardless of IncludeUnclassified (spec §4.2).
func (r *ObservationRepo) List(ctx context.Context, p ListParams) ([]*Observation, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}

	var where []string
	var args []any

	where = append(where, "project_hash = ?", "deleted_at IS NULL")
	args = append(args, r.projectHash)

	if !p.IncludeUnclassified {
		graceCutoff := isoTime(time.Now().UTC().Add(-classificationGraceWindow))
		where = append(where, "((classification IS NOT NULL AND classification != ?) OR (classification IS NULL AND created_at >= ?))")
		args = append(args, ClassificationNoise, graceCutoff)
	}

	if p.SessionID != nil {
		where = append(where, "session_id = ?")
		args = append(args, *p.SessionID)
	}
	if p.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, isoTime(*p.Since))
	}
	if p.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, *p.Kind)
	}

	query := fmt.Sprintf(`
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, strings.Join(where, " AND "))
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("observations: list", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// Update applies a partial patch; returns nil (not an error) if the row is
// missing, per spec §4.2 ("fails silently on missing row").
func (r *ObservationRepo) Update(ctx context.Context, id string, patch ObservationPatch) (*Observation, error) {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	content := existing.Content
	if patch.Content != nil {
		content = *patch.Content
	}
	embedding := existing.Embedding
	if patch.Embedding != nil {
		embedding = patch.Embedding
	}
	embModel := existing.EmbeddingModel
	if patch.EmbeddingModel != nil {
		embModel = patch.EmbeddingModel
	}
	embVersion := existing.EmbeddingVersion
	if patch.EmbeddingVersion != nil {
		embVersion = patch.EmbeddingVersion
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE observations
		SET content = ?, embedding = ?, embedding_model = ?, embedding_version = ?, updated_at = ?
		WHERE id = ? AND project_hash = ? AND deleted_at IS NULL`,
		content, encodeEmbedding(embedding), embModel, embVersion, isoTime(now), id, r.projectHash)
	if err != nil {
		return nil, wrapDBError("observations: update", err)
	}
	return r.GetByID(ctx, id)
}

// SoftDelete tombstones an observation. Returns false (never an error) if
// the row was already missing or already deleted.
func (r *ObservationRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	now := isoTime(time.Now().UTC())
	res, err := r.stmtSoftDelete.ExecContext(ctx, now, now, id, r.projectHash)
	if err != nil {
		return false, wrapDBError("observations: soft_delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Restore clears a soft-delete tombstone. Idempotent: restoring an
// already-active observation is a no-op returning false.
func (r *ObservationRepo) Restore(ctx context.Context, id string) (bool, error) {
	res, err := r.stmtRestore.ExecContext(ctx, isoTime(time.Now().UTC()), id, r.projectHash)
	if err != nil {
		return false, wrapDBError("observations: restore", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateClassification sets the classification and classified_at timestamp.
func (r *ObservationRepo) UpdateClassification(ctx context.Context, id, classification string) error {
	_, err := r.stmtUpdateClass.ExecContext(ctx, classification, isoTime(time.Now().UTC()), id, r.projectHash)
	if err != nil {
		return wrapDBError("observations: update_classification", err)
	}
	return nil
}

// ListUnclassified returns the oldest unclassified, non-deleted
// observations first, for the embedding/classification worker's poll loop.
func (r *ObservationRepo) ListUnclassified(ctx context.Context, limit int) ([]*Observation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE project_hash = ? AND deleted_at IS NULL AND classification IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, r.projectHash, limit)
	if err != nil {
		return nil, wrapDBError("observations: list_unclassified", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// FindUnembedded returns the oldest non-deleted observations that have not
// yet been embedded, batched for the enrichment pipeline (spec §4.4's
// "subsequent background pass").
func (r *ObservationRepo) FindUnembedded(ctx context.Context, limit int) ([]*Observation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE project_hash = ? AND deleted_at IS NULL AND embedding IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, r.projectHash, limit)
	if err != nil {
		return nil, wrapDBError("observations: find_unembedded", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListContext returns up to window observations before and window after a
// pivot timestamp, deduplicated and ordered by time (spec §4.2).
func (r *ObservationRepo) ListContext(ctx context.Context, pivot time.Time, window int) ([]*Observation, error) {
	if window <= 0 {
		window = 5
	}

	before, err := r.queryDirectional(ctx, pivot, window, true)
	if err != nil {
		return nil, err
	}
	after, err := r.queryDirectional(ctx, pivot, window, false)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(before)+len(after))
	var out []*Observation
	for _, o := range before {
		if !seen[o.ID] {
			seen[o.ID] = true
			out = append(out, o)
		}
	}
	for _, o := range after {
		if !seen[o.ID] {
			seen[o.ID] = true
			out = append(out, o)
		}
	}
	sortObservationsByTime(out)
	return out, nil
}

func (r *ObservationRepo) queryDirectional(ctx context.Context, pivot time.Time, window int, before bool) ([]*Observation, error) {
	cmp, order := ">=", "ASC"
	if before {
		cmp, order = "<", "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE project_hash = ? AND deleted_at IS NULL AND created_at %s ?
		ORDER BY created_at %s
		LIMIT ?`, cmp, order)
	rows, err := r.db.QueryContext(ctx, query, r.projectHash, isoTime(pivot), window)
	if err != nil {
		return nil, wrapDBError("observations: list_context", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// GetByTitle does a case-sensitive partial (LIKE) match on title, excluding
// noise-classified observations.
func (r *ObservationRepo) GetByTitle(ctx context.Context, partial string) ([]*Observation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rowid, project_hash, content, title, source, kind, session_id,
		       embedding, embedding_model, embedding_version, classification, classified_at,
		       created_at, updated_at, deleted_at
		FROM observations
		WHERE project_hash = ? AND deleted_at IS NULL
		  AND title LIKE ?
		  AND (classification IS NULL OR classification != ?)
		ORDER BY created_at DESC`,
		r.projectHash, "%"+partial+"%", ClassificationNoise)
	if err != nil {
		return nil, wrapDBError("observations: get_by_title", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservation(row *sql.Row) (*Observation, error) {
	var o Observation
	var title, sessionID, embModel, embVersion, classification, classifiedAt, deletedAt sql.NullString
	var embedding []byte
	var createdAt, updatedAt string

	err := row.Scan(&o.ID, &o.RowID, &o.ProjectHash, &o.Content, &title, &o.Source, &o.Kind,
		&sessionID, &embedding, &embModel, &embVersion, &classification, &classifiedAt,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, wrapDBError("observations: scan", err)
	}
	applyObservationScan(&o, title, sessionID, embModel, embVersion, classification, classifiedAt,
		createdAt, updatedAt, deletedAt, embedding)
	return &o, nil
}

func scanObservations(rows *sql.Rows) ([]*Observation, error) {
	var out []*Observation
	for rows.Next() {
		var o Observation
		var title, sessionID, embModel, embVersion, classification, classifiedAt, deletedAt sql.NullString
		var embedding []byte
		var createdAt, updatedAt string

		err := rows.Scan(&o.ID, &o.RowID, &o.ProjectHash, &o.Content, &title, &o.Source, &o.Kind,
			&sessionID, &embedding, &embModel, &embVersion, &classification, &classifiedAt,
			&createdAt, &updatedAt, &deletedAt)
		if err != nil {
			return nil, wrapDBError("observations: scan", err)
		}
		applyObservationScan(&o, title, sessionID, embModel, embVersion, classification, classifiedAt,
			createdAt, updatedAt, deletedAt, embedding)
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("observations: scan rows", err)
	}
	return out, nil
}

func applyObservationScan(o *Observation, title, sessionID, embModel, embVersion, classification, classifiedAt sql.NullString,
	createdAt, updatedAt string, deletedAt sql.NullString, embedding []byte) {
	if title.Valid {
		v := title.String
		o.Title = &v
	}
	if sessionID.Valid {
		v := sessionID.String
		o.SessionID = &v
	}
	if embModel.Valid {
		v := embModel.String
		o.EmbeddingModel = &v
	}
	if embVersion.Valid {
		v := embVersion.String
		o.EmbeddingVersion = &v
	}
	if classification.Valid {
		v := classification.String
		o.Classification = &v
	}
	if classifiedAt.Valid {
		t := parseISOTime(classifiedAt.String)
		o.ClassifiedAt = &t
	}
	if deletedAt.Valid {
		t := parseISOTime(deletedAt.String)
		o.DeletedAt = &t
	}
	o.CreatedAt = parseISOTime(createdAt)
	o.UpdatedAt = parseISOTime(updatedAt)
	o.Embedding = decodeEmbedding(embedding)
}

func sortObservationsByTime(obs []*Observation) {
	for i := 1; i < len(obs); i++ {
		for j := i; j > 0 && obs[j].CreatedAt.Before(obs[j-1].CreatedAt); j-- {
			obs[j], obs[j-1] = obs[j-1], obs[j]
		}
	}
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseISOTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}
