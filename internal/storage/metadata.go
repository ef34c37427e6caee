package storage

import (
	"context"
	"database/sql"
	"time"
)

// MetadataRepo stores small project-scoped key/value settings, notably the
// cached vector-extension capability flag so repeated probes on every
// Engine.Open aren't the only source of truth (supplemented feature, see
// SPEC_FULL.md's DOMAIN STACK section).
type MetadataRepo struct {
	db          *sql.DB
	projectHash string
}

func NewMetadataRepo(db *sql.DB, projectHash string) *MetadataRepo {
	return &MetadataRepo{db: db, projectHash: projectHash}
}

const vectorCapabilityKey = "vector_capability"

// Set upserts a metadata key.
func (r *MetadataRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO project_metadata (project_hash, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_hash, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		r.projectHash, key, value, isoTime(time.Now().UTC()))
	if err != nil {
		return wrapDBError("metadata: set", err)
	}
	return nil
}

// Get returns a metadata value, or ("", false) if unset.
func (r *MetadataRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM project_metadata WHERE project_hash = ? AND key = ?`, r.projectHash, key).Scan(&v)
	if err != nil {
		if isNotFound(wrapDBError("metadata: get", err)) {
			return "", false, nil
		}
		return "", false, wrapDBError("metadata: get", err)
	}
	return v, true, nil
}

// SetVectorCapability caches whether the vector extension was detected the
// last time Engine probed for it.
func (r *MetadataRepo) SetVectorCapability(ctx context.Context, supported bool) error {
	v := "false"
	if supported {
		v = "true"
	}
	return r.Set(ctx, vectorCapabilityKey, v)
}

// VectorCapability returns the last cached probe result.
func (r *MetadataRepo) VectorCapability(ctx context.Context) (supported bool, found bool, err error) {
	v, found, err := r.Get(ctx, vectorCapabilityKey)
	if err != nil || !found {
		return false, found, err
	}
	return v == "true", true, nil
}
