package search

import (
	"context"
	"database/sql"
	"strings"

	"github.com/laminark/laminark/internal/storage"
)

// VectorHit is one KNN match from the observation_embeddings vec0 table.
type VectorHit struct {
	ObservationID string
	Distance      float64 // cosine distance: lower is better
}

// VectorSearch runs a KNN query against observation_embeddings. When the
// vector extension isn't loaded (vec0 table absent), it degrades to an
// empty result rather than an error, matching spec §4.3's graceful
// keyword-only fallback.
func VectorSearch(ctx context.Context, db *sql.DB, hasVectorSupport bool, projectHash string, query []float32, k int) ([]VectorHit, error) {
	if !hasVectorSupport || len(query) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 20
	}

	rows, err := db.QueryContext(ctx, `
		SELECT e.observation_id, e.distance
		FROM observation_embeddings e
		JOIN observations o ON o.id = e.observation_id
		WHERE e.embedding MATCH ? AND k = ?
		  AND o.project_hash = ? AND o.deleted_at IS NULL
		  AND (o.classification IS NULL OR o.classification != ?)
		ORDER BY e.distance`,
		storage.EncodeEmbedding(query), k, projectHash, storage.ClassificationNoise)
	if err != nil {
		if isMissingVecTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ObservationID, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func isMissingVecTable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such module")
}
