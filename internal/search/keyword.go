// Package search implements hybrid keyword + vector retrieval over
// observations, fusing both result sets with reciprocal rank fusion (spec
// §4.3).
package search

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/laminark/laminark/internal/storage"
)

// ftsOperatorStrip removes FTS5 query-syntax characters and bare boolean
// operators a user's raw query might contain, so a query like `foo AND
// bar"` can't be mistaken for (or break) an FTS5 MATCH expression.
var ftsOperatorStrip = regexp.MustCompile(`["*^():{}\[\]]`)

var ftsKeywordStrip = regexp.MustCompile(`(?i)\b(AND|OR|NOT|NEAR)\b`)

// SanitizeFTSQuery strips FTS5 operator syntax from a raw user query,
// leaving a plain bag-of-words MATCH expression.
func SanitizeFTSQuery(q string) string {
	q = ftsOperatorStrip.ReplaceAllString(q, " ")
	q = ftsKeywordStrip.ReplaceAllString(q, " ")
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, "") + `"`
	}
	return strings.Join(fields, " ")
}

// KeywordHit is one BM25-ranked full-text match.
type KeywordHit struct {
	ObservationID string
	RowID         int64
	Rank          float64 // bm25: lower is better
	Snippet       string
}

// KeywordSearch runs the FTS5 query against observations_fts, scoped to a
// project, ranked with bm25(fts,2.0,1.0) — title weighted 2x content —
// matching spec §4.3's ranking weights.
func KeywordSearch(ctx context.Context, db *sql.DB, projectHash, query string, limit int) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 20
	}
	sanitized := SanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT o.id, o.rowid,
		       bm25(observations_fts, 2.0, 1.0) AS rank,
		       snippet(observations_fts, 1, '<mark>', '</mark>', '...', 32) AS snip
		FROM observations_fts
		JOIN observations o ON o.rowid = observations_fts.rowid
		WHERE observations_fts MATCH ?
		  AND o.project_hash = ? AND o.deleted_at IS NULL
		  AND (o.classification IS NULL OR o.classification != ?)
		ORDER BY rank
		LIMIT ?`,
		sanitized, projectHash, storage.ClassificationNoise, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ObservationID, &h.RowID, &h.Rank, &h.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
