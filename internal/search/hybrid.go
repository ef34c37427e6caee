package search

import (
	"context"
	"database/sql"
)

// match types annotate which retrieval path(s) surfaced a result.
const (
	MatchFTS    = "fts"
	MatchVector = "vector"
	MatchHybrid = "hybrid"
)

// Embedder produces a query embedding for vector search. Defined here
// (rather than imported from internal/embedding) so search has no
// dependency on the embedding worker's process/channel machinery — only on
// the single method it actually needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one hybrid-search hit, carrying its fused RRF score, the
// match type that produced it, and a keyword snippet when available.
type Result struct {
	ObservationID string
	Score         float64
	MatchType     string
	Snippet       string
}

// Options tunes a hybrid search invocation.
type Options struct {
	Limit int
	// KeywordOnly skips vector search even if an Embedder is supplied;
	// used by callers that want deterministic, embedding-independent
	// results (e.g. tests, or when the caller already knows no embedding
	// worker is running).
	KeywordOnly bool
}

// DefaultOptions returns the default Limit (20) and full hybrid search.
func DefaultOptions() Options {
	return Options{Limit: 20}
}

// Search runs the 5-step hybrid retrieval pipeline (spec §4.3):
//  1. sanitize and run the FTS5 keyword query
//  2. embed the query text and run vector KNN, unless no embedder or
//     KeywordOnly is set
//  3. fuse both ranked ID lists with reciprocal rank fusion
//  4. reorder by fused score
//  5. annotate each result with which path(s) produced it and attach the
//     keyword snippet when one exists
//
// A nil embedder, or the vector extension being unavailable, degrades
// step 2 to a no-op: the function still returns keyword-only results.
func Search(ctx context.Context, db *sql.DB, hasVectorSupport bool, projectHash, query string, embedder Embedder, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	keywordHits, err := KeywordSearch(ctx, db, projectHash, query, opts.Limit)
	if err != nil {
		return nil, err
	}

	var vectorHits []VectorHit
	if !opts.KeywordOnly && embedder != nil && hasVectorSupport {
		qEmb, embErr := embedder.Embed(ctx, query)
		if embErr == nil && len(qEmb) > 0 {
			vectorHits, err = VectorSearch(ctx, db, hasVectorSupport, projectHash, qEmb, 2*opts.Limit)
			if err != nil {
				return nil, err
			}
		}
	}

	keywordIDs := make([]string, len(keywordHits))
	snippets := make(map[string]string, len(keywordHits))
	for i, h := range keywordHits {
		keywordIDs[i] = h.ObservationID
		snippets[h.ObservationID] = h.Snippet
	}
	vectorIDs := make([]string, len(vectorHits))
	for i, h := range vectorHits {
		vectorIDs[i] = h.ObservationID
	}

	inKeyword := make(map[string]bool, len(keywordIDs))
	for _, id := range keywordIDs {
		inKeyword[id] = true
	}
	inVector := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = true
	}

	scores := fuseRRF(keywordIDs, vectorIDs)
	ordered := rankedIDs(scores)
	if len(ordered) > opts.Limit {
		ordered = ordered[:opts.Limit]
	}

	var needSnippet []string
	for _, id := range ordered {
		if snippets[id] == "" {
			needSnippet = append(needSnippet, id)
		}
	}
	if len(needSnippet) > 0 {
		synthesized, err := synthesizeSnippets(ctx, db, projectHash, needSnippet)
		if err != nil {
			return nil, err
		}
		for id, snip := range synthesized {
			snippets[id] = snip
		}
	}

	results := make([]Result, 0, len(ordered))
	for _, id := range ordered {
		matchType := MatchFTS
		switch {
		case inKeyword[id] && inVector[id]:
			matchType = MatchHybrid
		case inVector[id]:
			matchType = MatchVector
		}
		results = append(results, Result{
			ObservationID: id,
			Score:         scores[id],
			MatchType:     matchType,
			Snippet:       snippets[id],
		})
	}
	return results, nil
}

// snippetLength bounds the synthesized snippet for a vector-only match,
// which has no FTS5 snippet() output to fall back on (spec §4.3 step 5).
const snippetLength = 100

// synthesizeSnippets loads the leading snippetLength characters of content
// for observations that matched only via vector search, so every result
// carries a snippet regardless of which retrieval path produced it.
func synthesizeSnippets(ctx context.Context, db *sql.DB, projectHash string, ids []string) (map[string]string, error) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	args = append(args, projectHash)

	query := "SELECT id, content FROM observations WHERE id IN (" + string(placeholders) + ") AND project_hash = ?"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = truncateSnippet(content, snippetLength)
	}
	return out, rows.Err()
}

func truncateSnippet(content string, n int) string {
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "..."
}
