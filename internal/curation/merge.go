// Package curation implements the periodic maintenance cycle that keeps
// the observation and graph stores from growing unboundedly noisy:
// duplicate merging, entity dedupe, degree enforcement, staleness
// flagging, and low-value pruning (spec §4.9).
package curation

import (
	"strings"

	"github.com/laminark/laminark/internal/similarity"
	"github.com/laminark/laminark/internal/storage"
)

const (
	mergeCosineThreshold  = 0.95
	mergeJaccardThreshold = 0.85
	mergeMinClusterSize   = 3
	mergeSummaryKeywords  = 10
)

// clusterDuplicates greedily closes observations into duplicate clusters:
// an observation joins the first existing cluster it is a duplicate of
// *every* current member of (not merely one), and otherwise starts a new
// cluster of its own (spec §4.9 step 1's "requiring similarity to every
// cluster member — greedy closure"). Only clusters reaching the minimum
// size are returned; a run of two near-duplicates isn't a pattern worth
// consolidating yet.
func clusterDuplicates(obs []*storage.Observation) [][]*storage.Observation {
	var clusters [][]*storage.Observation
	for _, o := range obs {
		placed := false
		for i, cluster := range clusters {
			if allDuplicates(o, cluster) {
				clusters[i] = append(cluster, o)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*storage.Observation{o})
		}
	}

	var out [][]*storage.Observation
	for _, c := range clusters {
		if len(c) >= mergeMinClusterSize {
			out = append(out, c)
		}
	}
	return out
}

func allDuplicates(o *storage.Observation, cluster []*storage.Observation) bool {
	for _, member := range cluster {
		if !isDuplicate(o, member) {
			return false
		}
	}
	return true
}

func isDuplicate(a, b *storage.Observation) bool {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		if similarity.Cosine(a.Embedding, b.Embedding) >= mergeCosineThreshold {
			return true
		}
	}
	return similarity.Jaccard(a.Content, b.Content) >= mergeJaccardThreshold
}

// meanEmbedding averages the per-dimension embedding values across a
// duplicate cluster, skipping members with no embedding yet. Returns nil
// if none of the members have one.
func meanEmbedding(group []*storage.Observation) []float32 {
	var dim int
	for _, o := range group {
		if len(o.Embedding) > 0 {
			dim = len(o.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	n := 0
	for _, o := range group {
		if len(o.Embedding) != dim {
			continue
		}
		for i, v := range o.Embedding {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}

	mean := make([]float32, dim)
	for i, v := range sum {
		mean[i] = float32(v / float64(n))
	}
	return mean
}

// buildSummary generates the consolidated observation's content: the
// longest member's text as a base, with up to mergeSummaryKeywords unique
// words drawn from the other members appended (spec §4.9 step 1).
func buildSummary(group []*storage.Observation) string {
	base := group[0]
	for _, o := range group[1:] {
		if len(o.Content) > len(base.Content) {
			base = o
		}
	}

	baseWords := make(map[string]bool)
	for _, w := range tokenizeWords(base.Content) {
		baseWords[strings.ToLower(w)] = true
	}

	var extra []string
	seen := make(map[string]bool)
	for _, o := range group {
		if o == base {
			continue
		}
		for _, w := range tokenizeWords(o.Content) {
			lower := strings.ToLower(w)
			if baseWords[lower] || seen[lower] {
				continue
			}
			seen[lower] = true
			extra = append(extra, w)
			if len(extra) >= mergeSummaryKeywords {
				break
			}
		}
		if len(extra) >= mergeSummaryKeywords {
			break
		}
	}

	if len(extra) == 0 {
		return base.Content
	}
	return base.Content + " " + strings.Join(extra, " ")
}

// tokenizeWords splits text into alphanumeric words, discarding short
// fragments that make poor summary keywords.
func tokenizeWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 2 {
			words = append(words, cur.String())
		}
		cur.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

// commonAbbreviations maps a lowercase abbreviation to its canonical
// expansion, used by entity dedupe so "JS" and "JavaScript" collapse to
// one graph node instead of two.
var commonAbbreviations = map[string]string{
	"js":   "javascript",
	"ts":   "typescript",
	"k8s":  "kubernetes",
	"db":   "database",
	"cfg":  "config",
	"auth": "authentication",
	"repo": "repository",
	"env":  "environment",
}

// normalizeEntityName canonicalizes an entity name for dedupe comparison:
// lowercased, abbreviation-expanded, and for File entities, with path
// separators normalized so "./foo/bar.go" and "foo/bar.go" compare equal.
func normalizeEntityName(nodeType, name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if nodeType == storage.NodeFile {
		lower = strings.TrimPrefix(lower, "./")
		lower = strings.TrimPrefix(lower, "/")
		return lower
	}
	if expanded, ok := commonAbbreviations[lower]; ok {
		return expanded
	}
	return lower
}
