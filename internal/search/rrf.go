package search

import "sort"

// rrfK is the reciprocal rank fusion constant (spec §4.3): a larger k
// flattens the contribution gap between a top rank and a lower one.
const rrfK = 60

// fuseRRF combines ranked keyword and vector result lists into a single
// score per observation ID: score = sum(1 / (rrfK + rank + 1)) over every
// list the ID appears in, rank being its 0-based position in that list.
// The map is unordered; rankedIDs turns it into a deterministic order.
func fuseRRF(lists ...[]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	return scores
}

// rankedIDs orders IDs by descending score; ties break by observation ID so
// repeated queries return a stable order.
func rankedIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
