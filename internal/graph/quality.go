// Package graph turns a classifier's raw entity mentions into the typed
// knowledge graph: a quality gate filters low-signal mentions, then a
// relationship detector links the survivors to the graph nodes already on
// record (spec §3, §4.9).
package graph

import (
	"strings"

	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/storage"
)

const (
	minNameLength = 3
	maxNameLength = 200
	maxFilesPerObservation = 5

	// fileNonWriteConfidencePenalty discounts a File entity mentioned in
	// an observation that wasn't itself a change/write kind, since a file
	// merely referenced in passing is a weaker signal than one actually
	// touched.
	fileNonWriteConfidencePenalty = 0.74
)

// minConfidenceByType is the floor each node type's mention confidence
// must clear before it's admitted to the graph (spec §4.7's per-type
// minimums). File's floor is set deliberately high: combined with the
// 0.74x non-write penalty below, a File mention in a non-change
// observation needs near-total classifier confidence to survive.
var minConfidenceByType = map[string]float64{
	storage.NodeFile:      0.95,
	storage.NodeProject:   0.80,
	storage.NodeReference: 0.85,
	storage.NodeDecision:  0.65,
	storage.NodeProblem:   0.60,
	storage.NodeSolution:  0.60,
}

// vaguePrefixes reject mentions that are too generic to identify a
// specific entity ("the file", "some function", ...), spec §4.7 step 3.
var vaguePrefixes = []string{
	"the ", "this ", "that ", "it ", "some ", "a ", "an ", "here ",
	"there ", "now ", "just ", "ok ", "yes ", "no ", "maybe ", "done ", "tmp ",
}

// qualityGate filters and re-scores one batch of extracted entities for a
// single observation.
func qualityGate(obs *storage.Observation, entities []enrich.ExtractedEntity) []enrich.ExtractedEntity {
	var out []enrich.ExtractedEntity
	fileCount := 0

	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		if len(name) < minNameLength || len(name) > maxNameLength {
			continue
		}
		if hasVaguePrefix(name) {
			continue
		}

		confidence := e.Confidence
		if e.Type == storage.NodeFile {
			if fileCount >= maxFilesPerObservation {
				continue
			}
			if obs.Kind != storage.KindChange {
				confidence *= fileNonWriteConfidencePenalty
			}
			fileCount++
		}

		floor, ok := minConfidenceByType[e.Type]
		if !ok || confidence < floor {
			continue
		}

		out = append(out, enrich.ExtractedEntity{Type: e.Type, Name: name, Confidence: confidence})
	}
	return out
}

func hasVaguePrefix(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range vaguePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
