package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/storage"
)

func TestQualityGateRejectsVaguePrefixes(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindFinding}
	entities := []enrich.ExtractedEntity{
		{Type: storage.NodeDecision, Name: "the retry policy", Confidence: 0.9},
		{Type: storage.NodeDecision, Name: "switch to exponential backoff", Confidence: 0.9},
	}
	out := qualityGate(obs, entities)
	var names []string
	for _, e := range out {
		names = append(names, e.Name)
	}
	assert.NotContains(t, names, "the retry policy")
	assert.Contains(t, names, "switch to exponential backoff")
}

func TestQualityGateEnforcesPerTypeConfidenceFloor(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindChange}
	entities := []enrich.ExtractedEntity{
		{Type: storage.NodeFile, Name: "worker.go", Confidence: 0.90}, // below 0.95 floor
		{Type: storage.NodeProblem, Name: "race condition", Confidence: 0.61},
		{Type: storage.NodeProblem, Name: "deadlock", Confidence: 0.59}, // below 0.60 floor
	}
	out := qualityGate(obs, entities)
	var names []string
	for _, e := range out {
		names = append(names, e.Name)
	}
	assert.NotContains(t, names, "worker.go")
	assert.Contains(t, names, "race condition")
	assert.NotContains(t, names, "deadlock")
}

func TestQualityGatePenalizesFileMentionInNonChangeObservation(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindFinding}
	entities := []enrich.ExtractedEntity{
		{Type: storage.NodeFile, Name: "worker.go", Confidence: 0.97},
	}
	out := qualityGate(obs, entities)
	assert.Empty(t, out, "0.97 * 0.74 penalty drops below the 0.95 File floor")
}

func TestQualityGateCapsFilesPerObservation(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindChange}
	var entities []enrich.ExtractedEntity
	for i := 0; i < 7; i++ {
		entities = append(entities, enrich.ExtractedEntity{Type: storage.NodeFile, Name: fileName(i), Confidence: 0.99})
	}
	out := qualityGate(obs, entities)
	assert.Len(t, out, maxFilesPerObservation)
}

func TestQualityGateRejectsNameLengthOutliers(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindFinding}
	entities := []enrich.ExtractedEntity{
		{Type: storage.NodeProject, Name: "ab", Confidence: 0.99},
		{Type: storage.NodeProject, Name: "laminark-core", Confidence: 0.99},
	}
	out := qualityGate(obs, entities)
	assert.Len(t, out, 1)
	assert.Equal(t, "laminark-core", out[0].Name)
}

func TestQualityGateIsDeterministic(t *testing.T) {
	obs := &storage.Observation{Kind: storage.KindChange}
	entities := []enrich.ExtractedEntity{
		{Type: storage.NodeFile, Name: "main.go", Confidence: 0.99},
		{Type: storage.NodeProblem, Name: "panic on shutdown", Confidence: 0.7},
	}
	first := qualityGate(obs, entities)
	second := qualityGate(obs, entities)
	assert.Equal(t, first, second)
}

func fileName(i int) string {
	names := []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go", "g.go"}
	return names[i]
}
