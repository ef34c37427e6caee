package curation

import (
	"context"
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laminark/laminark/internal/storage"
)

const testProjectHash = "0123456789abcdef"

func newTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.Open(context.Background(), storage.Options{
		Path:   t.TempDir() + "/test.db",
		Logger: log.New(testWriter{t}, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Close(context.Background()))
	})
	return e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

func newTestAgent(t *testing.T, e *storage.Engine) *Agent {
	t.Helper()
	obsRepo, err := storage.NewObservationRepo(e.DB(), testProjectHash)
	require.NoError(t, err)
	return &Agent{
		Observations: obsRepo,
		Graph:        storage.NewGraphRepo(e.DB(), testProjectHash),
		Staleness:    storage.NewStalenessRepo(e.DB(), testProjectHash),
		Tools:        storage.NewToolRegistryRepo(e.DB()),
		Stashes:      storage.NewStashRepo(e.DB(), testProjectHash),
		ProjectHash:  testProjectHash,
	}
}

func TestMergeDuplicateObservationsConsolidatesAndPreservesProvenance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := newTestAgent(t, e)

	content := "the retry loop swallows context cancellation errors in the worker pool"
	var ids []string
	for i := 0; i < 3; i++ {
		obs, err := a.Observations.Create(ctx, storage.CreateParams{
			Content:   fmt.Sprintf("%s (variant %d)", content, i),
			Source:    "agent",
			Embedding: []float32{1, 0, 0},
		})
		require.NoError(t, err)
		ids = append(ids, obs.ID)
	}

	node, err := a.Graph.UpsertNode(ctx, storage.NodeProblem, "retry loop cancellation bug", nil, ids[0])
	require.NoError(t, err)

	require.NoError(t, a.mergeDuplicateObservations(ctx))

	for _, id := range ids {
		_, err := a.Observations.GetByID(ctx, id)
		require.True(t, storage.IsNotFound(err), "originals should be soft-deleted")
	}

	results, err := a.Observations.List(ctx, storage.ListParams{Limit: 50})
	require.NoError(t, err)
	require.Len(t, results, 1, "the cluster should collapse into one consolidated observation")

	refreshed, err := a.Graph.GetNode(ctx, node.ID)
	require.NoError(t, err)
	require.Len(t, refreshed.ObservationIDs, 1)
	require.Equal(t, results[0].ID, refreshed.ObservationIDs[0])
}

func TestRunCycleIsIdempotentOnAQuietProject(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := newTestAgent(t, e)

	_, err := a.Observations.Create(ctx, storage.CreateParams{Content: "a single unique observation", Source: "agent"})
	require.NoError(t, err)

	first := a.RunCycle(ctx)
	for _, r := range first {
		require.NoError(t, r.Err, "step %s", r.Step)
	}
	second := a.RunCycle(ctx)
	for _, r := range second {
		require.NoError(t, r.Err, "step %s", r.Step)
	}

	results, err := a.Observations.List(ctx, storage.ListParams{Limit: 50})
	require.NoError(t, err)
	require.Len(t, results, 1, "a single non-duplicate observation is untouched by repeated cycles")
}

func TestDedupeEntitiesMergesNormalizationEquivalentNodes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := newTestAgent(t, e)

	_, err := a.Graph.UpsertNode(ctx, storage.NodeDecision, "TS", nil, "obs-1")
	require.NoError(t, err)
	_, err = a.Graph.UpsertNode(ctx, storage.NodeDecision, "typescript", nil, "obs-2")
	require.NoError(t, err)

	require.NoError(t, a.dedupeEntities(ctx))

	nodes, err := a.Graph.ListNodesByType(ctx, storage.NodeDecision)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "TS and typescript should merge into a single node")
}

func TestDedupeEntitiesKeepsNodeWithMoreProvenanceRegardlessOfAge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := newTestAgent(t, e)

	_, err := a.Graph.UpsertNode(ctx, storage.NodeDecision, "TS", nil, "obs-1")
	require.NoError(t, err)

	newer, err := a.Graph.UpsertNode(ctx, storage.NodeDecision, "typescript", nil, "obs-2")
	require.NoError(t, err)
	newer, err = a.Graph.UpsertNode(ctx, storage.NodeDecision, "typescript", nil, "obs-3")
	require.NoError(t, err)
	require.Len(t, newer.ObservationIDs, 2, "newer node accumulated more provenance than the older one")

	require.NoError(t, a.dedupeEntities(ctx))

	nodes, err := a.Graph.ListNodesByType(ctx, storage.NodeDecision)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "TS and typescript should merge into a single node")
	require.Equal(t, newer.ID, nodes[0].ID, "the node with more provenance should win the merge, not the older one")
	require.ElementsMatch(t, []string{"obs-1", "obs-2", "obs-3"}, nodes[0].ObservationIDs)
}

func TestEnforceDegreeCapOnlyTouchesNodesPastWarnFraction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := newTestAgent(t, e)

	hub, err := a.Graph.UpsertNode(ctx, storage.NodeProject, "hub", nil, "obs-1")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		leaf, err := a.Graph.UpsertNode(ctx, storage.NodeFile, fmt.Sprintf("leaf-%d.go", i), nil, "obs-1")
		require.NoError(t, err)
		_, err = a.Graph.AddEdge(ctx, hub.ID, leaf.ID, storage.EdgeRelatedTo, 0.5, nil)
		require.NoError(t, err)
	}

	require.NoError(t, a.enforceDegreeCap(ctx))

	degree, err := a.Graph.Degree(ctx, hub.ID)
	require.NoError(t, err)
	require.Equal(t, 10, degree, "a node well under the cap should be untouched")
}
