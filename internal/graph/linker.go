package graph

import (
	"context"
	"fmt"
	"log"

	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/storage"
)

// Linker implements enrich.GraphLinker: it runs the quality gate over a
// classifier's extracted entities, upserts the survivors as graph nodes,
// and links co-mentioned entities with the relationship detector.
type Linker struct {
	Repo *storage.GraphRepo
	Log  *log.Logger
}

func NewLinker(repo *storage.GraphRepo) *Linker {
	return &Linker{Repo: repo}
}

// ProcessEntities is the pipeline step that turns one observation's raw
// extracted entities into graph nodes and edges (spec §4.9).
func (l *Linker) ProcessEntities(ctx context.Context, obs *storage.Observation, entities []enrich.ExtractedEntity) error {
	gated := qualityGate(obs, entities)
	if len(gated) == 0 {
		return nil
	}

	nodes := make(map[string]*storage.GraphNode, len(gated))
	for _, e := range gated {
		n, err := l.Repo.UpsertNode(ctx, e.Type, e.Name, nil, obs.ID)
		if err != nil {
			return fmt.Errorf("graph: upsert node %s/%s: %w", e.Type, e.Name, err)
		}
		nodes[e.Name] = n
	}

	names := make([]struct {
		Type string
		Name string
	}, 0, len(gated))
	for _, e := range gated {
		names = append(names, struct {
			Type string
			Name string
		}{e.Type, e.Name})
	}
	mentions := locateMentions(obs.Content, names)
	edges := detectRelationships(obs.Content, mentions)

	affected := make(map[string]*storage.GraphNode, len(nodes))
	for _, e := range edges {
		src, ok1 := nodes[e.SourceName]
		dst, ok2 := nodes[e.TargetName]
		if !ok1 || !ok2 || src.ID == dst.ID {
			continue
		}
		if _, err := l.Repo.AddEdge(ctx, src.ID, dst.ID, e.Type, e.Confidence, nil); err != nil {
			return fmt.Errorf("graph: add edge %s->%s: %w", src.ID, dst.ID, err)
		}
		affected[src.ID] = src
		affected[dst.ID] = dst
	}

	// After inserts, bring any node that crossed the degree cap back down
	// by pruning its lowest-weight edges (spec §4.7).
	for id := range affected {
		pruned, err := l.Repo.EnforceDegree(ctx, id, storage.MaxNodeDegree)
		if err != nil {
			return fmt.Errorf("graph: enforce degree %s: %w", id, err)
		}
		if pruned > 0 {
			l.logf("graph: pruned %d edges on node %s to enforce degree cap", pruned, id)
		}
	}
	return nil
}

func (l *Linker) logf(format string, args ...any) {
	if l.Log != nil {
		l.Log.Printf(format, args...)
	}
}

// Traverse exposes the repository's recursive-CTE graph walk (spec
// §4.9's query_graph operation), depth-capped to [1,4] by the repository.
func (l *Linker) Traverse(ctx context.Context, startID string, depth int) ([]*storage.GraphNode, error) {
	return l.Repo.Traverse(ctx, startID, depth)
}
