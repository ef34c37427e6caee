package curation

import (
	"context"
	"log"
	"time"

	"github.com/laminark/laminark/internal/storage"
)

// cycleInterval is how often the agent runs its five-step maintenance
// cycle. A period this coarse is deliberate: curation rewrites graph
// edges and soft-deletes observations, so it shouldn't race the
// enrichment pipeline's much faster (5s) per-observation loop.
const cycleInterval = 15 * time.Minute

const (
	toolStaleCutoff  = 14 * 24 * time.Hour
	toolDemoteCutoff = 45 * 24 * time.Hour
	stashExpireAfter = 7 * 24 * time.Hour
)

// StepReport records the outcome of one maintenance step, so a single
// failing step never hides whether the other four ran.
type StepReport struct {
	Step string
	Err  error
}

// Agent runs the periodic curation cycle for one project.
type Agent struct {
	Observations *storage.ObservationRepo
	Graph        *storage.GraphRepo
	Staleness    *storage.StalenessRepo
	Tools        *storage.ToolRegistryRepo
	Stashes      *storage.StashRepo
	ProjectHash  string
	Log          *log.Logger
}

// Run drives the cycle every cycleInterval until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, r := range a.RunCycle(ctx) {
				if r.Err != nil {
					a.logf("curation: step %s failed: %v", r.Step, r.Err)
				}
			}
		}
	}
}

// RunCycle executes the five steps in order, isolating each one's error so
// a failure in, say, staleness flagging doesn't prevent degree enforcement
// or pruning from running.
func (a *Agent) RunCycle(ctx context.Context) []StepReport {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"merge_duplicate_observations", a.mergeDuplicateObservations},
		{"dedupe_entities", a.dedupeEntities},
		{"enforce_degree_cap", a.enforceDegreeCap},
		{"flag_staleness", a.flagStaleness},
		{"prune_low_value", a.pruneLowValue},
	}

	reports := make([]StepReport, 0, len(steps))
	for _, s := range steps {
		err := s.fn(ctx)
		reports = append(reports, StepReport{Step: s.name, Err: err})
	}
	return reports
}

// mergeDuplicateObservations clusters recent observations by embedding
// cosine or content Jaccard similarity, consolidates each cluster into a
// single new observation (mean embedding, summary from the longest member
// plus keywords from the rest), repoints graph provenance at it, and
// soft-deletes the originals (spec §4.9 step 1).
func (a *Agent) mergeDuplicateObservations(ctx context.Context) error {
	recent, err := a.Observations.List(ctx, storage.ListParams{Limit: 200, IncludeUnclassified: true})
	if err != nil {
		return err
	}
	for _, group := range clusterDuplicates(recent) {
		consolidated, err := a.Observations.Create(ctx, storage.CreateParams{
			Content:   buildSummary(group),
			Source:    "curation",
			Kind:      storage.KindFinding,
			Embedding: meanEmbedding(group),
		})
		if err != nil {
			return err
		}

		oldIDs := make([]string, 0, len(group))
		for _, o := range group {
			oldIDs = append(oldIDs, o.ID)
		}
		if a.Graph != nil {
			if err := a.Graph.ReplaceObservationProvenance(ctx, oldIDs, consolidated.ID); err != nil {
				return err
			}
		}

		for _, o := range group {
			if _, err := a.Observations.SoftDelete(ctx, o.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// nodeTypes enumerates the closed node taxonomy for the dedupe scan.
var nodeTypes = []string{
	storage.NodeProject, storage.NodeFile, storage.NodeDecision,
	storage.NodeProblem, storage.NodeSolution, storage.NodeReference,
}

// dedupeEntities merges graph nodes whose normalized names collide (spec
// §4.9 step 2): UpsertNode already merges on an exact (type, name) match,
// so this step only needs to catch normalization-equivalent variants
// ("JS" vs "javascript", "./foo.go" vs "foo.go") that slipped past it. The
// node with more provenance (the longer ObservationIDs union) keeps its ID,
// ties broken by age; the rest are merged into it via MergeNodes.
func (a *Agent) dedupeEntities(ctx context.Context) error {
	for _, nodeType := range nodeTypes {
		nodes, err := a.Graph.ListNodesByType(ctx, nodeType)
		if err != nil {
			return err
		}
		groups := make(map[string][]*storage.GraphNode)
		for _, n := range nodes {
			key := normalizeEntityName(nodeType, n.Name)
			groups[key] = append(groups[key], n)
		}
		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			winner := group[0]
			for _, n := range group[1:] {
				if len(n.ObservationIDs) > len(winner.ObservationIDs) {
					winner = n
				} else if len(n.ObservationIDs) == len(winner.ObservationIDs) && n.CreatedAt.Before(winner.CreatedAt) {
					winner = n
				}
			}
			for _, n := range group {
				if n.ID == winner.ID {
					continue
				}
				if err := a.Graph.MergeNodes(ctx, winner.ID, n.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// degreeWarnFraction is the share of MaxNodeDegree at which curation
// proactively re-checks a node, ahead of the hard cap the graph linker
// already enforces after each insert batch (spec §4.9 step 3).
const degreeWarnFraction = 0.9

// enforceDegreeCap recomputes each node's degree and prunes its
// lowest-weight edges back to the cap once it crosses 0.9*cap, catching
// any node that grew past the warning line between insert-time
// enforcements (spec §4.9 step 3).
func (a *Agent) enforceDegreeCap(ctx context.Context) error {
	threshold := int(degreeWarnFraction * float64(storage.MaxNodeDegree))
	for _, nodeType := range nodeTypes {
		nodes, err := a.Graph.ListNodesByType(ctx, nodeType)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			degree, err := a.Graph.Degree(ctx, n.ID)
			if err != nil {
				return err
			}
			if degree <= threshold {
				continue
			}
			if _, err := a.Graph.EnforceDegree(ctx, n.ID, storage.MaxNodeDegree); err != nil {
				return err
			}
		}
	}
	return nil
}

// flagStaleness compares each recent observation's content against older
// ones for contradiction language, flagging the older one when found
// (spec §4.9 step 4). Pairwise over a bounded recent window rather than
// the full history, since the signal degrades the further apart two
// observations are in time anyway.
func (a *Agent) flagStaleness(ctx context.Context) error {
	recent, err := a.Observations.List(ctx, storage.ListParams{Limit: 200})
	if err != nil {
		return err
	}
	for i, newer := range recent {
		for _, older := range recent[i+1:] {
			if reason, found := detectContradiction(older.Content, newer.Content); found {
				if err := a.Staleness.Flag(ctx, older.ID, "", reason, "curation"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// pruneLowValue demotes tools unused for an extended period and expires
// stale context stashes (spec §4.9 step 5).
func (a *Agent) pruneLowValue(ctx context.Context) error {
	now := time.Now().UTC()
	if a.Tools != nil {
		if _, _, err := a.Tools.FlagIdle(ctx, now.Add(-toolStaleCutoff), now.Add(-toolDemoteCutoff)); err != nil {
			return err
		}
	}
	if a.Stashes != nil {
		if _, err := a.Stashes.Expire(ctx, now.Add(-stashExpireAfter)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) logf(format string, args ...any) {
	if a.Log != nil {
		a.Log.Printf(format, args...)
	}
}
