// Package enrich runs the background pipeline that turns a freshly
// captured, unclassified observation into a fully enriched one: embedded,
// checked for a topic shift, classified, entity-extracted into the graph,
// and checked for a debug-path signal (spec §4.4).
package enrich

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/laminark/laminark/internal/embedding"
	"github.com/laminark/laminark/internal/storage"
)

const (
	pollInterval   = 5 * time.Second
	batchSize      = 10
	classifyDeadline = 10 * time.Second
)

// ShiftDetector evaluates whether an observation's embedding represents a
// topic shift from recent context, stashing the prior topic if so.
type ShiftDetector interface {
	Evaluate(ctx context.Context, obs *storage.Observation) error
}

// GraphLinker turns classifier-extracted entities into graph nodes and
// edges, applying the quality gate and relationship detector.
type GraphLinker interface {
	ProcessEntities(ctx context.Context, obs *storage.Observation, entities []ExtractedEntity) error
}

// DebugSignaler feeds a classifier's debug signal into the debug-path
// state machine.
type DebugSignaler interface {
	Signal(ctx context.Context, obs *storage.Observation, signal DebugSignal) error
}

// Pipeline owns the periodic enrichment loop.
type Pipeline struct {
	Observations *storage.ObservationRepo
	Embedder     embedding.Engine
	Classifier   Classifier
	Shift        ShiftDetector
	Graph        GraphLinker
	DebugPath    DebugSignaler
	Log          *log.Logger
}

// Run drives the pipeline every pollInterval until ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := p.Log
	if logger == nil {
		logger = log.Default()
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.runOnce(ctx); err != nil {
				logger.Printf("enrich: batch failed: %v", err)
			}
		}
	}
}

func (p *Pipeline) runOnce(ctx context.Context) error {
	obs, err := p.Observations.FindUnembedded(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("enrich: find unembedded: %w", err)
	}
	for _, o := range obs {
		p.processOne(ctx, o)
	}
	return nil
}

// processOne runs the five steps in strict order, wrapping each
// independently: a failure in one step is logged and the remaining steps
// still run against whatever the observation looked like so far, so one
// bad step (e.g. a classifier timeout) never blocks embedding or shift
// detection from taking effect. The exception is classification: entity
// extraction and the debug signal both need its result, so both are
// skipped when it fails.
func (p *Pipeline) processOne(ctx context.Context, o *storage.Observation) {
	if len(o.Embedding) == 0 && p.Embedder != nil {
		vec, err := p.Embedder.Embed(ctx, o.Content)
		if err != nil {
			p.logf("embed %s: %v", o.ID, err)
		} else if len(vec) > 0 {
			o.Embedding = vec
			if _, err := p.Observations.Update(ctx, o.ID, storage.ObservationPatch{Embedding: vec}); err != nil {
				p.logf("persist embedding %s: %v", o.ID, err)
			}
		}
	}

	if p.Shift != nil && len(o.Embedding) > 0 {
		if err := p.Shift.Evaluate(ctx, o); err != nil {
			p.logf("shift detect %s: %v", o.ID, err)
		}
	}

	var result ClassificationResult
	classified := false
	if p.Classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, classifyDeadline)
		r, err := p.Classifier.Classify(cctx, o.Content)
		cancel()
		if err != nil {
			p.logf("classify %s: %v", o.ID, err)
		} else {
			result = r
			classified = true
		}
	}
	if classified {
		if err := p.Observations.UpdateClassification(ctx, o.ID, result.Classification); err != nil {
			p.logf("persist classification %s: %v", o.ID, err)
		}
	}

	if classified && p.Graph != nil && len(result.Entities) > 0 {
		if err := p.Graph.ProcessEntities(ctx, o, result.Entities); err != nil {
			p.logf("extract entities %s: %v", o.ID, err)
		}
	}

	if classified && p.DebugPath != nil {
		if err := p.DebugPath.Signal(ctx, o, result.DebugSignal); err != nil {
			p.logf("debug signal %s: %v", o.ID, err)
		}
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Log != nil {
		p.Log.Printf(format, args...)
	}
}
