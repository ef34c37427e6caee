// Package scheduler owns the daemon's background task group: the
// enrichment pipeline, the curation agent, and the research-buffer flush,
// started together and torn down together via errgroup (spec §5).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laminark/laminark/internal/storage"
)

const researchFlushInterval = 30 * time.Minute

// Task is one long-running background loop; it must return promptly once
// its context is canceled.
type Task func(ctx context.Context) error

// Scheduler runs a fixed set of background tasks under one errgroup so a
// single cancellation (SIGINT/SIGTERM) stops all of them, and Wait returns
// the first non-nil error any of them produced.
type Scheduler struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *log.Logger
}

// New derives a cancelable context from parent and prepares an errgroup
// bound to it.
func New(parent context.Context, logger *log.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &Scheduler{group: group, ctx: ctx, cancel: cancel, log: logger}
}

// Go registers a task to run immediately.
func (s *Scheduler) Go(task Task) {
	s.group.Go(func() error {
		return task(s.ctx)
	})
}

// GoResearchFlush registers the periodic research-buffer flush, folding
// buffered tool-use entries older than researchFlushInterval into a
// synthetic observation (spec §3/§4.4).
func (s *Scheduler) GoResearchFlush(research *storage.ResearchRepo, observations *storage.ObservationRepo, sessionID string) {
	s.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(researchFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := flushResearchBuffer(ctx, research, observations, sessionID); err != nil {
					s.logf("scheduler: research flush failed: %v", err)
				}
			}
		}
	})
}

func flushResearchBuffer(ctx context.Context, research *storage.ResearchRepo, observations *storage.ObservationRepo, sessionID string) error {
	cutoff := time.Now().UTC().Add(-researchFlushInterval)
	entries, err := research.DuePending(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	content := "Research activity:\n"
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		content += fmt.Sprintf("- %s: %s\n", e.ToolName, e.Target)
		ids = append(ids, e.ID)
	}

	sid := sessionID
	if _, err := observations.Create(ctx, storage.CreateParams{
		Content:   content,
		Source:    "research_buffer",
		Kind:      storage.KindReference,
		SessionID: &sid,
	}); err != nil {
		return err
	}
	return research.DeleteFlushed(ctx, ids)
}

// Stop cancels every task's context.
func (s *Scheduler) Stop() {
	s.cancel()
}

// Wait blocks until every task returns, then returns the first error (if
// any) — context.Canceled from a clean Stop() is not surfaced as a
// failure.
func (s *Scheduler) Wait() error {
	err := s.group.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
