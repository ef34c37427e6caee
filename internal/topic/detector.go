package topic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/laminark/laminark/internal/similarity"
	"github.com/laminark/laminark/internal/storage"
)

// maxWindow caps the pre-shift observation window at 20, matching spec
// §4.6's "collect up to 20 observations from the previous session".
const maxWindow = 20

// Detector watches the embedding stream for one project and decides when
// the active topic has shifted, stashing the observations under the prior
// topic when it does (spec §4.6/§4.7).
type Detector struct {
	Observations  *storage.ObservationRepo
	Thresholds    *storage.ThresholdRepo
	Stashes       *storage.StashRepo
	Notifications *storage.NotificationRepo
	ProjectHash   string
	ProjectID     string

	mu        sync.Mutex
	threshold *EWMAThreshold
	last      *storage.Observation
	window    []*storage.Observation
}

// NewDetector constructs a detector at the given sensitivity, seeding its
// EWMA state from the last 10 sessions' closing values if any exist.
func NewDetector(ctx context.Context, obsRepo *storage.ObservationRepo, thresholds *storage.ThresholdRepo, stashes *storage.StashRepo, notifications *storage.NotificationRepo, projectHash, projectID string, sensitivity float64) (*Detector, error) {
	d := &Detector{
		Observations:  obsRepo,
		Thresholds:    thresholds,
		Stashes:       stashes,
		Notifications: notifications,
		ProjectHash:   projectHash,
		ProjectID:     projectID,
		threshold:     NewEWMAThreshold(sensitivity),
	}
	mean, variance, found, err := thresholds.SeedAverage(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("topic: seed detector: %w", err)
	}
	if found {
		d.threshold.Seed(mean, variance)
	}
	return d, nil
}

// Evaluate implements enrich.ShiftDetector: it compares obs's embedding
// against the most recently seen one, updates the adaptive threshold, and
// on a shift, freezes the prior topic's recent window into a stash.
func (d *Detector) Evaluate(ctx context.Context, obs *storage.Observation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last == nil {
		d.last = obs
		d.pushWindow(obs)
		return nil
	}

	distance := similarity.CosineDistance(d.last.Embedding, obs.Embedding)
	threshold := d.threshold.Value()
	shifted := distance > threshold

	var confidence float64
	if shifted && threshold > 0 {
		confidence = (distance - threshold) / threshold
		if confidence > 1 {
			confidence = 1
		}
	}

	var stashID *string
	if shifted && len(d.window) > 0 {
		label := topicLabel(d.window[len(d.window)-1])
		summary := topicSummary(d.window)
		sessionID := ""
		if d.window[0].SessionID != nil {
			sessionID = *d.window[0].SessionID
		}
		stash, err := d.Stashes.Create(ctx, sessionID, label, summary, d.window)
		if err != nil {
			return fmt.Errorf("topic: stash prior window: %w", err)
		}
		stashID = &stash.ID
		d.window = nil

		if d.Notifications != nil {
			msg := fmt.Sprintf("topic shift detected, stashed %q", label)
			if _, err := d.Notifications.Enqueue(ctx, msg); err != nil {
				return fmt.Errorf("topic: enqueue shift notification: %w", err)
			}
		}
	}

	decision := &storage.ShiftDecision{
		ObservationID: &obs.ID,
		Distance:      distance,
		Threshold:     threshold,
		EWMAMean:      d.threshold.Mean,
		EWMAVariance:  d.threshold.Variance,
		Sensitivity:   d.threshold.Sensitivity,
		Shifted:       shifted,
		Confidence:    confidence,
		StashID:       stashID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := d.Thresholds.RecordShiftDecision(ctx, decision); err != nil {
		return fmt.Errorf("topic: record shift decision: %w", err)
	}

	d.threshold.Update(distance)
	d.last = obs
	d.pushWindow(obs)
	return nil
}

// pushWindow appends obs to the tracked window, rotating out the oldest
// entry once it holds maxWindow observations (spec §4.6: "collect up to 20
// observations from the previous session").
func (d *Detector) pushWindow(obs *storage.Observation) {
	d.window = append(d.window, obs)
	if len(d.window) > maxWindow {
		d.window = d.window[len(d.window)-maxWindow:]
	}
}

// Close seeds the persisted threshold_history row for the session so the
// next session's detector can cold-start from it (spec §4.6).
func (d *Detector) Close(ctx context.Context, sessionID *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.Thresholds.SaveState(ctx, sessionID, d.threshold.Mean, d.threshold.Variance, len(d.window))
	return err
}

// topicLabel draws the stash label from the last observation's content,
// truncated to 50 chars (spec §4.6: "take the last one's content as the
// label (≤50 chars)").
func topicLabel(o *storage.Observation) string {
	const maxLen = 50
	c := o.Content
	if len(c) > maxLen {
		return c[:maxLen]
	}
	return c
}

// topicSummary concatenates the content of the last 3 observations in the
// window, truncated to 200 chars (spec §4.6: "concatenate the last 3 as the
// summary (≤200 chars)").
func topicSummary(window []*storage.Observation) string {
	const maxLen = 200
	n := 3
	if len(window) < n {
		n = len(window)
	}
	recent := window[len(window)-n:]
	parts := make([]string, 0, n)
	for _, o := range recent {
		parts = append(parts, o.Content)
	}
	summary := strings.Join(parts, " ")
	if len(summary) > maxLen {
		return summary[:maxLen]
	}
	return summary
}
