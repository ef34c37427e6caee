// Package debugpath implements the debug-path state machine: idle code
// turns into a potential debug session once errors start recurring, and
// into an active one once they cross a density threshold, tracked as an
// ordered sequence of waypoints until resolution (spec §4.5).
package debugpath

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/storage"
)

const (
	StateIdle          = "idle"
	StatePotentialDebug = "potential_debug"
	StateActiveDebug    = "active_debug"
	StateResolved       = "resolved"

	errorWindow          = 5 * time.Minute
	errorThreshold       = 3
	maxWaypoints         = 30
	resolutionThreshold  = 3

	// noiseConfidenceFloor drops low-confidence classifier signals before
	// they can influence the state machine (spec §4.8).
	noiseConfidenceFloor = 0.3
)

// StateMachine tracks one project's debug-path lifecycle in memory,
// backed by DebugPathRepo for the durable path/waypoint record.
type StateMachine struct {
	repo *storage.DebugPathRepo

	mu                     sync.Mutex
	state                  string
	activePath             *storage.DebugPath
	errorTimestamps        []time.Time
	consecutiveResolutions int
}

// NewStateMachine constructs a state machine starting idle.
func NewStateMachine(repo *storage.DebugPathRepo) *StateMachine {
	return &StateMachine{repo: repo, state: StateIdle}
}

// Recover restores in-flight state from the repository on process start:
// if an active debug path already exists, the machine resumes in
// active_debug rather than forgetting it ever happened (spec §4.5).
func (s *StateMachine) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.repo.GetActive(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("debugpath: recover: %w", err)
	}
	s.state = StateActiveDebug
	s.activePath = path
	return nil
}

// Signal implements enrich.DebugSignaler: signal is the classifier's
// structured per-observation verdict (spec §4.8). Signals below the noise
// confidence floor are dropped before they can affect the state machine.
func (s *StateMachine) Signal(ctx context.Context, obs *storage.Observation, signal enrich.DebugSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if signal.Confidence < noiseConfidenceFloor {
		return nil
	}

	now := time.Now().UTC()
	if signal.IsError {
		return s.handleError(ctx, obs, signal, now)
	}
	return s.handleNonError(ctx, obs, signal, now)
}

func (s *StateMachine) handleNonError(ctx context.Context, obs *storage.Observation, signal enrich.DebugSignal, now time.Time) error {
	if s.state != StateActiveDebug {
		s.state = StateIdle
		s.errorTimestamps = nil
		s.consecutiveResolutions = 0
		return nil
	}

	if !signal.IsResolution {
		// A qualifying but ambiguous signal (neither error nor resolution)
		// still earns a waypoint while a path is active; only an error
		// resets the resolution streak (spec §4.8), so this one doesn't.
		return s.appendWaypoint(ctx, waypointType(signal), obs.Content)
	}

	s.consecutiveResolutions++
	if err := s.appendWaypoint(ctx, waypointType(signal), obs.Content); err != nil {
		return err
	}

	if s.consecutiveResolutions >= resolutionThreshold {
		if err := s.repo.SetStatus(ctx, s.activePath.ID, storage.PathResolved); err != nil {
			return fmt.Errorf("debugpath: resolve: %w", err)
		}
		if _, err := s.appendResolutionWaypoint(ctx, obs.Content); err != nil {
			return err
		}
		s.state = StateResolved
		s.activePath = nil
		s.consecutiveResolutions = 0
		s.errorTimestamps = nil
	}
	return nil
}

func (s *StateMachine) handleError(ctx context.Context, obs *storage.Observation, signal enrich.DebugSignal, now time.Time) error {
	s.consecutiveResolutions = 0

	s.errorTimestamps = pruneOld(s.errorTimestamps, now)
	s.errorTimestamps = append(s.errorTimestamps, now)

	switch s.state {
	case StateIdle, StateResolved:
		s.state = StatePotentialDebug
	case StatePotentialDebug:
		if len(s.errorTimestamps) >= errorThreshold {
			path, err := s.repo.Open(ctx)
			if err != nil {
				return fmt.Errorf("debugpath: open: %w", err)
			}
			s.state = StateActiveDebug
			s.activePath = path
		}
	}

	if s.state == StateActiveDebug {
		return s.appendWaypoint(ctx, waypointType(signal), obs.Content)
	}
	return nil
}

// waypointType picks the waypoint type for a qualifying signal: the
// classifier's explicit hint if it gave one, else an inference from
// is_error/is_resolution (spec §4.8).
func waypointType(signal enrich.DebugSignal) string {
	if signal.WaypointHint != "" {
		return signal.WaypointHint
	}
	if signal.IsError {
		return storage.WaypointError
	}
	if signal.IsResolution {
		return storage.WaypointSuccess
	}
	return storage.WaypointFailure
}

func (s *StateMachine) appendWaypoint(ctx context.Context, waypointType, content string) error {
	if s.activePath == nil {
		return nil
	}
	existing, err := s.repo.ListWaypoints(ctx, s.activePath.ID)
	if err != nil {
		return fmt.Errorf("debugpath: list waypoints: %w", err)
	}
	if len(existing) >= maxWaypoints {
		return nil
	}
	_, err = s.repo.AddWaypoint(ctx, s.activePath.ID, waypointType, content)
	if err != nil {
		return fmt.Errorf("debugpath: add waypoint: %w", err)
	}
	return nil
}

func (s *StateMachine) appendResolutionWaypoint(ctx context.Context, content string) (*storage.PathWaypoint, error) {
	if s.activePath == nil {
		return nil, nil
	}
	return s.repo.AddWaypoint(ctx, s.activePath.ID, storage.WaypointResolution, content)
}

func pruneOld(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-errorWindow)
	var out []time.Time
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
