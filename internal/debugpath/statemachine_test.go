package debugpath

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/storage"
)

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

func obsN(id int) *storage.Observation {
	return &storage.Observation{ID: "obs", Content: "content"}
}

func TestStateMachineDropsLowConfidenceSignalsAsNoise(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	sm := NewStateMachine(repo)

	require.NoError(t, sm.Signal(context.Background(), obsN(0), enrich.DebugSignal{IsError: true, Confidence: 0.1}))
	require.Equal(t, StateIdle, sm.state)
}

func TestStateMachineThreeErrorsOpenActiveDebugPath(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	sm := NewStateMachine(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{IsError: true, Confidence: 0.9}))
	}
	require.Equal(t, StateActiveDebug, sm.state)
	require.NotNil(t, sm.activePath)

	waypoints, err := repo.ListWaypoints(ctx, sm.activePath.ID)
	require.NoError(t, err)
	require.Len(t, waypoints, 1, "only the 3rd error (the one that opens the path) is appended as a waypoint")
	require.Equal(t, storage.WaypointError, waypoints[0].Type)
}

func TestStateMachineThreeResolutionsMarksPathResolved(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	sm := NewStateMachine(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{IsError: true, Confidence: 0.9}))
	}
	require.Equal(t, StateActiveDebug, sm.state)
	pathID := sm.activePath.ID

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{IsResolution: true, Confidence: 0.9}))
	}
	require.Equal(t, StateResolved, sm.state)

	_, err := repo.GetActive(ctx)
	require.Error(t, err)
	require.True(t, storage.IsNotFound(err), "no path should remain active once resolved")

	waypoints, err := repo.ListWaypoints(ctx, pathID)
	require.NoError(t, err)
	var resolutionCount int
	for _, w := range waypoints {
		if w.Type == storage.WaypointResolution {
			resolutionCount++
		}
	}
	require.Equal(t, 1, resolutionCount)
}

func TestStateMachineAnyErrorResetsResolutionCounter(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	sm := NewStateMachine(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{IsError: true, Confidence: 0.9}))
	}
	require.NoError(t, sm.Signal(ctx, obsN(3), enrich.DebugSignal{IsResolution: true, Confidence: 0.9}))
	require.NoError(t, sm.Signal(ctx, obsN(4), enrich.DebugSignal{IsResolution: true, Confidence: 0.9}))
	require.Equal(t, 2, sm.consecutiveResolutions)

	// a new error mid-resolution-streak resets the counter without closing
	// the path.
	require.NoError(t, sm.Signal(ctx, obsN(5), enrich.DebugSignal{IsError: true, Confidence: 0.9}))
	require.Equal(t, 0, sm.consecutiveResolutions)
	require.Equal(t, StateActiveDebug, sm.state)
}

func TestStateMachineRespectsWaypointCap(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	sm := NewStateMachine(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{IsError: true, Confidence: 0.9}))
	}
	pathID := sm.activePath.ID

	// Already have 1 waypoint from opening the path; push well past the cap
	// with ambiguous-but-qualifying signals while staying in active_debug.
	for i := 0; i < maxWaypoints+10; i++ {
		require.NoError(t, sm.Signal(ctx, obsN(i), enrich.DebugSignal{WaypointHint: storage.WaypointDiscovery, Confidence: 0.9}))
	}

	waypoints, err := repo.ListWaypoints(ctx, pathID)
	require.NoError(t, err)
	require.LessOrEqual(t, len(waypoints), maxWaypoints)
}

func TestStateMachineRecoversActivePathOnStart(t *testing.T) {
	e := newTestEngine(t)
	repo := storage.NewDebugPathRepo(e.DB(), "0123456789abcdef")
	ctx := context.Background()

	_, err := repo.Open(ctx)
	require.NoError(t, err)

	sm := NewStateMachine(repo)
	require.NoError(t, sm.Recover(ctx))
	require.Equal(t, StateActiveDebug, sm.state)
	require.NotNil(t, sm.activePath)
}

func TestWaypointTypeInference(t *testing.T) {
	require.Equal(t, storage.WaypointError, waypointType(enrich.DebugSignal{IsError: true}))
	require.Equal(t, storage.WaypointSuccess, waypointType(enrich.DebugSignal{IsResolution: true}))
	require.Equal(t, storage.WaypointFailure, waypointType(enrich.DebugSignal{}))
	require.Equal(t, storage.WaypointPivot, waypointType(enrich.DebugSignal{WaypointHint: storage.WaypointPivot, IsError: true}))
}
