package enrich

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

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

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

type fakeShiftDetector struct {
	called int
	err    error
}

func (f *fakeShiftDetector) Evaluate(ctx context.Context, obs *storage.Observation) error {
	f.called++
	return f.err
}

type fakeClassifier struct {
	result ClassificationResult
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, content string) (ClassificationResult, error) {
	return f.result, f.err
}

type fakeGraphLinker struct {
	calls [][]ExtractedEntity
}

func (f *fakeGraphLinker) ProcessEntities(ctx context.Context, obs *storage.Observation, entities []ExtractedEntity) error {
	f.calls = append(f.calls, entities)
	return nil
}

type fakeDebugSignaler struct {
	signals []DebugSignal
}

func (f *fakeDebugSignaler) Signal(ctx context.Context, obs *storage.Observation, signal DebugSignal) error {
	f.signals = append(f.signals, signal)
	return nil
}

func TestProcessOneRunsAllFiveStepsOnSuccess(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	repo, err := storage.NewObservationRepo(e.DB(), "0123456789abcdef")
	require.NoError(t, err)

	obs, err := repo.Create(ctx, storage.CreateParams{Content: "a fresh observation", Source: "agent"})
	require.NoError(t, err)

	shift := &fakeShiftDetector{}
	linker := &fakeGraphLinker{}
	signaler := &fakeDebugSignaler{}
	p := &Pipeline{
		Observations: repo,
		Embedder:     &fakeEmbedder{vec: []float32{1, 2, 3}},
		Classifier: &fakeClassifier{result: ClassificationResult{
			Classification: "signal",
			Entities:       []ExtractedEntity{{Type: storage.NodeProblem, Name: "race condition", Confidence: 0.9}},
			DebugSignal:    DebugSignal{IsError: true, Confidence: 0.9},
		}},
		Shift:     shift,
		Graph:     linker,
		DebugPath: signaler,
	}

	p.processOne(ctx, obs)

	require.Equal(t, 1, shift.called)
	require.Len(t, linker.calls, 1)
	require.Len(t, signaler.signals, 1)
	require.True(t, signaler.signals[0].IsError)

	got, err := repo.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, got.Embedding)
	require.Equal(t, "signal", *got.Classification)
}

func TestProcessOneClassifierFailureStillPersistsEmbedding(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	repo, err := storage.NewObservationRepo(e.DB(), "0123456789abcdef")
	require.NoError(t, err)

	obs, err := repo.Create(ctx, storage.CreateParams{Content: "another observation", Source: "agent"})
	require.NoError(t, err)

	linker := &fakeGraphLinker{}
	signaler := &fakeDebugSignaler{}
	p := &Pipeline{
		Observations: repo,
		Embedder:     &fakeEmbedder{vec: []float32{4, 5, 6}},
		Classifier:   &fakeClassifier{err: context.DeadlineExceeded},
		Graph:        linker,
		DebugPath:    signaler,
	}

	p.processOne(ctx, obs)

	require.Empty(t, linker.calls, "graph linking never runs without a successful classification")
	require.Empty(t, signaler.signals, "debug signaling never runs without a successful classification")

	got, err := repo.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{4, 5, 6}, got.Embedding, "the embedding step is independent of classifier success")
}

func TestProcessOneSkipsEntityExtractionWhenNoEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	repo, err := storage.NewObservationRepo(e.DB(), "0123456789abcdef")
	require.NoError(t, err)

	obs, err := repo.Create(ctx, storage.CreateParams{Content: "trivial note", Source: "agent"})
	require.NoError(t, err)

	linker := &fakeGraphLinker{}
	p := &Pipeline{
		Observations: repo,
		Classifier:   &fakeClassifier{result: ClassificationResult{Classification: storage.ClassificationNoise}},
		Graph:        linker,
	}

	p.processOne(ctx, obs)
	require.Empty(t, linker.calls)
}

func TestRunOnceSelectsByMissingEmbeddingNotClassification(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	repo, err := storage.NewObservationRepo(e.DB(), "0123456789abcdef")
	require.NoError(t, err)

	// classified-but-unembedded: must still be picked up, since the loop
	// selects by find_unembedded (spec §4.4/§4.5), not by classification.
	classified, err := repo.Create(ctx, storage.CreateParams{Content: "already classified", Source: "agent"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateClassification(ctx, classified.ID, "finding"))

	// unclassified-but-already-embedded: must be left alone.
	embedded, err := repo.Create(ctx, storage.CreateParams{Content: "already embedded", Source: "agent", Embedding: []float32{1, 2, 3}})
	require.NoError(t, err)

	shift := &fakeShiftDetector{}
	p := &Pipeline{
		Observations: repo,
		Embedder:     &fakeEmbedder{vec: []float32{9, 9, 9}},
		Shift:        shift,
	}

	require.NoError(t, p.runOnce(ctx))

	gotClassified, err := repo.GetByID(ctx, classified.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{9, 9, 9}, gotClassified.Embedding, "classified-but-unembedded observation should be embedded")

	gotEmbedded, err := repo.GetByID(ctx, embedded.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, gotEmbedded.Embedding, "already-embedded observation should be left untouched")
}
