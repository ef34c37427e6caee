package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoWorkerScript answers "ready" and "embed"/"embed_batch" immediately
// with a fixed vector, simulating a healthy embedding subprocess without
// depending on a real model.
const echoWorkerScript = `
import sys, json
for line in sys.stdin:
	line = line.strip()
	if not line:
		continue
	req = json.loads(line)
	args = req.get("args") or {}
	op = req["operation"]
	if op == "embed_batch":
		texts = args.get("texts", [])
		data = {"embeddings": [[0.1, 0.2, 0.3] for _ in texts]}
	else:
		data = {"embedding": [0.1, 0.2, 0.3]}
	print(json.dumps({"request_id": req["request_id"], "success": True, "data": data}))
	sys.stdout.flush()
`

// hangingWorkerScript answers the startup handshake but never responds to
// an "embed" request, simulating a stuck model process.
const hangingWorkerScript = `
import sys, json
for line in sys.stdin:
	line = line.strip()
	if not line:
		continue
	req = json.loads(line)
	if req["operation"] == "ready":
		print(json.dumps({"request_id": req["request_id"], "success": True, "data": {}}))
		sys.stdout.flush()
`

func newScriptWorker(t *testing.T, script string) *Worker {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	w, err := Start(ctx, Options{Command: []string{"python3", "-c", script}})
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Shutdown(time.Second)
	})
	return w
}

func TestWorkerEmbedReturnsVectorFromSubprocess(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}
	w := newScriptWorker(t, echoWorkerScript)

	vec, err := w.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestWorkerEmbedBatchMatchesInputLength(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}
	w := newScriptWorker(t, echoWorkerScript)

	vecs, err := w.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
}

func TestWorkerEmbedBatchEmptyInputIsNoop(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}
	w := newScriptWorker(t, echoWorkerScript)

	vecs, err := w.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestWorkerEmbedResolvesToNilNilOnTimeout(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}
	w := newScriptWorker(t, hangingWorkerScript)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	vec, err := w.Embed(ctx, "never answered")
	require.NoError(t, err, "a hung subprocess call degrades to nil,nil rather than an error")
	require.Nil(t, vec)
}

func TestWorkerEmbedDedupesConcurrentIdenticalRequests(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}
	w := newScriptWorker(t, echoWorkerScript)

	const text = "duplicate request text"
	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := w.Embed(context.Background(), text)
			require.NoError(t, err)
			results[i] = vec
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.Equal(t, []float32{0.1, 0.2, 0.3}, r, fmt.Sprintf("result %d", i))
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	_, err := Start(context.Background(), Options{})
	require.Error(t, err)
}

func TestNoopEngineAlwaysReturnsNilEmbeddingWithoutError(t *testing.T) {
	var e NoopEngine
	vec, err := e.Embed(context.Background(), "anything")
	require.NoError(t, err)
	require.Nil(t, vec)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Nil(t, vecs[0])
}
