package storage

import (
	"context"
	"log"
	"testing"
)

// newTestEngine opens an isolated file-backed database per test (bd's
// newTestStore pattern): a private in-memory DB can leak state across tests
// sharing a process, while a temp file does not.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := Open(ctx, Options{
		Path:   t.TempDir() + "/test.db",
		Logger: log.New(testWriter{t}, "", 0),
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(context.Background()); err != nil {
			t.Fatalf("close engine: %v", err)
		}
	})
	return e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

func testProjectHash() string { return "0123456789abcdef" }
