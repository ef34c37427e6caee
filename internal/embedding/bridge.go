package embedding

import "context"

// Engine is the minimal embedding surface the rest of the daemon depends
// on, satisfied by *Worker and by NoopEngine. Keeping this interface
// separate from Worker lets callers (the enrichment pipeline, hybrid
// search) run unmodified when no embedding model is configured.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NoopEngine is a keyword-only fallback: every call returns a nil
// embedding and no error, so downstream code degrades the same way it
// would if a real worker's request simply timed out.
type NoopEngine struct{}

func (NoopEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (NoopEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

var _ Engine = (*Worker)(nil)
var _ Engine = NoopEngine{}
