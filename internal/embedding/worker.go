package embedding

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	startupTimeout = 30 * time.Second
	requestTimeout = 30 * time.Second
)

// Options configures the embedding worker subprocess.
type Options struct {
	// Command is the subprocess argv, e.g. {"python3", "embed_server.py"}.
	Command []string
	Logger  *log.Logger
}

// Worker supervises a long-lived embedding-model subprocess over a
// line-delimited JSON protocol. Exactly one subprocess is started per
// Worker; callers needing concurrency rely on the subprocess's own
// internal batching rather than spawning more processes.
type Worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	log    *log.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	group singleflight.Group
}

// Start launches the subprocess and blocks until it reports ready or
// startupTimeout elapses.
func Start(ctx context.Context, opts Options) (*Worker, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("embedding: worker: empty command")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, opts.Command[0], opts.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("embedding: worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("embedding: worker: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("embedding: worker: start: %w", err)
	}

	w := &Worker{
		cmd:     cmd,
		stdin:   stdin,
		log:     logger,
		cancel:  cancel,
		pending: make(map[string]chan Response),
	}
	go w.readLoop(stdout)

	readyCtx, readyCancel := context.WithTimeout(ctx, startupTimeout)
	defer readyCancel()
	if _, err := w.call(readyCtx, opReady, nil); err != nil {
		w.Shutdown(time.Second)
		return nil, fmt.Errorf("embedding: worker: startup handshake: %w", err)
	}

	return w, nil
}

func (w *Worker) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			w.log.Printf("embedding: malformed response: %v", err)
			continue
		}
		w.mu.Lock()
		ch, ok := w.pending[resp.RequestID]
		if ok {
			delete(w.pending, resp.RequestID)
		}
		w.mu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// call sends one request and waits for its matching response, a timeout,
// or subprocess exit.
func (w *Worker) call(ctx context.Context, op string, args json.RawMessage) (Response, error) {
	id := uuid.NewString()
	ch := make(chan Response, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Response{}, errors.New("embedding: worker: closed")
	}
	w.pending[id] = ch
	w.mu.Unlock()

	req := Request{RequestID: id, Operation: op, Args: args}
	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("embedding: marshal request: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.stdin.Write(line); err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return Response{}, fmt.Errorf("embedding: write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

// Embed returns the embedding for one piece of text. A timeout or
// subprocess error resolves to (nil, nil): the enrichment pipeline treats
// "no embedding yet" as a retryable gap, not a fatal error for the
// observation (spec §4.4). Concurrent calls for identical text are
// deduplicated via singleflight.
func (w *Worker) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err, _ := w.group.Do(text, func() (any, error) {
		return w.embed(ctx, text)
	})
	if err != nil {
		return nil, nil
	}
	return v.([]float32), nil
}

func (w *Worker) embed(ctx context.Context, text string) ([]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	args, err := json.Marshal(embedArgs{Text: text})
	if err != nil {
		return nil, err
	}
	resp, err := w.call(reqCtx, opEmbed, args)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("embedding: worker error: %s", resp.Error)
	}
	var data embedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal embed response: %w", err)
	}
	return data.Embedding, nil
}

// EmbedBatch embeds many texts in one round trip. Like Embed, a failure
// resolves to a nil slice per index rather than aborting the whole batch.
func (w *Worker) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	args, err := json.Marshal(batchArgs{Texts: texts})
	if err != nil {
		return nil, err
	}
	resp, err := w.call(reqCtx, opBatch, args)
	if err != nil {
		return make([][]float32, len(texts)), nil
	}
	if !resp.Success {
		return make([][]float32, len(texts)), nil
	}
	var data batchData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return make([][]float32, len(texts)), nil
	}
	return data.Embeddings, nil
}

// Shutdown asks the subprocess to exit cleanly, waiting up to grace
// before force-killing it.
func (w *Worker) Shutdown(grace time.Duration) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	w.mu.Unlock()

	if line, err := json.Marshal(Request{RequestID: uuid.NewString(), Operation: opStop}); err == nil {
		_, _ = w.stdin.Write(append(line, '\n'))
	}
	_ = w.stdin.Close()

	done := make(chan struct{})
	go func() {
		w.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		w.cancel()
	}
}
