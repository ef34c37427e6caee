// Package storage is the embedded relational store: connection setup,
// versioned migrations, and the project-scoped repositories built on top of
// it. A single *sql.DB is shared by every repository in a process; the
// single-writer contract means no repository needs interior locking.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

// Engine owns the single database connection for a process and the
// capability flags discovered while opening it.
type Engine struct {
	db  *sql.DB
	log *log.Logger

	path            string
	hasVectorSupport bool
	walEnabled       bool
}

// Options configures engine startup.
type Options struct {
	// Path is the database file path.
	Path string
	// BusyTimeout is the SQLite busy_timeout; the spec floor is 5000ms.
	BusyTimeout time.Duration
	// Logger receives startup warnings (WAL unavailable, vector extension
	// absent). Defaults to log.Default() prefixed with "[laminark:storage] ".
	Logger *log.Logger
}

const defaultBusyTimeout = 5 * time.Second

// Open opens (creating if necessary) the embedded store, applies mandatory
// PRAGMAs, probes for vector extension support, and runs all pending
// migrations. It never panics; WAL or vector-extension unavailability
// degrades to a warning, per spec §4.1.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("storage: path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[laminark:storage] ", log.LstdFlags)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer: SQLite itself serializes writers, but a connection
	// pool larger than 1 defeats the busy-timeout/retry discipline below by
	// letting two goroutines BEGIN IMMEDIATE on different connections.
	db.SetMaxOpenConns(1)

	e := &Engine{db: db, log: logger, path: opts.Path}

	if err := e.applyPragmas(ctx, opts.BusyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	e.hasVectorSupport = e.probeVectorSupport(ctx)
	if !e.hasVectorSupport {
		logger.Printf("vector extension unavailable; running keyword-only")
	}

	if err := e.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return e, nil
}

func (e *Engine) applyPragmas(ctx context.Context, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA wal_autocheckpoint = 1000",
	}
	for _, p := range pragmas {
		if _, err := e.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := e.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		// A read-only filesystem (or an in-memory DB) can't enable WAL.
		// Spec §4.1: warn and continue rather than fail startup.
		e.log.Printf("warning: could not enable WAL journal mode: %v", err)
		e.walEnabled = false
		return nil
	}
	e.walEnabled = true
	return nil
}

// probeVectorSupport attempts to exercise a native vector extension. Most
// builds of modernc.org/sqlite carry no vector extension, so this almost
// always degrades to false; the probe is kept so a future build tag or
// loaded extension is picked up automatically without code changes.
func (e *Engine) probeVectorSupport(ctx context.Context) bool {
	_, err := e.db.ExecContext(ctx, "SELECT vec_version()")
	return err == nil
}

// HasVectorSupport reports whether vector-dependent code paths (vector KNN,
// vector migrations) are usable in this process.
func (e *Engine) HasVectorSupport() bool { return e.hasVectorSupport }

// WALEnabled reports whether write-ahead logging is active.
func (e *Engine) WALEnabled() bool { return e.walEnabled }

// DB returns the shared connection for repository construction.
func (e *Engine) DB() *sql.DB { return e.db }

// Checkpoint issues a passive WAL checkpoint; called during teardown so the
// WAL file is folded back into the main database file before close.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if !e.walEnabled {
		return nil
	}
	_, err := e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// Close checkpoints and closes the database connection. Safe to call
// multiple times.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Checkpoint(ctx); err != nil {
		e.log.Printf("warning: checkpoint on close failed: %v", err)
	}
	return e.db.Close()
}

// retryBusy runs fn, retrying with exponential backoff on SQLITE_BUSY-style
// contention (the teacher's beginImmediateWithRetry, generalized via the
// backoff library). Nothing in the package calls it; transactions rely on
// busy_timeout alone.
func retryBusy(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, b)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
