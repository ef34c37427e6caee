// Command laminarkd is the Laminark daemon: it owns the project's SQLite
// store and runs the enrichment and curation background loops. It starts no
// query server: hybrid search and graph queries are library calls into the
// internal packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/laminark/laminark/internal/config"
	"github.com/laminark/laminark/internal/curation"
	"github.com/laminark/laminark/internal/debugpath"
	"github.com/laminark/laminark/internal/embedding"
	"github.com/laminark/laminark/internal/enrich"
	"github.com/laminark/laminark/internal/graph"
	"github.com/laminark/laminark/internal/ids"
	"github.com/laminark/laminark/internal/scheduler"
	"github.com/laminark/laminark/internal/storage"
	"github.com/laminark/laminark/internal/topic"
)

const shutdownGrace = 5 * time.Second

func main() {
	projectDir := flag.String("project", ".", "project directory to watch")
	dbPath := flag.String("db", "", "sqlite database path (default: <project>/.laminark/laminark.db)")
	flag.Parse()

	logger := log.New(os.Stderr, "laminarkd: ", log.LstdFlags)

	if err := run(*projectDir, *dbPath, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(projectDir, dbPathFlag string, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	projectHash, err := ids.ProjectHash(absProject)
	if err != nil {
		return fmt.Errorf("compute project hash: %w", err)
	}

	cfg, err := config.Load(filepath.Join(absProject, ".laminark"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := dbPathFlag
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	if dbPath == "" {
		dbPath = filepath.Join(absProject, ".laminark", "laminark.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	engine, err := storage.Open(ctx, storage.Options{Path: dbPath, Logger: logger})
	if err != nil {
		return fmt.Errorf("open storage engine: %w", err)
	}
	defer engine.Close(context.Background())

	db := engine.DB()
	observations, err := storage.NewObservationRepo(db, projectHash)
	if err != nil {
		return fmt.Errorf("init observation repo: %w", err)
	}
	sessions := storage.NewSessionRepo(db, projectHash)
	stashes := storage.NewStashRepo(db, absProject)
	thresholds := storage.NewThresholdRepo(db, projectHash)
	notifications := storage.NewNotificationRepo(db, absProject)
	research := storage.NewResearchRepo(db, projectHash)
	tools := storage.NewToolRegistryRepo(db)
	graphRepo := storage.NewGraphRepo(db, projectHash)
	debugPaths := storage.NewDebugPathRepo(db, projectHash)
	staleness := storage.NewStalenessRepo(db, projectHash)
	metadata := storage.NewMetadataRepo(db, projectHash)

	_ = metadata.SetVectorCapability(ctx, engine.HasVectorSupport())

	session, err := sessions.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	var embedder embedding.Engine = embedding.NoopEngine{}
	if len(cfg.EmbeddingCommand) > 0 {
		worker, err := embedding.Start(ctx, embedding.Options{Command: cfg.EmbeddingCommand, Logger: logger})
		if err != nil {
			logger.Printf("embedding worker unavailable, continuing keyword-only: %v", err)
		} else {
			embedder = worker
			defer worker.Shutdown(shutdownGrace)
		}
	}

	topicWatcher, err := config.NewTopicWatcher(filepath.Join(absProject, ".laminark"))
	if err != nil {
		logger.Printf("topic config watcher unavailable, using defaults: %v", err)
	} else {
		defer topicWatcher.Close()
	}
	sensitivity := topic.SensitivityBalanced
	if topicWatcher != nil {
		sensitivity = config.SensitivityValue(topicWatcher.Current().Sensitivity)
	}

	detector, err := topic.NewDetector(ctx, observations, thresholds, stashes, notifications, projectHash, absProject, sensitivity)
	if err != nil {
		return fmt.Errorf("init topic detector: %w", err)
	}

	debugMachine := debugpath.NewStateMachine(debugPaths)
	if err := debugMachine.Recover(ctx); err != nil {
		logger.Printf("debug path recovery failed: %v", err)
	}

	linker := graph.NewLinker(graphRepo)

	pipeline := &enrich.Pipeline{
		Observations: observations,
		Embedder:     embedder,
		Shift:        detector,
		Graph:        linker,
		DebugPath:    debugMachine,
		Log:          logger,
	}

	agent := &curation.Agent{
		Observations: observations,
		Graph:        graphRepo,
		Staleness:    staleness,
		Tools:        tools,
		Stashes:      stashes,
		ProjectHash:  projectHash,
		Log:          logger,
	}

	sched := scheduler.New(ctx, logger)
	sched.Go(pipeline.Run)
	sched.Go(agent.Run)
	sched.GoResearchFlush(research, observations, session.ID)

	logger.Printf("laminarkd started: project=%s db=%s vector_support=%v", absProject, dbPath, engine.HasVectorSupport())

	<-ctx.Done()
	logger.Printf("shutting down")

	sched.Stop()
	waitErr := sched.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := detector.Close(closeCtx, &session.ID); err != nil {
		logger.Printf("topic detector close: %v", err)
	}
	if err := sessions.Close(closeCtx, session.ID, nil); err != nil {
		logger.Printf("session close: %v", err)
	}

	return waitErr
}
