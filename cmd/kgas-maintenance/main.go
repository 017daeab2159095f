// Command kgas-maintenance runs the checkpoint retention service. It
// periodically trims each workflow's checkpoint history to the configured
// retention count and removes orphan binary-state blobs. With -watch it
// also reacts to workflow completion events so finished workflows are
// trimmed promptly instead of waiting for the next sweep.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BrianMills2718/kgas/internal/config"
	"github.com/BrianMills2718/kgas/internal/notify"
	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/internal/storage/blobfs"
	"github.com/BrianMills2718/kgas/internal/storage/postgres"
	"github.com/BrianMills2718/kgas/internal/storage/sqlite"
	"github.com/BrianMills2718/kgas/internal/workflow"
)

var (
	configPath = flag.String("config", "", "Path to config file (optional, uses env vars by default)")
	dataPath   = flag.String("data", "", "Data directory path (overrides config)")
	keep       = flag.Int("keep", 0, "Checkpoints to keep per workflow (overrides config)")
	interval   = flag.Duration("interval", 0, "Sweep interval (overrides config)")
	oneshot    = flag.Bool("oneshot", false, "Perform a single sweep and exit")
	watch      = flag.Bool("watch", false, "Also trim workflows as completion events arrive")
)

func main() {
	flag.Parse()

	// Optional .env file for local development.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *dataPath != "" {
		cfg.Storage.DataPath = *dataPath
	}

	keepFinal := cfg.Workflow.KeepCheckpoints
	if *keep > 0 {
		keepFinal = *keep
	}

	intervalFinal := cfg.Workflow.SweepInterval
	if *interval > 0 {
		intervalFinal = *interval
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	checkpoints, err := openCheckpointStore(cfg)
	if err != nil {
		logger.Fatal("failed to open checkpoint store", zap.Error(err))
	}
	defer checkpoints.Close()

	blobs, err := blobfs.NewBlobStore(cfg.Storage.DataPath)
	if err != nil {
		logger.Fatal("failed to open blob store", zap.Error(err))
	}

	tracker := workflow.NewTracker(checkpoints, blobs, workflow.Options{Logger: logger})
	sweeper := &sweeper{
		tracker:     tracker,
		checkpoints: checkpoints,
		keep:        keepFinal,
		logger:      logger,
		// Pace per-workflow cleanup so a sweep over a large backlog does
		// not monopolise the store's write capacity.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *oneshot {
		if err := sweeper.sweep(ctx); err != nil {
			logger.Fatal("sweep failed", zap.Error(err))
		}
		return
	}

	if *watch {
		watcher := notify.NewEventWatcher(cfg.Storage.DataPath, logger, func(eventType, workflowID string) {
			if eventType != workflow.EventCompleted {
				return
			}
			if _, err := tracker.CleanupCheckpoints(ctx, workflowID, keepFinal); err != nil {
				logger.Warn("event-driven cleanup failed",
					zap.String("workflow_id", workflowID),
					zap.Error(err))
			}
		})
		if err := watcher.Start(); err != nil {
			logger.Fatal("failed to start event watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	go sweeper.run(ctx, intervalFinal)

	logger.Info("maintenance service started",
		zap.Duration("interval", intervalFinal),
		zap.Int("keep", keepFinal),
		zap.Bool("watch", *watch))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down maintenance service")
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadConfigFile(*configPath)
	}
	return config.LoadConfig()
}

func openCheckpointStore(cfg *config.Config) (storage.CheckpointStore, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	}
	return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "kgas.db"))
}

type sweeper struct {
	tracker     *workflow.Tracker
	checkpoints storage.CheckpointStore
	keep        int
	logger      *zap.Logger
	limiter     *rate.Limiter
}

func (s *sweeper) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sweep once on startup so restarts don't defer cleanup by a full
	// interval.
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *sweeper) sweep(ctx context.Context) error {
	started := time.Now()

	workflowIDs, err := s.checkpoints.ListWorkflowIDs(ctx)
	if err != nil {
		return err
	}

	deleted := 0
	for _, workflowID := range workflowIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		n, err := s.tracker.CleanupCheckpoints(ctx, workflowID, s.keep)
		if err != nil {
			s.logger.Warn("cleanup failed",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
			continue
		}
		deleted += n
	}

	orphans, err := s.tracker.SweepOrphanBlobs(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("sweep completed",
		zap.Int("workflows", len(workflowIDs)),
		zap.Int("checkpoints_deleted", deleted),
		zap.Int("orphan_blobs_removed", orphans),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}
