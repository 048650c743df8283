package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/fieldsurvey/internal/capture"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/core"
	"github.com/joseph-ayodele/fieldsurvey/internal/core/async"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
	"github.com/joseph-ayodele/fieldsurvey/internal/geo"
	"github.com/joseph-ayodele/fieldsurvey/internal/imaging"
	"github.com/joseph-ayodele/fieldsurvey/internal/reclaim"
	repo "github.com/joseph-ayodele/fieldsurvey/internal/repository"
)

const (
	shutdownGrace = 30 * time.Second
	orphanGrace   = time.Minute
)

func main() {
	cfg := common.LoadConfig()
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	staticFix, err := geo.ParseFix(cfg.Geo.StaticFix)
	if err != nil {
		logger.Error("invalid GEO_STATIC_FIX", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, staticFix, logger)
	stop()
	if err != nil {
		logger.Error("fieldsurveyd stopped with error", "error", err)
		os.Exit(1)
	}
}

// run serves the pipeline until ctx is done. Every resource it opens is
// released before it returns.
func run(ctx context.Context, cfg *common.Config, staticFix *entity.Coordinate, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repo.Open(ctx, repo.ConfigFrom(cfg.Database), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close(db, logger)

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if n := imaging.RemovePartials(cfg.Storage.DataDir); n > 0 {
		logger.Info("removed partial outputs", "count", n)
	}
	if err := os.MkdirAll(cfg.Storage.InboxDir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	if n := capture.RemoveOrphanSidecars(cfg.Storage.InboxDir, orphanGrace); n > 0 {
		logger.Info("removed orphan sidecars", "count", n)
	}

	jobsRepo := repo.NewJobRepository(db, logger)
	transformer := imaging.NewTransformer(imaging.Options{
		MaxWidth:      cfg.Transform.MaxWidth,
		JPEGQuality:   cfg.Transform.JPEGQuality,
		OutputDir:     cfg.Storage.DataDir,
		Operator:      cfg.Transform.Operator,
		HeicConverter: cfg.Transform.HeicConverter,
	}, logger)
	processor := core.NewProcessor(logger, jobsRepo, transformer, cfg.Database.WriteRetries)

	queue := async.NewProcessorQueue(processor, logger,
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		async.WithStatusFunc(func(msg string) {
			logger.Info("queue.status", "message", msg)
		}),
	)
	defer func() {
		logger.Info("shutting down", "pending", queue.Pending())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		queue.Shutdown(shutdownCtx)
	}()

	locator := geo.NewSource(geo.StaticSensor{Fix: staticFix}, cfg.Geo.FixTimeout, logger)
	boundary := capture.NewBoundary(processor, queue, locator, cfg.Storage.DataDir, logger)
	reclaimer := reclaim.NewReclaimer(cfg.Storage.ScratchDir, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := queue.RunRecovery(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// unfinished jobs stay in the store for the next start
			logger.Error("recovery sweep failed", "error", err)
			return nil
		}
		logger.Info("recovery sweep queued", "jobs", n)
		return nil
	})

	g.Go(func() error {
		if stats, ok := <-reclaimer.Start(gctx); ok {
			logger.Info("scratch reclaimed",
				"scanned", stats.Scanned,
				"deleted", stats.Deleted,
				"failed", stats.Failed)
		}
		return nil
	})

	// Captures that failed to import on an earlier run are still in the
	// inbox; the initial scan picks them up.
	g.Go(func() error {
		paths, watchErrs, err := capture.StartWatcher(gctx, capture.WatchConfig{
			Roots:       []string{cfg.Storage.InboxDir},
			InitialScan: true,
			Debounce:    500 * time.Millisecond,
		}, logger)
		if err != nil {
			return fmt.Errorf("watch inbox: %w", err)
		}
		go func() {
			for err := range watchErrs {
				logger.Warn("inbox watcher error", "error", err)
			}
		}()

		logger.Info("fieldsurveyd watching inbox", "dir", cfg.Storage.InboxDir)
		boundary.Serve(gctx, paths)
		return nil
	})

	return g.Wait()
}
