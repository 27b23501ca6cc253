// Command monitorify runs the guest API server together with the render
// workers, the monitor scheduler and the cleanup sweeper in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/api"
	localblob "github.com/monitorify/monitorify/internal/blob/local"
	"github.com/monitorify/monitorify/internal/clock/system"
	"github.com/monitorify/monitorify/internal/config"
	"github.com/monitorify/monitorify/internal/diagnose"
	"github.com/monitorify/monitorify/internal/id/uuid"
	"github.com/monitorify/monitorify/internal/keys"
	"github.com/monitorify/monitorify/internal/logging"
	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/render"
	"github.com/monitorify/monitorify/internal/store"
	"github.com/monitorify/monitorify/internal/store/memory"
	"github.com/monitorify/monitorify/internal/store/postgres"
	"github.com/monitorify/monitorify/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env vars apply either way)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "monitorify: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stores store.Store
	if cfg.DB.DSN != "" {
		if err := postgres.Migrate(cfg.DB.DSN); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		pgStore, pool, err := postgres.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns, cfg.DB.MinConns)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		stores = pgStore
	} else {
		logger.Warn("no database DSN configured, using in-memory store; data will not survive restarts")
		stores = memory.New()
	}

	blobs, err := localblob.New(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("open uploads directory: %w", err)
	}

	var renderer render.Renderer
	if cfg.Render.Enabled {
		chrome := render.NewChromedp(render.ChromedpConfig{
			DisableGPU:             cfg.Render.DisableGPU,
			IgnoreCertificateError: cfg.Render.IgnoreCertificateError,
		}, logger)
		defer chrome.Close()
		renderer = chrome
	} else {
		logger.Warn("rendering disabled, screenshot and pdf jobs will produce empty artifacts")
		renderer = &render.Stub{}
	}

	clock := system.New()
	idGen := uuid.New()
	hasher := keys.NewHasher(cfg.Auth.KeySalt)
	detector := diagnose.NewHeuristicDetector()
	scorer := diagnose.NewCached(
		diagnose.NewTimingScorer(renderer),
		time.Duration(cfg.Render.ScoreCacheTTLSeconds)*time.Second,
	)

	shotRunner := worker.NewJobRunner(worker.JobRunnerConfig{
		Type:          models.JobTypeScreenshot,
		PollInterval:  cfg.JobPollInterval(),
		RenderTimeout: time.Duration(cfg.Render.ScreenshotTimeoutSec) * time.Second,
	}, stores, stores, blobs, renderer, clock, logger)

	pdfRunner := worker.NewJobRunner(worker.JobRunnerConfig{
		Type:          models.JobTypeURL2PDF,
		PollInterval:  cfg.JobPollInterval(),
		RenderTimeout: time.Duration(cfg.Render.PDFTimeoutSec) * time.Second,
	}, stores, stores, blobs, renderer, clock, logger)

	scheduler := worker.NewMonitorScheduler(worker.MonitorSchedulerConfig{
		PollInterval: cfg.MonitorPollInterval(),
		BatchLimit:   cfg.Monitor.BatchLimit,
		Concurrency:  cfg.Monitor.Concurrency,
	}, stores, worker.NewChecker(clock), clock, logger)

	sweeper := worker.NewCleanupSweeper(worker.CleanupSweeperConfig{
		Interval:     cfg.CleanupInterval(),
		OrphanMaxAge: cfg.OrphanMaxAge(),
	}, stores, blobs, clock, logger)

	shotRunner.Start(ctx)
	defer shotRunner.Stop()
	pdfRunner.Start(ctx)
	defer pdfRunner.Stop()
	scheduler.Start(ctx)
	defer scheduler.Stop()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := api.NewServer(stores, renderer, detector, scorer, hasher, idGen, clock, cfg, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
