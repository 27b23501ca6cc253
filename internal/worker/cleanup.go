package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/blob"
	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// OrphanPrefixes are the artifact filename prefixes the orphan sweep owns.
var OrphanPrefixes = []string{"shot_", "pdf_", "preview_"}

// CleanupSweeperConfig controls sweep cadence and the orphan age cutoff.
type CleanupSweeperConfig struct {
	Interval     time.Duration
	OrphanMaxAge time.Duration
}

// CleanupSweeper removes expired guest projects with everything they own,
// and stray upload files nothing references anymore. It runs once at startup
// and then on an interval.
type CleanupSweeper struct {
	cfg    CleanupSweeperConfig
	stores store.Store
	blobs  blob.Store
	clock  Clock
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleanupSweeper constructs the sweeper.
func NewCleanupSweeper(
	cfg CleanupSweeperConfig,
	stores store.Store,
	blobs blob.Store,
	clock Clock,
	logger *zap.Logger,
) *CleanupSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.OrphanMaxAge <= 0 {
		cfg.OrphanMaxAge = 48 * time.Hour
	}
	return &CleanupSweeper{
		cfg:    cfg,
		stores: stores,
		blobs:  blobs,
		clock:  clock,
		logger: logger,
	}
}

// Start runs one sweep immediately, then sweeps on the configured interval.
func (s *CleanupSweeper) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sweep(loopCtx)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(loopCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *CleanupSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep runs the expiry sweep and the orphan sweep. Each is isolated; one
// failing never stops the other.
func (s *CleanupSweeper) Sweep(ctx context.Context) {
	s.sweepExpired(ctx)
	s.sweepOrphans(ctx)
}

func (s *CleanupSweeper) sweepExpired(ctx context.Context) {
	now := s.clock.Now()
	expired, err := s.stores.ExpiredProjects(ctx, now)
	if err != nil {
		s.logger.Error("expired project selection failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	ids := make([]string, 0, len(expired))
	for _, p := range expired {
		ids = append(ids, p.ID)
	}

	// Artifact files first, while the owning job rows still exist. Deletes
	// are best effort; a missing file is not an error.
	var files int64
	jobs, err := s.stores.JobsForProjects(ctx, ids)
	if err != nil {
		s.logger.Error("expired job listing failed", zap.Error(err))
	} else {
		for _, job := range jobs {
			if job.Status != models.JobStatusDone || job.ResultFileURL == "" {
				continue
			}
			if err := s.blobs.Delete(ctx, blob.BaseName(job.ResultFileURL)); err != nil {
				s.logger.Warn("artifact delete failed",
					zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			files++
		}
	}

	nJobs, err := s.stores.DeleteJobsForProjects(ctx, ids)
	if err != nil {
		s.logger.Error("expired job delete failed", zap.Error(err))
	}
	nMonitors, err := s.stores.DeleteMonitorsForProjects(ctx, ids)
	if err != nil {
		s.logger.Error("expired monitor delete failed", zap.Error(err))
	}
	nProjects, err := s.stores.DeleteProjects(ctx, ids)
	if err != nil {
		s.logger.Error("expired project delete failed", zap.Error(err))
	}

	metrics.ObserveExpirySweep(nProjects, nJobs, nMonitors, files)
	s.logger.Info("expiry sweep finished",
		zap.Int64("projects", nProjects),
		zap.Int64("jobs", nJobs),
		zap.Int64("monitors", nMonitors),
		zap.Int64("files", files))
}

func (s *CleanupSweeper) sweepOrphans(ctx context.Context) {
	cutoff := s.clock.Now().Add(-s.cfg.OrphanMaxAge)
	removed, err := s.blobs.SweepOlderThan(ctx, cutoff, OrphanPrefixes)
	if err != nil {
		s.logger.Error("orphan sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		metrics.ObserveOrphanSweep(removed)
		s.logger.Info("orphan sweep finished", zap.Int("files", removed))
	}
}
