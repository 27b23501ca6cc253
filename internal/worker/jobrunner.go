package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/blob"
	"github.com/monitorify/monitorify/internal/guard"
	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/render"
	"github.com/monitorify/monitorify/internal/store"
)

// JobRunnerConfig controls one job queue runner.
type JobRunnerConfig struct {
	Type          models.JobType
	PollInterval  time.Duration
	RenderTimeout time.Duration
}

// JobRunner polls the queue for one job type, claims the oldest queued job
// and executes it to a terminal state. A failed job never crashes the loop.
type JobRunner struct {
	cfg      JobRunnerConfig
	jobs     store.JobStore
	projects store.ProjectStore
	blobs    blob.Store
	renderer render.Renderer
	clock    Clock
	logger   *zap.Logger

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewJobRunner constructs a runner for one job type.
func NewJobRunner(
	cfg JobRunnerConfig,
	jobs store.JobStore,
	projects store.ProjectStore,
	blobs blob.Store,
	renderer render.Renderer,
	clock Clock,
	logger *zap.Logger,
) *JobRunner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	return &JobRunner{
		cfg:      cfg,
		jobs:     jobs,
		projects: projects,
		blobs:    blobs,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
	}
}

// Start launches the poll loop until Stop is called or ctx finishes.
func (r *JobRunner) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.Tick(loopCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight job to finish.
func (r *JobRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Tick claims and executes at most one job. Overlapping ticks are skipped.
func (r *JobRunner) Tick(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer r.inFlight.Store(false)

	job, ok, err := r.jobs.ClaimNextJob(ctx, r.cfg.Type, r.clock.Now())
	if err != nil {
		r.logger.Error("job claim failed",
			zap.String("type", string(r.cfg.Type)), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	r.execute(ctx, job)
}

func (r *JobRunner) execute(ctx context.Context, job models.Job) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	start := time.Now()

	fileURL, message := r.run(ctx, job)

	finishedAt := r.clock.Now()
	if message == "" {
		if err := r.jobs.CompleteJob(ctx, job.ID, fileURL, finishedAt); err != nil {
			r.logger.Error("job completion write failed",
				zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		metrics.ObserveJob(string(job.Type), string(models.JobStatusDone), time.Since(start))
		r.logger.Info("job done",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.String("file_url", fileURL))
		return
	}

	if err := r.jobs.FailJob(ctx, job.ID, message, finishedAt); err != nil {
		r.logger.Error("job failure write failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Type), string(models.JobStatusError), time.Since(start))
	r.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("reason", message))
}

// run executes the claimed job and returns either a file URL or a
// user-facing failure message.
func (r *JobRunner) run(ctx context.Context, job models.Job) (string, string) {
	project, err := r.projects.GetProject(ctx, job.GuestProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", "Project not found"
	}
	if err != nil {
		r.logger.Error("project lookup failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return "", "Project lookup failed"
	}

	// The allowlist is enforced again at execution time; the project URL may
	// have been minted for a different domain than the job target.
	if err := guard.AllowedHost(project.WebsiteURL, job.Payload.URL); err != nil {
		if errors.Is(err, guard.ErrDomainNotAllowed) {
			return "", "URL is not allowed for this project"
		}
		return "", "Invalid target URL"
	}

	renderCtx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	var (
		data      []byte
		prefix    string
		ext       string
		renderErr error
	)
	switch job.Type {
	case models.JobTypeScreenshot:
		prefix, ext = "shot", "png"
		data, renderErr = r.renderer.Screenshot(renderCtx, job.Payload.URL, render.ScreenshotOptions{
			Width:    job.Payload.Width,
			Height:   job.Payload.Height,
			FullPage: job.Payload.FullPage,
		})
	case models.JobTypeURL2PDF:
		prefix, ext = "pdf", "pdf"
		opts := render.PDFOptions{
			Format:          job.Payload.Format,
			Landscape:       job.Payload.Landscape,
			PrintBackground: job.Payload.PrintBackground,
		}
		if job.Payload.Margins != nil {
			opts.Margins = *job.Payload.Margins
		}
		data, renderErr = r.renderer.PDF(renderCtx, job.Payload.URL, opts)
	default:
		return "", "Unsupported job type"
	}

	if renderErr != nil {
		if errors.Is(renderErr, context.DeadlineExceeded) {
			return "", "Rendering timed out"
		}
		r.logger.Warn("render failed",
			zap.String("job_id", job.ID), zap.Error(renderErr))
		return "", "Rendering failed"
	}

	name, err := blob.NewArtifactName(prefix, ext)
	if err != nil {
		return "", "Failed to store artifact"
	}
	fileURL, err := r.blobs.Put(ctx, name, data)
	if err != nil {
		r.logger.Error("artifact write failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return "", "Failed to store artifact"
	}
	return fileURL, ""
}
