package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// CheckRunner grades one monitor. Satisfied by *Checker and by test fakes.
type CheckRunner interface {
	Check(ctx context.Context, m models.Monitor) store.CheckResult
}

// MonitorSchedulerConfig controls the due-selection loop.
type MonitorSchedulerConfig struct {
	PollInterval time.Duration
	BatchLimit   int
	Concurrency  int
}

// MonitorScheduler periodically selects due monitors and checks them with
// bounded concurrency. A slow batch never overlaps the next tick.
type MonitorScheduler struct {
	cfg      MonitorSchedulerConfig
	monitors store.MonitorStore
	checker  CheckRunner
	clock    Clock
	logger   *zap.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitorScheduler constructs the scheduler.
func NewMonitorScheduler(
	cfg MonitorSchedulerConfig,
	monitors store.MonitorStore,
	checker CheckRunner,
	clock Clock,
	logger *zap.Logger,
) *MonitorScheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &MonitorScheduler{
		cfg:      cfg,
		monitors: monitors,
		checker:  checker,
		clock:    clock,
		logger:   logger,
	}
}

// Start launches the scheduler loop until Stop is called or ctx finishes.
func (s *MonitorScheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Tick(loopCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for the current batch to finish.
func (s *MonitorScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick checks one batch of due monitors. Overlapping ticks are skipped.
func (s *MonitorScheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	due, err := s.monitors.DueMonitors(ctx, s.clock.Now(), s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("due monitor selection failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, m := range due {
		m := m
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.checkOne(ctx, m)
		}()
	}
	wg.Wait()
}

func (s *MonitorScheduler) checkOne(ctx context.Context, m models.Monitor) {
	start := time.Now()
	result := s.checker.Check(ctx, m)
	metrics.ObserveMonitorCheck(string(result.Status), time.Since(start))

	if err := s.monitors.WriteCheckResult(ctx, m.ID, result); err != nil {
		s.logger.Error("check result write failed",
			zap.String("monitor_id", m.ID), zap.Error(err))
		return
	}
	s.logger.Debug("monitor checked",
		zap.String("monitor_id", m.ID),
		zap.String("status", string(result.Status)),
		zap.Int64("response_time_ms", result.ResponseTimeMs))
}
