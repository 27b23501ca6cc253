package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
	"github.com/monitorify/monitorify/internal/store/memory"
)

func TestClaimNextJobFIFO(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateJob(ctx, models.Job{
			ID:        fmt.Sprintf("job-%d", i),
			Type:      models.JobTypeScreenshot,
			Status:    models.JobStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	// A queued job of a different type must never be claimed here.
	require.NoError(t, s.CreateJob(ctx, models.Job{
		ID:        "pdf-0",
		Type:      models.JobTypeURL2PDF,
		Status:    models.JobStatusQueued,
		CreatedAt: base,
	}))

	now := base.Add(time.Minute)
	for i := 0; i < 3; i++ {
		job, ok, err := s.ClaimNextJob(ctx, models.JobTypeScreenshot, now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
		assert.Equal(t, models.JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.Equal(t, now, *job.StartedAt)
	}

	_, ok, err := s.ClaimNextJob(ctx, models.JobTypeScreenshot, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimNextJobSingleWinner(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, models.Job{
		ID:        "contested",
		Type:      models.JobTypeScreenshot,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))

	const claimants = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(claimants)
	for i := 0; i < claimants; i++ {
		go func() {
			defer wg.Done()
			_, ok, err := s.ClaimNextJob(ctx, models.JobTypeScreenshot, time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestCompleteAndFailJob(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "a", Type: models.JobTypeScreenshot, Status: models.JobStatusQueued, CreatedAt: now}))
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "b", Type: models.JobTypeScreenshot, Status: models.JobStatusQueued, CreatedAt: now}))

	require.NoError(t, s.CompleteJob(ctx, "a", "/uploads/shot_aa.png", now))
	job, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, "/uploads/shot_aa.png", job.ResultFileURL)
	assert.Empty(t, job.ErrorMessage)
	require.NotNil(t, job.FinishedAt)

	require.NoError(t, s.FailJob(ctx, "b", "navigation timed out", now))
	job, err = s.GetJob(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "navigation timed out", job.ErrorMessage)
	assert.Empty(t, job.ResultFileURL)
	require.NotNil(t, job.FinishedAt)

	assert.ErrorIs(t, s.CompleteJob(ctx, "missing", "", now), store.ErrNotFound)
}

func TestMonitorCapUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	const attempts = 12
	var created int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			err := s.CreateMonitor(ctx, models.Monitor{
				ID:             fmt.Sprintf("mon-%d", i),
				GuestProjectID: "proj",
				URL:            "https://example.com",
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, store.ErrMonitorLimit)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(models.MonitorsPerProjectCap), created)

	monitors, err := s.ListMonitors(ctx, "proj")
	require.NoError(t, err)
	assert.Len(t, monitors, models.MonitorsPerProjectCap)
}

func TestDueMonitorsSelectionAndOrder(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	checked := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "overdue", GuestProjectID: "p1", IsActive: true,
		IntervalSec: 900, LastCheckedAt: checked(2000 * time.Second),
	}))
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "fresh", GuestProjectID: "p1", IsActive: true,
		IntervalSec: 900, LastCheckedAt: checked(10 * time.Second),
	}))
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "never-checked", GuestProjectID: "p1", IsActive: true, IntervalSec: 900,
	}))
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "inactive", GuestProjectID: "p1", IsActive: false,
		IntervalSec: 60, LastCheckedAt: checked(time.Hour),
	}))

	due, err := s.DueMonitors(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Never-checked monitors sort before everything else.
	assert.Equal(t, "never-checked", due[0].ID)
	assert.Equal(t, "overdue", due[1].ID)

	due, err = s.DueMonitors(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "never-checked", due[0].ID)
}

func TestWriteCheckResult(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "mon", GuestProjectID: "p1", IsActive: true, IntervalSec: 900,
	}))

	now := time.Now().UTC()
	status := 301
	require.NoError(t, s.WriteCheckResult(ctx, "mon", store.CheckResult{
		Status:         models.MonitorStatusDown,
		CheckedAt:      now,
		ResponseTimeMs: 42,
		HTTPStatus:     &status,
		Error:          "HTTP 301",
	}))

	m, err := s.GetMonitor(ctx, "mon", "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MonitorStatusDown, m.LastStatus)
	require.NotNil(t, m.LastCheckedAt)
	assert.Equal(t, now, *m.LastCheckedAt)
	require.NotNil(t, m.LastResponseTimeMs)
	assert.Equal(t, int64(42), *m.LastResponseTimeMs)
	require.NotNil(t, m.LastHTTPStatus)
	assert.Equal(t, 301, *m.LastHTTPStatus)
	assert.Equal(t, "HTTP 301", m.LastError)
}

func TestExpiredProjectsAndCascade(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateProject(ctx, models.GuestProject{
		ID: "old", APIKeyHash: "h1", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateProject(ctx, models.GuestProject{
		ID: "live", APIKeyHash: "h2", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "j1", GuestProjectID: "old", Status: models.JobStatusDone, CreatedAt: now}))
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "j2", GuestProjectID: "live", Status: models.JobStatusQueued, CreatedAt: now}))
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{ID: "m1", GuestProjectID: "old"}))

	expired, err := s.ExpiredProjects(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	jobs, err := s.JobsForProjects(ctx, []string{"old"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)

	nJobs, err := s.DeleteJobsForProjects(ctx, []string{"old"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), nJobs)

	nMons, err := s.DeleteMonitorsForProjects(ctx, []string{"old"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), nMons)

	nProjects, err := s.DeleteProjects(ctx, []string{"old"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), nProjects)

	// Untouched project and its job survive.
	_, err = s.GetProject(ctx, "live")
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, "j2")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.CreateProject(ctx, models.GuestProject{ID: "dup", APIKeyHash: "h2"}), store.ErrDuplicateKeyHash)
}

func TestMonitorPauseResumeUpdate(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateMonitor(ctx, models.Monitor{
		ID: "mon", GuestProjectID: "p1", IsActive: true,
		LastStatus: models.MonitorStatusUp, IntervalSec: 900,
	}))

	m, err := s.GetMonitor(ctx, "mon", "p1")
	require.NoError(t, err)
	m.IsActive = false
	m.LastStatus = models.MonitorStatusPaused
	require.NoError(t, s.UpdateMonitor(ctx, m))

	got, err := s.GetMonitor(ctx, "mon", "p1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, models.MonitorStatusPaused, got.LastStatus)

	// Wrong owner never sees the record.
	_, err = s.GetMonitor(ctx, "mon", "other")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
