// Package store defines the persistence interfaces for guest projects, jobs
// and monitors. By programming against interfaces the workers and the API can
// run on Postgres in production and on the in-memory store in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/monitorify/monitorify/internal/models"
)

// ErrNotFound is returned when a record does not exist (or is not owned by
// the requesting project).
var ErrNotFound = errors.New("resource not found")

// ErrMonitorLimit is returned when a project already holds the maximum number
// of monitors.
var ErrMonitorLimit = errors.New("monitor limit reached")

// ErrDuplicateKeyHash is returned when a project with the same API key hash
// already exists.
var ErrDuplicateKeyHash = errors.New("duplicate API key hash")

// CheckResult is the outcome of one monitor health check. Every check writes
// all fields together; HTTPStatus is nil on network-level failures.
type CheckResult struct {
	Status         models.MonitorStatus
	CheckedAt      time.Time
	ResponseTimeMs int64
	HTTPStatus     *int
	Error          string
}

// ProjectStore persists guest project credentials.
type ProjectStore interface {
	CreateProject(ctx context.Context, p models.GuestProject) error
	GetProject(ctx context.Context, id string) (models.GuestProject, error)
	GetProjectByKeyHash(ctx context.Context, hash string) (models.GuestProject, error)

	// ExpiredProjects returns every project whose expiry is at or before now.
	ExpiredProjects(ctx context.Context, now time.Time) ([]models.GuestProject, error)
	DeleteProjects(ctx context.Context, ids []string) (int64, error)
}

// JobStore persists rendering jobs and implements the atomic claim used by
// the job queue workers.
type JobStore interface {
	CreateJob(ctx context.Context, j models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)

	// ClaimNextJob atomically selects the oldest queued job of the given type
	// and moves it to running, stamping StartedAt. Under concurrent claims
	// exactly one caller receives any given job. The second return value is
	// false when no queued job of that type exists.
	ClaimNextJob(ctx context.Context, typ models.JobType, now time.Time) (models.Job, bool, error)

	// CompleteJob finalizes a running job as done with its artifact URL.
	CompleteJob(ctx context.Context, id, fileURL string, finishedAt time.Time) error
	// FailJob finalizes a running job as error. Failures are terminal.
	FailJob(ctx context.Context, id, message string, finishedAt time.Time) error

	JobsForProjects(ctx context.Context, projectIDs []string) ([]models.Job, error)
	DeleteJobsForProjects(ctx context.Context, projectIDs []string) (int64, error)
}

// MonitorStore persists monitor configurations and last-check state.
type MonitorStore interface {
	// CreateMonitor inserts a monitor, enforcing the per-project cap
	// atomically; concurrent creates never exceed it.
	CreateMonitor(ctx context.Context, m models.Monitor) error
	GetMonitor(ctx context.Context, id, projectID string) (models.Monitor, error)
	ListMonitors(ctx context.Context, projectID string) ([]models.Monitor, error)

	// UpdateMonitor rewrites the owner-editable configuration (and the
	// pause/resume status transition). The last* check fields are left to
	// WriteCheckResult.
	UpdateMonitor(ctx context.Context, m models.Monitor) error
	DeleteMonitor(ctx context.Context, id, projectID string) error

	// DueMonitors returns active monitors whose interval has elapsed (or that
	// were never checked), ordered oldest-due first, at most limit entries.
	DueMonitors(ctx context.Context, now time.Time, limit int) ([]models.Monitor, error)

	// WriteCheckResult records one check outcome; all last* fields are
	// written together.
	WriteCheckResult(ctx context.Context, id string, res CheckResult) error

	DeleteMonitorsForProjects(ctx context.Context, projectIDs []string) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	ProjectStore
	JobStore
	MonitorStore

	Ping(ctx context.Context) error
}
