// Package memory provides an in-memory store implementation for development
// and testing. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// Store keeps all records in process memory behind a single mutex.
type Store struct {
	mu       sync.Mutex
	projects map[string]models.GuestProject
	jobs     map[string]models.Job
	monitors map[string]models.Monitor
	seq      map[string]int
	nextSeq  int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		projects: make(map[string]models.GuestProject),
		jobs:     make(map[string]models.Job),
		monitors: make(map[string]models.Monitor),
		seq:      make(map[string]int),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// --- Projects ---

// CreateProject stores a new guest project.
func (s *Store) CreateProject(_ context.Context, p models.GuestProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.APIKeyHash == p.APIKeyHash {
			return store.ErrDuplicateKeyHash
		}
	}
	s.projects[p.ID] = p
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, id string) (models.GuestProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return models.GuestProject{}, store.ErrNotFound
	}
	return p, nil
}

// GetProjectByKeyHash resolves a project from its hashed credential.
func (s *Store) GetProjectByKeyHash(_ context.Context, hash string) (models.GuestProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.APIKeyHash == hash {
			return p, nil
		}
	}
	return models.GuestProject{}, store.ErrNotFound
}

// ExpiredProjects lists projects whose expiry is at or before now.
func (s *Store) ExpiredProjects(_ context.Context, now time.Time) ([]models.GuestProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GuestProject
	for _, p := range s.projects {
		if p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// DeleteProjects removes the given projects, returning how many existed.
func (s *Store) DeleteProjects(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.projects[id]; ok {
			delete(s.projects, id)
			n++
		}
	}
	return n, nil
}

// --- Jobs ---

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, j models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	s.seq[j.ID] = s.nextSeq
	s.nextSeq++
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return j, nil
}

// ClaimNextJob atomically moves the oldest queued job of the type to running.
func (s *Store) ClaimNextJob(_ context.Context, typ models.JobType, now time.Time) (models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  models.Job
		found bool
	)
	for _, j := range s.jobs {
		if j.Type != typ || j.Status != models.JobStatusQueued {
			continue
		}
		if !found || j.CreatedAt.Before(best.CreatedAt) ||
			(j.CreatedAt.Equal(best.CreatedAt) && s.seq[j.ID] < s.seq[best.ID]) {
			best = j
			found = true
		}
	}
	if !found {
		return models.Job{}, false, nil
	}

	started := now
	best.Status = models.JobStatusRunning
	best.StartedAt = &started
	s.jobs[best.ID] = best
	return best, true, nil
}

// CompleteJob finalizes a job as done.
func (s *Store) CompleteJob(_ context.Context, id, fileURL string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusDone
	j.ResultFileURL = fileURL
	j.ErrorMessage = ""
	j.FinishedAt = &finishedAt
	s.jobs[id] = j
	return nil
}

// FailJob finalizes a job as error.
func (s *Store) FailJob(_ context.Context, id, message string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusError
	j.ErrorMessage = message
	j.ResultFileURL = ""
	j.FinishedAt = &finishedAt
	s.jobs[id] = j
	return nil
}

// JobsForProjects lists all jobs owned by any of the given projects.
func (s *Store) JobsForProjects(_ context.Context, projectIDs []string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		owned[id] = struct{}{}
	}
	var out []models.Job
	for _, j := range s.jobs {
		if _, ok := owned[j.GuestProjectID]; ok {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

// DeleteJobsForProjects removes all jobs owned by the given projects.
func (s *Store) DeleteJobsForProjects(_ context.Context, projectIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		owned[id] = struct{}{}
	}
	var n int64
	for id, j := range s.jobs {
		if _, ok := owned[j.GuestProjectID]; ok {
			delete(s.jobs, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

// --- Monitors ---

// CreateMonitor inserts a monitor, enforcing the per-project cap.
func (s *Store) CreateMonitor(_ context.Context, m models.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, existing := range s.monitors {
		if existing.GuestProjectID == m.GuestProjectID {
			count++
		}
	}
	if count >= models.MonitorsPerProjectCap {
		return store.ErrMonitorLimit
	}
	m.Headers = cloneHeaders(m.Headers)
	s.monitors[m.ID] = m
	s.seq[m.ID] = s.nextSeq
	s.nextSeq++
	return nil
}

// GetMonitor fetches a monitor scoped to its owning project.
func (s *Store) GetMonitor(_ context.Context, id, projectID string) (models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok || m.GuestProjectID != projectID {
		return models.Monitor{}, store.ErrNotFound
	}
	m.Headers = cloneHeaders(m.Headers)
	return m, nil
}

// ListMonitors returns a project's monitors, newest first.
func (s *Store) ListMonitors(_ context.Context, projectID string) ([]models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Monitor
	for _, m := range s.monitors {
		if m.GuestProjectID == projectID {
			m.Headers = cloneHeaders(m.Headers)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] > s.seq[out[j].ID] })
	return out, nil
}

// UpdateMonitor rewrites a monitor's configuration fields.
func (s *Store) UpdateMonitor(_ context.Context, m models.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.monitors[m.ID]
	if !ok || existing.GuestProjectID != m.GuestProjectID {
		return store.ErrNotFound
	}
	existing.Name = m.Name
	existing.URL = m.URL
	existing.Method = m.Method
	existing.IntervalSec = m.IntervalSec
	existing.TimeoutMs = m.TimeoutMs
	existing.FollowRedirects = m.FollowRedirects
	existing.Headers = cloneHeaders(m.Headers)
	existing.IsActive = m.IsActive
	existing.LastStatus = m.LastStatus
	existing.UpdatedAt = m.UpdatedAt
	s.monitors[m.ID] = existing
	return nil
}

// DeleteMonitor removes a monitor scoped to its owning project.
func (s *Store) DeleteMonitor(_ context.Context, id, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok || m.GuestProjectID != projectID {
		return store.ErrNotFound
	}
	delete(s.monitors, id)
	delete(s.seq, id)
	return nil
}

// DueMonitors selects active due monitors ordered oldest-due first.
func (s *Store) DueMonitors(_ context.Context, now time.Time, limit int) ([]models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Monitor
	for _, m := range s.monitors {
		if m.Due(now) {
			m.Headers = cloneHeaders(m.Headers)
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt().Before(due[j].NextDueAt()) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// WriteCheckResult records one check outcome on its monitor.
func (s *Store) WriteCheckResult(_ context.Context, id string, res store.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return store.ErrNotFound
	}
	checkedAt := res.CheckedAt
	rt := res.ResponseTimeMs
	m.LastStatus = res.Status
	m.LastCheckedAt = &checkedAt
	m.LastResponseTimeMs = &rt
	m.LastHTTPStatus = res.HTTPStatus
	m.LastError = res.Error
	s.monitors[id] = m
	return nil
}

// DeleteMonitorsForProjects removes all monitors owned by the given projects.
func (s *Store) DeleteMonitorsForProjects(_ context.Context, projectIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		owned[id] = struct{}{}
	}
	var n int64
	for id, m := range s.monitors {
		if _, ok := owned[m.GuestProjectID]; ok {
			delete(s.monitors, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
