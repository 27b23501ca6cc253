// Package postgres provides the Postgres-backed store implementation using
// pgx/v5. The job claim and the monitor cap are enforced database-side so
// concurrent pollers and API instances never race.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

const pgUniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store implements store.Store on Postgres.
type Store struct {
	db DB
}

// Connect opens a pgx pool, verifies connectivity and returns a Store.
func Connect(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, *pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), pool, nil
}

// New constructs a Store from an existing connection (primarily for testing).
func New(db DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// --- Projects ---

// CreateProject inserts a guest project row.
func (s *Store) CreateProject(ctx context.Context, p models.GuestProject) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guest_projects (id, website_url, api_key_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.WebsiteURL, p.APIKeyHash, p.ExpiresAt, p.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return store.ErrDuplicateKeyHash
	}
	if err != nil {
		return fmt.Errorf("insert guest project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (models.GuestProject, error) {
	return s.scanProject(s.db.QueryRow(ctx, `
		SELECT id, website_url, api_key_hash, expires_at, created_at
		FROM guest_projects WHERE id = $1`, id))
}

// GetProjectByKeyHash resolves a project from its hashed credential.
func (s *Store) GetProjectByKeyHash(ctx context.Context, hash string) (models.GuestProject, error) {
	return s.scanProject(s.db.QueryRow(ctx, `
		SELECT id, website_url, api_key_hash, expires_at, created_at
		FROM guest_projects WHERE api_key_hash = $1`, hash))
}

func (s *Store) scanProject(row pgx.Row) (models.GuestProject, error) {
	var p models.GuestProject
	err := row.Scan(&p.ID, &p.WebsiteURL, &p.APIKeyHash, &p.ExpiresAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GuestProject{}, store.ErrNotFound
	}
	if err != nil {
		return models.GuestProject{}, fmt.Errorf("scan guest project: %w", err)
	}
	return p, nil
}

// ExpiredProjects lists projects whose expiry is at or before now.
func (s *Store) ExpiredProjects(ctx context.Context, now time.Time) ([]models.GuestProject, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, website_url, api_key_hash, expires_at, created_at
		FROM guest_projects WHERE expires_at <= $1
		ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("select expired projects: %w", err)
	}
	defer rows.Close()

	var out []models.GuestProject
	for rows.Next() {
		var p models.GuestProject
		if err := rows.Scan(&p.ID, &p.WebsiteURL, &p.APIKeyHash, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expired project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProjects removes the given projects, returning the count deleted.
func (s *Store) DeleteProjects(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM guest_projects WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete guest projects: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Jobs ---

const jobColumns = `id, type, status, guest_project_id, payload,
	result_file_url, error_message, started_at, finished_at, created_at`

// CreateJob inserts a job row in queued state.
func (s *Store) CreateJob(ctx context.Context, j models.Job) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, type, status, guest_project_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.Type, j.Status, j.GuestProjectID, payload, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ClaimNextJob atomically moves the oldest queued job of the given type to
// running. FOR UPDATE SKIP LOCKED guarantees a single claimant per job under
// concurrent pollers.
func (s *Store) ClaimNextJob(ctx context.Context, typ models.JobType, now time.Time) (models.Job, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs SET status = $3, started_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE type = $1 AND status = $4
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		typ, now, models.JobStatusRunning, models.JobStatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, store.ErrNotFound) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// CompleteJob finalizes a running job as done.
func (s *Store) CompleteJob(ctx context.Context, id, fileURL string, finishedAt time.Time) error {
	return s.finalizeJob(ctx, `
		UPDATE jobs SET status = $2, result_file_url = $3, error_message = '', finished_at = $4
		WHERE id = $1`,
		id, models.JobStatusDone, fileURL, finishedAt,
	)
}

// FailJob finalizes a running job as error.
func (s *Store) FailJob(ctx context.Context, id, message string, finishedAt time.Time) error {
	return s.finalizeJob(ctx, `
		UPDATE jobs SET status = $2, error_message = $3, result_file_url = '', finished_at = $4
		WHERE id = $1`,
		id, models.JobStatusError, message, finishedAt,
	)
}

func (s *Store) finalizeJob(ctx context.Context, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// JobsForProjects lists all jobs owned by any of the given projects.
func (s *Store) JobsForProjects(ctx context.Context, projectIDs []string) ([]models.Job, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE guest_project_id = ANY($1)
		ORDER BY created_at ASC`, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("select project jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// DeleteJobsForProjects removes all jobs owned by the given projects.
func (s *Store) DeleteJobsForProjects(ctx context.Context, projectIDs []string) (int64, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE guest_project_id = ANY($1)`, projectIDs)
	if err != nil {
		return 0, fmt.Errorf("delete project jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		j       models.Job
		payload []byte
	)
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.GuestProjectID, &payload,
		&j.ResultFileURL, &j.ErrorMessage, &j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, store.ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	return j, nil
}

// --- Monitors ---

const monitorColumns = `id, guest_project_id, name, url, method, interval_sec,
	timeout_ms, follow_redirects, headers, is_active, last_status,
	last_checked_at, last_response_time_ms, last_http_status, last_error,
	created_at, updated_at`

// CreateMonitor inserts a monitor after counting existing ones under a lock
// on the owning project row, so concurrent creates cannot exceed the cap.
func (s *Store) CreateMonitor(ctx context.Context, m models.Monitor) error {
	headers, err := marshalHeaders(m.Headers)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin monitor create: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var projectID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM guest_projects WHERE id = $1 FOR UPDATE`, m.GuestProjectID,
	).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock project for monitor create: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM monitors WHERE guest_project_id = $1`, m.GuestProjectID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count monitors: %w", err)
	}
	if count >= models.MonitorsPerProjectCap {
		return store.ErrMonitorLimit
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO monitors (id, guest_project_id, name, url, method,
			interval_sec, timeout_ms, follow_redirects, headers, is_active,
			last_status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '', $12, $12)`,
		m.ID, m.GuestProjectID, m.Name, m.URL, m.Method,
		m.IntervalSec, m.TimeoutMs, m.FollowRedirects, headers, m.IsActive,
		m.LastStatus, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit monitor create: %w", err)
	}
	return nil
}

// GetMonitor fetches a monitor scoped to its owning project.
func (s *Store) GetMonitor(ctx context.Context, id, projectID string) (models.Monitor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE id = $1 AND guest_project_id = $2`, id, projectID)
	return scanMonitor(row)
}

// ListMonitors returns a project's monitors, newest first.
func (s *Store) ListMonitors(ctx context.Context, projectID string) ([]models.Monitor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE guest_project_id = $1
		ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select monitors: %w", err)
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// UpdateMonitor rewrites a monitor's configuration fields.
func (s *Store) UpdateMonitor(ctx context.Context, m models.Monitor) error {
	headers, err := marshalHeaders(m.Headers)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE monitors SET name = $3, url = $4, method = $5, interval_sec = $6,
			timeout_ms = $7, follow_redirects = $8, headers = $9, is_active = $10,
			last_status = $11, updated_at = $12
		WHERE id = $1 AND guest_project_id = $2`,
		m.ID, m.GuestProjectID, m.Name, m.URL, m.Method, m.IntervalSec,
		m.TimeoutMs, m.FollowRedirects, headers, m.IsActive,
		m.LastStatus, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMonitor removes a monitor scoped to its owning project.
func (s *Store) DeleteMonitor(ctx context.Context, id, projectID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM monitors WHERE id = $1 AND guest_project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DueMonitors selects active due monitors ordered oldest-due first. A monitor
// that has never been checked is due immediately and sorts first.
func (s *Store) DueMonitors(ctx context.Context, now time.Time, limit int) ([]models.Monitor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+monitorColumns+` FROM monitors
		WHERE is_active
		  AND (last_checked_at IS NULL
		       OR last_checked_at + make_interval(secs => interval_sec) <= $1)
		ORDER BY COALESCE(last_checked_at + make_interval(secs => interval_sec),
		                  'epoch'::timestamptz) ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due monitors: %w", err)
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// WriteCheckResult records one check outcome; all last* fields are written in
// a single statement.
func (s *Store) WriteCheckResult(ctx context.Context, id string, res store.CheckResult) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE monitors SET last_status = $2, last_checked_at = $3,
			last_response_time_ms = $4, last_http_status = $5, last_error = $6
		WHERE id = $1`,
		id, res.Status, res.CheckedAt, res.ResponseTimeMs, res.HTTPStatus, res.Error,
	)
	if err != nil {
		return fmt.Errorf("write check result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMonitorsForProjects removes all monitors owned by the given projects.
func (s *Store) DeleteMonitorsForProjects(ctx context.Context, projectIDs []string) (int64, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM monitors WHERE guest_project_id = ANY($1)`, projectIDs)
	if err != nil {
		return 0, fmt.Errorf("delete project monitors: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectMonitors(rows pgx.Rows) ([]models.Monitor, error) {
	var out []models.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMonitor(row pgx.Row) (models.Monitor, error) {
	var (
		m       models.Monitor
		headers []byte
	)
	err := row.Scan(&m.ID, &m.GuestProjectID, &m.Name, &m.URL, &m.Method,
		&m.IntervalSec, &m.TimeoutMs, &m.FollowRedirects, &headers, &m.IsActive,
		&m.LastStatus, &m.LastCheckedAt, &m.LastResponseTimeMs, &m.LastHTTPStatus,
		&m.LastError, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Monitor{}, store.ErrNotFound
	}
	if err != nil {
		return models.Monitor{}, fmt.Errorf("scan monitor: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &m.Headers); err != nil {
			return models.Monitor{}, fmt.Errorf("unmarshal monitor headers: %w", err)
		}
	}
	return m, nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	buf, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal monitor headers: %w", err)
	}
	return buf, nil
}
