package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/config"
	"github.com/monitorify/monitorify/internal/diagnose"
	"github.com/monitorify/monitorify/internal/id/uuid"
	"github.com/monitorify/monitorify/internal/keys"
	"github.com/monitorify/monitorify/internal/metrics"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/render"
	"github.com/monitorify/monitorify/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubDetector struct {
	report diagnose.TechReport
}

func (d *stubDetector) Detect(_, _ string, _ http.Header) diagnose.TechReport {
	return d.report
}

type stubScorer struct {
	metrics diagnose.Metrics
	err     error
}

func (s *stubScorer) Score(_ context.Context, _ string) (diagnose.Metrics, error) {
	return s.metrics, s.err
}

type testEnv struct {
	server   *Server
	stores   *memory.Store
	clock    *fakeClock
	renderer *render.Stub
	detector *stubDetector
	scorer   *stubScorer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	metrics.Init()

	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}, PublicRateLimit: 1000},
		Auth:    config.AuthConfig{KeySalt: "test-salt", KeyTTLHours: 24},
		Uploads: config.UploadsConfig{Dir: t.TempDir()},
		Render:  config.RenderConfig{InspectTimeoutSec: 5},
	}

	env := &testEnv{
		stores:   memory.New(),
		clock:    newFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		renderer: &render.Stub{},
		detector: &stubDetector{},
		scorer:   &stubScorer{},
	}
	env.server = NewServer(
		env.stores,
		env.renderer,
		env.detector,
		env.scorer,
		keys.NewHasher(cfg.Auth.KeySalt),
		uuid.New(),
		env.clock,
		cfg,
		zap.NewNop(),
	)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) issueKey(t *testing.T, siteURL string) (apiKey, projectID string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/public/generate", "", map[string]string{"url": siteURL})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp generateKeyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.APIKey, resp.ProjectID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestGenerateKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/public/generate", "", map[string]string{"url": "https://www.example.com/pricing"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp generateKeyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, keys.IsGuestKey(resp.APIKey))
	assert.Equal(t, "example.com", resp.AllowedDomain)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), resp.ExpiresAt.UTC())
	assert.NotEmpty(t, resp.ProjectID)
	assert.NotEmpty(t, resp.Endpoints)
}

func TestGenerateKeyRejectsInvalidURL(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []string{"", "ftp://example.com", "http://"} {
		rec := env.do(t, http.MethodPost, "/public/generate", "", map[string]string{"url": raw})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "url %q", raw)
	}
}

func TestGenerateKeyBlocksLocalHosts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/public/generate", "", map[string]string{"url": "http://localhost:3000"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Local and private hosts are not allowed", decodeError(t, rec))
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/ping", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API key required", decodeError(t, rec))

	rec = env.do(t, http.MethodGet, "/api/ping", "sk_not_a_guest_key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API key required", decodeError(t, rec))

	rec = env.do(t, http.MethodGet, "/api/ping", "guest_deadbeef", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API key", decodeError(t, rec))
}

func TestAuthRejectsExpiredKey(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodGet, "/api/ping", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(25 * time.Hour)

	rec = env.do(t, http.MethodGet, "/api/ping", key, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API key expired", decodeError(t, rec))
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	key, projectID := env.issueKey(t, "https://www.example.com")

	rec := env.do(t, http.MethodGet, "/api/ping", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, projectID, body["projectId"])
	assert.Equal(t, "example.com", body["allowedDomain"])
}

func TestCreateScreenshotJobAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	key, projectID := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/screenshot", key, map[string]string{"url": "https://www.example.com/page"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "queued", body["status"])

	job, err := env.stores.GetJob(context.Background(), body["jobId"])
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeScreenshot, job.Type)
	assert.Equal(t, projectID, job.GuestProjectID)
	assert.True(t, job.Payload.FullPage)
	assert.Equal(t, 1366, job.Payload.Width)
	assert.Equal(t, 768, job.Payload.Height)
}

func TestCreatePDFJobAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/url2pdf", key, map[string]string{"url": "https://example.com/report"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	job, err := env.stores.GetJob(context.Background(), body["jobId"])
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeURL2PDF, job.Type)
	assert.Equal(t, "A4", job.Payload.Format)
	assert.True(t, job.Payload.PrintBackground)
	require.NotNil(t, job.Payload.Margins)
	assert.Equal(t, "12mm", job.Payload.Margins.Top)
}

func TestJobRejectsForeignDomain(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/screenshot", key, map[string]string{"url": "https://other.com"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "URL is not allowed for this key; allowed domain is example.com", decodeError(t, rec))

	rec = env.do(t, http.MethodPost, "/api/screenshot", key, map[string]string{"url": "not a url"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "A valid http(s) URL is required", decodeError(t, rec))
}

func TestJobSubdomainIsNotEquivalent(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/screenshot", key, map[string]string{"url": "https://api.example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetJobScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	keyA, _ := env.issueKey(t, "https://example.com")
	keyB, _ := env.issueKey(t, "https://other.org")

	rec := env.do(t, http.MethodPost, "/api/screenshot", keyA, map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	jobID := body["jobId"]

	rec = env.do(t, http.MethodGet, "/api/jobs/"+jobID, keyB, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", decodeError(t, rec))

	rec = env.do(t, http.MethodGet, "/api/jobs/"+jobID, keyA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, "queued", job.Status)
	assert.Empty(t, job.FileURL)
}

func TestMetaScrape(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	env.renderer.InspectFn = func(_ context.Context, _ string) (render.PageInfo, error) {
		return render.PageInfo{
			HTML: `<html><head>
				<title> Example Site </title>
				<meta name="description" content="A demo page">
				<link rel="canonical" href="https://example.com/">
				<meta property="og:title" content="Example OG">
				<meta property="og:image" content="https://example.com/og.png">
			</head><body></body></html>`,
			FinalURL:   "https://example.com/",
			StatusCode: 200,
			Headers:    http.Header{"X-Powered-By": []string{"WordPress"}},
			Timing:     render.Timing{TTFBMs: 120, DOMContentLoadedMs: 600, LoadMs: 900},
		}, nil
	}
	score := 88
	env.detector.report = diagnose.TechReport{
		Primary:  "WordPress",
		Detected: []string{"WordPress"},
	}
	env.scorer.metrics = diagnose.Metrics{Score: &score}

	rec := env.do(t, http.MethodPost, "/api/meta-scrape", key, map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp metaScrapeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "https://example.com/", resp.FinalURL)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Example Site", resp.Meta.Title)
	assert.Equal(t, "A demo page", resp.Meta.Description)
	assert.Equal(t, "https://example.com/", resp.Meta.Canonical)
	assert.Equal(t, "Example OG", resp.Meta.OGTitle)
	assert.Equal(t, "https://example.com/og.png", resp.Meta.OGImage)
	assert.Equal(t, "WordPress", resp.Technology.Primary)
	require.NotNil(t, resp.Perf.Score)
	assert.Equal(t, 88, *resp.Perf.Score)
}

func TestMetaScrapeSurvivesScoringFailure(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	env.renderer.InspectFn = func(_ context.Context, _ string) (render.PageInfo, error) {
		return render.PageInfo{HTML: "<html></html>", FinalURL: "https://example.com/", StatusCode: 200}, nil
	}
	env.scorer.err = fmt.Errorf("headless browser unavailable")

	rec := env.do(t, http.MethodPost, "/api/meta-scrape", key, map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp metaScrapeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Perf.Score)
}

func TestMetaScrapeRenderFailure(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	env.renderer.InspectFn = func(_ context.Context, _ string) (render.PageInfo, error) {
		return render.PageInfo{}, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")
	}

	rec := env.do(t, http.MethodPost, "/api/meta-scrape", key, map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Failed to load the page", decodeError(t, rec))
}

func TestMonitorCRUD(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://www.example.com")

	// Name falls back to the hostname when omitted.
	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{"url": "https://example.com/health"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created monitorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "example.com", created.Name)
	assert.Equal(t, http.MethodGet, created.Method)
	assert.Equal(t, 300, created.IntervalSec)
	assert.Equal(t, 10000, created.TimeoutMs)
	assert.True(t, created.FollowRedirects)
	assert.True(t, created.IsActive)
	assert.Equal(t, "unknown", created.LastStatus)

	rec = env.do(t, http.MethodGet, "/api/monitors", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Monitors []monitorResponse `json:"monitors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Monitors, 1)

	rec = env.do(t, http.MethodGet, "/api/monitors/"+created.ID, key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/monitors/"+created.ID, key, map[string]any{"name": "renamed", "intervalSec": 600})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated monitorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 600, updated.IntervalSec)

	rec = env.do(t, http.MethodDelete, "/api/monitors/"+created.ID, key, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/monitors/"+created.ID, key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{"url": "https://example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var m monitorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))

	rec = env.do(t, http.MethodPatch, "/api/monitors/"+m.ID, key, map[string]any{"isActive": false})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))
	assert.False(t, m.IsActive)
	assert.Equal(t, "paused", m.LastStatus)

	rec = env.do(t, http.MethodPatch, "/api/monitors/"+m.ID, key, map[string]any{"isActive": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))
	assert.True(t, m.IsActive)
	assert.Equal(t, "unknown", m.LastStatus)
}

func TestMonitorCapReturnsConflict(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	for i := 0; i < models.MonitorsPerProjectCap; i++ {
		rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{
			"url": fmt.Sprintf("https://example.com/check/%d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{"url": "https://example.com/one-too-many"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Monitor limit reached for this project", decodeError(t, rec))
}

func TestMonitorClampsIntervalAndTimeout(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{
		"url":         "https://example.com",
		"intervalSec": 5,
		"timeoutMs":   999999,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var m monitorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))
	assert.Equal(t, models.MonitorMinIntervalSec, m.IntervalSec)
	assert.Equal(t, models.MonitorMaxTimeoutMs, m.TimeoutMs)
}

func TestMonitorHeaderSanitation(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	longValue := make([]byte, models.MonitorMaxHeaderValueLen+1)
	for i := range longValue {
		longValue[i] = 'x'
	}

	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{
		"url": "https://example.com",
		"headers": map[string]string{
			"Authorization":  "Bearer token",
			"X-Custom":       "ok",
			"Bad Header Key": "dropped",
			"X-Too-Long":     string(longValue),
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var m monitorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer token",
		"X-Custom":      "ok",
	}, m.Headers)
}

func TestMonitorRejectsForeignDomain(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.issueKey(t, "https://example.com")

	rec := env.do(t, http.MethodPost, "/api/monitors", key, map[string]any{"url": "https://other.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
