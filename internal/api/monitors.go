package api

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// Monitor creation defaults.
const (
	defaultMonitorIntervalSec = 300
	defaultMonitorTimeoutMs   = 10000
)

var headerKeyRe = regexp.MustCompile(`^[A-Za-z0-9-_]+$`)

type monitorRequest struct {
	Name            *string            `json:"name"`
	URL             *string            `json:"url"`
	Method          *string            `json:"method"`
	IntervalSec     *int               `json:"intervalSec"`
	TimeoutMs       *int               `json:"timeoutMs"`
	FollowRedirects *bool              `json:"followRedirects"`
	Headers         *map[string]string `json:"headers"`
	IsActive        *bool              `json:"isActive"`
}

type monitorResponse struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	IntervalSec        int               `json:"intervalSec"`
	TimeoutMs          int               `json:"timeoutMs"`
	FollowRedirects    bool              `json:"followRedirects"`
	Headers            map[string]string `json:"headers,omitempty"`
	IsActive           bool              `json:"isActive"`
	LastStatus         string            `json:"lastStatus"`
	LastCheckedAt      *time.Time        `json:"lastCheckedAt,omitempty"`
	LastResponseTimeMs *int64            `json:"lastResponseTimeMs,omitempty"`
	LastHTTPStatus     *int              `json:"lastHttpStatus,omitempty"`
	LastError          string            `json:"lastError,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func toMonitorResponse(m models.Monitor) monitorResponse {
	return monitorResponse{
		ID:                 m.ID,
		Name:               m.Name,
		URL:                m.URL,
		Method:             m.Method,
		IntervalSec:        m.IntervalSec,
		TimeoutMs:          m.TimeoutMs,
		FollowRedirects:    m.FollowRedirects,
		Headers:            m.Headers,
		IsActive:           m.IsActive,
		LastStatus:         string(m.LastStatus),
		LastCheckedAt:      m.LastCheckedAt,
		LastResponseTimeMs: m.LastResponseTimeMs,
		LastHTTPStatus:     m.LastHTTPStatus,
		LastError:          m.LastError,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func (s *Server) listMonitors(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	monitors, err := s.stores.ListMonitors(r.Context(), project.ID)
	if err != nil {
		s.logger.Error("monitor list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]monitorResponse, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, toMonitorResponse(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"monitors": out})
}

func (s *Server) createMonitor(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	var req monitorRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.URL == nil {
		s.writeError(w, http.StatusBadRequest, "A valid http(s) URL is required")
		return
	}
	target, ok := s.resolveTarget(w, project, *req.URL)
	if !ok {
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	now := s.clock.Now()
	m := models.Monitor{
		ID:              id,
		GuestProjectID:  project.ID,
		Name:            monitorName(req.Name, target),
		URL:             target,
		Method:          normalizeMethod(req.Method),
		IntervalSec:     clampInt(intOrDefault(req.IntervalSec, defaultMonitorIntervalSec), models.MonitorMinIntervalSec, models.MonitorMaxIntervalSec),
		TimeoutMs:       clampInt(intOrDefault(req.TimeoutMs, defaultMonitorTimeoutMs), models.MonitorMinTimeoutMs, models.MonitorMaxTimeoutMs),
		FollowRedirects: boolOrDefault(req.FollowRedirects, true),
		IsActive:        true,
		LastStatus:      models.MonitorStatusUnknown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Headers != nil {
		m.Headers = sanitizeHeaders(*req.Headers)
	}

	if err := s.stores.CreateMonitor(r.Context(), m); err != nil {
		if errors.Is(err, store.ErrMonitorLimit) {
			s.writeError(w, http.StatusConflict, "Monitor limit reached for this project")
			return
		}
		s.logger.Error("monitor create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusCreated, toMonitorResponse(m))
}

func (s *Server) getMonitor(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	m, err := s.stores.GetMonitor(r.Context(), chi.URLParam(r, "monitorID"), project.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		s.logger.Error("monitor lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

func (s *Server) updateMonitor(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	var req monitorRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	m, err := s.stores.GetMonitor(r.Context(), chi.URLParam(r, "monitorID"), project.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		s.logger.Error("monitor lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.URL != nil {
		target, ok := s.resolveTarget(w, project, *req.URL)
		if !ok {
			return
		}
		m.URL = target
	}
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.Method != nil {
		m.Method = normalizeMethod(req.Method)
	}
	if req.IntervalSec != nil {
		m.IntervalSec = clampInt(*req.IntervalSec, models.MonitorMinIntervalSec, models.MonitorMaxIntervalSec)
	}
	if req.TimeoutMs != nil {
		m.TimeoutMs = clampInt(*req.TimeoutMs, models.MonitorMinTimeoutMs, models.MonitorMaxTimeoutMs)
	}
	if req.FollowRedirects != nil {
		m.FollowRedirects = *req.FollowRedirects
	}
	if req.Headers != nil {
		m.Headers = sanitizeHeaders(*req.Headers)
	}
	if req.IsActive != nil && *req.IsActive != m.IsActive {
		m.IsActive = *req.IsActive
		// Pausing holds the paused status; resuming starts over as unknown.
		if m.IsActive {
			m.LastStatus = models.MonitorStatusUnknown
		} else {
			m.LastStatus = models.MonitorStatusPaused
		}
	}
	m.UpdatedAt = s.clock.Now()

	if err := s.stores.UpdateMonitor(r.Context(), m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		s.logger.Error("monitor update failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

func (s *Server) deleteMonitor(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	err := s.stores.DeleteMonitor(r.Context(), chi.URLParam(r, "monitorID"), project.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		s.logger.Error("monitor delete failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sanitizeHeaders drops invalid or oversized entries and caps how many are
// kept. Header names beyond a basic character check are passed through.
func sanitizeHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string)
	for key, value := range in {
		if len(out) >= models.MonitorMaxHeaders {
			break
		}
		if key == "" || len(key) > models.MonitorMaxHeaderKeyLen || !headerKeyRe.MatchString(key) {
			continue
		}
		if len(value) > models.MonitorMaxHeaderValueLen {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func monitorName(name *string, target string) string {
	if name != nil && *name != "" {
		return *name
	}
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return target
}

func normalizeMethod(method *string) string {
	if method != nil && (*method == "HEAD" || *method == "head") {
		return http.MethodHead
	}
	return http.MethodGet
}

func intOrDefault(ptr *int, def int) int {
	if ptr == nil {
		return def
	}
	return *ptr
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
