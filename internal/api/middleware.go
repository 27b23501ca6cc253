package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/guard"
	"github.com/monitorify/monitorify/internal/keys"
	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

type projectKey struct{}
type requestIDKey struct{}

// projectFrom returns the authenticated project attached by requireGuestKey.
func projectFrom(ctx context.Context) (models.GuestProject, bool) {
	p, ok := ctx.Value(projectKey{}).(models.GuestProject)
	return p, ok
}

// requireGuestKey authenticates the x-api-key header against the stored hash
// and rejects expired credentials.
func (s *Server) requireGuestKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || !keys.IsGuestKey(key) {
			s.writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		project, err := s.stores.GetProjectByKeyHash(r.Context(), s.hasher.Hash(key))
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		if err != nil {
			s.logger.Error("key lookup failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if project.Expired(s.clock.Now()) {
			s.writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}

		ctx := context.WithValue(r.Context(), projectKey{}, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveTarget normalizes a request URL and enforces the project's domain
// allowlist, writing the HTTP error itself when validation fails.
func (s *Server) resolveTarget(w http.ResponseWriter, project models.GuestProject, rawURL string) (string, bool) {
	normalized, err := guard.Normalize(rawURL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "A valid http(s) URL is required")
		return "", false
	}
	if err := guard.AllowedHost(project.WebsiteURL, normalized); err != nil {
		if errors.Is(err, guard.ErrDomainNotAllowed) {
			s.writeError(w, http.StatusForbidden,
				"URL is not allowed for this key; allowed domain is "+allowedDomain(project.WebsiteURL))
			return "", false
		}
		s.writeError(w, http.StatusBadRequest, "A valid http(s) URL is required")
		return "", false
	}
	return normalized, true
}

// allowedDomain returns the project's comparison host. The website URL was
// validated at key creation, so a parse failure falls back to the raw value.
func allowedDomain(projectURL string) string {
	host, err := guard.Host(projectURL)
	if err != nil {
		return projectURL
	}
	return host
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
