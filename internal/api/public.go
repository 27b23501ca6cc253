package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/guard"
	"github.com/monitorify/monitorify/internal/keys"
	"github.com/monitorify/monitorify/internal/models"
)

type generateKeyRequest struct {
	URL string `json:"url"`
}

type generateKeyResponse struct {
	ProjectID     string    `json:"projectId"`
	APIKey        string    `json:"apiKey"`
	AllowedDomain string    `json:"allowedDomain"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Endpoints     []string  `json:"endpoints"`
}

var guestEndpoints = []string{
	"POST /api/screenshot",
	"POST /api/url2pdf",
	"GET /api/jobs/{jobId}",
	"POST /api/meta-scrape",
	"GET /api/monitors",
	"POST /api/monitors",
	"GET /api/ping",
}

// generateKey mints a guest credential scoped to the submitted site domain.
// The raw key appears only in this response; the store keeps a salted hash.
func (s *Server) generateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	normalized, err := guard.Normalize(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "A valid http(s) URL is required")
		return
	}
	if !s.cfg.Auth.AllowPrivate && guard.BlockedHost(allowedDomain(normalized)) {
		s.writeError(w, http.StatusBadRequest, "Local and private hosts are not allowed")
		return
	}

	key, err := keys.Generate()
	if err != nil {
		s.logger.Error("key generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	now := s.clock.Now()
	project := models.GuestProject{
		ID:         id,
		WebsiteURL: normalized,
		APIKeyHash: s.hasher.Hash(key),
		ExpiresAt:  now.Add(s.cfg.KeyTTL()),
		CreatedAt:  now,
	}
	if err := s.stores.CreateProject(r.Context(), project); err != nil {
		s.logger.Error("project create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusCreated, generateKeyResponse{
		ProjectID:     project.ID,
		APIKey:        key,
		AllowedDomain: allowedDomain(normalized),
		ExpiresAt:     project.ExpiresAt,
		Endpoints:     guestEndpoints,
	})
}
