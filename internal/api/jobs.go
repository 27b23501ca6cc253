package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// Screenshot payload defaults.
const (
	defaultViewportWidth  = 1366
	defaultViewportHeight = 768
)

// PDF payload defaults.
const (
	defaultPDFFormat = "A4"
	defaultPDFMargin = "12mm"
)

type screenshotRequest struct {
	URL      string `json:"url"`
	FullPage *bool  `json:"fullPage"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type pdfRequest struct {
	URL             string             `json:"url"`
	Format          string             `json:"format"`
	Landscape       bool               `json:"landscape"`
	PrintBackground *bool              `json:"printBackground"`
	Margins         *models.PDFMargins `json:"margin"`
}

type jobResponse struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	FileURL    string     `json:"fileUrl,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (s *Server) createScreenshotJob(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	var req screenshotRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	target, ok := s.resolveTarget(w, project, req.URL)
	if !ok {
		return
	}

	fullPage := true
	if req.FullPage != nil {
		fullPage = *req.FullPage
	}
	width := req.Width
	if width <= 0 {
		width = defaultViewportWidth
	}
	height := req.Height
	if height <= 0 {
		height = defaultViewportHeight
	}

	s.enqueueJob(w, r, project, models.JobTypeScreenshot, models.JobPayload{
		URL:      target,
		FullPage: fullPage,
		Width:    width,
		Height:   height,
	})
}

func (s *Server) createPDFJob(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	var req pdfRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	target, ok := s.resolveTarget(w, project, req.URL)
	if !ok {
		return
	}

	format := req.Format
	if format == "" {
		format = defaultPDFFormat
	}
	printBackground := true
	if req.PrintBackground != nil {
		printBackground = *req.PrintBackground
	}
	margins := req.Margins
	if margins == nil {
		margins = &models.PDFMargins{
			Top:    defaultPDFMargin,
			Right:  defaultPDFMargin,
			Bottom: defaultPDFMargin,
			Left:   defaultPDFMargin,
		}
	}

	s.enqueueJob(w, r, project, models.JobTypeURL2PDF, models.JobPayload{
		URL:             target,
		Format:          format,
		Landscape:       req.Landscape,
		PrintBackground: printBackground,
		Margins:         margins,
	})
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request, project models.GuestProject, typ models.JobType, payload models.JobPayload) {
	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	job := models.Job{
		ID:             id,
		Type:           typ,
		Status:         models.JobStatusQueued,
		GuestProjectID: project.ID,
		Payload:        payload,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.stores.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("job create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	jobID := chi.URLParam(r, "jobID")

	job, err := s.stores.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.GuestProjectID != project.ID) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, jobResponse{
		ID:         job.ID,
		Type:       string(job.Type),
		Status:     string(job.Status),
		FileURL:    job.ResultFileURL,
		Error:      job.ErrorMessage,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	})
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"projectId":     project.ID,
		"websiteUrl":    project.WebsiteURL,
		"allowedDomain": allowedDomain(project.WebsiteURL),
		"expiresAt":     project.ExpiresAt,
	})
}
