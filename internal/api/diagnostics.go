package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/monitorify/monitorify/internal/diagnose"
	"github.com/monitorify/monitorify/internal/render"
)

type metaScrapeRequest struct {
	URL string `json:"url"`
}

type pageMeta struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Canonical     string `json:"canonical"`
	OGTitle       string `json:"ogTitle"`
	OGDescription string `json:"ogDescription"`
	OGImage       string `json:"ogImage"`
}

type metaScrapeResponse struct {
	URL        string              `json:"url"`
	FinalURL   string              `json:"finalUrl"`
	StatusCode int                 `json:"statusCode"`
	Meta       pageMeta            `json:"meta"`
	Timing     render.Timing       `json:"timing"`
	Technology diagnose.TechReport `json:"technology"`
	Perf       diagnose.Metrics    `json:"performance"`
}

// metaScrape renders the page headless and reports its metadata, navigation
// timing, detected technology and performance score in one response.
func (s *Server) metaScrape(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "API key required")
		return
	}
	var req metaScrapeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	target, ok := s.resolveTarget(w, project, req.URL)
	if !ok {
		return
	}

	timeout := time.Duration(s.cfg.Render.InspectTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	info, err := s.renderer.Inspect(ctx, target)
	if err != nil {
		s.logger.Warn("page inspection failed",
			zap.String("url", target), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "Failed to load the page")
		return
	}

	meta := extractMeta(info.HTML)
	tech := s.detector.Detect(info.FinalURL, info.HTML, info.Headers)

	// The score is cached per URL; a scoring failure degrades to null
	// metrics rather than failing the scrape.
	perf, err := s.scorer.Score(ctx, target)
	if err != nil {
		s.logger.Warn("performance scoring failed",
			zap.String("url", target), zap.Error(err))
		perf = diagnose.Metrics{}
	}

	s.writeJSON(w, http.StatusOK, metaScrapeResponse{
		URL:        target,
		FinalURL:   info.FinalURL,
		StatusCode: info.StatusCode,
		Meta:       meta,
		Timing:     info.Timing,
		Technology: tech,
		Perf:       perf,
	})
}

// extractMeta pulls the document metadata out of rendered HTML.
func extractMeta(html string) pageMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pageMeta{}
	}

	meta := pageMeta{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if v, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		meta.Description = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		meta.Canonical = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		meta.OGTitle = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		meta.OGDescription = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		meta.OGImage = strings.TrimSpace(v)
	}
	return meta
}
