// Package render abstracts headless page rendering. The chromedp
// implementation drives a shared Chrome process; workers and the API depend
// only on the Renderer interface.
package render

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/monitorify/monitorify/internal/models"
)

// ScreenshotOptions control viewport and capture mode.
type ScreenshotOptions struct {
	Width    int
	Height   int
	FullPage bool
}

// PDFOptions control paper geometry for url2pdf rendering.
type PDFOptions struct {
	Format          string
	Landscape       bool
	PrintBackground bool
	Margins         models.PDFMargins
}

// Timing holds navigation milestones in milliseconds since navigation start.
type Timing struct {
	TTFBMs             float64 `json:"ttfbMs"`
	DOMContentLoadedMs float64 `json:"domContentLoadedMs"`
	LoadMs             float64 `json:"loadMs"`
}

// PageInfo is the result of a diagnostic page inspection.
type PageInfo struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Timing     Timing
}

// Renderer produces artifacts and diagnostics from live pages.
type Renderer interface {
	Screenshot(ctx context.Context, url string, opts ScreenshotOptions) ([]byte, error)
	PDF(ctx context.Context, url string, opts PDFOptions) ([]byte, error)
	Inspect(ctx context.Context, url string) (PageInfo, error)
}

// Paper dimensions in inches, portrait orientation.
var paperSizes = map[string][2]float64{
	"a3":      {11.69, 16.54},
	"a4":      {8.27, 11.69},
	"a5":      {5.83, 8.27},
	"letter":  {8.5, 11.0},
	"legal":   {8.5, 14.0},
	"tabloid": {11.0, 17.0},
}

// paperSize resolves a format name to width/height in inches, honoring
// landscape. Unknown formats fall back to A4.
func paperSize(format string, landscape bool) (float64, float64) {
	dims, ok := paperSizes[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		dims = paperSizes["a4"]
	}
	if landscape {
		return dims[1], dims[0]
	}
	return dims[0], dims[1]
}

// cssLengthInches converts a CSS length string such as "12mm", "1cm", "0.5in"
// or "30px" to inches. Bare numbers are treated as pixels.
func cssLengthInches(raw string) (float64, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return 0, nil
	}
	unit := "px"
	for _, u := range []string{"mm", "cm", "in", "px"} {
		if strings.HasSuffix(s, u) {
			unit = u
			s = strings.TrimSuffix(s, u)
			break
		}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse css length %q: %w", raw, err)
	}
	switch unit {
	case "mm":
		return value / 25.4, nil
	case "cm":
		return value / 2.54, nil
	case "in":
		return value, nil
	default:
		return value / 96.0, nil
	}
}
