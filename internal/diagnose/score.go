package diagnose

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/monitorify/monitorify/internal/render"
)

// Metrics is a performance snapshot for one URL. Pointer fields are nil when
// the underlying measurement failed.
type Metrics struct {
	Score *int     `json:"score"`
	LCPMs *float64 `json:"lcpMs"`
	FCPMs *float64 `json:"fcpMs"`
	TBTMs *float64 `json:"tbtMs"`
	CLS   *float64 `json:"cls"`
	TTIMs *float64 `json:"ttiMs"`
}

// Scorer measures page performance for a URL.
type Scorer interface {
	Score(ctx context.Context, url string) (Metrics, error)
}

// TimingScorer derives a 0-100 performance score from navigation timing
// collected by a headless render. Paint metrics are approximated from the
// document milestones; layout shift is not measurable this way and reports 0.
type TimingScorer struct {
	renderer render.Renderer
}

// NewTimingScorer constructs a scorer on top of a renderer.
func NewTimingScorer(r render.Renderer) *TimingScorer {
	return &TimingScorer{renderer: r}
}

// Score renders the page and grades its load milestones.
func (s *TimingScorer) Score(ctx context.Context, url string) (Metrics, error) {
	info, err := s.renderer.Inspect(ctx, url)
	if err != nil {
		return Metrics{}, err
	}
	return scoreTiming(info.Timing), nil
}

func scoreTiming(t render.Timing) Metrics {
	fcp := t.DOMContentLoadedMs
	lcp := t.LoadMs
	if lcp < fcp {
		lcp = fcp
	}
	tbt := math.Max(0, t.LoadMs-t.DOMContentLoadedMs-50)
	cls := 0.0
	tti := lcp

	// Each metric grades 100 at its good threshold, 0 at its poor one.
	weighted := 0.30*metricScore(fcp, 1800, 3000) +
		0.40*metricScore(lcp, 2500, 4000) +
		0.30*metricScore(tbt, 200, 600)
	score := int(math.Round(weighted))

	return Metrics{
		Score: &score,
		LCPMs: &lcp,
		FCPMs: &fcp,
		TBTMs: &tbt,
		CLS:   &cls,
		TTIMs: &tti,
	}
}

func metricScore(value, good, poor float64) float64 {
	switch {
	case value <= good:
		return 100
	case value >= poor:
		return 0
	default:
		return 100 * (poor - value) / (poor - good)
	}
}

type cacheEntry struct {
	at      time.Time
	metrics Metrics
}

// Cached decorates a Scorer with a per-URL TTL cache so repeated diagnostics
// against the same page do not re-render it.
type Cached struct {
	inner Scorer
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCached wraps a scorer with a TTL cache.
func NewCached(inner Scorer, ttl time.Duration) *Cached {
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the cache clock in tests.
func (c *Cached) SetNow(now func() time.Time) { c.now = now }

// Score serves a fresh cached value or measures and caches a new one. Errors
// are never cached.
func (c *Cached) Score(ctx context.Context, url string) (Metrics, error) {
	c.mu.Lock()
	entry, ok := c.entries[url]
	now := c.now()
	c.mu.Unlock()
	if ok && now.Sub(entry.at) < c.ttl {
		return entry.metrics, nil
	}

	metrics, err := c.inner.Score(ctx, url)
	if err != nil {
		return Metrics{}, err
	}

	c.mu.Lock()
	c.entries[url] = cacheEntry{at: now, metrics: metrics}
	c.mu.Unlock()
	return metrics, nil
}
