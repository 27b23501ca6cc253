package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const defaultUserAgent = "Monitorify/1.0"

// timingJS reads the navigation timing entry after load.
const timingJS = `(() => {
	const nav = performance.getEntriesByType("navigation")[0];
	if (!nav) { return {ttfbMs: 0, domContentLoadedMs: 0, loadMs: 0}; }
	return {
		ttfbMs: nav.responseStart,
		domContentLoadedMs: nav.domContentLoadedEventEnd,
		loadMs: nav.loadEventEnd,
	};
})()`

// ChromedpConfig controls the shared headless Chrome process.
type ChromedpConfig struct {
	UserAgent              string
	DisableGPU             bool
	IgnoreCertificateError bool
}

// Chromedp implements Renderer on a long-lived Chrome allocator. Each call
// opens a fresh tab and closes it when done.
type Chromedp struct {
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	userAgent   string
}

// NewChromedp starts the allocator for a shared headless Chrome instance.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) *Chromedp {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-gpu", cfg.DisableGPU),
	)
	if cfg.IgnoreCertificateError {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Chromedp{
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		userAgent:   ua,
	}
}

// Close tears down the Chrome allocator.
func (r *Chromedp) Close() {
	r.allocCancel()
}

// Screenshot captures a PNG of the page at the requested viewport.
func (r *Chromedp) Screenshot(ctx context.Context, url string, opts ScreenshotOptions) ([]byte, error) {
	if opts.Width <= 0 {
		opts.Width = 1366
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}

	var buf []byte
	capture := chromedp.CaptureScreenshot(&buf)
	if opts.FullPage {
		capture = chromedp.FullScreenshot(&buf, 90)
	}
	err := r.runTab(ctx, nil,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		capture,
	)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// PDF prints the page via the DevTools printToPDF command.
func (r *Chromedp) PDF(ctx context.Context, url string, opts PDFOptions) ([]byte, error) {
	width, height := paperSize(opts.Format, opts.Landscape)
	top, err := cssLengthInches(opts.Margins.Top)
	if err != nil {
		return nil, err
	}
	right, err := cssLengthInches(opts.Margins.Right)
	if err != nil {
		return nil, err
	}
	bottom, err := cssLengthInches(opts.Margins.Bottom)
	if err != nil {
		return nil, err
	}
	left, err := cssLengthInches(opts.Margins.Left)
	if err != nil {
		return nil, err
	}

	var buf []byte
	printAction := chromedp.ActionFunc(func(ctx context.Context) error {
		pdf, _, err := page.PrintToPDF().
			WithPaperWidth(width).
			WithPaperHeight(height).
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground).
			WithMarginTop(top).
			WithMarginRight(right).
			WithMarginBottom(bottom).
			WithMarginLeft(left).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		buf = pdf
		return nil
	})
	err = r.runTab(ctx, nil,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		printAction,
	)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Inspect renders the page and collects the DOM, document response metadata
// and navigation timing.
func (r *Chromedp) Inspect(ctx context.Context, url string) (PageInfo, error) {
	var (
		html     string
		finalURL string
		timing   Timing
	)
	meta := newResponseMeta()

	err := r.runTab(ctx, meta,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var raw json.RawMessage
			if err := chromedp.Evaluate(timingJS, &raw).Do(ctx); err != nil {
				return fmt.Errorf("read navigation timing: %w", err)
			}
			if err := json.Unmarshal(raw, &timing); err != nil {
				return fmt.Errorf("decode navigation timing: %w", err)
			}
			return nil
		}),
	)
	if err != nil {
		return PageInfo{}, err
	}

	status, headers, responseURL := meta.snapshot()
	if responseURL == "" {
		responseURL = finalURL
	}
	if responseURL == "" {
		responseURL = url
	}
	if status == 0 {
		status = http.StatusOK
	}
	return PageInfo{
		HTML:       html,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Timing:     timing,
	}, nil
}

// runTab executes actions in a fresh tab, honoring the caller's deadline.
func (r *Chromedp) runTab(ctx context.Context, meta *responseMeta, actions ...chromedp.Action) error {
	tabCtx, cancelTab := chromedp.NewContext(r.allocator)
	defer cancelTab()

	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	if meta != nil {
		chromedp.ListenTarget(tabCtx, meta.captureEvent)
	}

	tasks := append([]chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
	}, actions...)

	if err := chromedp.Run(tabCtx, tasks...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// responseMeta captures the main document response as events arrive.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}
