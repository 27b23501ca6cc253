package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/monitorify/monitorify/internal/models"
	"github.com/monitorify/monitorify/internal/store"
)

// Default request headers merged under any monitor-configured ones.
const (
	defaultCheckUserAgent = "Monitorify/1.0"
	defaultCheckAccept    = "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8"
)

// Checker executes one HTTP health check per monitor configuration.
type Checker struct {
	follow   *http.Client
	noFollow *http.Client
	clock    Clock
}

// NewChecker builds a checker sharing one transport across both redirect
// policies. Per-check timeouts come from the monitor, via context.
func NewChecker(clock Clock) *Checker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &Checker{
		follow: &http.Client{Transport: transport},
		noFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clock: clock,
	}
}

// Check performs the request and grades the outcome. A monitor is up iff the
// response status is exactly 200; redirects left unfollowed therefore count
// as down.
func (c *Checker) Check(ctx context.Context, m models.Monitor) store.CheckResult {
	checkedAt := c.clock.Now()

	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(models.MonitorMinTimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(m.Method))
	if method != http.MethodHead {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, m.URL, nil)
	if err != nil {
		return store.CheckResult{
			Status:    models.MonitorStatusDown,
			CheckedAt: checkedAt,
			Error:     "Invalid monitor URL",
		}
	}

	req.Header.Set("User-Agent", defaultCheckUserAgent)
	req.Header.Set("Accept", defaultCheckAccept)
	for key, value := range m.Headers {
		req.Header.Set(key, value)
	}

	client := c.noFollow
	if m.FollowRedirects {
		client = c.follow
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		message := "Request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "Request timed out"
		}
		return store.CheckResult{
			Status:         models.MonitorStatusDown,
			CheckedAt:      checkedAt,
			ResponseTimeMs: elapsed,
			Error:          message,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	status := resp.StatusCode
	result := store.CheckResult{
		CheckedAt:      checkedAt,
		ResponseTimeMs: elapsed,
		HTTPStatus:     &status,
	}
	if status == http.StatusOK {
		result.Status = models.MonitorStatusUp
	} else {
		result.Status = models.MonitorStatusDown
		result.Error = fmt.Sprintf("HTTP %d", status)
	}
	return result
}
