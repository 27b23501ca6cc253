// Package models defines the persisted record types shared across the service.
package models

import "time"

// JobType identifies the kind of rendering work a job performs.
type JobType string

// Supported job types.
const (
	JobTypeScreenshot JobType = "screenshot"
	JobTypeURL2PDF    JobType = "url2pdf"
)

// JobStatus tracks a job through its lifecycle.
type JobStatus string

// Job lifecycle states. Transitions only move forward:
// queued -> running -> {done, error}.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// GuestProject is a time-boxed credential binding one opaque API key to a
// single allowed website domain.
type GuestProject struct {
	ID         string
	WebsiteURL string
	APIKeyHash string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the project credential has lapsed at the given time.
func (p GuestProject) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// PDFMargins holds the print margins for url2pdf jobs, as CSS length strings.
type PDFMargins struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

// JobPayload carries the target URL and rendering options for a job. Screenshot
// jobs use Width/Height/FullPage; url2pdf jobs additionally use Format,
// Landscape, PrintBackground and Margins.
type JobPayload struct {
	URL             string      `json:"url"`
	FullPage        bool        `json:"fullPage,omitempty"`
	Width           int         `json:"width,omitempty"`
	Height          int         `json:"height,omitempty"`
	Format          string      `json:"format,omitempty"`
	Landscape       bool        `json:"landscape,omitempty"`
	PrintBackground bool        `json:"printBackground,omitempty"`
	Margins         *PDFMargins `json:"margin,omitempty"`
}

// Job is one asynchronous unit of rendering work tracked to completion.
// Result.FileURL is populated iff status is done; ErrorMessage iff error.
type Job struct {
	ID             string
	Type           JobType
	Status         JobStatus
	GuestProjectID string
	Payload        JobPayload
	ResultFileURL  string
	ErrorMessage   string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
}

// MonitorStatus is the outcome of the most recent health check.
type MonitorStatus string

// Monitor check outcomes. Paused is held iff the monitor is inactive.
const (
	MonitorStatusUnknown MonitorStatus = "unknown"
	MonitorStatusUp      MonitorStatus = "up"
	MonitorStatusDown    MonitorStatus = "down"
	MonitorStatusPaused  MonitorStatus = "paused"
)

// Monitor bounds, mirrored by the store schema and the API boundary.
const (
	MonitorMinIntervalSec = 60
	MonitorMaxIntervalSec = 86400
	MonitorMinTimeoutMs   = 1000
	MonitorMaxTimeoutMs   = 120000

	MonitorMaxHeaders        = 30
	MonitorMaxHeaderKeyLen   = 60
	MonitorMaxHeaderValueLen = 2000

	MonitorsPerProjectCap = 5
)

// Monitor is a recurring HTTP health-check configuration owned by a guest
// project. The last* fields are written only by the monitor scheduler, and
// always all together.
type Monitor struct {
	ID                 string
	GuestProjectID     string
	Name               string
	URL                string
	Method             string
	IntervalSec        int
	TimeoutMs          int
	FollowRedirects    bool
	Headers            map[string]string
	IsActive           bool
	LastStatus         MonitorStatus
	LastCheckedAt      *time.Time
	LastResponseTimeMs *int64
	LastHTTPStatus     *int
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Due reports whether the monitor should be checked at the given time. A
// monitor that has never been checked is due immediately.
func (m Monitor) Due(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	if m.LastCheckedAt == nil {
		return true
	}
	return !m.NextDueAt().After(now)
}

// NextDueAt returns the instant the monitor next becomes due. Monitors that
// were never checked sort before everything else.
func (m Monitor) NextDueAt() time.Time {
	if m.LastCheckedAt == nil {
		return time.Time{}
	}
	return m.LastCheckedAt.Add(time.Duration(m.IntervalSec) * time.Second)
}
