// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	monitorChecksTotal         *prometheus.CounterVec
	monitorCheckSeconds        prometheus.Histogram
	cleanupProjectsTotal       prometheus.Counter
	cleanupRecordsTotal        *prometheus.CounterVec
	cleanupFilesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeJobs                 prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitorify_jobs_total",
				Help: "Total number of rendering jobs processed, labeled by type and outcome.",
			},
			[]string{"type", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitorify_job_duration_seconds",
				Help:    "Histogram of job execution durations, labeled by type.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"type"},
		)

		monitorChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitorify_monitor_checks_total",
				Help: "Total number of monitor health checks, labeled by outcome.",
			},
			[]string{"status"},
		)

		monitorCheckSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitorify_monitor_check_duration_seconds",
				Help:    "Histogram of monitor check durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		cleanupProjectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitorify_cleanup_projects_total",
				Help: "Total number of expired guest projects removed.",
			},
		)

		cleanupRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitorify_cleanup_records_total",
				Help: "Total number of records removed by the sweeper, labeled by kind.",
			},
			[]string{"kind"},
		)

		cleanupFilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitorify_cleanup_files_total",
				Help: "Total number of artifact files removed, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitorify_active_jobs",
				Help: "Number of rendering jobs currently executing.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records one finished job with its execution duration.
func ObserveJob(jobType, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveMonitorCheck records one monitor check outcome.
func ObserveMonitorCheck(status string, duration time.Duration) {
	monitorChecksTotal.WithLabelValues(status).Inc()
	monitorCheckSeconds.Observe(duration.Seconds())
}

// ObserveExpirySweep records the record counts removed by one expiry sweep.
func ObserveExpirySweep(projects, jobs, monitors, files int64) {
	cleanupProjectsTotal.Add(float64(projects))
	cleanupRecordsTotal.WithLabelValues("jobs").Add(float64(jobs))
	cleanupRecordsTotal.WithLabelValues("monitors").Add(float64(monitors))
	cleanupFilesTotal.WithLabelValues("expired").Add(float64(files))
}

// ObserveOrphanSweep records the file count removed by one orphan sweep.
func ObserveOrphanSweep(files int) {
	cleanupFilesTotal.WithLabelValues("orphan").Add(float64(files))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveJobs increments the executing-jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the executing-jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}
