// Package metrics exposes Prometheus collectors for the watcher service.
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
	captchaSolvesTotal         *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	tenantSuspensionsTotal     prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalwatch_jobs_total",
				Help: "Total number of scrape jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portalwatch_job_duration_seconds",
				Help:    "Histogram of scrape job durations, labeled by trigger.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"trigger"},
		)

		captchaSolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalwatch_captcha_solves_total",
				Help: "Total CAPTCHA solve attempts, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalwatch_notifications_total",
				Help: "Total notification deliveries, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		tenantSuspensionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "portalwatch_tenant_suspensions_total",
				Help: "Total automatic tenant suspensions.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portalwatch_active_workers",
				Help: "Number of workers currently processing a job.",
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter and records its duration.
func ObserveJob(status, trigger string, duration time.Duration) {
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.WithLabelValues(trigger).Observe(duration.Seconds())
}

// ObserveCaptchaSolve increments the solve counter for a provider.
func ObserveCaptchaSolve(provider, outcome string) {
	captchaSolvesTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveNotification increments the delivery counter for a channel.
func ObserveNotification(channel, outcome string) {
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveSuspension increments the suspension counter.
func ObserveSuspension() {
	tenantSuspensionsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
