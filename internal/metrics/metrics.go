package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the client-core Prometheus collectors.
	Registry = prometheus.NewRegistry()

	increments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientcore",
			Subsystem: "sync",
			Name:      "increments_total",
			Help:      "Total number of increment operations by outcome.",
		},
		[]string{"outcome"}, // confirmed|rolled_back|local_only|reaped
	)

	incrementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clientcore",
			Subsystem: "sync",
			Name:      "increment_duration_seconds",
			Help:      "Duration of tracked increment confirmations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
	)

	retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clientcore",
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Total number of increment retry attempts.",
		},
	)

	pendingUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clientcore",
			Subsystem: "sync",
			Name:      "pending_updates",
			Help:      "Current number of in-flight optimistic updates.",
		},
	)

	probeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clientcore",
			Subsystem: "remote",
			Name:      "probe_failures_total",
			Help:      "Total number of failed liveness probes.",
		},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientcore",
			Subsystem: "token",
			Name:      "refreshes_total",
			Help:      "Total number of token refresh attempts by outcome.",
		},
		[]string{"outcome"}, // success|failure
	)

	tokenTimeToExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clientcore",
			Subsystem: "token",
			Name:      "time_until_expiry_seconds",
			Help:      "Seconds until the current session token expires.",
		},
	)

	acquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clientcore",
			Subsystem: "session",
			Name:      "acquisitions_total",
			Help:      "Total number of session acquisitions by path.",
		},
		[]string{"path"}, // cached|constructed|coalesced|failed
	)
)

func init() {
	Registry.MustRegister(
		increments,
		incrementDuration,
		retries,
		pendingUpdates,
		probeFailures,
		tokenRefreshes,
		tokenTimeToExpiry,
		acquisitions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordIncrement records the outcome of an increment operation.
func RecordIncrement(outcome string, duration time.Duration) {
	increments.WithLabelValues(outcome).Inc()
	if outcome == "confirmed" && duration > 0 {
		incrementDuration.Observe(duration.Seconds())
	}
}

// RecordRetry records a scheduled increment retry.
func RecordRetry() {
	retries.Inc()
}

// SetPendingUpdates records the current in-flight optimistic update count.
func SetPendingUpdates(n int) {
	pendingUpdates.Set(float64(n))
}

// RecordProbeFailure records a failed liveness probe.
func RecordProbeFailure() {
	probeFailures.Inc()
}

// RecordTokenRefresh records a refresh attempt outcome.
func RecordTokenRefresh(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// SetTokenTimeToExpiry records how long the current token remains valid.
// Negative values are clamped to zero.
func SetTokenTimeToExpiry(d time.Duration) {
	if d < 0 {
		d = 0
	}
	tokenTimeToExpiry.Set(d.Seconds())
}

// RecordAcquisition records which path an Acquire call took.
func RecordAcquisition(path string) {
	acquisitions.WithLabelValues(path).Inc()
}
