package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grok_edit"

var (
	EditRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "requests_total",
			Help:      "Total number of edit requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	EditDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "duration_seconds",
			Help:      "Edit request duration in seconds, all attempts included",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "attempts_total",
			Help:      "Total number of remote edit attempts",
		},
		[]string{"variant", "outcome"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "attempt_duration_seconds",
			Help:      "Remote edit attempt duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"variant"},
	)

	ArtifactsDelivered = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "artifacts",
			Help:      "Images delivered per edit request",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		},
	)

	DeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "denied_total",
			Help:      "Total number of requests denied by the permission gate",
		},
		[]string{"reason"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"method", "path"},
	)
)

// Prometheus forwards pipeline events to the package collectors.
type Prometheus struct{}

func (Prometheus) Attempt(variant, outcome string, elapsed time.Duration) {
	AttemptsTotal.WithLabelValues(variant, outcome).Inc()
	AttemptDuration.WithLabelValues(variant).Observe(elapsed.Seconds())
}

func (Prometheus) Request(outcome string, elapsed time.Duration) {
	EditRequestsTotal.WithLabelValues(outcome).Inc()
	EditDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (Prometheus) Artifacts(n int) {
	ArtifactsDelivered.Observe(float64(n))
}

func (Prometheus) Denied(reason string) {
	DeniedTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
