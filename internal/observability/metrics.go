package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webworker",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webworker",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	envelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webworker",
			Subsystem: "protocol",
			Name:      "envelopes_total",
			Help:      "Protocol envelopes by side, direction and action.",
		},
		[]string{"side", "direction", "action"},
	)
	foreignMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webworker",
			Subsystem: "protocol",
			Name:      "foreign_messages_total",
			Help:      "Inbound messages ignored for lacking the protocol marker.",
		},
		[]string{"side"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webworker",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle state transitions by side and target state.",
		},
		[]string{"side", "state"},
	)
	errorsByKind = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webworker",
			Subsystem: "lifecycle",
			Name:      "errors_total",
			Help:      "Reported errors by side and kind.",
		},
		[]string{"side", "kind"},
	)
	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "webworker",
			Subsystem: "lifecycle",
			Name:      "load_duration_seconds",
			Help:      "Time from load request to worker spawn.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

const (
	SideHost   = "host"
	SideWorker = "worker"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			envelopes,
			foreignMessages,
			transitions,
			errorsByKind,
			loadDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEnvelope(side, direction, action string) {
	RegisterMetrics()
	envelopes.WithLabelValues(side, direction, action).Inc()
}

func RecordForeignMessage(side string) {
	RegisterMetrics()
	foreignMessages.WithLabelValues(side).Inc()
}

func RecordTransition(side, state string) {
	RegisterMetrics()
	transitions.WithLabelValues(side, state).Inc()
}

func RecordError(side, kind string) {
	RegisterMetrics()
	errorsByKind.WithLabelValues(side, kind).Inc()
}

func RecordLoad(duration time.Duration) {
	RegisterMetrics()
	loadDuration.Observe(duration.Seconds())
}
