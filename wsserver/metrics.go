package wsserver

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics are the prometheus collectors exported at /metrics,
// grounded on the teacher project's own server metrics conventions
// (counters for lifecycle events, a histogram for request latency).
type serverMetrics struct {
	connectionsOpened prometheus.Counter
	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	broadcastsTotal   prometheus.Counter
}

func newServerMetrics(reg *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "wsserver",
			Name:      "connections_opened_total",
			Help:      "Total websocket connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabric",
			Subsystem: "wsserver",
			Name:      "connections_active",
			Help:      "Currently open websocket connections.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "wsserver",
			Name:      "requests_total",
			Help:      "Requests dispatched, by action and outcome.",
		}, []string{"action", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fabric",
			Subsystem: "wsserver",
			Name:      "request_duration_seconds",
			Help:      "Dispatch latency by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabric",
			Subsystem: "wsserver",
			Name:      "broadcasts_total",
			Help:      "Mutations that triggered a channel broadcast.",
		}),
	}

	reg.MustRegister(
		m.connectionsOpened,
		m.connectionsActive,
		m.requestsTotal,
		m.requestDuration,
		m.broadcastsTotal,
	)
	return m
}
