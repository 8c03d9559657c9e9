// Package metrics exposes Prometheus collectors for the batch server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "batchd"

var (
	// Registry holds the server's collectors.
	Registry = prometheus.NewRegistry()

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "received_total",
			Help:      "Batch requests received, by operation.",
		},
		[]string{"operation"},
	)

	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replies",
			Name:      "dispatched_total",
			Help:      "Reply dispatch outcomes.",
		},
		[]string{"outcome"},
	)

	replyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replies",
			Name:      "latency_seconds",
			Help:      "Time from request receipt to reply delivery.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation"},
	)

	cacheFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attr_cache",
			Name:      "fetches_total",
			Help:      "Attribute encoding cache fetches, by result.",
		},
		[]string{"result"},
	)

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "open_connections",
			Help:      "Currently open client connections.",
		},
	)
)

func init() {
	Registry.MustRegister(
		requests,
		replies,
		replyLatency,
		cacheFetches,
		connections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one received request.
func RecordRequest(operation string) {
	requests.WithLabelValues(operation).Inc()
}

// RecordReply counts one dispatch outcome. A positive latency is observed
// for the operation.
func RecordReply(operation, outcome string, latency time.Duration) {
	replies.WithLabelValues(outcome).Inc()
	if latency > 0 {
		replyLatency.WithLabelValues(operation).Observe(latency.Seconds())
	}
}

// RecordCacheFetch counts one attribute cache fetch.
func RecordCacheFetch(result string) {
	cacheFetches.WithLabelValues(result).Inc()
}

// ConnectionOpened increments the open connection gauge.
func ConnectionOpened() { connections.Inc() }

// ConnectionClosed decrements the open connection gauge.
func ConnectionClosed() { connections.Dec() }
