// Package telemetry holds the Prometheus metrics emitted by the polling
// engine and the session router.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric the core registers against the default
// Prometheus registry.
type Metrics struct {
	PollTicks         prometheus.Counter
	PollMatches       *prometheus.CounterVec
	PollFetchFailures prometheus.Counter
	PollPersistFailures prometheus.Counter
	PollDuration      prometheus.Histogram

	SessionsConnected prometheus.Gauge
	FramesSent        *prometheus.CounterVec
	DeliveryOutcomes  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PollTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoicecore_poll_ticks_total",
			Help: "Total number of polling engine ticks executed.",
		}),
		PollMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicecore_poll_matches_total",
			Help: "Total number of objects matched to a registered PO number.",
		}, []string{"path"}), // path: process_and_notify, re_notify
		PollFetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoicecore_poll_fetch_failures_total",
			Help: "Total number of object fetch failures during a tick.",
		}),
		PollPersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "invoicecore_poll_persist_failures_total",
			Help: "Total number of invoice store persistence failures during a tick.",
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoicecore_poll_duration_seconds",
			Help:    "Duration of a single polling engine tick.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "invoicecore_sessions_connected",
			Help: "Current number of registered player sessions.",
		}),
		FramesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicecore_frames_sent_total",
			Help: "Total number of WebSocket frames sent, by frame type.",
		}, []string{"type"}),
		DeliveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicecore_delivery_outcomes_total",
			Help: "Total number of delivery callback outcomes.",
		}, []string{"outcome"}), // outcome: delivered, no_session
	}
}
