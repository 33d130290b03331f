// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netprint"

type Metrics struct {
	PublishedPrinters  prometheus.Gauge
	QueueDepth         prometheus.Gauge
	JobsRunning        prometheus.Gauge
	JobOutcomes        *prometheus.CounterVec
	CapabilityRequests *prometheus.CounterVec
	DiscoveryEvents    *prometheus.CounterVec
	KeepAliveHeld      prometheus.Gauge
	WebhookDeliveries  *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PublishedPrinters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_printers",
			Help:      "Printers currently published to the host.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_jobs",
			Help:      "Jobs waiting behind the running job.",
		}),
		JobsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "1 while a job is in discovery or delivery.",
		}),
		JobOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Terminal job outcomes by state.",
		}, []string{"state"}),
		CapabilityRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_requests_total",
			Help:      "Capability requests by how they were served.",
		}, []string{"result"}),
		DiscoveryEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_events_total",
			Help:      "Printer found/lost events by source.",
		}, []string{"source", "event"}),
		KeepAliveHeld: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keepalive_held",
			Help:      "1 while the network keep-alive is held.",
		}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result.",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
