package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service-level Prometheus collectors. A single instance
// is constructed in main and shared by the gateway, coordinator and bridges.
type Metrics struct {
	QueueJoins           *prometheus.CounterVec
	QueueLeaves          *prometheus.CounterVec
	EventsPublished      prometheus.Counter
	PublishFailures      prometheus.Counter
	EventsDropped        prometheus.Counter
	LiveSubscribers      prometheus.Gauge
	RequestDuration      *prometheus.HistogramVec
	VersionConflicts     prometheus.Counter
	AuditEventsProcessed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courtqueue_joins_total",
			Help: "Queue join attempts by outcome (accepted, duplicate, rejected).",
		}, []string{"outcome"}),
		QueueLeaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courtqueue_leaves_total",
			Help: "Queue leave attempts by outcome (accepted, absent, rejected).",
		}, []string{"outcome"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtqueue_events_published_total",
			Help: "Notification events handed to the broadcast exchange.",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtqueue_publish_failures_total",
			Help: "Broadcast publishes that failed and were discarded.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtqueue_bridge_events_dropped_total",
			Help: "Events dropped for slow push-relay subscribers.",
		}),
		LiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "courtqueue_live_subscribers",
			Help: "Currently connected push-relay subscribers (SSE and WebSocket).",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courtqueue_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route pattern and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtqueue_version_conflicts_total",
			Help: "Optimistic-concurrency conflicts observed on queue writes.",
		}),
		AuditEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtqueue_audit_events_total",
			Help: "Broadcast events consumed by the durable audit worker.",
		}),
	}
}
