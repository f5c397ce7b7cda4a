package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the dispatch core's operational counters.
type Metrics struct {
	RaisesTotal        prometheus.Counter
	CancelsTotal       prometheus.Counter
	ExpiriesTotal      prometheus.Counter
	SupersessionsTotal prometheus.Counter
	DisconnectCleanups prometheus.Counter
	FanoutEventsTotal  prometheus.Counter
	ResyncEventsTotal  prometheus.Counter

	AEDFailuresTotal  prometheus.Counter
	AIFailuresTotal   prometheus.Counter
	PushFailuresTotal prometheus.Counter

	LiveConnections prometheus.Gauge
	Subscribers     prometheus.Gauge

	AckLatency prometheus.Histogram
}

// New registers the dispatch metrics on reg (DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RaisesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_raises_total",
			Help: "Total number of emergency raises accepted",
		}),
		CancelsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_cancels_total",
			Help: "Total number of explicit cancellations",
		}),
		ExpiriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_expiries_total",
			Help: "Total number of auto-expired emergencies",
		}),
		SupersessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_supersessions_total",
			Help: "Active emergencies deactivated by a newer raise",
		}),
		DisconnectCleanups: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_disconnect_cleanups_total",
			Help: "Active emergencies deactivated because the owner vanished",
		}),
		FanoutEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_fanout_events_total",
			Help: "emergency:nearby events delivered to responders",
		}),
		ResyncEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emergency_resync_events_total",
			Help: "emergency:nearby events delivered on subscribe resync",
		}),
		AEDFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aed_lookup_failures_total",
			Help: "AED index lookups that failed or timed out",
		}),
		AIFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ai_assess_failures_total",
			Help: "AI triage calls resolved with the fallback assessment",
		}),
		PushFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "push_failures_total",
			Help: "Push deliveries reported failed by the gateway",
		}),
		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Currently open realtime connections",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "emergency_subscriber_connections",
			Help: "Connections currently subscribed to emergency broadcasts",
		}),
		AckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "emergency_raise_ack_seconds",
			Help:    "Latency from raise receipt to acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
