package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotifyMetrics holds Prometheus metrics for the subscription notifier.
type NotifyMetrics struct {
	ActiveSubscriptions prometheus.Gauge
	EventsEnqueued      prometheus.Counter
	EventsDropped       prometheus.Counter
	KeepalivesSent      prometheus.Counter
}

// NewNotifyMetrics creates and registers notifier metrics on the given registry.
func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "active_subscriptions",
			Help:      "Number of open subscription streams.",
		}),
		EventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_enqueued_total",
			Help:      "Total number of events enqueued to subscriptions.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because a subscription queue was full.",
		}),
		KeepalivesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "keepalives_total",
			Help:      "Total number of keepalive markers yielded by streams.",
		}),
	}

	reg.MustRegister(m.ActiveSubscriptions, m.EventsEnqueued, m.EventsDropped, m.KeepalivesSent)
	return m
}
