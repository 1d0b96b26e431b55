package metrics

import "github.com/prometheus/client_golang/prometheus"

// RoomMetrics holds Prometheus metrics for the room connection manager.
type RoomMetrics struct {
	ActiveRooms      prometheus.Gauge
	ConnectedClients prometheus.Gauge
	Deliveries       prometheus.Counter
	DeliveryFailures *prometheus.CounterVec
	RejectedConnects *prometheus.CounterVec
	BroadcastFanout  prometheus.Histogram
}

// NewRoomMetrics creates and registers room metrics on the given registry.
func NewRoomMetrics(reg prometheus.Registerer) *RoomMetrics {
	m := &RoomMetrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Number of rooms with at least one connection.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "connected_clients",
			Help:      "Number of connections registered across all rooms.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to connections.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed deliveries, by reason.",
		}, []string{"reason"}),
		RejectedConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "rejected_connects_total",
			Help:      "Total number of rejected room joins, by reason.",
		}, []string{"reason"}),
		BroadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "broadcast_fanout",
			Help:      "Number of recipients per room broadcast.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}

	reg.MustRegister(m.ActiveRooms, m.ConnectedClients, m.Deliveries, m.DeliveryFailures, m.RejectedConnects, m.BroadcastFanout)
	return m
}
