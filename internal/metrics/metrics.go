// Package metrics wires the cluster's prometheus instrumentation:
// counters for the order lifecycle and cluster events, and gauges for
// ring size and election term — exposed on the diagnostics HTTP
// surface in internal/httpapi.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "foodmesh",
		Name:      "orders_placed_total",
		Help:      "Orders that reached Authorized.",
	})
	OrdersDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "foodmesh",
		Name:      "orders_delivered_total",
		Help:      "Orders that reached Delivered.",
	})
	OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "foodmesh",
		Name:      "orders_cancelled_total",
		Help:      "Orders that reached Cancelled or Unauthorized.",
	})
	ElectionsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "foodmesh",
		Name:      "elections_triggered_total",
		Help:      "Leader elections this node has initiated.",
	})
	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "foodmesh",
		Name:      "heartbeat_timeouts_total",
		Help:      "Times this node observed the leader heartbeat time out.",
	})

	RingSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "foodmesh",
		Name:      "ring_size",
		Help:      "Number of nodes in the fixed cluster ring.",
	})
	CurrentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "foodmesh",
		Name:      "current_term",
		Help:      "This node's current election term.",
	})
)

// Registry is a dedicated prometheus registry so tests can construct
// fresh Collectors without colliding with the process-global default.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(OrdersPlaced, OrdersDelivered, OrdersCancelled, ElectionsTriggered, HeartbeatTimeouts, RingSize, CurrentTerm)
	return r
}
