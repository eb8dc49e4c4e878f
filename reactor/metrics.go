package reactor

import "github.com/prometheus/client_golang/prometheus"

// storeMetrics exposes the Store's liveness counts as prometheus gauges,
// grounded on rockstar-0000-aistore and estuary-flow's use of
// github.com/prometheus/client_golang for exactly this kind of
// process-wide gauge. Each Store gets its own registry-scoped collector so
// multiple Stores (e.g. in tests) don't collide on metric names.
type storeMetrics struct {
	openConnections prometheus.Gauge
	pendingGauge    prometheus.Gauge
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nisse_open_connections",
			Help: "Number of live Connection records in the store.",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nisse_store_updates_pending",
			Help: "Number of state updates enqueued but not yet drained.",
		}),
	}
}

// Register adds this Store's collectors to reg.
func (s *Store) Register(reg *prometheus.Registry) error {
	if err := reg.Register(s.metrics.openConnections); err != nil {
		return err
	}
	return reg.Register(s.metrics.pendingGauge)
}
