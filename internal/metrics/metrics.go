// Package metrics exposes Prometheus counters and gauges for the runtime
// coordinator. No HTTP listener is started here (the bus has no network
// surface, by design — spec §1 non-goals), but the registry is real and
// can be scraped by an embedding application via Registry().
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds one coordinator's counters and gauges, registered on its
// own prometheus.Registry so multiple Coordinators in one process (as in
// tests) don't collide on metric names.
type Metrics struct {
	reg *prometheus.Registry

	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
}

// New constructs and registers a fresh Metrics set for one process name.
func New(selfName string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "speed",
			Name:        "frames_sent_total",
			Help:        "Frames successfully written to a peer's inbox.",
			ConstLabels: prometheus.Labels{"process": selfName},
		}, []string{"type"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "speed",
			Name:        "frames_received_total",
			Help:        "Frames successfully decrypted and dispatched.",
			ConstLabels: prometheus.Labels{"process": selfName},
		}, []string{"type"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "speed",
			Name:        "frames_dropped_total",
			Help:        "Frames dropped before dispatch, by reason.",
			ConstLabels: prometheus.Labels{"process": selfName},
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "speed",
			Name:        "executor_queue_depth",
			Help:        "Sum of buffered+ready tasks across all per-peer executors.",
			ConstLabels: prometheus.Labels{"process": selfName},
		}),
	}

	reg.MustRegister(m.FramesSent, m.FramesReceived, m.FramesDropped, m.QueueDepth)
	return m
}

// Registry returns the underlying prometheus.Registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
