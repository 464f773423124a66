// Package metrics provides Prometheus metrics collection for the forager
// grid-trading engine. It defines and manages the counters, gauges, and
// histograms exposed via the Prometheus metrics endpoint for monitoring the
// tick loop, the order composer, the reconciler, and the restart policy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	// Tick loop
	TicksTotal    prometheus.Counter   // Total number of execution ticks run
	TickDuration  prometheus.Histogram // Duration of one tick across all active symbols
	ErrorsTotal   prometheus.Counter   // Total number of errors recorded by the circuit breaker
	RestartsTotal prometheus.Counter   // Total number of engine restarts

	// Order composition and dispatch
	IdealOrdersComposed prometheus.Counter   // Total number of ideal orders composed
	OrdersTotal         prometheus.Counter   // Total number of orders placed
	CancelsDispatched   prometheus.Counter   // Total number of cancel requests dispatched
	CreatesDispatched   prometheus.Counter   // Total number of create requests dispatched
	ReconcileBatchSize  prometheus.Histogram // Size of each reconcile batch (cancels+creates)

	// Trading state
	PnLTotal        prometheus.Gauge // Current total realized + unrealized profit and loss
	ActivePositions prometheus.Gauge // Number of non-zero positions across all symbols
	UnstuckTriggers prometheus.Counter // Total number of unstuck-mode activations

	// Exchange adapter
	WSReconnects prometheus.Counter // Total number of WebSocket reconnections
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Total number of execution ticks run",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tick_duration_seconds",
			Help:    "Duration of one tick across all active symbols",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors recorded by the circuit breaker",
		}),
		RestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "restarts_total",
			Help: "Total number of engine restarts",
		}),
		IdealOrdersComposed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ideal_orders_composed_total",
			Help: "Total number of ideal orders composed",
		}),
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of orders placed",
		}),
		CancelsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "cancels_dispatched_total",
			Help: "Total number of cancel requests dispatched",
		}),
		CreatesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "creates_dispatched_total",
			Help: "Total number of create requests dispatched",
		}),
		ReconcileBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_batch_size",
			Help:    "Size of each reconcile batch (cancels+creates)",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		PnLTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_total",
			Help: "Current total realized + unrealized profit and loss",
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Number of non-zero positions across all symbols",
		}),
		UnstuckTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "unstuck_triggers_total",
			Help: "Total number of unstuck-mode activations",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of WebSocket reconnections",
		}),
	}
}

// UpdatePositions updates the active positions gauge from a snapshot of
// symbol -> signed position size.
func (m *Metrics) UpdatePositions(positions map[string]float64) {
	count := 0
	for _, pos := range positions {
		if pos != 0 {
			count++
		}
	}
	m.ActivePositions.Set(float64(count))
}

// GetErrorRate returns the ratio of errors to ticks, as gathered from the
// default Prometheus registry.
func (m *Metrics) GetErrorRate() float64 {
	var ticks, errs float64

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range mfs {
		switch *mf.Name {
		case "ticks_total":
			for _, m := range mf.Metric {
				ticks = *m.Counter.Value
			}
		case "errors_total":
			for _, m := range mf.Metric {
				errs = *m.Counter.Value
			}
		}
	}
	if ticks == 0 {
		return 0
	}
	return errs / ticks
}
