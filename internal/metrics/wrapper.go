package metrics

import "github.com/prometheus/client_golang/prometheus"

// MetricsCounter, MetricsGauge, and MetricsHistogram let callers outside
// this package (orchestrator, reconcile) depend on narrow interfaces
// instead of *Metrics directly.
type MetricsCounter interface {
	Inc()
	Add(float64)
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

type Counter = MetricsCounter
type Gauge = MetricsGauge
type Histogram = MetricsHistogram

// MetricsWrapper exposes the engine's Prometheus series through the narrow
// interfaces above.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) TicksTotal() MetricsCounter          { return &CounterWrapper{w.m.TicksTotal} }
func (w *MetricsWrapper) ErrorsTotal() MetricsCounter         { return &CounterWrapper{w.m.ErrorsTotal} }
func (w *MetricsWrapper) RestartsTotal() MetricsCounter       { return &CounterWrapper{w.m.RestartsTotal} }
func (w *MetricsWrapper) OrdersTotal() MetricsCounter         { return &CounterWrapper{w.m.OrdersTotal} }
func (w *MetricsWrapper) CancelsDispatched() MetricsCounter   { return &CounterWrapper{w.m.CancelsDispatched} }
func (w *MetricsWrapper) CreatesDispatched() MetricsCounter   { return &CounterWrapper{w.m.CreatesDispatched} }
func (w *MetricsWrapper) IdealOrdersComposed() MetricsCounter {
	return &CounterWrapper{w.m.IdealOrdersComposed}
}
func (w *MetricsWrapper) UnstuckTriggers() MetricsCounter { return &CounterWrapper{w.m.UnstuckTriggers} }
func (w *MetricsWrapper) WSReconnects() MetricsCounter    { return &CounterWrapper{w.m.WSReconnects} }

func (w *MetricsWrapper) PnLTotal() MetricsGauge        { return &GaugeWrapper{w.m.PnLTotal} }
func (w *MetricsWrapper) ActivePositions() MetricsGauge { return &GaugeWrapper{w.m.ActivePositions} }

func (w *MetricsWrapper) TickDuration() MetricsHistogram { return &HistogramWrapper{w.m.TickDuration} }
func (w *MetricsWrapper) ReconcileBatchSize() MetricsHistogram {
	return &HistogramWrapper{w.m.ReconcileBatchSize}
}

func (w *MetricsWrapper) UpdatePositions(positions map[string]float64) {
	w.m.UpdatePositions(positions)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

func (cw *CounterWrapper) Add(v float64) {
	cw.c.Add(v)
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
