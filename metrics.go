package tally

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// endpointMetrics are an EndPoint's own operational counters (not the indicators' values).
type endpointMetrics struct {
	registrations *prometheus.CounterVec
	indicators    prometheus.Gauge
	queries       *prometheus.CounterVec
	failures      prometheus.Counter
}

func newEndpointMetrics(group string, reg prometheus.Registerer, l Logger) *endpointMetrics {
	labels := prometheus.Labels{"group": group}
	m := &endpointMetrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tally",
			Name:        "registrations_total",
			Help:        "Indicator registrations seen by the EndPoint, by outcome.",
			ConstLabels: labels}, []string{"result"}),
		indicators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tally",
			Name:        "indicators",
			Help:        "Indicators currently registered with the EndPoint.",
			ConstLabels: labels}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tally",
			Name:        "queries_total",
			Help:        "Fan-out queries served by the EndPoint, by outcome.",
			ConstLabels: labels}, []string{"result"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tally",
			Name:        "indicator_failures_total",
			Help:        "Individual indicator invocations which failed and were left out of a query.",
			ConstLabels: labels})}
	if reg == nil {
		return m
	}

	m.registrations = register(reg, m.registrations, l).(*prometheus.CounterVec)
	m.indicators = register(reg, m.indicators, l).(prometheus.Gauge)
	m.queries = register(reg, m.queries, l).(*prometheus.CounterVec)
	m.failures = register(reg, m.failures, l).(prometheus.Counter)
	return m
}

// register adds c to reg, reusing an identical collector that is already there. A collector that conflicts with an
// existing one is still returned, so the EndPoint keeps counting; it just isn't exported.
func register(reg prometheus.Registerer, c prometheus.Collector, l Logger) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		l.Warn(context.Background(), "Failed to register EndPoint metric: %v", err, map[string]string{
			"error": err.Error()})
	}
	return c
}
