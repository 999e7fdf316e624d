// Package metrics exposes veil's Prometheus instrumentation. Every Metrics
// value owns a private registry, so instances never collide and a nil
// *Metrics is a valid no-op recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veil"

type Metrics struct {
	handler http.Handler

	activeRequests  prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	engineCalls     *prometheus.CounterVec
	engineDuration  *prometheus.HistogramVec
	findingsTotal   *prometheus.CounterVec
	enginesLoaded   *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Analysis requests currently in flight.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Analysis requests by engine selector and outcome.",
		}, []string{"engine", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end analysis latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"engine"}),
		engineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Detection calls by engine and outcome.",
		}, []string{"engine", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Latency of single detection calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"engine"}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Consolidated findings by engine selector and entity type.",
		}, []string{"engine", "entity_type"}),
		enginesLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_loaded",
			Help:      "1 when the engine loaded at startup.",
		}, []string{"engine"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeRequests,
		m.requestsTotal,
		m.requestDuration,
		m.engineCalls,
		m.engineDuration,
		m.findingsTotal,
		m.enginesLoaded,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return m
}

func (m *Metrics) IncrementActiveRequests() {
	if m != nil {
		m.activeRequests.Inc()
	}
}

func (m *Metrics) DecrementActiveRequests() {
	if m != nil {
		m.activeRequests.Dec()
	}
}

// ObserveRequest records one finished analysis request.
func (m *Metrics) ObserveRequest(engine string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(engine, outcome(err)).Inc()
	m.requestDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveEngineCall records one detection call against a single engine.
func (m *Metrics) ObserveEngineCall(engine string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.engineCalls.WithLabelValues(engine, outcome(err)).Inc()
	m.engineDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// AddFindings counts consolidated findings per entity type.
func (m *Metrics) AddFindings(engine string, byType map[string]int) {
	if m == nil {
		return
	}
	for typ, n := range byType {
		m.findingsTotal.WithLabelValues(engine, typ).Add(float64(n))
	}
}

// SetEnginesLoaded publishes startup availability.
func (m *Metrics) SetEnginesLoaded(loaded map[string]bool) {
	if m == nil {
		return
	}
	for engine, ok := range loaded {
		v := 0.0
		if ok {
			v = 1
		}
		m.enginesLoaded.WithLabelValues(engine).Set(v)
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
