// Package telemetry exposes sessiondb's prometheus metrics. Every metric is a
// no-op until InitializeTelemetry(true) runs, so packages can record
// unconditionally.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessiondb/pkg/logger"
)

const namespace = "sessiondb"

var (
	registry *prometheus.Registry
	initMu   sync.Mutex
)

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Sub(float64)     {}

type noopCounterVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(labels ...string) Counter     { return NoopStat{} }
func (noopHistogramVec) With(labels ...string) Histogram { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusHistogramVec struct {
	vec *prometheus.HistogramVec
}

func (p *prometheusHistogramVec) With(labelValues ...string) Histogram {
	return p.vec.WithLabelValues(labelValues...)
}

func newCounter(name, help string) Counter {
	ret := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(ret)
	return ret
}

func newGauge(name, help string) Gauge {
	ret := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(ret)
	return ret
}

func newCounterVec(name, help string, labels ...string) CounterVec {
	ret := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) HistogramVec {
	ret := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	registry.MustRegister(ret)
	return &prometheusHistogramVec{vec: ret}
}

// InitializeTelemetry creates the registry and swaps the no-op metrics for real ones.
// It is a no-op when disabled or when already initialized.
func InitializeTelemetry(enabled bool) {
	if !enabled {
		return
	}
	initMu.Lock()
	defer initMu.Unlock()
	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	registerMetrics()

	logger.Info("Prometheus metrics enabled at /metrics")
}

// MetricsHandler returns the /metrics handler, or nil when telemetry is disabled.
func MetricsHandler() http.Handler {
	initMu.Lock()
	defer initMu.Unlock()
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
