// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scalpsentinel"

// Recorder owns its registry so tests and multiple instances never collide.
type Recorder struct {
	reg *prometheus.Registry

	signals      *prometheus.CounterVec
	trades       *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	scans        *prometheus.CounterVec
	positionOpen prometheus.Gauge
	breakerOpen  prometheus.Gauge
	paused       prometheus.Gauge
	tickDuration *prometheus.HistogramVec
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Entry signals detected",
		}, []string{"symbol", "direction"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Closed positions by exit reason",
		}, []string{"reason"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Task errors recorded by the circuit breaker",
		}, []string{"context"}),
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Pre-market scans by outcome",
		}, []string{"outcome"}),
		positionOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_open",
			Help:      "1 while an option position is held",
		}),
		breakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the circuit breaker is open",
		}),
		paused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 while trading is paused by the operator",
		}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduled tasks",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task"}),
	}
}

func (r *Recorder) Signal(symbol, direction string) {
	r.signals.WithLabelValues(symbol, direction).Inc()
}

func (r *Recorder) TradeClosed(reason string) {
	r.trades.WithLabelValues(reason).Inc()
}

func (r *Recorder) Error(context string) {
	r.errorsTotal.WithLabelValues(context).Inc()
}

func (r *Recorder) Scan(outcome string) {
	r.scans.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetPositionOpen(open bool) { r.positionOpen.Set(boolGauge(open)) }

func (r *Recorder) SetBreakerOpen(open bool) { r.breakerOpen.Set(boolGauge(open)) }

func (r *Recorder) SetPaused(paused bool) { r.paused.Set(boolGauge(paused)) }

// ObserveTick records how long a scheduled task took.
func (r *Recorder) ObserveTick(task string, d time.Duration) {
	r.tickDuration.WithLabelValues(task).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
