/*
Package observability builds the process logger and the payroll metrics.

METRICS:
  paie_payslips_total{status}       counter, status = ok | failed
  paie_payslip_duration_seconds     histogram of single payslip calculations
  paie_batch_in_flight              gauge of payslips currently calculating

Metrics register on their own registry so tests and embedded uses never
collide with the global default.
*/
package observability

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/paie-engine/payroll"
)

// NewLogger returns a JSON production logger at level (debug, info, warn,
// error). "dev" selects the human-readable development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "dev" {
		return zap.NewDevelopment()
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Metrics implements payroll.Recorder on Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry
	payslips *prometheus.CounterVec
	duration prometheus.Histogram
	inFlight prometheus.Gauge
}

var _ payroll.Recorder = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payslips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paie",
			Name:      "payslips_total",
			Help:      "Payslip calculations by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paie",
			Name:      "payslip_duration_seconds",
			Help:      "Time to calculate one payslip.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paie",
			Name:      "batch_in_flight",
			Help:      "Payslips currently being calculated by batch workers.",
		}),
	}
	m.registry.MustRegister(
		m.payslips, m.duration, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObservePayslip(status string, elapsed time.Duration) {
	m.payslips.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) BatchInFlight(delta int) {
	m.inFlight.Add(float64(delta))
}

// Registry exposes the collectors, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
