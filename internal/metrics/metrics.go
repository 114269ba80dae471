// Package metrics exposes Prometheus instruments for replay runs.
//
// Instruments live on a private registry owned by each Metrics value, so
// independent harnesses in one process never share counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockstep"

// Metrics holds the replay instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	inputs   *prometheus.CounterVec
	outputs  *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	sessions *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "inputs_delivered_total",
			Help:      "Input messages delivered to the service under test",
		}, []string{"service"}),
		outputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "outputs_captured_total",
			Help:      "Output messages captured from the service under test",
		}, []string{"service", "topic"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "gate_timeouts_total",
			Help:      "Driver waits that hit the gate timeout",
		}, []string{"service"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "sessions_total",
			Help:      "Replay sessions by result",
		}, []string{"service", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "duration_seconds",
			Help:      "Wall time of a replay session",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "transport"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "sessions_in_flight",
			Help:      "Replay sessions currently running",
		}, []string{"service"}),
	}
	m.registry.MustRegister(m.inputs, m.outputs, m.timeouts, m.sessions, m.duration, m.inflight)
	return m
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the instruments in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InputDelivered counts one input delivered to service.
func (m *Metrics) InputDelivered(service string) {
	if m == nil {
		return
	}
	m.inputs.WithLabelValues(service).Inc()
}

// OutputCaptured counts one output on topic.
func (m *Metrics) OutputCaptured(service, topic string) {
	if m == nil {
		return
	}
	m.outputs.WithLabelValues(service, topic).Inc()
}

// GateTimeout counts a driver-side timeout.
func (m *Metrics) GateTimeout(service string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(service).Inc()
}

// SessionStarted marks a session as running.
func (m *Metrics) SessionStarted(service string) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(service).Inc()
}

// SessionFinished records the outcome and duration of a session.
func (m *Metrics) SessionFinished(service, transport string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.inflight.WithLabelValues(service).Dec()
	m.sessions.WithLabelValues(service, result).Inc()
	m.duration.WithLabelValues(service, transport).Observe(elapsed.Seconds())
}
