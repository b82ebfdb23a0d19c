// Package telemetry exports per-pattern call counters and latencies of both
// transports to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perftest"

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics holds the collectors and the registry they are registered in. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	streamMessages *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callsTotal: newCounterVec("calls_total",
			"Completed calls by transport, pattern and status code.",
			[]string{"transport", "pattern", "code"}),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "call_duration_seconds",
				Help:      "Wall-clock duration of calls, including stream lifetime.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
			},
			[]string{"transport", "pattern"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "calls_in_flight",
				Help:      "Calls currently being served.",
			},
			[]string{"transport"},
		),
		streamMessages: newCounterVec("stream_messages_total",
			"Messages moved over streaming calls.",
			[]string{"transport", "pattern", "direction"}),
	}

	m.registry.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.inFlight,
		m.streamMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) begin(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

func (m *Metrics) ObserveCall(transport, pattern, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(transport, pattern, code).Inc()
	m.callDuration.WithLabelValues(transport, pattern).Observe(d.Seconds())
}

func (m *Metrics) StreamMessage(transport, pattern, direction string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(transport, pattern, direction).Inc()
}
