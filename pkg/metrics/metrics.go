package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyperclob"

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the exchange's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	fills         prometheus.Counter
	relayRejected *prometheus.CounterVec
	eventsEmitted *prometheus.CounterVec
	openOrders    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Exchange operations by name and result",
		}, []string{"op", "result"}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Settled matches",
		}),
		relayRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rejected_total",
			Help:      "Relay envelopes rejected by reason",
		}, []string{"reason"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed notifications by kind",
		}, []string{"kind"}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders placed minus orders closed since start",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.fills,
		m.relayRejected,
		m.eventsEmitted,
		m.openOrders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one operation outcome. rejected classifies expected
// business failures separately from internal errors.
func (m *Metrics) Observe(op string, err error, rejected func(error) bool) {
	result := ResultOK
	switch {
	case err == nil:
	case rejected != nil && rejected(err):
		result = ResultRejected
	default:
		result = ResultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Fill() { m.fills.Inc() }

func (m *Metrics) RelayRejected(reason string) { m.relayRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) Event(kind string) { m.eventsEmitted.WithLabelValues(kind).Inc() }

func (m *Metrics) OrderOpened() { m.openOrders.Inc() }

func (m *Metrics) OrderClosed() { m.openOrders.Dec() }

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Reason pairs a label with the error it stands for.
type Reason struct {
	Label string
	Err   error
}

// ReasonOf returns the label of the first reason matching err, or "other".
func ReasonOf(err error, reasons []Reason) string {
	for _, r := range reasons {
		if errors.Is(err, r.Err) {
			return r.Label
		}
	}
	return "other"
}
