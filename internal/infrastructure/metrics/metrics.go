// Package metrics provides Prometheus instrumentation for the MQTT core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "mqttcore"

// Metrics holds the collectors for one registry. It implements mqtt.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Operations
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Connections
	ActiveConnections prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	DisconnectsTotal  *prometheus.CounterVec

	// Traffic
	PublishesReceived *prometheus.CounterVec
	ReceivedBytes     prometheus.Counter
	PingreqsSent      prometheus.Counter
}

var _ mqtt.Observer = (*Metrics)(nil)

// New creates Metrics on a private registry that also carries the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Completed MQTT operations by type and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time from operation creation to completion",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections that have received a CONNACK and not yet closed",
		}),
		ConnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful CONNECT exchanges",
		}),
		DisconnectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disconnects_total",
				Help:      "Connection closures by reason",
			},
			[]string{"reason"},
		),
		PublishesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_received_total",
				Help:      "Inbound PUBLISH packets by QoS",
			},
			[]string{"qos"},
		),
		ReceivedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_payload_bytes_total",
			Help:      "Payload bytes of inbound PUBLISH packets",
		}),
		PingreqsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pingreqs_sent_total",
			Help:      "Keep-alive PINGREQ packets written",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OperationCompleted implements mqtt.Observer.
func (m *Metrics) OperationCompleted(_ string, op mqtt.OperationType, result error, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(op.String(), mqtt.StatusOf(result).String()).Inc()
	m.OperationDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

// ConnectionOpened implements mqtt.Observer.
func (m *Metrics) ConnectionOpened(string) {
	m.ConnectsTotal.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionClosed implements mqtt.Observer.
func (m *Metrics) ConnectionClosed(_ string, reason mqtt.DisconnectReason) {
	m.DisconnectsTotal.WithLabelValues(reason.String()).Inc()
	m.ActiveConnections.Dec()
}

// PublishReceived implements mqtt.Observer.
func (m *Metrics) PublishReceived(_ string, _ string, qos mqtt.QoS, size int) {
	label := "0"
	if qos == mqtt.QoS1 {
		label = "1"
	}
	m.PublishesReceived.WithLabelValues(label).Inc()
	m.ReceivedBytes.Add(float64(size))
}

// KeepAliveSent implements mqtt.Observer.
func (m *Metrics) KeepAliveSent(string) {
	m.PingreqsSent.Inc()
}
