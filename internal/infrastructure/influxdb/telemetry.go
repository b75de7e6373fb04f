package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

// Measurement names written by Telemetry.
const (
	MeasurementOperation  = "mqtt_operation"
	MeasurementConnection = "mqtt_connection"
	MeasurementIncoming   = "mqtt_incoming"
	MeasurementKeepAlive  = "mqtt_keepalive"
)

// PointWriter accepts points for batched delivery. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Telemetry records MQTT core events as InfluxDB points.
// It implements mqtt.Observer; every method only queues a point.
type Telemetry struct {
	w   PointWriter
	now func() time.Time
}

var _ mqtt.Observer = (*Telemetry)(nil)

// NewTelemetry returns a Telemetry writing to w.
func NewTelemetry(w PointWriter) *Telemetry {
	return &Telemetry{w: w, now: time.Now}
}

// OperationCompleted writes one point per finished outbound operation.
//
// Tags: client_id, operation, status. Fields: elapsed_ms, success.
func (t *Telemetry) OperationCompleted(clientID string, op mqtt.OperationType, result error, elapsed time.Duration) {
	status := mqtt.StatusOf(result)
	t.w.WritePoint(write.NewPoint(
		MeasurementOperation,
		map[string]string{
			"client_id": clientID,
			"operation": op.String(),
			"status":    status.String(),
		},
		map[string]any{
			"elapsed_ms": float64(elapsed) / float64(time.Millisecond),
			"success":    result == nil,
		},
		t.now(),
	))
}

// ConnectionOpened writes an "opened" connection event.
func (t *Telemetry) ConnectionOpened(clientID string) {
	t.connectionEvent(clientID, "opened", "")
}

// ConnectionClosed writes a "closed" connection event with the reason.
func (t *Telemetry) ConnectionClosed(clientID string, reason mqtt.DisconnectReason) {
	t.connectionEvent(clientID, "closed", reason.String())
}

func (t *Telemetry) connectionEvent(clientID, event, reason string) {
	tags := map[string]string{
		"client_id": clientID,
		"event":     event,
	}
	if reason != "" {
		tags["reason"] = reason
	}
	t.w.WritePoint(write.NewPoint(MeasurementConnection, tags, map[string]any{"count": 1}, t.now()))
}

// PublishReceived writes one point per inbound PUBLISH. The topic is a
// field rather than a tag to keep series cardinality bounded.
func (t *Telemetry) PublishReceived(clientID string, topic string, qos mqtt.QoS, size int) {
	t.w.WritePoint(write.NewPoint(
		MeasurementIncoming,
		map[string]string{
			"client_id": clientID,
			"qos":       qosTag(qos),
		},
		map[string]any{
			"topic":         topic,
			"payload_bytes": size,
		},
		t.now(),
	))
}

// KeepAliveSent writes one point per PINGREQ.
func (t *Telemetry) KeepAliveSent(clientID string) {
	t.w.WritePoint(write.NewPoint(
		MeasurementKeepAlive,
		map[string]string{"client_id": clientID},
		map[string]any{"count": 1},
		t.now(),
	))
}

func qosTag(q mqtt.QoS) string {
	if q == mqtt.QoS1 {
		return "1"
	}
	return "0"
}
