package mqtt

import "time"

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives telemetry from the MQTT core. Calls are made
// synchronously from library goroutines and must return quickly.
type Observer interface {
	// OperationCompleted is called once per outbound operation with its
	// final result (nil for success) and the time since it was created.
	OperationCompleted(clientID string, op OperationType, result error, elapsed time.Duration)

	// ConnectionOpened is called after a successful CONNACK.
	ConnectionOpened(clientID string)

	// ConnectionClosed is called when a connection becomes disconnected.
	ConnectionClosed(clientID string, reason DisconnectReason)

	// PublishReceived is called for every inbound PUBLISH.
	PublishReceived(clientID string, topic string, qos QoS, size int)

	// KeepAliveSent is called after a PINGREQ is written.
	KeepAliveSent(clientID string)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(string, OperationType, error, time.Duration) {}
func (nopObserver) ConnectionOpened(string)                                      {}
func (nopObserver) ConnectionClosed(string, DisconnectReason)                    {}
func (nopObserver) PublishReceived(string, string, QoS, int)                     {}
func (nopObserver) KeepAliveSent(string)                                         {}

// Observers fans telemetry out to several observers.
type Observers []Observer

// OperationCompleted implements Observer.
func (o Observers) OperationCompleted(clientID string, op OperationType, result error, elapsed time.Duration) {
	for _, ob := range o {
		ob.OperationCompleted(clientID, op, result, elapsed)
	}
}

// ConnectionOpened implements Observer.
func (o Observers) ConnectionOpened(clientID string) {
	for _, ob := range o {
		ob.ConnectionOpened(clientID)
	}
}

// ConnectionClosed implements Observer.
func (o Observers) ConnectionClosed(clientID string, reason DisconnectReason) {
	for _, ob := range o {
		ob.ConnectionClosed(clientID, reason)
	}
}

// PublishReceived implements Observer.
func (o Observers) PublishReceived(clientID string, topic string, qos QoS, size int) {
	for _, ob := range o {
		ob.PublishReceived(clientID, topic, qos, size)
	}
}

// KeepAliveSent implements Observer.
func (o Observers) KeepAliveSent(clientID string) {
	for _, ob := range o {
		ob.KeepAliveSent(clientID)
	}
}

// connLogger adds the connection's identity to every log line.
type connLogger struct {
	l     Logger
	attrs []any
}

func (c connLogger) Debug(msg string, args ...any) { c.l.Debug(msg, append(args, c.attrs...)...) }
func (c connLogger) Info(msg string, args ...any)  { c.l.Info(msg, append(args, c.attrs...)...) }
func (c connLogger) Warn(msg string, args ...any)  { c.l.Warn(msg, append(args, c.attrs...)...) }
func (c connLogger) Error(msg string, args ...any) { c.l.Error(msg, append(args, c.attrs...)...) }
