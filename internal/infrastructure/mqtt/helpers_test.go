package mqtt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
)

const testTimeout = 2 * time.Second

// replyFunc lets a test take over the broker's answer to a packet. It
// returns true when it handled (or deliberately ignored) the packet.
type replyFunc func(b *fakeBroker, cp packets.ControlPacket) bool

// fakeBroker answers the client over one end of a net.Pipe the way an MQTT
// broker would, and records every packet it receives.
type fakeBroker struct {
	conn    net.Conn
	reply   replyFunc
	writeMu sync.Mutex

	received chan packets.ControlPacket

	mu          sync.Mutex
	connectSeen *packets.ConnectPacket
}

func startBroker(t *testing.T, reply replyFunc) (*fakeBroker, network.Connection) {
	t.Helper()

	client, server := net.Pipe()
	b := &fakeBroker{
		conn:     server,
		reply:    reply,
		received: make(chan packets.ControlPacket, 1024),
	}
	go b.serve()
	t.Cleanup(func() { _ = server.Close() })

	return b, network.NewConn(client)
}

func (b *fakeBroker) serve() {
	for {
		cp, err := packets.ReadPacket(b.conn)
		if err != nil {
			return
		}
		if c, ok := cp.(*packets.ConnectPacket); ok {
			b.mu.Lock()
			b.connectSeen = c
			b.mu.Unlock()
		}
		select {
		case b.received <- cp:
		default:
		}
		if b.reply != nil && b.reply(b, cp) {
			continue
		}
		b.defaultReply(cp)
	}
}

func (b *fakeBroker) defaultReply(cp packets.ControlPacket) {
	switch p := cp.(type) {
	case *packets.ConnectPacket:
		b.connack(0)
	case *packets.PublishPacket:
		if p.Qos == 1 {
			b.puback(p.MessageID)
		}
	case *packets.SubscribePacket:
		b.suback(p.MessageID, p.Qoss)
	case *packets.UnsubscribePacket:
		ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
		ack.MessageID = p.MessageID
		b.write(ack)
	case *packets.PingreqPacket:
		b.write(packets.NewControlPacket(packets.Pingresp))
	}
}

func (b *fakeBroker) write(cp packets.ControlPacket) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = cp.Write(b.conn)
}

func (b *fakeBroker) writeRaw(p []byte) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, _ = b.conn.Write(p)
}

func (b *fakeBroker) connack(code byte) {
	ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	ack.ReturnCode = code
	b.write(ack)
}

func (b *fakeBroker) puback(id uint16) {
	ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	ack.MessageID = id
	b.write(ack)
}

func (b *fakeBroker) suback(id uint16, codes []byte) {
	ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
	ack.MessageID = id
	ack.ReturnCodes = codes
	b.write(ack)
}

func (b *fakeBroker) publish(topic string, qos byte, id uint16, payload []byte) {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topic
	p.Qos = qos
	p.MessageID = id
	p.Payload = payload
	b.write(p)
}

// next returns the next received packet of the given type, skipping others.
func (b *fakeBroker) next(t *testing.T, want any) packets.ControlPacket {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		select {
		case cp := <-b.received:
			if sameType(cp, want) {
				return cp
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", want)
			return nil
		}
	}
}

func (b *fakeBroker) connectPacket() *packets.ConnectPacket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectSeen
}

func sameType(cp packets.ControlPacket, want any) bool {
	switch want.(type) {
	case *packets.ConnectPacket:
		_, ok := cp.(*packets.ConnectPacket)
		return ok
	case *packets.PublishPacket:
		_, ok := cp.(*packets.PublishPacket)
		return ok
	case *packets.PubackPacket:
		_, ok := cp.(*packets.PubackPacket)
		return ok
	case *packets.SubscribePacket:
		_, ok := cp.(*packets.SubscribePacket)
		return ok
	case *packets.UnsubscribePacket:
		_, ok := cp.(*packets.UnsubscribePacket)
		return ok
	case *packets.PingreqPacket:
		_, ok := cp.(*packets.PingreqPacket)
		return ok
	case *packets.DisconnectPacket:
		_, ok := cp.(*packets.DisconnectPacket)
		return ok
	}
	return false
}

func newTestLibrary(t *testing.T, cfg LibraryConfig, opts ...Option) *Library {
	t.Helper()

	lib, err := Init(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(lib.Cleanup)
	return lib
}

type connectOptions struct {
	info      ConnectInfo
	onClose   DisconnectCallback
	noCleanup bool
}

// connectTo connects a client to a fresh fake broker.
func connectTo(t *testing.T, lib *Library, reply replyFunc, opts connectOptions) (*Connection, *fakeBroker) {
	t.Helper()

	b, transport := startBroker(t, reply)

	info := opts.info
	if info.ClientIdentifier == "" {
		info.ClientIdentifier = "test-client"
		info.CleanSession = true
	}

	conn, err := lib.Connect(&NetworkInfo{
		Connection:         transport,
		DisconnectCallback: opts.onClose,
	}, &info, testTimeout)
	require.NoError(t, err)
	b.next(t, &packets.ConnectPacket{})

	if !opts.noCleanup {
		t.Cleanup(func() { conn.Disconnect(FlagCleanupOnly) })
	}
	return conn, b
}

func receiveWithin[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		var zero T
		t.Fatalf("timed out waiting on channel")
		return zero
	}
}

// recordingObserver counts telemetry calls.
type recordingObserver struct {
	mu        sync.Mutex
	completed map[OperationType][]error
	opened    int
	closed    []DisconnectReason
	received  int
	pings     int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{completed: make(map[OperationType][]error)}
}

func (o *recordingObserver) OperationCompleted(_ string, op OperationType, result error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[op] = append(o.completed[op], result)
}

func (o *recordingObserver) ConnectionOpened(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) ConnectionClosed(_ string, reason DisconnectReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, reason)
}

func (o *recordingObserver) PublishReceived(string, string, QoS, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received++
}

func (o *recordingObserver) KeepAliveSent(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pings++
}

func (o *recordingObserver) openedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func (o *recordingObserver) pingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pings
}

func (o *recordingObserver) completedCount(op OperationType) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.completed[op])
}

// recordingLogger keeps error messages and discards the rest.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}
