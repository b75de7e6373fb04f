package mqtt

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// Connection is one MQTT session over a transport.
//
// A Connection is created by Library.Connect and stays valid until
// Disconnect has been called and every operation, callback and timer that
// references it has finished. All methods are safe for concurrent use.
type Connection struct {
	lib      *Library
	logger   Logger
	observer Observer
	codec    Codec

	transport    network.Connection
	ownTransport bool

	awsMode            bool
	clientID           string
	disconnectCallback DisconnectCallback

	// refMu guards the reference count, the disconnected flag, both
	// pending lists and every operation's status.
	refMu             sync.Mutex
	refs              int
	disconnected      bool
	disconnectCalled  bool
	destroyed         bool
	opened            bool
	pendingProcessing []*Operation
	pendingResponse   []*Operation
	pendingIncoming   []*incomingPublish
	senderScheduled   bool

	senderJob *taskpool.Job

	// sendMu serialises writes to the transport.
	sendMu sync.Mutex

	ids  *packetIDAllocator
	subs *subscriptionRegistry

	keepAlive keepAliveState
}

func newConnection(lib *Library, netInfo *NetworkInfo, info *ConnectInfo, transport network.Connection) *Connection {
	codec := netInfo.Codec
	if codec == nil {
		codec = PacketCodec{}
	}

	c := &Connection{
		lib:                lib,
		observer:           lib.observer,
		codec:              codec,
		transport:          transport,
		ownTransport:       netInfo.CreateNetworkConnection,
		awsMode:            info.AWSIoTMode,
		clientID:           info.ClientIdentifier,
		disconnectCallback: netInfo.DisconnectCallback,
		refs:               1,
		ids:                newPacketIDAllocator(),
		subs:               newSubscriptionRegistry(),
	}
	c.logger = connLogger{l: lib.logger, attrs: []any{"client_id", info.ClientIdentifier}}
	c.senderJob = lib.pool.NewJob(func(*taskpool.Job) { c.processQueue() })
	return c
}

// ClientID returns the client identifier sent in CONNECT.
func (c *Connection) ClientID() string {
	return c.clientID
}

// IsConnected reports whether the connection is still usable.
func (c *Connection) IsConnected() bool {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	return !c.disconnected
}

// IsSubscribed reports whether a committed subscription exists for filter
// and returns a copy of it.
func (c *Connection) IsSubscribed(filter string) (Subscription, bool) {
	return c.subs.lookup(filter)
}

// Subscriptions returns a snapshot of the committed subscriptions.
func (c *Connection) Subscriptions() []Subscription {
	return c.subs.snapshot()
}

// acquire takes a connection reference. It fails once the connection is
// disconnected.
func (c *Connection) acquire() bool {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	if c.disconnected {
		return false
	}
	c.refs++
	return true
}

// release drops a reference and destroys the connection when the last one
// goes after disconnection.
func (c *Connection) release() {
	c.refMu.Lock()
	c.refs--
	if c.refs < 0 {
		c.refs = 0
		c.refMu.Unlock()
		c.logger.Error("connection reference released twice")
		return
	}
	destroy := c.refs == 0 && c.disconnected && !c.destroyed
	if destroy {
		c.destroyed = true
	}
	c.refMu.Unlock()

	if destroy {
		c.destroy()
	}
}

func (c *Connection) destroy() {
	c.stopKeepAlive()
	c.subs.removeAll()

	if c.ownTransport {
		if err := c.transport.Destroy(); err != nil {
			c.logger.Warn("failed to destroy network connection", "error", err)
		}
	}

	c.lib.registry.release(c)
	c.logger.Debug("MQTT connection destroyed")
}

// closeNetworkConnection marks the connection disconnected and closes the
// transport. The first call also stops keep-alive, fails every pending
// operation and tells the disconnect callback.
func (c *Connection) closeNetworkConnection(reason DisconnectReason) {
	c.refMu.Lock()
	first := !c.disconnected
	c.disconnected = true
	opened := c.opened
	c.refMu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("failed to close network connection", "error", err)
	}
	if !first {
		return
	}

	c.stopKeepAlive()
	c.drain()

	if reason == DisconnectCalled {
		c.logger.Info("MQTT connection closed", "reason", reason.String())
	} else {
		c.logger.Warn("MQTT connection lost", "reason", reason.String())
	}
	if opened {
		c.observer.ConnectionClosed(c.clientID, reason)
	}

	if c.disconnectCallback != nil {
		func() {
			defer c.recoverCallback("disconnect")
			c.disconnectCallback(c, reason)
		}()
	}
}

// drain fails outbound operations and cancels incoming PUBLISH jobs that
// have not started. Jobs already running finish on their own.
func (c *Connection) drain() {
	c.refMu.Lock()
	outbound := make([]*Operation, 0, len(c.pendingProcessing)+len(c.pendingResponse))
	outbound = append(outbound, c.pendingProcessing...)
	outbound = append(outbound, c.pendingResponse...)
	for _, op := range c.pendingProcessing {
		op.queued = false
	}
	c.pendingProcessing = nil
	incoming := c.pendingIncoming
	c.pendingIncoming = nil
	c.refMu.Unlock()

	for _, in := range incoming {
		if err := c.lib.callbacks.TryCancel(in.job); err == nil {
			c.release()
		}
	}
	for _, op := range outbound {
		c.complete(op, StatusNetworkError)
	}
}

// send writes one packet to the transport.
func (c *Connection) send(packet []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	n, err := c.transport.Send(packet)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkError, err)
	}
	if n != len(packet) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrNetworkError, n, len(packet))
	}
	return nil
}

// matchResponse finds the operation an acknowledgement belongs to.
func (c *Connection) matchResponse(typ OperationType, packetID uint16) *Operation {
	c.refMu.Lock()
	defer c.refMu.Unlock()

	for _, op := range c.pendingResponse {
		if op.typ != typ || op.status != StatusPending {
			continue
		}
		if typ == OperationConnect || op.packetID == packetID {
			return op
		}
	}
	return nil
}

// removeLocked unlinks op from both pending lists. Caller holds refMu.
func (c *Connection) removeLocked(op *Operation) {
	if op.queued {
		c.pendingProcessing = slices.DeleteFunc(c.pendingProcessing, func(o *Operation) bool { return o == op })
		op.queued = false
	}
	c.pendingResponse = slices.DeleteFunc(c.pendingResponse, func(o *Operation) bool { return o == op })
}

func (c *Connection) recoverCallback(kind string) {
	if r := recover(); r != nil {
		c.logger.Error("panic in MQTT callback", "callback", kind, "panic", r)
	}
}

// responseWait is the library's fixed wait for PINGRESP and DISCONNECT.
func (c *Connection) responseWait() time.Duration {
	return c.lib.cfg.ResponseWait
}
