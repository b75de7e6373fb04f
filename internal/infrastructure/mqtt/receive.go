package mqtt

import (
	"slices"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// transportReader adapts Connection.Receive to io.Reader and remembers the
// first transport error, so it can be told apart from a decode error.
type transportReader struct {
	conn network.Connection
	err  error
}

func (r *transportReader) Read(p []byte) (int, error) {
	n, err := r.conn.Receive(p)
	if err != nil && r.err == nil {
		r.err = err
	}
	return n, err
}

// incomingPublish is a received PUBLISH waiting for its callbacks to run.
type incomingPublish struct {
	job     *taskpool.Job
	message *PublishInfo
}

// receive is the transport receive callback. It reads one packet and
// dispatches it.
func (c *Connection) receive(t network.Connection) {
	if !c.acquire() {
		return
	}
	defer c.release()

	r := &transportReader{conn: t}
	pkt, err := c.codec.Deserialize(r)
	if r.err != nil {
		c.logger.Warn("failed to receive from network", "error", r.err)
		c.closeNetworkConnection(NetworkFailure)
		return
	}
	if err != nil {
		c.logger.Error("bad MQTT packet received", "error", err)
		c.closeNetworkConnection(BadPacketReceived)
		return
	}

	switch pkt.Type {
	case PacketConnack:
		c.handleConnack(pkt)
	case PacketPuback:
		c.handleAck(OperationPublish, pkt.PacketID)
	case PacketSuback:
		c.handleSuback(pkt)
	case PacketUnsuback:
		c.handleAck(OperationUnsubscribe, pkt.PacketID)
	case PacketPingresp:
		c.logger.Debug("PINGRESP received")
		c.pingrespReceived()
	case PacketPublish:
		c.handlePublish(pkt)
	default:
		c.logger.Warn("unexpected MQTT packet dropped", "packet_type", pkt.Type)
	}
}

func (c *Connection) handleConnack(pkt *Packet) {
	op := c.matchResponse(OperationConnect, 0)
	if op == nil {
		c.logger.Warn("CONNACK with no pending CONNECT")
		return
	}
	if pkt.ReturnCode != 0 {
		c.logger.Warn("CONNECT refused by server", "return_code", pkt.ReturnCode)
		c.complete(op, StatusServerRefused)
		return
	}
	c.logger.Debug("CONNACK received", "session_present", pkt.SessionPresent)
	c.complete(op, StatusSuccess)
}

func (c *Connection) handleAck(typ OperationType, packetID uint16) {
	op := c.matchResponse(typ, packetID)
	if op == nil {
		c.logger.Debug("acknowledgement with no pending operation", "operation", typ.String(), "packet_id", packetID)
		return
	}
	c.complete(op, StatusSuccess)
}

func (c *Connection) handleSuback(pkt *Packet) {
	op := c.matchResponse(OperationSubscribe, pkt.PacketID)
	if op == nil {
		c.logger.Debug("SUBACK with no pending SUBSCRIBE", "packet_id", pkt.PacketID)
		return
	}

	status := StatusSuccess
	for i, rc := range pkt.ReturnCodes {
		if rc == subackFailure {
			c.logger.Warn("subscription refused by server", "packet_id", pkt.PacketID, "index", i)
			c.subs.refuse(pkt.PacketID, i)
			status = StatusServerRefused
		}
	}
	// Accepted filters stay even when another filter was refused.
	if op.reservation != nil {
		op.reservation.commit()
	}
	c.complete(op, status)
}

func (c *Connection) handlePublish(pkt *Packet) {
	msg := pkt.Publish
	if msg.QoS > QoS1 {
		c.logger.Error("PUBLISH with unsupported QoS", "qos", msg.QoS, "topic", msg.TopicName)
		c.closeNetworkConnection(BadPacketReceived)
		return
	}

	c.observer.PublishReceived(c.clientID, msg.TopicName, msg.QoS, len(msg.Payload))

	// A QoS 1 PUBACK is sent only once the callbacks are queued.
	if !c.acquire() {
		return
	}
	in := &incomingPublish{message: msg}
	in.job = c.lib.callbacks.NewJob(func(*taskpool.Job) { c.deliver(in) })

	c.refMu.Lock()
	c.pendingIncoming = append(c.pendingIncoming, in)
	c.refMu.Unlock()

	if err := c.lib.callbacks.Schedule(in.job); err != nil {
		c.logger.Error("failed to schedule PUBLISH callbacks", "topic", msg.TopicName,
			"qos", int(msg.QoS), "acknowledged", false, "error", err)
		c.refMu.Lock()
		c.pendingIncoming = slices.DeleteFunc(c.pendingIncoming, func(p *incomingPublish) bool { return p == in })
		c.refMu.Unlock()
		c.release()
		return
	}

	if msg.QoS == QoS1 {
		c.sendPuback(pkt.PacketID)
	}
}

// sendPuback queues the acknowledgement of an incoming QoS 1 PUBLISH.
func (c *Connection) sendPuback(packetID uint16) {
	op, err := c.newOperation(OperationPuback, 0, nil)
	if err != nil {
		return
	}
	op.packetID = packetID

	packet, err := c.codec.SerializePuback(packetID)
	if err != nil {
		c.logger.Error("failed to encode PUBACK", "packet_id", packetID, "error", err)
		c.discard(op, StatusOf(err))
		return
	}
	op.packet = packet

	if err := c.scheduleOperation(op); err != nil {
		c.logger.Error("failed to schedule PUBACK", "packet_id", packetID, "error", err)
		c.discard(op, StatusOf(err))
	}
}

// deliver runs the callbacks of every subscription matching the message.
func (c *Connection) deliver(in *incomingPublish) {
	defer c.release()

	c.refMu.Lock()
	c.pendingIncoming = slices.DeleteFunc(c.pendingIncoming, func(p *incomingPublish) bool { return p == in })
	c.refMu.Unlock()

	entries := c.subs.match(in.message.TopicName)
	if len(entries) == 0 {
		c.logger.Debug("PUBLISH matched no subscription", "topic", in.message.TopicName)
		return
	}
	defer c.subs.releaseEntries(entries)

	for _, e := range entries {
		param := &CallbackParam{Connection: c, Message: in.message}
		func() {
			defer c.recoverCallback("subscription")
			e.callback(param)
		}()
	}
}
