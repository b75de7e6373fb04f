package mqtt

import (
	"fmt"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// Publish sends a message on the connection.
//
// Parameters:
//   - info: Topic, payload, QoS and retry settings
//   - flags: FlagWaitable to get a reference for Wait
//   - callback: Completion callback; mutually exclusive with FlagWaitable
//
// QoS 0 messages are fire-and-forget: they must not carry a callback or
// FlagWaitable and the returned operation is always nil.
//
// QoS 1 messages return while pending. The result arrives through Wait on
// the returned operation or through the callback. With RetryLimit set the
// message is resent on RetryInterval, doubling each time up to the library
// retry ceiling.
//
// Returns:
//   - *Operation: Reference for Wait when waitable, nil for QoS 0
//   - error: ErrBadParameter, ErrNetworkError, ErrNoMemory or ErrSchedulingError
//
// Example:
//
//	op, err := conn.Publish(&mqtt.PublishInfo{
//	    QoS:       mqtt.QoS1,
//	    TopicName: "devices/sensor-1/telemetry",
//	    Payload:   []byte(`{"t":21.5}`),
//	}, mqtt.FlagWaitable, nil)
//	if err != nil {
//	    return err
//	}
//	err = op.Wait(5 * time.Second)
func (c *Connection) Publish(info *PublishInfo, flags Flags, callback CallbackFunc) (*Operation, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: connection is nil", ErrBadParameter)
	}
	if err := validatePublish(c.awsMode, info, c.logger.Warn); err != nil {
		return nil, err
	}
	if info.QoS == QoS0 && (flags&FlagWaitable != 0 || callback != nil) {
		return nil, fmt.Errorf("%w: QoS 0 PUBLISH cannot be waitable or have a callback", ErrBadParameter)
	}
	if err := checkNotify(flags, callback); err != nil {
		return nil, err
	}

	op, err := c.newOperation(OperationPublish, flags, callback)
	if err != nil {
		return nil, err
	}

	msg := *info
	op.publish = &msg

	if msg.QoS > QoS0 {
		if err := c.allocatePacketID(op); err != nil {
			c.discard(op, StatusOf(err))
			return nil, err
		}
	}

	packet, err := c.codec.SerializePublish(op.publish, op.packetID, false)
	if err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}
	op.packet = packet

	if msg.QoS > QoS0 && msg.RetryLimit > 0 {
		op.retry = retryState{limit: msg.RetryLimit, nextPeriod: msg.RetryInterval}
		op.retryJob = c.lib.pool.NewJob(func(*taskpool.Job) { c.retransmit(op) })
	}

	if err := c.scheduleOperation(op); err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}

	if msg.QoS == QoS0 {
		return nil, nil
	}
	return op, nil
}

// TimedPublish publishes and waits for the result. QoS 0 returns once the
// message is queued.
func (c *Connection) TimedPublish(info *PublishInfo, flags Flags, timeout time.Duration) error {
	if info != nil && info.QoS > QoS0 {
		flags |= FlagWaitable
	}
	op, err := c.Publish(info, flags, nil)
	if err != nil || op == nil {
		return err
	}
	return op.Wait(timeout)
}
