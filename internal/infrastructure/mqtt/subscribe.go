package mqtt

import (
	"fmt"
	"time"
)

// Subscribe registers callbacks for topic filters and sends SUBSCRIBE.
//
// The filters are matchable as soon as the call returns. A filter the
// broker refuses is removed when SUBACK arrives and the operation result is
// ErrServerRefused; the accepted filters of the same call stay.
//
// Subscribing to a filter that is already registered adds a second entry,
// so both callbacks run for every matching message.
//
// Returns:
//   - *Operation: Pending SUBSCRIBE; waitable only with FlagWaitable
//   - error: ErrBadParameter, ErrNetworkError, ErrNoMemory or ErrSchedulingError
func (c *Connection) Subscribe(subs []Subscription, flags Flags, callback CallbackFunc) (*Operation, error) {
	return c.subscriptionCommon(OperationSubscribe, subs, flags, callback)
}

// TimedSubscribe subscribes and waits for SUBACK.
func (c *Connection) TimedSubscribe(subs []Subscription, flags Flags, timeout time.Duration) error {
	op, err := c.Subscribe(subs, flags|FlagWaitable, nil)
	if err != nil {
		return err
	}
	return op.Wait(timeout)
}

// Unsubscribe removes the filters from the registry and sends UNSUBSCRIBE.
//
// The registry entries are removed before the packet is sent and are not
// restored if the UNSUBSCRIBE fails. Only TopicFilter is read from subs.
func (c *Connection) Unsubscribe(subs []Subscription, flags Flags, callback CallbackFunc) (*Operation, error) {
	return c.subscriptionCommon(OperationUnsubscribe, subs, flags, callback)
}

// TimedUnsubscribe unsubscribes and waits for UNSUBACK.
func (c *Connection) TimedUnsubscribe(subs []Subscription, flags Flags, timeout time.Duration) error {
	op, err := c.Unsubscribe(subs, flags|FlagWaitable, nil)
	if err != nil {
		return err
	}
	return op.Wait(timeout)
}

func (c *Connection) subscriptionCommon(typ OperationType, subs []Subscription, flags Flags, callback CallbackFunc) (*Operation, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: connection is nil", ErrBadParameter)
	}
	if err := checkNotify(flags, callback); err != nil {
		return nil, err
	}
	if err := validateSubscriptionList(typ, c.awsMode, subs); err != nil {
		return nil, err
	}

	if typ == OperationUnsubscribe {
		c.subs.removeByTopicFilter(subs)
	}

	op, err := c.newOperation(typ, flags, callback)
	if err != nil {
		return nil, err
	}
	if err := c.allocatePacketID(op); err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}

	var packet []byte
	if typ == OperationSubscribe {
		packet, err = c.codec.SerializeSubscribe(subs, op.packetID)
	} else {
		packet, err = c.codec.SerializeUnsubscribe(subs, op.packetID)
	}
	if err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}
	op.packet = packet

	if typ == OperationSubscribe {
		op.reservation = c.subs.reserve(op.packetID, subs)
	}

	if err := c.scheduleOperation(op); err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}

	c.logger.Debug("MQTT "+typ.String()+" queued", "packet_id", op.packetID, "filters", len(subs))
	return op, nil
}
