package mqtt

import (
	"fmt"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// Operation is one in-flight protocol exchange such as a PUBLISH awaiting
// its PUBACK.
//
// Only operations created with FlagWaitable may be passed to Wait, and
// only once. After Wait returns the reference must not be waited on again.
type Operation struct {
	conn     *Connection
	typ      OperationType
	flags    Flags
	callback CallbackFunc
	created  time.Time

	packet       []byte
	packetID     uint16
	ownsPacketID bool

	// Guarded by conn.refMu.
	refs   int
	status Status
	queued bool
	waited bool

	done chan struct{}

	// PUBLISH retransmission.
	publish  *PublishInfo
	retry    retryState
	retryJob *taskpool.Job

	// SUBSCRIBE registry entries awaiting SUBACK.
	reservation *subscriptionReservation
}

type retryState struct {
	count      uint32
	limit      uint32
	nextPeriod time.Duration
}

// Type returns the operation type.
func (op *Operation) Type() OperationType {
	return op.typ
}

// Status returns the latched status, or StatusPending while in flight.
func (op *Operation) Status() Status {
	op.conn.refMu.Lock()
	defer op.conn.refMu.Unlock()
	return op.status
}

func (op *Operation) waitable() bool {
	return op.flags&FlagWaitable != 0
}

func (op *Operation) result() error {
	return statusError(op.Status())
}

// checkNotify enforces that an operation reports through Wait or through a
// callback, not both.
func checkNotify(flags Flags, callback CallbackFunc) error {
	if flags&FlagWaitable != 0 && callback != nil {
		return fmt.Errorf("%w: waitable operations cannot also have a callback", ErrBadParameter)
	}
	return nil
}

// newOperation creates an operation holding a connection reference, one
// processing reference and, when waitable, one waiter reference.
func (c *Connection) newOperation(typ OperationType, flags Flags, callback CallbackFunc) (*Operation, error) {
	if !c.acquire() {
		return nil, fmt.Errorf("%w: connection is disconnected", ErrNetworkError)
	}

	op := &Operation{
		conn:     c,
		typ:      typ,
		flags:    flags,
		callback: callback,
		created:  time.Now(),
		refs:     1,
		status:   StatusPending,
		done:     make(chan struct{}),
	}
	if op.waitable() {
		op.refs = 2
	}
	return op, nil
}

// allocatePacketID assigns a fresh identifier owned by op.
func (c *Connection) allocatePacketID(op *Operation) error {
	id, err := c.ids.allocate()
	if err != nil {
		return err
	}
	op.packetID = id
	op.ownsPacketID = true
	return nil
}

// discard destroys an operation that never reached the send path.
func (c *Connection) discard(op *Operation, status Status) {
	c.refMu.Lock()
	op.status = status
	c.removeLocked(op)
	op.refs = 0
	c.refMu.Unlock()

	if op.reservation != nil {
		op.reservation.abort()
	}
	close(op.done)
	c.destroyOperation(op)
}

// scheduleOperation queues op behind earlier operations on this
// connection and makes sure the sender job is scheduled.
func (c *Connection) scheduleOperation(op *Operation) error {
	c.refMu.Lock()
	if c.disconnected {
		c.refMu.Unlock()
		return fmt.Errorf("%w: connection is disconnected", ErrNetworkError)
	}
	op.queued = true
	c.pendingProcessing = append(c.pendingProcessing, op)
	needSchedule := !c.senderScheduled
	c.senderScheduled = true
	c.refMu.Unlock()

	if !needSchedule {
		return nil
	}
	if err := c.lib.pool.Schedule(c.senderJob); err != nil {
		c.refMu.Lock()
		c.removeLocked(op)
		c.senderScheduled = false
		c.refMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSchedulingError, err)
	}
	return nil
}

// processQueue is the sender job. It transmits queued operations in order
// until the queue is empty.
func (c *Connection) processQueue() {
	for {
		c.refMu.Lock()
		if len(c.pendingProcessing) == 0 {
			c.senderScheduled = false
			c.refMu.Unlock()
			return
		}
		op := c.pendingProcessing[0]
		c.pendingProcessing = c.pendingProcessing[1:]
		op.queued = false
		c.refMu.Unlock()

		c.transmit(op)
	}
}

// expectsResponse reports whether op stays pending after its packet is sent.
func (op *Operation) expectsResponse() bool {
	switch op.typ {
	case OperationDisconnect, OperationPuback:
		return false
	case OperationPublish:
		if op.publish.QoS == QoS0 {
			return false
		}
		return op.waitable() || op.callback != nil || op.retry.limit > 0
	default:
		return true
	}
}

// transmit performs the first send of op.
func (c *Connection) transmit(op *Operation) {
	expects := op.expectsResponse()

	c.refMu.Lock()
	if op.status != StatusPending {
		c.refMu.Unlock()
		return
	}
	if c.disconnected {
		c.refMu.Unlock()
		c.complete(op, StatusNetworkError)
		return
	}
	// Listed before the write so a fast acknowledgement finds it.
	if expects {
		c.pendingResponse = append(c.pendingResponse, op)
	}
	c.refMu.Unlock()

	if err := c.send(op.packet); err != nil {
		c.logger.Warn("failed to send MQTT packet", "operation", op.typ.String(), "error", err)
		c.complete(op, StatusNetworkError)
		return
	}
	c.logger.Debug("MQTT packet sent", "operation", op.typ.String(), "packet_id", op.packetID)

	if !expects {
		c.complete(op, StatusSuccess)
		return
	}
	if op.retry.limit > 0 {
		c.scheduleNextRetry(op)
	}
}

// scheduleNextRetry arms the retry timer after a send. Once the limit is
// reached the final wait is the response wait.
func (c *Connection) scheduleNextRetry(op *Operation) {
	c.refMu.Lock()
	op.retry.count++
	var delay time.Duration
	if op.retry.count > op.retry.limit {
		delay = c.responseWait()
	} else {
		delay = op.retry.nextPeriod
		op.retry.nextPeriod *= 2
		if op.retry.nextPeriod > c.lib.cfg.RetryCeiling {
			op.retry.nextPeriod = c.lib.cfg.RetryCeiling
		}
	}
	c.refMu.Unlock()

	if err := c.lib.pool.ScheduleDeferred(op.retryJob, delay); err != nil {
		c.logger.Error("failed to schedule PUBLISH retry", "packet_id", op.packetID, "error", err)
		c.complete(op, StatusSchedulingError)
	}
}

// retransmit is the retry job of a QoS 1 PUBLISH.
func (c *Connection) retransmit(op *Operation) {
	c.refMu.Lock()
	if op.status != StatusPending {
		c.refMu.Unlock()
		return
	}
	if op.retry.count > op.retry.limit {
		c.refMu.Unlock()
		c.logger.Warn("no PUBACK after retries", "packet_id", op.packetID, "retries", op.retry.limit)
		c.complete(op, StatusRetryNoResponse)
		return
	}
	c.refMu.Unlock()

	packet, err := c.retransmission(op)
	if err != nil {
		c.complete(op, StatusOf(err))
		return
	}
	if err := c.send(packet); err != nil {
		c.logger.Warn("failed to resend PUBLISH", "packet_id", op.packetID, "error", err)
		c.complete(op, StatusNetworkError)
		return
	}
	c.logger.Debug("PUBLISH resent", "packet_id", op.packetID, "attempt", op.retry.count)
	c.scheduleNextRetry(op)
}

// retransmission builds the packet for a resend. AWS IoT does not accept
// DUP resends, so AWS mode switches to a new packet identifier instead.
func (c *Connection) retransmission(op *Operation) ([]byte, error) {
	if !c.awsMode {
		return c.codec.SerializePublish(op.publish, op.packetID, true)
	}

	id, err := c.ids.allocate()
	if err != nil {
		return nil, err
	}
	packet, err := c.codec.SerializePublish(op.publish, id, false)
	if err != nil {
		c.ids.release(id)
		return nil, err
	}

	c.refMu.Lock()
	old := op.packetID
	op.packetID = id
	op.packet = packet
	c.refMu.Unlock()

	c.ids.release(old)
	return packet, nil
}

// complete latches status on op. Only the first call has any effect.
// It releases the processing reference, via the callback job when the
// operation has a callback.
func (c *Connection) complete(op *Operation, status Status) bool {
	c.refMu.Lock()
	if op.status != StatusPending {
		c.refMu.Unlock()
		return false
	}
	op.status = status
	c.removeLocked(op)
	c.refMu.Unlock()

	if op.retryJob != nil {
		_ = c.lib.pool.TryCancel(op.retryJob)
	}
	if op.reservation != nil {
		if status == StatusSuccess {
			op.reservation.commit()
		} else {
			op.reservation.abort()
		}
	}

	err := statusError(status)
	c.observer.OperationCompleted(c.clientID, op.typ, err, time.Since(op.created))
	close(op.done)

	if op.callback == nil {
		c.releaseOperation(op)
		return true
	}

	param := &CallbackParam{
		Connection: c,
		Operation:  OperationResult{Type: op.typ, Reference: op, Result: err},
	}
	job := c.lib.callbacks.NewJob(func(*taskpool.Job) {
		defer c.releaseOperation(op)
		defer c.recoverCallback("completion")
		op.callback(param)
	})
	if err := c.lib.callbacks.Schedule(job); err != nil {
		c.logger.Error("failed to schedule completion callback", "operation", op.typ.String(), "error", err)
		c.releaseOperation(op)
	}
	return true
}

// cancelOperation stops a transmission that has not happened yet.
func (c *Connection) cancelOperation(op *Operation) bool {
	c.refMu.Lock()
	if op.status != StatusPending {
		c.refMu.Unlock()
		return false
	}
	if op.queued {
		c.removeLocked(op)
		c.refMu.Unlock()
		return true
	}
	c.refMu.Unlock()

	if op.retryJob == nil || c.lib.pool.Status(op.retryJob) != taskpool.StateDeferred {
		return false
	}
	return c.lib.pool.TryCancel(op.retryJob) == nil
}

// releaseOperation drops one operation reference.
func (c *Connection) releaseOperation(op *Operation) {
	c.refMu.Lock()
	op.refs--
	destroy := op.refs == 0
	c.refMu.Unlock()

	if destroy {
		c.destroyOperation(op)
	}
}

func (c *Connection) destroyOperation(op *Operation) {
	c.refMu.Lock()
	c.removeLocked(op)
	id, owned := op.packetID, op.ownsPacketID
	op.ownsPacketID = false
	c.refMu.Unlock()

	if owned {
		c.ids.release(id)
	}
	c.release()
}
