package mqtt

import (
	"fmt"
	"time"
)

// Wait blocks until the operation completes or timeout expires, and
// returns the operation result.
//
// Wait may be called once per waitable operation. Passing a nil, a
// non-waitable or an already waited operation returns ErrBadParameter
// without blocking; this includes a completion callback waiting on its own
// operation. If the connection is already disconnected Wait returns
// ErrNetworkError at once.
//
// On timeout a transmission that has not happened yet is cancelled and a
// SUBSCRIBE gives up the filters it registered. The operation may still be
// in flight afterwards.
func (op *Operation) Wait(timeout time.Duration) error {
	if op == nil {
		return fmt.Errorf("%w: operation is nil", ErrBadParameter)
	}
	c := op.conn

	c.refMu.Lock()
	if !op.waitable() {
		c.refMu.Unlock()
		return fmt.Errorf("%w: %s operation is not waitable", ErrBadParameter, op.typ)
	}
	if op.waited {
		c.refMu.Unlock()
		return fmt.Errorf("%w: %s operation was already waited on", ErrBadParameter, op.typ)
	}
	op.waited = true
	disconnected := c.disconnected
	c.refMu.Unlock()

	defer c.releaseOperation(op)

	if disconnected {
		return fmt.Errorf("%w: connection is disconnected", ErrNetworkError)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-op.done:
		return op.result()
	case <-timer.C:
	}

	if op.typ == OperationSubscribe && op.reservation != nil {
		op.reservation.abort()
	}
	if c.cancelOperation(op) {
		c.complete(op, StatusTimeout)
	}

	select {
	case <-op.done:
		return op.result()
	default:
		c.logger.Debug("wait timed out", "operation", op.typ.String(), "timeout", timeout.String())
		return ErrTimeout
	}
}
