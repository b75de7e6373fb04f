package mqtt

import (
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// AWS IoT keep-alive bounds in seconds.
const (
	awsMinKeepAliveSeconds = 30
	awsMaxKeepAliveSeconds = 1200
)

// keepAliveState is guarded by Connection.refMu except for the immutable
// job, interval and packet.
type keepAliveState struct {
	job      *taskpool.Job
	interval time.Duration
	pingreq  []byte

	// held is true while the keep-alive job owns a connection reference.
	held bool

	// awaiting is set between a PINGREQ and the check that follows it.
	awaiting bool

	// failure is set when a PINGREQ is sent and cleared by PINGRESP.
	failure bool
}

// setupKeepAlive prepares the keep-alive job for a non-zero interval. The
// job takes a connection reference but is not scheduled yet.
func (c *Connection) setupKeepAlive(seconds uint16) error {
	if seconds == 0 {
		return nil
	}

	pingreq, err := c.codec.SerializePingreq()
	if err != nil {
		return err
	}

	c.refMu.Lock()
	c.refs++
	c.keepAlive.held = true
	c.refMu.Unlock()

	c.keepAlive.interval = time.Duration(seconds) * time.Second
	c.keepAlive.pingreq = pingreq
	c.keepAlive.job = c.lib.pool.NewJob(c.keepAliveRoutine)
	return nil
}

// startKeepAlive arms the first PINGREQ one interval from now.
func (c *Connection) startKeepAlive() error {
	if c.keepAlive.job == nil {
		return nil
	}
	return c.lib.pool.ScheduleDeferred(c.keepAlive.job, c.keepAlive.interval)
}

// stopKeepAlive cancels the keep-alive timer. A running routine notices the
// disconnection when it finishes and drops its own reference.
func (c *Connection) stopKeepAlive() {
	if c.keepAlive.job == nil {
		return
	}
	if err := c.lib.pool.TryCancel(c.keepAlive.job); err != nil {
		return
	}
	c.dropKeepAliveRef()
}

func (c *Connection) dropKeepAliveRef() {
	c.refMu.Lock()
	held := c.keepAlive.held
	c.keepAlive.held = false
	c.refMu.Unlock()

	if held {
		c.release()
	}
}

// keepAliveRoutine alternates between sending PINGREQ and checking for the
// PINGRESP one response wait later.
func (c *Connection) keepAliveRoutine(job *taskpool.Job) {
	c.refMu.Lock()
	if c.disconnected {
		c.refMu.Unlock()
		c.dropKeepAliveRef()
		return
	}
	awaiting, failure := c.keepAlive.awaiting, c.keepAlive.failure
	c.refMu.Unlock()

	var next time.Duration
	switch {
	case awaiting && failure:
		c.logger.Warn("no PINGRESP within response wait", "keep_alive", c.keepAlive.interval.String())
		c.closeNetworkConnection(KeepAliveTimeout)
		c.dropKeepAliveRef()
		return

	case awaiting:
		c.refMu.Lock()
		c.keepAlive.awaiting = false
		c.refMu.Unlock()
		next = c.keepAlive.interval - c.responseWait()
		if next <= 0 {
			next = c.keepAlive.interval
		}

	default:
		c.refMu.Lock()
		c.keepAlive.failure = true
		c.keepAlive.awaiting = true
		c.refMu.Unlock()

		if err := c.send(c.keepAlive.pingreq); err != nil {
			c.logger.Warn("failed to send PINGREQ", "error", err)
			c.closeNetworkConnection(NetworkFailure)
			c.dropKeepAliveRef()
			return
		}
		c.logger.Debug("PINGREQ sent")
		c.observer.KeepAliveSent(c.clientID)
		next = c.responseWait()
	}

	if err := c.lib.pool.ScheduleDeferred(job, next); err != nil {
		c.logger.Error("failed to reschedule keep-alive", "error", err)
		c.dropKeepAliveRef()
		return
	}

	// A close that ran while this routine was executing could not cancel
	// it, so the timer just armed is cancelled here instead.
	c.refMu.Lock()
	disconnected := c.disconnected
	c.refMu.Unlock()
	if disconnected && c.lib.pool.TryCancel(job) == nil {
		c.dropKeepAliveRef()
	}
}

// pingrespReceived clears the pending keep-alive failure.
func (c *Connection) pingrespReceived() {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.keepAlive.failure = false
}
