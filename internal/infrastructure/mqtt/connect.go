package mqtt

import (
	"fmt"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
)

// FlagCleanupOnly makes Disconnect skip sending DISCONNECT and only release
// local resources. Use it after the network is known to be gone.
const FlagCleanupOnly Flags = 1 << 1

// Connect establishes an MQTT session and blocks until CONNACK arrives or
// timeout expires.
//
// Parameters:
//   - netInfo: Transport selection; either created through an Interface or adopted
//   - info: CONNECT packet contents
//   - timeout: How long to wait for CONNACK
//
// Returns:
//   - *Connection: Connected session
//   - error: ErrBadParameter, ErrNoMemory, ErrNetworkError, ErrTimeout,
//     ErrServerRefused or ErrSchedulingError
func (l *Library) Connect(netInfo *NetworkInfo, info *ConnectInfo, timeout time.Duration) (*Connection, error) {
	if l == nil || l.isClosed() {
		return nil, fmt.Errorf("%w: library is not initialised", ErrBadParameter)
	}
	if netInfo == nil || info == nil {
		return nil, fmt.Errorf("%w: network and connect info are required", ErrBadParameter)
	}
	if err := validateNetworkInfo(netInfo); err != nil {
		return nil, err
	}
	if err := validateConnectInfo(info); err != nil {
		return nil, err
	}

	transport := netInfo.Connection
	if netInfo.CreateNetworkConnection {
		t, err := netInfo.Interface.Create(netInfo.Server, netInfo.Credentials)
		if err != nil {
			return nil, fmt.Errorf("%w: creating network connection to %s: %w",
				ErrNetworkError, netInfo.Server.Address(), err)
		}
		transport = t
	}

	c := newConnection(l, netInfo, info, transport)
	if err := l.registry.reserve(c); err != nil {
		closeTransport(transport, netInfo.CreateNetworkConnection)
		return nil, err
	}

	connected := false
	defer func() {
		if !connected {
			c.abortConnect()
		}
	}()

	// Keep-alive state and restored subscriptions are in place before the
	// receive goroutine starts.
	keepAlive := effectiveKeepAlive(info.AWSIoTMode, info.KeepAliveSeconds)
	if err := c.setupKeepAlive(keepAlive); err != nil {
		return nil, err
	}

	if len(info.PreviousSubscriptions) > 0 {
		c.subs.addCommitted(info.PreviousSubscriptions)
	}

	if err := transport.SetReceiveCallback(c.receive); err != nil {
		return nil, fmt.Errorf("%w: setting receive callback: %w", ErrNetworkError, err)
	}

	op, err := c.newOperation(OperationConnect, FlagWaitable, nil)
	if err != nil {
		return nil, err
	}

	wire := *info
	wire.KeepAliveSeconds = keepAlive
	if info.AWSIoTMode && l.cfg.AWSMetrics {
		wire.UserName = awsMetricsUserName(info.UserName, l.cfg.SDKName, l.cfg.SDKVersion)
	}
	packet, err := c.codec.SerializeConnect(&wire)
	if err != nil {
		c.discard(op, StatusOf(err))
		return nil, err
	}
	op.packet = packet

	c.logger.Info("connecting to MQTT broker",
		"clean_session", info.CleanSession,
		"keep_alive_seconds", keepAlive,
		"aws_iot", info.AWSIoTMode,
	)

	l.connectMu.Lock()
	if err = c.scheduleOperation(op); err != nil {
		l.connectMu.Unlock()
		c.discard(op, StatusOf(err))
		return nil, err
	}
	err = op.Wait(timeout)
	l.connectMu.Unlock()

	if err != nil {
		c.logger.Error("MQTT CONNECT failed", "error", err)
		return nil, err
	}

	if err := c.startKeepAlive(); err != nil {
		c.logger.Error("failed to schedule keep-alive", "error", err)
		return nil, fmt.Errorf("%w: keep-alive: %w", ErrSchedulingError, err)
	}

	connected = true
	c.logger.Info("MQTT connection established")

	// Observers see ConnectionClosed only after ConnectionOpened. refMu is
	// held so a concurrent close cannot slip between the two.
	c.refMu.Lock()
	if !c.disconnected {
		c.opened = true
		c.observer.ConnectionOpened(c.clientID)
	}
	c.refMu.Unlock()
	return c, nil
}

// abortConnect unwinds a Connect that failed after the connection was
// registered.
func (c *Connection) abortConnect() {
	c.refMu.Lock()
	c.disconnected = true
	c.disconnectCalled = true
	c.refMu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("failed to close network connection", "error", err)
	}
	c.stopKeepAlive()
	c.drain()
	c.release()
}

func closeTransport(t network.Connection, owned bool) {
	if !owned {
		return
	}
	_ = t.Close()
	_ = t.Destroy()
}

// awsMetricsUserName appends the SDK identification AWS IoT collects.
func awsMetricsUserName(userName, sdk, version string) string {
	return fmt.Sprintf("%s?SDK=%s&Version=%s", userName, sdk, version)
}

// Disconnect closes the session. Unless FlagCleanupOnly is set it first
// sends DISCONNECT and waits up to the response wait for the write.
//
// Pending operations complete with ErrNetworkError. Callbacks already
// running finish first. The connection must not be used afterwards.
// Calling Disconnect again only closes the transport again.
func (c *Connection) Disconnect(flags Flags) {
	if c == nil {
		return
	}

	c.refMu.Lock()
	if c.disconnectCalled {
		c.refMu.Unlock()
		_ = c.transport.Close()
		return
	}
	c.disconnectCalled = true
	disconnected := c.disconnected
	c.refMu.Unlock()

	if !disconnected && flags&FlagCleanupOnly == 0 {
		if err := c.sendDisconnect(); err != nil {
			c.logger.Warn("failed to send DISCONNECT", "error", err)
		}
	}

	c.closeNetworkConnection(DisconnectCalled)
	c.release()
}

func (c *Connection) sendDisconnect() error {
	op, err := c.newOperation(OperationDisconnect, FlagWaitable, nil)
	if err != nil {
		return err
	}
	packet, err := c.codec.SerializeDisconnect()
	if err != nil {
		c.discard(op, StatusOf(err))
		return err
	}
	op.packet = packet

	if err := c.scheduleOperation(op); err != nil {
		c.discard(op, StatusOf(err))
		return err
	}
	return op.Wait(c.responseWait())
}
