package mqtt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveSendsPingreq(t *testing.T) {
	obs := newRecordingObserver()
	lib := newTestLibrary(t, LibraryConfig{ResponseWait: 100 * time.Millisecond}, WithObserver(obs))

	conn, b := connectTo(t, lib, nil, connectOptions{info: ConnectInfo{
		ClientIdentifier: "ka",
		CleanSession:     true,
		KeepAliveSeconds: 1,
	}})

	b.next(t, &packets.PingreqPacket{})
	require.Eventually(t, func() bool { return obs.pingCount() >= 1 }, testTimeout, 10*time.Millisecond)

	// Past the PINGRESP check the connection is still up.
	time.Sleep(200 * time.Millisecond)
	assert.True(t, conn.IsConnected())
}

func TestKeepAliveTimeoutClosesConnection(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{ResponseWait: 100 * time.Millisecond})

	closed := make(chan DisconnectReason, 1)
	conn, _ := connectTo(t, lib, func(_ *fakeBroker, cp packets.ControlPacket) bool {
		_, ok := cp.(*packets.PingreqPacket)
		return ok
	}, connectOptions{
		info:    ConnectInfo{ClientIdentifier: "ka", CleanSession: true, KeepAliveSeconds: 1},
		onClose: func(_ *Connection, r DisconnectReason) { closed <- r },
	})

	assert.Equal(t, KeepAliveTimeout, receiveWithin(t, closed))
	assert.False(t, conn.IsConnected())

	conn.Disconnect(0)
	require.Eventually(t, func() bool { return lib.Connections() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestKeepAliveDisabled(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, _ := connectTo(t, lib, nil, connectOptions{})

	assert.Nil(t, conn.keepAlive.job)
}

// disconnectOnPing disconnects its connection from inside the keep-alive
// routine, between the PINGREQ and the routine re-arming itself.
type disconnectOnPing struct {
	nopObserver
	conn atomic.Pointer[Connection]
	once sync.Once
}

func (d *disconnectOnPing) KeepAliveSent(string) {
	conn := d.conn.Load()
	if conn == nil {
		return
	}
	d.once.Do(func() { conn.Disconnect(FlagCleanupOnly) })
}

func TestKeepAliveRearmAfterDisconnectIsCancelled(t *testing.T) {
	obs := &disconnectOnPing{}
	// A long response wait makes a leaked re-arm hold the connection for
	// far longer than the test waits.
	lib := newTestLibrary(t, LibraryConfig{ResponseWait: time.Minute}, WithObserver(obs))

	conn, b := connectTo(t, lib, nil, connectOptions{
		info:      ConnectInfo{ClientIdentifier: "ka", CleanSession: true, KeepAliveSeconds: 1},
		noCleanup: true,
	})
	obs.conn.Store(conn)

	b.next(t, &packets.PingreqPacket{})
	require.Eventually(t, func() bool { return lib.Connections() == 0 }, testTimeout, 10*time.Millisecond,
		"connection destroyed once the keep-alive routine returns")
	assert.False(t, conn.IsConnected())
}
