package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitNilOperation(t *testing.T) {
	var op *Operation
	assert.ErrorIs(t, op.Wait(time.Second), ErrBadParameter)
}

func TestWaitTwice(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, _ := connectTo(t, lib, nil, connectOptions{})

	op, err := conn.Publish(&PublishInfo{TopicName: "a", QoS: QoS1}, FlagWaitable, nil)
	require.NoError(t, err)

	require.NoError(t, op.Wait(testTimeout))
	assert.ErrorIs(t, op.Wait(testTimeout), ErrBadParameter)
}

func TestWaitAfterDisconnectReturnsImmediately(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, _ := connectTo(t, lib, ignorePublishes, connectOptions{})

	op, err := conn.Publish(&PublishInfo{TopicName: "a", QoS: QoS1}, FlagWaitable, nil)
	require.NoError(t, err)

	conn.Disconnect(FlagCleanupOnly)

	start := time.Now()
	assert.ErrorIs(t, op.Wait(10*time.Second), ErrNetworkError)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitInsideOwnCallback(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, _ := connectTo(t, lib, nil, connectOptions{})

	results := make(chan error, 1)
	_, err := conn.Publish(&PublishInfo{TopicName: "a", QoS: QoS1}, 0, func(p *CallbackParam) {
		results <- p.Operation.Reference.Wait(10 * time.Second)
	})
	require.NoError(t, err)

	start := time.Now()
	assert.ErrorIs(t, receiveWithin(t, results), ErrBadParameter)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitTimeoutKeepsConnection(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, _ := connectTo(t, lib, ignorePublishes, connectOptions{})

	op, err := conn.Publish(&PublishInfo{TopicName: "a", QoS: QoS1}, FlagWaitable, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, op.Wait(50*time.Millisecond), ErrTimeout)
	assert.True(t, conn.IsConnected())
	assert.Equal(t, StatusPending, op.Status(), "still awaiting PUBACK")
}

func TestCallbackCanPublishAndWait(t *testing.T) {
	lib := newTestLibrary(t, LibraryConfig{})
	conn, b := connectTo(t, lib, nil, connectOptions{})

	results := make(chan error, 1)
	require.NoError(t, conn.TimedSubscribe([]Subscription{{
		TopicFilter: "req",
		Callback: func(p *CallbackParam) {
			results <- p.Connection.TimedPublish(&PublishInfo{TopicName: "resp", QoS: QoS1}, 0, testTimeout)
		},
	}}, 0, testTimeout))

	b.publish("req", 0, 0, nil)
	assert.NoError(t, receiveWithin(t, results))
}
