package mqtt

import (
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
)

// QoS is the MQTT quality of service level. Only 0 and 1 are supported.
type QoS byte

// QoS levels.
const (
	QoS0 QoS = 0
	QoS1 QoS = 1
)

// Flags modify how an operation reports its result.
type Flags uint32

// FlagWaitable makes an operation return a reference for Wait.
const FlagWaitable Flags = 1 << 0

// CallbackFunc receives completion results and incoming PUBLISH messages.
//
// Callbacks run on a library worker goroutine. They must not block for
// long and must not wait on their own operation.
type CallbackFunc func(param *CallbackParam)

// CallbackParam is passed to a CallbackFunc.
//
// For completion callbacks Operation is set and Message is nil; for
// subscription callbacks Message is set.
type CallbackParam struct {
	Connection *Connection
	Operation  OperationResult
	Message    *PublishInfo
}

// OperationResult describes a completed operation.
type OperationResult struct {
	Type      OperationType
	Reference *Operation
	Result    error
}

// PublishInfo describes an outgoing or incoming PUBLISH.
type PublishInfo struct {
	QoS       QoS
	Retain    bool
	TopicName string
	Payload   []byte

	// RetryInterval is the delay before the first retransmission of a QoS 1
	// message. Later retransmissions double it up to the library ceiling.
	RetryInterval time.Duration

	// RetryLimit is the number of retransmissions before giving up.
	// Zero disables retransmission.
	RetryLimit uint32
}

// Subscription is one topic filter and the callback for messages matching it.
type Subscription struct {
	QoS         QoS
	TopicFilter string
	Callback    CallbackFunc
}

// ConnectInfo holds the CONNECT packet contents.
type ConnectInfo struct {
	// AWSIoTMode applies AWS IoT limits (keep-alive bounds, identifier and
	// topic lengths, filters per SUBSCRIBE).
	AWSIoTMode bool

	CleanSession bool

	// PreviousSubscriptions restores subscriptions from an earlier session.
	// Only allowed when CleanSession is false.
	PreviousSubscriptions []Subscription

	// Will is the last will message, or nil.
	Will *PublishInfo

	// KeepAliveSeconds is the keep-alive interval. Zero disables keep-alive
	// outside AWS mode.
	KeepAliveSeconds uint16

	ClientIdentifier string
	UserName         string
	Password         string
}

// DisconnectCallback is told once when a connection becomes disconnected.
type DisconnectCallback func(conn *Connection, reason DisconnectReason)

// NetworkInfo selects the transport for a connection.
type NetworkInfo struct {
	// CreateNetworkConnection makes Connect create (and later destroy) the
	// transport through Interface. When false, Connection is adopted and the
	// caller keeps ownership.
	CreateNetworkConnection bool

	Interface   network.Interface
	Server      network.ServerInfo
	Credentials *network.Credentials

	Connection network.Connection

	// Codec overrides the packet codec. Nil uses PacketCodec.
	Codec Codec

	DisconnectCallback DisconnectCallback
}
