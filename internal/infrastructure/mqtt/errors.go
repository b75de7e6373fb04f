package mqtt

import "errors"

// Status is the outcome code of an MQTT API call or operation.
//
// Status implements error, so every non-success code doubles as a sentinel
// that can be matched with errors.Is after wrapping:
//
//	if errors.Is(err, mqtt.ErrTimeout) {
//	    // retry later
//	}
type Status int

// Status codes.
const (
	StatusSuccess Status = iota
	StatusPending
	StatusInitFailed
	StatusBadParameter
	StatusNoMemory
	StatusNetworkError
	StatusSchedulingError
	StatusBadResponse
	StatusTimeout
	StatusServerRefused
	StatusRetryNoResponse
)

// StatusInvalid is returned by StatusOf for errors outside the taxonomy.
const StatusInvalid Status = -1

// Sentinel errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInitFailed is returned when Init cannot create its resources.
	ErrInitFailed error = StatusInitFailed

	// ErrBadParameter is returned for caller misuse. No state is changed.
	ErrBadParameter error = StatusBadParameter

	// ErrNoMemory is returned when a resource limit is hit (registry full,
	// packet identifiers exhausted).
	ErrNoMemory error = StatusNoMemory

	// ErrNetworkError is returned for transport failures and for use of a
	// disconnected connection.
	ErrNetworkError error = StatusNetworkError

	// ErrSchedulingError is returned when the task pool rejects a job.
	ErrSchedulingError error = StatusSchedulingError

	// ErrBadResponse is returned for malformed or unexpected peer data.
	ErrBadResponse error = StatusBadResponse

	// ErrTimeout is returned when no response arrives within the deadline.
	ErrTimeout error = StatusTimeout

	// ErrServerRefused is returned when the broker rejects a request.
	ErrServerRefused error = StatusServerRefused

	// ErrRetryNoResponse is returned when a PUBLISH exhausts its retries.
	ErrRetryNoResponse error = StatusRetryNoResponse
)

// String returns the display name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPending:
		return "PENDING"
	case StatusInitFailed:
		return "INITIALIZATION FAILED"
	case StatusBadParameter:
		return "BAD PARAMETER"
	case StatusNoMemory:
		return "NO MEMORY"
	case StatusNetworkError:
		return "NETWORK ERROR"
	case StatusSchedulingError:
		return "SCHEDULING ERROR"
	case StatusBadResponse:
		return "BAD RESPONSE RECEIVED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusServerRefused:
		return "SERVER REFUSED"
	case StatusRetryNoResponse:
		return "NO RESPONSE"
	default:
		return "INVALID STATUS"
	}
}

// Error implements error.
func (s Status) Error() string {
	return "mqtt: " + s.String()
}

// StatusOf extracts the Status carried by err.
// A nil error is StatusSuccess; an error outside the taxonomy is StatusInvalid.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusInvalid
}

// Strerror returns the display string for err's status code.
func Strerror(err error) string {
	return StatusOf(err).String()
}

// statusError converts a latched status into the error returned to callers.
func statusError(s Status) error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// OperationType identifies the protocol exchange an Operation performs.
type OperationType int

// Operation types.
const (
	OperationConnect OperationType = iota
	OperationPublish
	OperationPuback
	OperationSubscribe
	OperationUnsubscribe
	OperationPingreq
	OperationDisconnect
)

// String returns the operation name.
func (o OperationType) String() string {
	switch o {
	case OperationConnect:
		return "CONNECT"
	case OperationPublish:
		return "PUBLISH"
	case OperationPuback:
		return "PUBACK"
	case OperationSubscribe:
		return "SUBSCRIBE"
	case OperationUnsubscribe:
		return "UNSUBSCRIBE"
	case OperationPingreq:
		return "PINGREQ"
	case OperationDisconnect:
		return "DISCONNECT"
	default:
		return "INVALID OPERATION"
	}
}

// DisconnectReason tells a DisconnectCallback why the connection closed.
type DisconnectReason int

// Disconnect reasons.
const (
	DisconnectCalled DisconnectReason = iota
	BadPacketReceived
	KeepAliveTimeout
	NetworkFailure
)

// String returns the reason name.
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectCalled:
		return "disconnect called"
	case BadPacketReceived:
		return "bad packet received"
	case KeepAliveTimeout:
		return "keep-alive timeout"
	case NetworkFailure:
		return "network failure"
	default:
		return "unknown"
	}
}
