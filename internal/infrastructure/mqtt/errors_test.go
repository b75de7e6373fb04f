package mqtt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusSuccess:         "SUCCESS",
		StatusPending:         "PENDING",
		StatusInitFailed:      "INITIALIZATION FAILED",
		StatusBadParameter:    "BAD PARAMETER",
		StatusNoMemory:        "NO MEMORY",
		StatusNetworkError:    "NETWORK ERROR",
		StatusSchedulingError: "SCHEDULING ERROR",
		StatusBadResponse:     "BAD RESPONSE RECEIVED",
		StatusTimeout:         "TIMEOUT",
		StatusServerRefused:   "SERVER REFUSED",
		StatusRetryNoResponse: "NO RESPONSE",
		StatusInvalid:         "INVALID STATUS",
		Status(99):            "INVALID STATUS",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestStatusOfWrappedError(t *testing.T) {
	err := fmt.Errorf("publish: %w", fmt.Errorf("%w: topic %q", ErrBadParameter, "a/+"))

	assert.True(t, errors.Is(err, ErrBadParameter))
	assert.Equal(t, StatusBadParameter, StatusOf(err))
	assert.Equal(t, "BAD PARAMETER", Strerror(err))
	assert.Equal(t, "mqtt: TIMEOUT", ErrTimeout.Error())
}

func TestStatusOfNilAndForeign(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusInvalid, StatusOf(errors.New("other")))
	assert.NoError(t, statusError(StatusSuccess))
	assert.ErrorIs(t, statusError(StatusTimeout), ErrTimeout)
}

func TestOperationTypeString(t *testing.T) {
	tests := map[OperationType]string{
		OperationConnect:     "CONNECT",
		OperationPublish:     "PUBLISH",
		OperationPuback:      "PUBACK",
		OperationSubscribe:   "SUBSCRIBE",
		OperationUnsubscribe: "UNSUBSCRIBE",
		OperationPingreq:     "PINGREQ",
		OperationDisconnect:  "DISCONNECT",
		OperationType(42):    "INVALID OPERATION",
	}
	for op, want := range tests {
		assert.Equal(t, want, op.String())
	}
}

func TestDisconnectReasonString(t *testing.T) {
	assert.Equal(t, "disconnect called", DisconnectCalled.String())
	assert.Equal(t, "bad packet received", BadPacketReceived.String())
	assert.Equal(t, "keep-alive timeout", KeepAliveTimeout.String())
	assert.Equal(t, "network failure", NetworkFailure.String())
	assert.Equal(t, "unknown", DisconnectReason(9).String())
}
