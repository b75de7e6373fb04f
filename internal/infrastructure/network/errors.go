package network

import "errors"

// Sentinel errors for transport operations.
var (
	// ErrClosed is returned by Send and Receive after Close.
	ErrClosed = errors.New("network: connection closed")

	// ErrDialFailed is returned when the TCP or TLS connection cannot be made.
	ErrDialFailed = errors.New("network: dial failed")

	// ErrInvalidServer is returned for an unusable ServerInfo.
	ErrInvalidServer = errors.New("network: invalid server info")

	// ErrCallbackSet is returned when a receive callback is registered twice.
	ErrCallbackSet = errors.New("network: receive callback already set")

	// ErrTLSConfig is returned when credentials cannot be loaded.
	ErrTLSConfig = errors.New("network: invalid TLS credentials")
)
