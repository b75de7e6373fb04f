package sessionstore

import "errors"

var (
	// ErrSessionNotFound is returned when no session row exists for a client.
	ErrSessionNotFound = errors.New("sessionstore: session not found")

	// ErrInvalidClientID is returned for an empty client identifier.
	ErrInvalidClientID = errors.New("sessionstore: client id is required")

	// ErrInvalidRecord is returned for an empty filter or a QoS above 1.
	ErrInvalidRecord = errors.New("sessionstore: invalid subscription record")
)
