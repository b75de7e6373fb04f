package network

import (
	"fmt"
	"net"
	"strconv"
)

// ReceiveCallback is invoked on the connection's receive goroutine whenever
// inbound data is available. The callback reads exactly what it needs with
// Connection.Receive before returning; the next invocation happens only after
// it returns.
type ReceiveCallback func(conn Connection)

// Connection is a byte-stream transport used by the MQTT core.
//
// Receive must only be called from inside the ReceiveCallback once a
// callback has been registered.
type Connection interface {
	// SetReceiveCallback registers the callback and starts delivery.
	SetReceiveCallback(cb ReceiveCallback) error

	// Send writes p in full or returns an error.
	Send(p []byte) (int, error)

	// Receive blocks until len(p) bytes have been read or an error occurs.
	Receive(p []byte) (int, error)

	// Close shuts the stream down. Calling it more than once is safe.
	Close() error

	// Destroy releases the connection's resources after Close.
	Destroy() error
}

// Interface creates transport connections.
type Interface interface {
	Create(server ServerInfo, creds *Credentials) (Connection, error)
}

// ServerInfo identifies the remote endpoint.
type ServerInfo struct {
	Host string
	Port int
}

// Address returns host:port.
func (s ServerInfo) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate checks that the host and port are usable.
func (s ServerInfo) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidServer)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidServer, s.Port)
	}
	return nil
}

// Credentials configures TLS for a connection. A nil *Credentials means
// plain TCP.
type Credentials struct {
	// RootCAFile is a PEM bundle used to verify the server.
	// Empty uses the system pool.
	RootCAFile string

	// ClientCertFile and ClientKeyFile hold the PEM client certificate pair.
	ClientCertFile string
	ClientKeyFile  string

	// ServerName overrides the SNI / verification name. Defaults to the host.
	ServerName string

	// ALPNProtocols is sent during the handshake. AWS IoT on port 443
	// expects "x-amzn-mqtt-ca".
	ALPNProtocols []string
}
