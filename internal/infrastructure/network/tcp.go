package network

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Transport constants.
const (
	// defaultDialTimeout bounds TCP connect plus TLS handshake.
	defaultDialTimeout = 10 * time.Second

	// readBufferSize is the size of the buffered reader in front of the socket.
	readBufferSize = 4096

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// TCP creates plain TCP or TLS connections.
type TCP struct {
	// DialTimeout bounds connect and handshake. Zero uses 10s.
	DialTimeout time.Duration
}

// Create dials the server and returns a Connection.
//
// Parameters:
//   - server: Remote host and port
//   - creds: TLS settings, or nil for plain TCP
//
// Returns:
//   - Connection: Open connection with no receive callback yet
//   - error: ErrInvalidServer, ErrTLSConfig or ErrDialFailed
func (t TCP) Create(server ServerInfo, creds *Credentials) (Connection, error) {
	if err := server.Validate(); err != nil {
		return nil, err
	}

	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if creds != nil {
		tlsConfig, cfgErr := buildTLSConfig(server, creds)
		if cfgErr != nil {
			return nil, cfgErr
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", server.Address(), tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", server.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, server.Address(), err)
	}

	return NewConn(conn), nil
}

func buildTLSConfig(server ServerInfo, creds *Credentials) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: server.Host,
		NextProtos: creds.ALPNProtocols,
	}
	if creds.ServerName != "" {
		cfg.ServerName = creds.ServerName
	}

	if creds.RootCAFile != "" {
		pem, err := os.ReadFile(creds.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading root CA: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, creds.RootCAFile)
		}
		cfg.RootCAs = pool
	}

	if creds.ClientCertFile != "" || creds.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(creds.ClientCertFile, creds.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Conn adapts a net.Conn to the Connection interface.
//
// A receive goroutine blocks on the buffered reader until at least one byte
// is available, then invokes the callback, which drains whole packets with
// Receive.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu       sync.Mutex
	callback ReceiveCallback
	closed   bool
	done     chan struct{}
}

// NewConn wraps an established net.Conn. It is exported so tests and custom
// dialers can supply their own socket (for example net.Pipe).
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
		done:   make(chan struct{}),
	}
}

// SetReceiveCallback registers cb and starts the receive goroutine.
func (c *Conn) SetReceiveCallback(cb ReceiveCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.callback != nil {
		return ErrCallbackSet
	}
	c.callback = cb
	go c.receiveLoop(cb)
	return nil
}

func (c *Conn) receiveLoop(cb ReceiveCallback) {
	defer close(c.done)

	for {
		if _, err := c.reader.Peek(1); err != nil {
			// Let the callback observe the failure through Receive so the
			// MQTT core can mark the connection disconnected.
			if !c.isClosed() {
				cb(c)
			}
			return
		}
		cb(c)
	}
}

// Send writes p to the socket in full.
func (c *Conn) Send(p []byte) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.conn.Write(p)
	if err != nil {
		return n, c.translate(err)
	}
	return n, nil
}

// Receive reads exactly len(p) bytes.
func (c *Conn) Receive(p []byte) (int, error) {
	n, err := io.ReadFull(c.reader, p)
	if err != nil {
		return n, c.translate(err)
	}
	return n, nil
}

// Close closes the socket. Subsequent calls return nil.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("network: closing connection: %w", err)
	}
	return nil
}

// Destroy closes the connection if needed. The receive goroutine exits on
// its own once the socket read fails; Destroy does not wait for it because
// it may be running on that goroutine.
func (c *Conn) Destroy() error {
	return c.Close()
}

// Done is closed when the receive goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) translate(err error) error {
	if c.isClosed() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
