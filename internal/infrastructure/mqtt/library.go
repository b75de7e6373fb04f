package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/taskpool"
)

// Library defaults.
const (
	// DefaultResponseWait is how long a PINGRESP or DISCONNECT send is
	// waited for, and the final wait after the last PUBLISH retry.
	DefaultResponseWait = 1000 * time.Millisecond

	// DefaultRetryCeiling caps the doubling PUBLISH retry interval.
	DefaultRetryCeiling = 60000 * time.Millisecond

	// DefaultMaxConnections is the connection registry capacity.
	DefaultMaxConnections = 2

	defaultNetworkWorkers  = 4
	defaultCallbackWorkers = 2
	defaultQueueSize       = 64
)

// LibraryConfig holds library-wide tunables.
type LibraryConfig struct {
	ResponseWait   time.Duration
	RetryCeiling   time.Duration
	MaxConnections int

	// NetworkWorkers runs sends, retries and keep-alive.
	NetworkWorkers   int
	NetworkQueueSize int

	// CallbackWorkers runs user completion and subscription callbacks.
	CallbackWorkers   int
	CallbackQueueSize int

	// AWSMetrics appends "?SDK=<name>&Version=<version>" to the CONNECT
	// username of AWS mode connections.
	AWSMetrics bool
	SDKName    string
	SDKVersion string
}

// DefaultLibraryConfig returns the defaults used for zero fields.
func DefaultLibraryConfig() LibraryConfig {
	return LibraryConfig{
		ResponseWait:      DefaultResponseWait,
		RetryCeiling:      DefaultRetryCeiling,
		MaxConnections:    DefaultMaxConnections,
		NetworkWorkers:    defaultNetworkWorkers,
		NetworkQueueSize:  defaultQueueSize,
		CallbackWorkers:   defaultCallbackWorkers,
		CallbackQueueSize: defaultQueueSize,
		SDKName:           "iot-mqtt-core",
		SDKVersion:        "dev",
	}
}

func (c LibraryConfig) withDefaults() LibraryConfig {
	d := DefaultLibraryConfig()
	if c.ResponseWait <= 0 {
		c.ResponseWait = d.ResponseWait
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = d.RetryCeiling
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.NetworkWorkers <= 0 {
		c.NetworkWorkers = d.NetworkWorkers
	}
	if c.NetworkQueueSize <= 0 {
		c.NetworkQueueSize = d.NetworkQueueSize
	}
	if c.CallbackWorkers <= 0 {
		c.CallbackWorkers = d.CallbackWorkers
	}
	if c.CallbackQueueSize <= 0 {
		c.CallbackQueueSize = d.CallbackQueueSize
	}
	if c.SDKName == "" {
		c.SDKName = d.SDKName
	}
	if c.SDKVersion == "" {
		c.SDKVersion = d.SDKVersion
	}
	return c
}

// Option customises a Library.
type Option func(*Library)

// WithLogger sets the logger. Compatible with logging.Logger and slog.Logger.
func WithLogger(l Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// WithObserver sets the observer that receives operation telemetry.
func WithObserver(o Observer) Option {
	return func(lib *Library) {
		if o != nil {
			lib.observer = o
		}
	}
}

// Library is the process-level handle that owns the worker pools, the
// connect mutex and the connection registry.
//
// Create it once with Init, pass it to the code that opens connections and
// call Cleanup on shutdown. No API may be used after Cleanup.
type Library struct {
	cfg LibraryConfig

	pool      *taskpool.Pool
	callbacks *taskpool.Pool

	// connectMu allows one CONNECT in flight; CONNACK carries no identifier.
	connectMu sync.Mutex

	registry *connectionRegistry

	logger   Logger
	observer Observer

	mu     sync.Mutex
	closed bool
}

// Init creates the library resources.
//
// Parameters:
//   - cfg: Tunables; zero fields use DefaultLibraryConfig
//   - opts: Logger and observer options
//
// Returns:
//   - *Library: Ready handle
//   - error: ErrInitFailed if a worker pool cannot be created
func Init(cfg LibraryConfig, opts ...Option) (*Library, error) {
	cfg = cfg.withDefaults()

	lib := &Library{
		cfg:      cfg,
		registry: newConnectionRegistry(cfg.MaxConnections),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(lib)
	}

	onPanic := func(v any) {
		lib.logger.Error("panic in MQTT worker", "panic", v)
	}

	pool, err := taskpool.New(taskpool.Config{
		MaxWorkers: cfg.NetworkWorkers,
		QueueSize:  cfg.NetworkQueueSize,
		OnPanic:    onPanic,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: network pool: %w", ErrInitFailed, err)
	}

	callbacks, err := taskpool.New(taskpool.Config{
		MaxWorkers: cfg.CallbackWorkers,
		QueueSize:  cfg.CallbackQueueSize,
		OnPanic:    onPanic,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: callback pool: %w", ErrInitFailed, err)
	}

	lib.pool = pool
	lib.callbacks = callbacks
	lib.logger.Info("MQTT library initialised",
		"max_connections", cfg.MaxConnections,
		"network_workers", cfg.NetworkWorkers,
		"callback_workers", cfg.CallbackWorkers,
	)
	return lib, nil
}

// Cleanup releases the library resources. Connections should be
// disconnected first; any left are reported.
func (l *Library) Cleanup() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	if n := l.registry.len(); n > 0 {
		l.logger.Warn("MQTT library cleaned up with live connections", "connections", n)
	}

	l.pool.Close()
	l.callbacks.Close()
	l.logger.Info("MQTT library cleaned up")
}

// Connections returns the number of live connections in the registry.
func (l *Library) Connections() int {
	return l.registry.len()
}

// Config returns the effective library configuration.
func (l *Library) Config() LibraryConfig {
	return l.cfg
}

func (l *Library) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// connectionRegistry is the bounded table of live connections.
type connectionRegistry struct {
	mu       sync.Mutex
	capacity int
	conns    map[*Connection]struct{}
}

func newConnectionRegistry(capacity int) *connectionRegistry {
	return &connectionRegistry{
		capacity: capacity,
		conns:    make(map[*Connection]struct{}, capacity),
	}
}

// reserve claims a slot for c.
func (r *connectionRegistry) reserve(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.capacity {
		return fmt.Errorf("%w: connection registry full (%d)", ErrNoMemory, r.capacity)
	}
	r.conns[c] = struct{}{}
	return nil
}

func (r *connectionRegistry) release(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func (r *connectionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
