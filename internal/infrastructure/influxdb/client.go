package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
)

// Client batches MQTT telemetry points to an InfluxDB v2 bucket.
//
// Writes never block the caller: points are queued on the library's
// asynchronous write API and failures are reported through SetOnError.
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	open atomic.Bool

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
	done    chan struct{}
}

// Stats counts points handled by a Client.
type Stats struct {
	// Queued points were handed to the write API.
	Queued uint64
	// Dropped points arrived after Close.
	Dropped uint64
	// Failed counts batch write errors reported by the server.
	Failed uint64
}

// Connect is ConnectContext with a ten second ping deadline.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	return ConnectContext(ctx, cfg)
}

// ConnectContext pings the server and starts the batched write API.
//
// Returns:
//   - *Client: ready for WritePoint
//   - error: ErrDisabled, or ErrConnectionFailed when the ping fails
func ConnectContext(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	case !healthy:
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		done:     make(chan struct{}),
	}
	c.open.Store(true)
	go c.watchErrors()

	return c, nil
}

// writeOptions maps the batch settings onto the library options. Points
// carry millisecond timestamps; the flush interval is whole seconds in
// configuration.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond)
}

func (c *Client) watchErrors() {
	errCh := c.writeAPI.Errors()
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-errCh:
			if !ok {
				return
			}
			c.failed.Add(1)

			c.mu.RLock()
			callback := c.onError
			c.mu.RUnlock()
			if callback != nil {
				callback(fmt.Errorf("%w: bucket %s: %w", ErrWriteFailed, c.bucket, err))
			}
		}
	}
}

// Close flushes queued points and releases the client. It is safe on a nil
// Client and safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}

	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether Close has not yet been called.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until queued points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// WritePoint queues p for the next batch. Points are dropped after Close.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.queued.Add(1)
	c.writeAPI.WritePoint(p)
}

// Stats returns the point counters.
func (c *Client) Stats() Stats {
	return Stats{
		Queued:  c.queued.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
	}
}
