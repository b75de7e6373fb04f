// mqttcore runs a single MQTT 3.1.1 session against a broker.
//
// It connects with the configured identity, subscribes to the configured
// topic filters, publishes retained online/offline status when a will topic
// is set, and serves health, metrics and subscription state on the admin
// listener until SIGINT or SIGTERM. A lost connection is re-established with
// exponential backoff unless reconnect is disabled.
//
// Configuration is read from MQTTCORE_CONFIG (default configs/config.yaml)
// with MQTTCORE_* environment overrides, which may also come from a .env
// file (MQTTCORE_ENV_FILE).
//
// "mqttcore token" prints a bearer token for the admin listener when
// admin.jwt_secret is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/iot-mqtt-core/internal/admin"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/database"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mqtt-core/internal/sessionstore"
	"github.com/nerrad567/iot-mqtt-core/internal/supervisor"
	"github.com/nerrad567/iot-mqtt-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath   = "configs/config.yaml"
	defaultEnvFile      = ".env"
	healthCheckInterval = 30 * time.Second
	storeTimeout        = 5 * time.Second
)

// errConnectionLost is returned by run when the broker session ends without
// a shutdown signal and reconnect is disabled or exhausted.
var errConnectionLost = errors.New("mqtt connection lost")

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, errConnectionLost if the broker dropped
//     the session and it was not restarted, or the startup failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence with paired cleanup
	log := logging.Default()
	log.Info("starting mqttcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	envFile, err := loadEnvFile()
	if err != nil {
		return err
	}
	if envFile != "" {
		log.Info("environment file loaded", "path", envFile)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"broker", brokerAddress(cfg),
		"client_id", cfg.Connect.ClientID,
	)

	// Session store (optional)
	var (
		db    *database.DB
		store *sessionstore.Store
	)
	if cfg.SessionStore.Enabled {
		db, err = openSessionStore(ctx, cfg.SessionStore)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing session store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing session store", "error", closeErr)
			}
		}()
		store = sessionstore.New(db)
		log.Info("session store ready", "path", db.Path())
	} else {
		log.Info("session store disabled")
	}

	// Observers
	prom := metrics.New(metrics.DefaultNamespace)
	observers := mqtt.Observers{prom}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.ConnectContext(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxdb.NewTelemetry(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT library
	lib, err := mqtt.Init(libraryConfig(cfg.Library),
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithObserver(observers),
	)
	if err != nil {
		return fmt.Errorf("initialising MQTT library: %w", err)
	}
	defer func() {
		log.Info("cleaning up MQTT library")
		lib.Cleanup()
	}()

	// Admin listener
	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		deps := admin.Deps{
			Config:   cfg.Admin,
			Logger:   log,
			Library:  lib,
			ClientID: cfg.Connect.ClientID,
			Metrics:  prom.Handler(),
			Version:  version,
		}
		if store != nil {
			deps.Store = store
		}
		adminServer, err = admin.New(deps)
		if err != nil {
			return fmt.Errorf("creating admin server: %w", err)
		}
		if err := adminServer.Start(ctx); err != nil {
			return fmt.Errorf("starting admin server: %w", err)
		}
		defer func() {
			if closeErr := adminServer.Close(); closeErr != nil {
				log.Error("error closing admin server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Broker session, restarted on loss
	var relays []func(*mqtt.PublishInfo)
	if adminServer != nil {
		relays = append(relays, adminServer.Broadcast)
	}
	sess := &session{
		cfg:       cfg,
		lib:       lib,
		store:     store,
		admin:     adminServer,
		log:       log,
		onMessage: messageHandler(log, relays...),
	}
	sup := supervisor.New(supervisor.Config{
		Name:               "mqtt-session",
		RestartOnFailure:   cfg.Reconnect.Enabled,
		RestartDelay:       cfg.Reconnect.InitialDelay,
		MaxRestartDelay:    cfg.Reconnect.MaxDelay,
		MaxRestartAttempts: cfg.Reconnect.MaxAttempts,
	})
	sup.SetLogger(log.Component("supervisor"))
	if adminServer != nil {
		adminServer.SetSupervisor(sup)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sup.Run(gctx, sess.run)
		if err == nil && ctx.Err() == nil {
			return errConnectionLost
		}
		return err
	})
	g.Go(func() error {
		healthLoop(gctx, db, influxClient, log)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("shutting down", "error", err)
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns MQTTCORE_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("MQTTCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadEnvFile reads MQTTCORE_ENV_FILE (default .env) into the process
// environment before config overrides are applied. Variables already set
// are kept. A missing file is skipped and reported as "".
func loadEnvFile() (string, error) {
	path := os.Getenv("MQTTCORE_ENV_FILE")
	if path == "" {
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("loading environment file %s: %w", path, err)
	}
	return path, nil
}

func openSessionStore(ctx context.Context, cfg config.SessionStoreConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running session store migrations: %w", err)
	}
	return db, nil
}

// subscribeConfigured subscribes to the configured filters and persists
// them. A clean session replaces the stored list; a persistent one adds to it.
func subscribeConfigured(ctx context.Context, conn *mqtt.Connection, cfg *config.Config,
	store *sessionstore.Store, cb mqtt.CallbackFunc, log *logging.Logger) error {
	subs := subscriptions(cfg.Connect.Subscriptions, cb)
	if len(subs) == 0 {
		if store != nil && cfg.Connect.CleanSession {
			if err := store.Save(ctx, conn.ClientID(), nil); err != nil {
				log.Warn("failed to clear stored subscriptions", "error", err)
			}
		}
		return nil
	}

	pending := unregistered(conn, subs)
	if restored := len(subs) - len(pending); restored > 0 {
		log.Info("configured filters held by previous session", "filters", restored)
	}
	if len(pending) > 0 {
		if err := conn.TimedSubscribe(pending, 0, cfg.GetConnectTimeout()); err != nil {
			return fmt.Errorf("subscribing to configured filters: %w", err)
		}
		log.Info("subscribed", "filters", len(pending))
	}

	if store == nil {
		return nil
	}
	records := sessionstore.Records(subs)
	var err error
	if cfg.Connect.CleanSession {
		err = store.Save(ctx, conn.ClientID(), records)
	} else {
		err = store.Add(ctx, conn.ClientID(), records)
	}
	if err != nil {
		log.Warn("failed to persist subscriptions", "error", err)
	}
	return nil
}

// unregistered drops the subscriptions conn already holds at the same QoS,
// such as filters restored from a persistent session. Subscribing to them
// again would add a second registry entry and a second delivery.
func unregistered(conn *mqtt.Connection, subs []mqtt.Subscription) []mqtt.Subscription {
	out := make([]mqtt.Subscription, 0, len(subs))
	for _, sub := range subs {
		if held, ok := conn.IsSubscribed(sub.TopicFilter); ok && held.QoS == sub.QoS {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func recordDisconnect(store *sessionstore.Store, clientID string, reason mqtt.DisconnectReason, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := store.RecordDisconnected(ctx, clientID, reason.String()); err != nil &&
		!errors.Is(err, sessionstore.ErrSessionNotFound) {
		log.Warn("failed to record disconnect", "error", err)
	}
}

// messageHandler logs each received message and hands it to the relays,
// such as the admin stream.
func messageHandler(log *logging.Logger, relays ...func(*mqtt.PublishInfo)) mqtt.CallbackFunc {
	return func(p *mqtt.CallbackParam) {
		if p.Message == nil {
			return
		}
		log.Debug("message received",
			"topic", p.Message.TopicName,
			"qos", int(p.Message.QoS),
			"bytes", len(p.Message.Payload),
		)
		for _, relay := range relays {
			relay(p.Message)
		}
	}
}

// healthCheck verifies the optional backends.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("session store: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

func healthLoop(ctx context.Context, db *database.DB, influxClient *influxdb.Client, log *logging.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, db, influxClient); err != nil && ctx.Err() == nil {
				log.Warn("health check failed", "error", err)
			}
		}
	}
}
