package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/iot-mqtt-core/internal/admin"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mqtt-core/internal/sessionstore"
	"github.com/nerrad567/iot-mqtt-core/internal/supervisor"
)

// session runs one broker connection from CONNECT to loss or shutdown.
// The supervisor calls run again after a loss when reconnect is enabled.
type session struct {
	cfg       *config.Config
	lib       *mqtt.Library
	store     *sessionstore.Store
	admin     *admin.Server
	log       *logging.Logger
	onMessage mqtt.CallbackFunc
}

// run connects, subscribes and blocks until ctx is done or the broker
// connection drops.
//
// Returns:
//   - error: nil when ctx is cancelled, errConnectionLost wrapping the
//     disconnect reason, or the connect failure. Refused and malformed
//     connects are marked permanent so they are not retried.
func (s *session) run(ctx context.Context, ready func()) error {
	cfg := s.cfg

	var previous []mqtt.Subscription
	if !cfg.Connect.CleanSession && s.store != nil {
		records, err := s.store.Load(ctx, cfg.Connect.ClientID)
		if err != nil {
			return fmt.Errorf("loading previous subscriptions: %w", err)
		}
		previous = restoredSubscriptions(records, cfg.Connect.Subscriptions, s.onMessage)
		s.log.Info("restoring previous session", "subscriptions", len(previous))
	}

	lost := make(chan mqtt.DisconnectReason, 1)
	netInfo := networkInfo(cfg, func(_ *mqtt.Connection, reason mqtt.DisconnectReason) {
		if s.store != nil {
			recordDisconnect(s.store, cfg.Connect.ClientID, reason, s.log)
		}
		select {
		case lost <- reason:
		default:
		}
	})

	conn, err := s.lib.Connect(netInfo, connectInfo(cfg.Connect, previous), cfg.GetConnectTimeout())
	if err != nil {
		err = fmt.Errorf("connecting to MQTT broker %s: %w", brokerAddress(cfg), err)
		if errors.Is(err, mqtt.ErrServerRefused) || errors.Is(err, mqtt.ErrBadParameter) {
			return supervisor.Permanent(err)
		}
		return err
	}
	s.log.Info("MQTT connected", "broker", brokerAddress(cfg), "client_id", conn.ClientID())

	if s.store != nil {
		if recErr := s.store.RecordConnected(ctx, conn.ClientID(), brokerAddress(cfg), cfg.Connect.CleanSession); recErr != nil {
			s.log.Warn("failed to record session", "error", recErr)
		}
	}
	if s.admin != nil {
		s.admin.SetSession(conn)
	}

	status := newStatusPublisher(conn, cfg, s.log)
	defer func() {
		status.offline()
		s.log.Info("disconnecting from MQTT")
		conn.Disconnect(0)
	}()
	status.online()

	if err := subscribeConfigured(ctx, conn, cfg, s.store, s.onMessage, s.log); err != nil {
		return err
	}
	ready()

	select {
	case <-ctx.Done():
		return nil
	case reason := <-lost:
		return fmt.Errorf("%w: %s", errConnectionLost, reason)
	}
}
