package main

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonGraceful   = "graceful_shutdown"
)

// statusMessage is published on the will topic. The broker publishes the
// will itself when the session dies without DISCONNECT.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

var now = time.Now

func statusPayload(clientID, status, reason string) string {
	b, err := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return `{"status":"` + status + `"}`
	}
	return string(b)
}

// statusPublisher publishes retained online and offline messages on the
// will topic. With no will topic configured it does nothing.
type statusPublisher struct {
	conn     *mqtt.Connection
	will     config.WillConfig
	publish  config.PublishConfig
	clientID string
	timeout  time.Duration
	log      *logging.Logger
}

func newStatusPublisher(conn *mqtt.Connection, cfg *config.Config, log *logging.Logger) *statusPublisher {
	return &statusPublisher{
		conn:     conn,
		will:     cfg.Connect.Will,
		publish:  cfg.Publish,
		clientID: conn.ClientID(),
		timeout:  cfg.GetConnectTimeout(),
		log:      log,
	}
}

func (s *statusPublisher) online() {
	s.send(statusPayload(s.clientID, statusOnline, ""))
}

func (s *statusPublisher) offline() {
	if !s.conn.IsConnected() {
		return
	}
	s.send(statusPayload(s.clientID, statusOffline, reasonGraceful))
}

func (s *statusPublisher) send(payload string) {
	if s.will.Topic == "" {
		return
	}
	info := s.message(payload)
	if err := s.conn.TimedPublish(info, 0, s.timeout); err != nil {
		s.log.Warn("failed to publish status", "topic", info.TopicName, "error", err)
	}
}

func (s *statusPublisher) message(payload string) *mqtt.PublishInfo {
	info := &mqtt.PublishInfo{
		QoS:       mqtt.QoS(s.will.QoS),
		Retain:    true,
		TopicName: s.will.Topic,
		Payload:   []byte(payload),
	}
	if info.QoS == mqtt.QoS1 {
		info.RetryInterval = s.publish.RetryInterval
		info.RetryLimit = s.publish.RetryLimit
	}
	return info
}
