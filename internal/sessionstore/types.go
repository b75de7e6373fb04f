package sessionstore

import (
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

// Record is one persisted subscription.
type Record struct {
	TopicFilter string   `json:"topic_filter"`
	QoS         mqtt.QoS `json:"qos"`
}

// Session is the last known connection state of a client.
type Session struct {
	ClientID       string     `json:"client_id"`
	Broker         string     `json:"broker"`
	CleanSession   bool       `json:"clean_session"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	LastReason     string     `json:"last_reason,omitempty"`
}

// Connected reports whether the last recorded event was a connect.
func (s Session) Connected() bool {
	if s.ConnectedAt == nil {
		return false
	}
	return s.DisconnectedAt == nil || s.DisconnectedAt.Before(*s.ConnectedAt)
}

// Records converts live subscriptions to records, keeping their order.
func Records(subs []mqtt.Subscription) []Record {
	out := make([]Record, 0, len(subs))
	for _, s := range subs {
		out = append(out, Record{TopicFilter: s.TopicFilter, QoS: s.QoS})
	}
	return out
}

// Subscriptions converts records back to subscriptions that all deliver to cb.
// The result is suitable for mqtt.ConnectInfo.PreviousSubscriptions.
func Subscriptions(records []Record, cb mqtt.CallbackFunc) []mqtt.Subscription {
	out := make([]mqtt.Subscription, 0, len(records))
	for _, r := range records {
		out = append(out, mqtt.Subscription{TopicFilter: r.TopicFilter, QoS: r.QoS, Callback: cb})
	}
	return out
}

func (r Record) valid() bool {
	return r.TopicFilter != "" && r.QoS <= mqtt.QoS1
}
