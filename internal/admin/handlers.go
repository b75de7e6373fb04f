package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mqtt-core/internal/sessionstore"
	"github.com/nerrad567/iot-mqtt-core/internal/supervisor"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connected   bool   `json:"connected"`
	Connections int    `json:"connections"`
	ClientID    string `json:"client_id,omitempty"`
	Version     string `json:"version,omitempty"`

	StreamClients int `json:"stream_clients"`

	Session *supervisor.Stats `json:"session,omitempty"`
}

// SubscriptionView is one topic filter in a subscriptions response.
type SubscriptionView struct {
	TopicFilter string `json:"topic_filter"`
	QoS         int    `json:"qos"`
}

// SubscriptionsResponse is the body of GET /subscriptions.
type SubscriptionsResponse struct {
	ClientID string             `json:"client_id"`
	Live     []SubscriptionView `json:"live"`
	Stored   []SubscriptionView `json:"stored"`
}

// handleHealth reports 200 while the session is connected and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:      "disconnected",
		Connections: s.library.Connections(),
		ClientID:    s.clientID,
		Version:     s.version,

		StreamClients: s.hub.ClientCount(),
	}

	if session := s.currentSession(); session != nil {
		resp.ClientID = session.ClientID()
		resp.Connected = session.IsConnected()
	}
	if sup := s.currentSupervisor(); sup != nil {
		stats := sup.Stats()
		resp.Session = &stats
	}

	status := http.StatusServiceUnavailable
	if resp.Connected {
		resp.Status = "ok"
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	clientID := s.clientID
	if session := s.currentSession(); session != nil {
		clientID = session.ClientID()
	}
	if clientID == "" {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no client configured")
		return
	}
	s.writeSubscriptions(w, r, clientID)
}

func (s *Server) handleClientSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.writeSubscriptions(w, r, chi.URLParam(r, "client_id"))
}

// writeSubscriptions reports the live registry when clientID is the current
// session and the persisted list when a store is configured.
func (s *Server) writeSubscriptions(w http.ResponseWriter, r *http.Request, clientID string) {
	resp := SubscriptionsResponse{
		ClientID: clientID,
		Live:     []SubscriptionView{},
		Stored:   []SubscriptionView{},
	}

	if session := s.currentSession(); session != nil && session.ClientID() == clientID {
		resp.Live = liveViews(session.Subscriptions())
	}

	if s.store != nil {
		records, err := s.store.Load(r.Context(), clientID)
		if err != nil {
			s.logger.Error("loading stored subscriptions", "client_id", clientID, "error", err)
			writeInternalError(w, "failed to load stored subscriptions")
			return
		}
		resp.Stored = storedViews(records)
	}

	writeJSON(w, http.StatusOK, resp)
}

func liveViews(subs []mqtt.Subscription) []SubscriptionView {
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, SubscriptionView{TopicFilter: sub.TopicFilter, QoS: int(sub.QoS)})
	}
	return views
}

func storedViews(records []sessionstore.Record) []SubscriptionView {
	views := make([]SubscriptionView, 0, len(records))
	for _, rec := range records {
		views = append(views, SubscriptionView{TopicFilter: rec.TopicFilter, QoS: int(rec.QoS)})
	}
	return views
}
