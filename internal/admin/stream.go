package admin

import (
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
)

// Stream message types.
const (
	StreamTypeSubscribe   = "subscribe"
	StreamTypeUnsubscribe = "unsubscribe"
	StreamTypePing        = "ping"
	StreamTypePong        = "pong"
	StreamTypeMessage     = "message"
	StreamTypeResponse    = "response"
	StreamTypeError       = "error"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBuffer     = 256
)

// StreamMessage is a frame sent to a stream client.
type StreamMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// StreamRequest is a frame read from a stream client.
type StreamRequest struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Filters []string `json:"filters,omitempty"`
}

// ReceivedMessage is the payload of a "message" frame.
type ReceivedMessage struct {
	Topic  string `json:"topic"`
	QoS    int    `json:"qos"`
	Retain bool   `json:"retain"`

	// Text is set when the payload is valid UTF-8; Payload always holds the
	// raw bytes (base64 in JSON).
	Text    string `json:"text,omitempty"`
	Payload []byte `json:"payload"`
}

// Hub fans received PUBLISH messages out to WebSocket clients whose topic
// filters match.
type Hub struct {
	cfg     config.StreamConfig
	logger  *logging.Logger
	clients map[*streamClient]struct{}
	mu      sync.RWMutex
}

type streamClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	filters map[string]struct{}
	mu      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. Zero stream settings take defaults.
func NewHub(cfg config.StreamConfig, logger *logging.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *Hub) newClient(conn *websocket.Conn, filters []string) *streamClient {
	c := &streamClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		filters: make(map[string]struct{}, len(filters)),
	}
	for _, f := range filters {
		c.filters[f] = struct{}{}
	}
	return c
}

func (h *Hub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the caller that removes it from the map
// closes its send channel.
func (h *Hub) unregister(client *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("stream client disconnected", "clients", h.ClientCount())
}

// Publish sends msg to every client with a matching filter. Slow clients
// drop frames rather than block the caller.
func (h *Hub) Publish(msg *mqtt.PublishInfo) {
	if msg == nil {
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var data []byte
	sent := 0
	for _, client := range clients {
		if !client.matches(msg.TopicName) {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(newStreamMessage(StreamTypeMessage, "", receivedMessage(msg)))
			if err != nil {
				h.logger.Error("failed to marshal stream message", "error", err)
				return
			}
		}
		client.trySend(data)
		sent++
	}
	if sent > 0 {
		h.logger.Debug("stream message sent", "topic", msg.TopicName, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func receivedMessage(msg *mqtt.PublishInfo) ReceivedMessage {
	rm := ReceivedMessage{
		Topic:   msg.TopicName,
		QoS:     int(msg.QoS),
		Retain:  msg.Retain,
		Payload: msg.Payload,
	}
	if utf8.Valid(msg.Payload) {
		rm.Text = string(msg.Payload)
	}
	return rm
}

func newStreamMessage(typ, id string, payload any) StreamMessage {
	return StreamMessage{
		Type:      typ,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// handleStream upgrades to a WebSocket. Initial filters may be given as
// repeated ?filter= query parameters.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters := r.URL.Query()["filter"]
	if err := validateFilters(filters); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn, filters)
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func validateFilters(filters []string) error {
	for _, f := range filters {
		if err := mqtt.ValidateTopicFilter(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval + cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval + cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval + cfg.PongTimeout))
		c.handleRequest(data)
	}
}

func (c *streamClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handleRequest(data []byte) {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case StreamTypeSubscribe:
		if err := validateFilters(req.Filters); err != nil {
			c.sendError(req.ID, err.Error())
			return
		}
		c.mu.Lock()
		for _, f := range req.Filters {
			c.filters[f] = struct{}{}
		}
		c.mu.Unlock()
		c.sendResponse(req.ID, StreamTypeResponse, map[string]any{"subscribed": req.Filters})
	case StreamTypeUnsubscribe:
		c.mu.Lock()
		for _, f := range req.Filters {
			delete(c.filters, f)
		}
		c.mu.Unlock()
		c.sendResponse(req.ID, StreamTypeResponse, map[string]any{"unsubscribed": req.Filters})
	case StreamTypePing:
		c.sendResponse(req.ID, StreamTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *streamClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for f := range c.filters {
		if mqtt.TopicMatches(f, topic) {
			return true
		}
	}
	return false
}

// trySend queues data, dropping it when the buffer is full or the client
// has gone.
func (c *streamClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send on a channel closed by unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *streamClient) sendResponse(id, typ string, payload any) {
	data, err := json.Marshal(newStreamMessage(typ, id, payload))
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *streamClient) sendError(id, message string) {
	c.sendResponse(id, StreamTypeError, map[string]string{"message": message})
}
