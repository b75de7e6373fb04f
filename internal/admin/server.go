package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mqtt-core/internal/sessionstore"
	"github.com/nerrad567/iot-mqtt-core/internal/supervisor"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	writeTimeout            = 10 * time.Second
	idleTimeout             = 60 * time.Second
)

// Library reports how many MQTT connections are live. *mqtt.Library implements it.
type Library interface {
	Connections() int
}

// Session is the live MQTT connection. *mqtt.Connection implements it.
type Session interface {
	ClientID() string
	IsConnected() bool
	Subscriptions() []mqtt.Subscription
}

// SubscriptionStore loads persisted subscriptions. *sessionstore.Store implements it.
type SubscriptionStore interface {
	Load(ctx context.Context, clientID string) ([]sessionstore.Record, error)
}

// Supervisor reports reconnect state. *supervisor.Supervisor implements it.
type Supervisor interface {
	Stats() supervisor.Stats
}

// Deps holds the dependencies of the admin server.
type Deps struct {
	Config  config.AdminConfig
	Logger  *logging.Logger
	Library Library

	// Session may be nil until the first connect completes; see SetSession.
	Session Session

	// ClientID names the client whose stored subscriptions /subscriptions
	// reports while no Session is set.
	ClientID string

	// Store is optional. Without it only live subscriptions are reported.
	Store SubscriptionStore

	// Supervisor is optional. When set /healthz includes its stats.
	Supervisor Supervisor

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler

	Version string
}

// Server is the admin HTTP server.
type Server struct {
	cfg      config.AdminConfig
	logger   *logging.Logger
	library  Library
	store    SubscriptionStore
	sup      Supervisor
	metrics  http.Handler
	clientID string
	version  string
	router   chi.Router
	hub      *Hub

	mu       sync.RWMutex
	session  Session
	server   *http.Server
	listener net.Listener
}

// New creates an admin server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, ErrLoggerRequired
	}
	if deps.Library == nil {
		return nil, ErrLibraryRequired
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.Component("admin"),
		library:  deps.Library,
		store:    deps.Store,
		sup:      deps.Supervisor,
		metrics:  deps.Metrics,
		clientID: deps.ClientID,
		version:  deps.Version,
		session:  deps.Session,
	}
	s.hub = NewHub(deps.Config.Stream, s.logger)
	s.router = s.buildRouter()
	return s, nil
}

// SetSession replaces the live connection reported by the handlers.
func (s *Server) SetSession(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// SetSupervisor sets the reconnect supervisor reported by /healthz.
func (s *Server) SetSupervisor(sup Supervisor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sup = sup
}

func (s *Server) currentSupervisor() Supervisor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sup
}

func (s *Server) currentSession() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Broadcast relays a received PUBLISH to stream clients whose filters match.
// It never blocks on slow clients.
func (s *Server) Broadcast(msg *mqtt.PublishInfo) {
	s.hub.Publish(msg)
}

// StreamClients returns the number of connected stream clients.
func (s *Server) StreamClients() int {
	return s.hub.ClientCount()
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so an address already in use is
// reported here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()

	s.logger.Info("admin server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting briefly for in-flight requests.
// It is safe to call on a server that was never started.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("admin server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no route for "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, req.Method+" not allowed on "+req.URL.Path)
	})

	// Health check (no auth required)
	r.Get("/healthz", s.handleHealth)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleSubscriptions)
			r.Get("/{client_id}", s.handleClientSubscriptions)
		})
		r.Get("/messages", s.handleStream)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})
	return r
}
