package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket settings applied when the config leaves them zero.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 // seconds
	defaultWSPongTimeout    = 10 // seconds
)

// Receivers is the registry the API reads from. *receiver.Manager satisfies it.
type Receivers interface {
	Device(id string) (*receiver.Device, error)
	Devices() []*receiver.Device
}

// Executor accepts validated commands. *receiver.Dispatcher satisfies it.
type Executor interface {
	Execute(d *receiver.Device, cmd receiver.Command) error
}

// History lists recorded state changes.
type History interface {
	List(ctx context.Context, id string, limit int) ([]receiver.HistoryEntry, error)
}

// ConnectionStatus reports whether an optional backend is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthCheck verifies one backing component.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Receivers Receivers
	Executor  Executor

	History  History             // optional
	Gatherer prometheus.Gatherer // optional: /metrics is not mounted when nil
	DB       *sql.DB             // optional: pool stats in /system
	MQTT     ConnectionStatus    // optional
	Checks   map[string]HealthCheck
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	receivers Receivers
	executor  Executor
	history   History
	gatherer  prometheus.Gatherer
	db        *sql.DB
	mqtt      ConnectionStatus
	checks    map[string]HealthCheck
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub exists from construction so PublishState can be
// registered as a listener before the server starts.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Receivers == nil {
		return nil, fmt.Errorf("receiver registry is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("command executor is required")
	}

	ws := deps.WS
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = defaultWSMaxMessageSize
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = defaultWSPingInterval
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultWSPongTimeout
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     ws,
		logger:    deps.Logger.With("component", "api"),
		receivers: deps.Receivers,
		executor:  deps.Executor,
		history:   deps.History,
		gatherer:  deps.Gatherer,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(ws, s.logger, s.snapshotEvents)
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// PublishState broadcasts a published state to WebSocket subscribers.
// It has the receiver.Listener signature.
func (s *Server) PublishState(u receiver.Update) {
	s.hub.Broadcast(ChannelStateChanged, u.ReceiverID, newStateEvent(u))
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so a port conflict is reported here;
// serving continues in a background goroutine until Close().
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
