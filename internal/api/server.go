package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-nad/internal/audit"
	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/history"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Receiver is the part of the NAD bridge the API drives. *nad.Bridge
// implements it.
type Receiver interface {
	Execute(ctx context.Context, msg nad.CommandMessage) nad.AckMessage
	GetMetrics() nad.BridgeMetrics
	Snapshot() map[string]any
	Value(channelID string) (any, bool)
}

// HistoryReader lists recorded channel values.
type HistoryReader interface {
	List(ctx context.Context, channel string, limit int) ([]history.Entry, error)
}

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatter exposes connection pool statistics.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Bridge  Receiver
	MQTT    ConnectionChecker // optional
	DB      DBStatter         // optional
	History HistoryReader     // optional
	Audit   AuditReader       // optional
	Hub     *Hub              // If set, the server uses this hub instead of creating its own
	Version string
}

// Server is the HTTP API server of the NAD bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	bridge    Receiver
	mqtt      ConnectionChecker
	db        DBStatter
	history   HistoryReader
	audit     AuditReader
	version   string
	startTime time.Time

	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		history:   deps.History,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The hub is also a bridge observer, so main usually creates it first.
	s.hub = deps.Hub

	return s, nil
}

// Hub returns the WebSocket hub. It is nil before Start unless one was
// injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves HTTP in a background goroutine.
// Bind errors (port in use, bad address) are returned. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
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

	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			s.closeErr = fmt.Errorf("shutting down API server: %w", err)
		}
	})
	return s.closeErr
}

// HealthCheck verifies the API server is running and responsive.
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
