// Package api provides the HTTP REST API and WebSocket server for IoTZoo Core.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/catalog"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/logging"
	"github.com/iotzoo/iotzoo-core/internal/microcontroller"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// busSubscriber names the hub on the engine event bus.
const busSubscriber = "websocket"

// ConnectionStatus reports whether the shared broker connection is up.
// *mqtt.Client implements it.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics. *database.DB implements it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config           config.APIConfig
	WS               config.WebSocketConfig
	Logger           *logging.Logger
	Engine           *reconcile.Engine
	Catalog          *catalog.Catalog
	Microcontrollers microcontroller.Repository

	// Optional.
	MQTT    ConnectionStatus
	DB      DBStatser
	Version string
}

// Server is the HTTP API server for IoTZoo Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	engine    *reconcile.Engine
	catalog   *catalog.Catalog
	repo      microcontroller.Repository
	mqtt      ConnectionStatus
	db        DBStatser
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("reconcile engine is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("template catalog is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		engine:    deps.Engine,
		catalog:   deps.Catalog,
		repo:      deps.Microcontrollers,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes it to the engine event bus and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startBackground runs the hub and relays engine events to it.
func (s *Server) startBackground(ctx context.Context) {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	bus := s.engine.Bus()
	for _, kind := range reconcile.EventKinds() {
		s.unsubscribe = append(s.unsubscribe, bus.Subscribe(busSubscriber, kind, s.relayEvent))
	}
}

func (s *Server) relayEvent(e reconcile.Event) {
	s.hub.Publish(e)
}

// Close gracefully shuts down the API server.
//
// It detaches the hub from the event bus and waits up to 10 seconds for
// in-flight requests to complete.
func (s *Server) Close() error {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
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
