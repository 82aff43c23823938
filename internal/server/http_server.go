// Package server constructs and starts the duochat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/duochat/internal/credential"
	"github.com/Tyrowin/duochat/internal/relay"
	"github.com/Tyrowin/duochat/internal/room"
	"github.com/Tyrowin/duochat/internal/session"
)

// Server is the transport shell around a relay engine.
type Server struct {
	cfg      Config
	engine   *relay.Engine
	hub      *Hub
	origins  originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds a Server. cfg is sanitized first.
func New(cfg Config, engine *relay.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	s := &Server{
		cfg:    cfg,
		engine: engine,
		hub:    NewHub(logger),
		logger: logger,
	}
	s.origins = newOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// NewEngine wires the room registry, session store, and relay engine
// described by cfg.
func NewEngine(cfg Config, logger *slog.Logger) (*relay.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	hasher, err := credential.NewPasswordHasher(cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}
	rooms, err := room.NewRegistry(room.Options{
		IDLength: cfg.RoomIDLength,
		Hasher:   hasher,
		Logger:   logger.With("component", "rooms"),
	})
	if err != nil {
		return nil, err
	}
	sessions := session.NewStore(logger.With("component", "sessions"))

	return relay.New(rooms, sessions, relay.Options{
		MaxParticipants: cfg.MaxParticipants,
		Logger:          logger.With("component", "relay"),
	}), nil
}

// Hub returns the connection hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// Write timeout is left unset because upgraded sockets outlive the request.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts down the HTTP listener and
// the hub within the configured timeout.
func (s *Server) Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown(srv)
}

// Shutdown gracefully stops the HTTP server and closes all sockets.
func (s *Server) Shutdown(srv *http.Server) error {
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	httpErr := srv.Shutdown(ctx)
	if httpErr != nil {
		s.logger.Error("http server shutdown error", "error", httpErr)
	}
	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)

	return errors.Join(httpErr, hubErr)
}
