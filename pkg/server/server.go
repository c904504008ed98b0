// Package server implements the chat server core: the TCP accept loop,
// per-connection sessions, the shared session registry, the idle sweeper
// and runtime metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/AleksandrAfonin/console-chat/pkg/auth"
)

// Dependencies carries the collaborators the server core needs. Fields are
// injected so tests can swap implementations.
type Dependencies struct {
	Gateway auth.Provider
}

// Server accepts TCP connections and runs one Session per connection.
type Server struct {
	cfg      Config
	gateway  auth.Provider
	registry *Registry
	metrics  *Metrics

	ln net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

// New creates a server from config and dependencies.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("server: an authentication gateway is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	return &Server{
		cfg:      cfg,
		gateway:  deps.Gateway,
		registry: NewRegistry(metrics),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Registry exposes the session registry, mainly for tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics exposes the runtime counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	slog.Info("server listening", "addr", ln.Addr().String())

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		s.handleConn(conn)
	}
}

// handleConn wraps a raw connection in a Session and runs it in its own
// goroutine.
func (s *Server) handleConn(conn net.Conn) {
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("connection accepted", "remote", conn.RemoteAddr())

	sess := newSession(s, conn)
	go sess.run()
}

// Shutdown stops the server: the listener closes, every session is
// disabled, and the background loops wind down. Safe to call more than
// once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		slog.Info("server shutting down")
		s.registry.DisableAll()
		s.cancel()
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
}

// Done is closed when the server has been told to shut down.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}
