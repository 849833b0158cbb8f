package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server owns the shared Registry and Broadcaster and every connection
// handler that uses them. Construct it once and pass it around; nothing in
// this package is global.
type Server struct {
	cfg         Config
	registry    *Registry
	broadcaster *Broadcaster
	upgrader    *websocket.Upgrader
	logger      *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[string]*Peer
	closing  bool
	handlers sync.WaitGroup
}

// NewServer creates a Server from cfg. A nil cfg uses the defaults and a
// nil logger uses slog.Default().
func NewServer(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	sanitized := cfg.sanitized()
	registry := NewRegistry(logger)

	return &Server{
		cfg:         sanitized,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, logger),
		upgrader:    newUpgrader(newOriginPolicy(sanitized.AllowedOrigins, logger)),
		logger:      logger,
		conns:       make(map[string]*Peer),
	}
}

// Listen binds the chat endpoint. The backlog is the operating system's
// default.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrServerClosed
	}
	if s.ln != nil {
		return errors.New("server: already listening")
	}

	ln, err := net.Listen("tcp", s.cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ChatAddr, err)
	}
	s.ln = ln
	return nil
}

// Serve accepts chat connections on the bound endpoint until ctx is
// cancelled or Shutdown is called. It always returns a non-nil error;
// ErrServerClosed after a normal stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	return NewListener(s.acceptTCP, s.logger).Serve(ctx, ln)
}

// ListenAndServe binds the chat endpoint and serves it.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the bound chat address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the shared peer registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Broadcaster returns the shared broadcaster.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

func (s *Server) acceptTCP(conn net.Conn) {
	s.serveConn(newTCPConn(conn, s.cfg.WriteTimeout))
}

// serveConn runs one connection to completion on the calling goroutine.
func (s *Server) serveConn(conn Conn) {
	peer := newPeer(conn)
	if !s.track(peer) {
		_ = conn.Close()
		return
	}
	defer s.untrack(peer)

	s.logger.Info("connection accepted", "peer", peer.ID(), "addr", peer.Addr())
	newConnHandler(peer, s.registry, s.broadcaster, s.cfg, s.logger).run()
}

func (s *Server) track(peer *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.conns[peer.ID()] = peer
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(peer *Peer) {
	s.mu.Lock()
	delete(s.conns, peer.ID())
	s.mu.Unlock()

	s.handlers.Done()
}

// ConnectionCount returns the number of open connections, joined or not.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every open connection, and waits for
// their handlers to finish. It returns context.DeadlineExceeded if the
// handlers are still running after timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("initiating chat server shutdown")

	s.mu.Lock()
	s.closing = true
	ln := s.ln
	peers := make([]*Peer, 0, len(s.conns))
	for _, peer := range s.conns {
		peers = append(peers, peer)
	}
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("error closing chat listener", "error", err)
		}
	}

	for _, peer := range peers {
		if err := peer.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error closing connection", "peer", peer.ID(), "error", err)
		}
	}
	s.logger.Info("closed connections", "count", len(peers))

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("chat server shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("chat server shutdown timeout reached, some handlers may still be running")
		return context.DeadlineExceeded
	}
}
