// Package server implements the Ether daemon: it owns the allocator and the
// authoritative handle registry, accepts TCP and WebSocket connections, and
// serves each one on its own goroutine.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/Hexkalibur/Ether/internal/alloc"
	"github.com/Hexkalibur/Ether/internal/registry"
	"github.com/Hexkalibur/Ether/internal/transport"
	"github.com/Hexkalibur/Ether/internal/util"
)

// Config holds the listen addresses and per-connection tuning.
type Config struct {
	Addr        string        // TCP listen address, e.g. ":9999"
	WSAddr      string        // WebSocket listen address; empty disables the endpoint
	RecvTimeout time.Duration // per-receive deadline; 0 selects the transport default
	MaxHandles  int           // live handle limit; 0 means unbounded
}

// Server ties the allocator, the handle registry, and the listeners together.
// The registry and allocator are shared mutable state reached from every
// connection goroutine; both carry their own locks.
type Server struct {
	cfg      Config
	alloc    *alloc.Allocator
	handles  *registry.Registry[alloc.Ref]
	counters *transport.Counters

	listener   net.Listener
	wsListener net.Listener
}

// New creates a server with a fresh allocator and registry.
func New(cfg Config) *Server {
	var handles *registry.Registry[alloc.Ref]
	if cfg.MaxHandles > 0 {
		handles = registry.NewWithLimit[alloc.Ref](cfg.MaxHandles)
	} else {
		handles = registry.New[alloc.Ref]()
	}
	return &Server{
		cfg:      cfg,
		alloc:    alloc.New(),
		handles:  handles,
		counters: &transport.Counters{},
	}
}

// Start binds the listeners and launches the accept loops. It returns once
// the server is reachable; sessions run until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	}
	s.listener = listener

	// Close the listener when context is done so Accept() returns an error.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go s.acceptLoop(ctx, listener)

	if s.cfg.WSAddr != "" {
		if err := s.startWS(ctx); err != nil {
			listener.Close()
			return err
		}
	}

	s.startReporter(ctx)
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then logs the
// final allocator state.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	util.LogSuccess("etherd listening on %s", s.listener.Addr())
	if s.wsListener != nil {
		util.LogSuccess("WebSocket endpoint on ws://%s/ws", s.wsListener.Addr())
	}

	<-ctx.Done()
	util.LogInfo("shutting down\n%s", s.alloc.Stats())
	return nil
}

// Addr reports the bound TCP address (useful with ":0").
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// WSAddr reports the bound WebSocket address, or nil when disabled.
func (s *Server) WSAddr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Stats returns a snapshot of the allocator counters.
func (s *Server) Stats() alloc.Stats {
	return s.alloc.Stats()
}

// Handles returns the number of live handles.
func (s *Server) Handles() int {
	return s.handles.Len()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return // normal shutdown
			default:
				util.LogError("accept error: %v", err)
				return
			}
		}

		util.LogInfo("client connected from %s", conn.RemoteAddr())
		go s.serveSession(ctx, conn)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startWS serves the same framed protocol over WebSocket binary messages.
// Each upgraded connection becomes an ordinary session.
func (s *Server) startWS(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.WSAddr)
	}
	s.wsListener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		util.LogInfo("client connected from %s (websocket)", wsConn.RemoteAddr())
		s.serveSession(ctx, transport.WrapWebSocket(wsConn))
	})

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go func() {
		_ = http.Serve(listener, mux)
	}()
	return nil
}
