// Package virtual serves the framed gateway protocol to additional
// clients over TCP, replaying the captured device state, fanning out
// live traffic, and funnelling client sends onto the physical radio.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"meshgate/internal/bus"
	"meshgate/internal/domain"
	"meshgate/internal/radio"
)

// Gateway is the slice of the radio session the listener uses.
type Gateway interface {
	Ready() bool
	SubmitRaw(payload []byte) (uint32, error)
	RawRecordIsAdmin(payload []byte) (bool, uint32)
	ConfigFragments() [][]byte
}

// Server accepts virtual device clients and keeps them converged with
// the physical gateway state.
type Server struct {
	logger     *slog.Logger
	addr       string
	allowAdmin bool
	codec      radio.Codec
	store      *domain.MeshStore
	gateway    Gateway
	bus        bus.MessageBus

	mu       sync.Mutex
	clients  map[*client]struct{}
	listener net.Listener
}

func NewServer(logger *slog.Logger, addr string, allowAdmin bool, codec radio.Codec, store *domain.MeshStore, gateway Gateway, b bus.MessageBus) *Server {
	return &Server{
		logger:     logger.With("component", "virtual"),
		addr:       addr,
		allowAdmin: allowAdmin,
		codec:      codec,
		store:      store,
		gateway:    gateway,
		bus:        b,
		clients:    make(map[*client]struct{}),
	}
}

// Run listens, accepts clients, and mirrors the bus onto them until ctx
// ends.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("virtual listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("virtual device listening", "addr", listener.Addr().String())

	go s.mirrorBus(ctx)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
		s.closeAll()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)

			continue
		}
		s.enrol(ctx, conn)
	}
}

// Addr reports the bound listen address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// mirrorBus fans live from-radio records out to every client and
// replays everyone when a fresh capture lands.
func (s *Server) mirrorBus(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe(bus.TopicRadioFromRaw)
	captures := s.bus.Subscribe(bus.TopicCaptureDone)
	defer s.bus.Unsubscribe(sub, bus.TopicRadioFromRaw)
	defer s.bus.Unsubscribe(captures, bus.TopicCaptureDone)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			if payload, ok := raw.([]byte); ok {
				s.Broadcast(payload)
			}
		case _, ok := <-captures:
			if !ok {
				return
			}
			s.RefreshAll()
		}
	}
}

func (s *Server) enrol(ctx context.Context, conn net.Conn) {
	c := newClient(s, conn)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("virtual client connected", "remote", conn.RemoteAddr().String(), "clients", count)
	c.run(ctx)
}

func (s *Server) deenrol(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	if present {
		s.logger.Info("virtual client disconnected", "remote", c.remote(), "clients", count)
	}
}

// Broadcast queues payload for every connected client. Clients that
// cannot keep up are disconnected by their own queue overflow.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(payload)
	}
}

// RefreshAll replays the current device state to every client in place,
// converging their caches after a physical reconnect without dropping
// their connections.
func (s *Server) RefreshAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.refresh()
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
