package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/geoyin/openpbs/pkg/dis"
	"github.com/geoyin/openpbs/pkg/log"
)

// ServerConfig configures a listener.
type ServerConfig struct {
	// Address to listen on (e.g., ":15001").
	Address string

	// Conn configures accepted connections.
	Conn Config

	// OnConnect is called when a connection is accepted.
	OnConnect func(conn *Conn)

	// OnDisconnect is called after a connection's read loop ends.
	OnDisconnect func(conn *Conn)

	// OnMessage is called from the connection's read goroutine for each
	// message.
	OnMessage func(conn *Conn, msg *dis.ReadBuffer)

	// OnError is called on accept and read errors other than orderly close.
	OnError func(conn *Conn, err error)
}

// Server accepts batch protocol connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*Conn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	config.Conn.Role = log.RoleServer
	return &Server{
		config: config,
		conns:  make(map[*Conn]struct{}),
	}
}

// DefaultPort is the standard batch server port.
const DefaultPort = 15001

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, then waits for the read
// loops to end.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	c := NewConn(nc, s.config.Conn)
	c.logState("", "CONNECTED", "")

	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	s.readLoop(c)
	c.Close()

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) readLoop(c *Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.Done():
			return
		default:
		}

		msg, err := c.ReadMessage()
		if err != nil {
			orderly := err == io.EOF || errors.Is(err, ErrConnectionClosed) || !s.running.Load()
			if !orderly && s.config.OnError != nil {
				s.config.OnError(c, err)
			}
			return
		}
		if s.config.OnMessage != nil {
			s.config.OnMessage(c, msg)
		}
	}
}
