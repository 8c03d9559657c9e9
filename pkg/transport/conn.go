package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geoyin/openpbs/pkg/dis"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/google/uuid"
)

// DefaultWriteTimeout bounds one Flush on a remote connection.
const DefaultWriteTimeout = 10 * time.Second

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrLocalConn        = errors.New("no socket on local connection")
)

// Config configures a connection.
type Config struct {
	// MaxMessageSize is the maximum frame payload (default: 1 MB).
	MaxMessageSize uint32

	// WriteTimeout bounds each Flush (0 = no timeout).
	WriteTimeout time.Duration

	// ReadTimeout bounds each ReadMessage (0 = no timeout).
	ReadTimeout time.Duration

	// Logger receives frame and state events (optional).
	Logger log.Logger

	// Role tags log events with the local endpoint role.
	Role log.Role
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Conn is one batch protocol connection.
//
// Lock and Unlock guard the outbound buffer and the request/reply exchange:
// a caller holds the lock from the first value written to Writer until the
// paired reply has been read or the exchange failed.
type Conn struct {
	id     string
	host   string
	remote string
	local  bool

	nc     net.Conn
	framer *Framer
	out    *dis.WriteBuffer
	config Config

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Local is the connection of requests issued inside the server process.
var Local = &Conn{
	id:      "local",
	host:    "localhost",
	local:   true,
	closeCh: make(chan struct{}),
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn, config Config) *Conn {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	c := &Conn{
		id:      uuid.New().String(),
		nc:      nc,
		out:     dis.NewWriteBuffer(),
		config:  config,
		closeCh: make(chan struct{}),
	}
	if addr := nc.RemoteAddr(); addr != nil {
		c.remote = addr.String()
		c.host = c.remote
		if h, _, err := net.SplitHostPort(c.remote); err == nil {
			c.host = h
		}
	}

	c.framer = NewFramer(nc, config.MaxMessageSize)
	if config.Logger != nil {
		c.framer.SetLogger(config.Logger, c.id, c.remote)
	}
	return c
}

// Dial connects to a batch server.
func Dial(ctx context.Context, address string, config Config) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	config.Role = log.RoleClient
	c := NewConn(nc, config)
	c.logState("", "CONNECTED", "")
	return c, nil
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Host returns the peer host without port.
func (c *Conn) Host() string { return c.host }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remote }

// IsLocal reports whether c is the Local pseudo-connection.
func (c *Conn) IsLocal() bool { return c.local }

// Lock acquires the send lock, blocking until it is available.
func (c *Conn) Lock() { c.sendMu.Lock() }

// Unlock releases the send lock.
func (c *Conn) Unlock() { c.sendMu.Unlock() }

// Writer returns the outbound buffer. The send lock must be held.
func (c *Conn) Writer() *dis.WriteBuffer {
	return c.out
}

// Flush sends the committed contents of the outbound buffer as one frame
// and empties the buffer. A timeout is reported as ErrWriteTimeout.
// The send lock must be held.
func (c *Conn) Flush() error {
	if c.local {
		return ErrLocalConn
	}
	defer c.out.Reset()
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if c.config.WriteTimeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer c.nc.SetWriteDeadline(time.Time{})
	}

	if err := c.framer.WriteFrame(c.out.Bytes()); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}
		return err
	}
	return nil
}

// Discard drops the outbound buffer without sending it.
func (c *Conn) Discard() {
	if c.out != nil {
		c.out.Reset()
	}
}

// ReadMessage reads the next message.
func (c *Conn) ReadMessage() (*dis.ReadBuffer, error) {
	if c.local {
		return nil, ErrLocalConn
	}
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.config.ReadTimeout > 0 {
		c.nc.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		defer c.nc.SetReadDeadline(time.Time{})
	}

	data, err := c.framer.ReadFrame()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return dis.NewReadBuffer(data), nil
}

// Close closes the connection. Closing Local is a no-op.
func (c *Conn) Close() error {
	if c.local {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		err = c.nc.Close()
		c.logState("CONNECTED", "DISCONNECTED", "")
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

func (c *Conn) logState(oldState, newState, reason string) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    c.config.Role,
		RemoteAddr:   c.remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
