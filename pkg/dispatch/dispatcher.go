package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/clock"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/geoyin/openpbs/pkg/metrics"
	"github.com/geoyin/openpbs/pkg/transport"
)

// Outcome is the terminal state of one Send.
type Outcome uint8

const (
	// Pending means the request still has children outstanding. Nothing
	// was sent and the request was not freed.
	Pending Outcome = iota

	// Aggregated means a child folded its result into its parent.
	Aggregated

	// LocalDelivered means the deferred task waiting on a local request
	// was made runnable. That task owns the request from here on.
	LocalDelivered

	// LocalFailed means no task was waiting on a local request.
	LocalFailed

	// RemoteSent means the reply was written to the client.
	RemoteSent

	// RemoteFailed means encoding or flushing failed and the connection
	// was closed.
	RemoteFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Aggregated:
		return "aggregated"
	case LocalDelivered:
		return "local_delivered"
	case LocalFailed:
		return "local_failed"
	case RemoteSent:
		return "remote_sent"
	case RemoteFailed:
		return "remote_failed"
	default:
		return "unknown"
	}
}

// ErrNoWaiter is returned when a local request has no deferred task.
var ErrNoWaiter = errors.New("did not find work task for local request")

// Waker makes the deferred task parked on param runnable.
type Waker interface {
	Wake(param any) bool
}

// Config configures a Dispatcher.
type Config struct {
	// Tasks holds deferred tasks of local requests.
	Tasks Waker

	// Clock stamps reply latency (default: real clock).
	Clock clock.Clock

	// Logger receives operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger receives reply message events (optional).
	ProtocolLogger log.Logger
}

// Dispatcher delivers completed requests.
//
// Dispatcher is used from the server loop only and is not safe for
// concurrent use.
type Dispatcher struct {
	tasks    Waker
	clock    clock.Clock
	logger   *slog.Logger
	protocol log.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		tasks:    cfg.Tasks,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		protocol: cfg.ProtocolLogger,
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// Send delivers the reply of r.
//
// A child is folded into its parent and freed; the parent is sent when its
// last child folds in. A request with children outstanding is left alone.
// A local request wakes its deferred task, which then owns r. A remote
// request is encoded and flushed under the connection's send lock. In
// every other case r is freed exactly once before Send returns.
func (d *Dispatcher) Send(r *batch.Request) (Outcome, error) {
	if p := r.Parent; p != nil {
		fold(p, r)
		d.record(r, Aggregated)
		r.Free()
		p.RefCount--
		if p.RefCount == 0 {
			if _, err := d.Send(p); err != nil {
				return Aggregated, err
			}
		}
		return Aggregated, nil
	}

	if r.RefCount > 0 {
		return Pending, nil
	}

	if r.IsLocal() {
		if d.tasks != nil && d.tasks.Wake(r) {
			d.record(r, LocalDelivered)
			return LocalDelivered, nil
		}
		d.logger.Error("did not find work task for local request",
			"type", r.Type, "object", r.Object())
		d.record(r, LocalFailed)
		r.Free()
		return LocalFailed, &batch.Error{Code: batch.ErrSystem, Text: ErrNoWaiter.Error()}
	}

	err := d.write(r)
	outcome := RemoteSent
	if err != nil {
		outcome = RemoteFailed
	}
	d.record(r, outcome)
	r.Free()
	return outcome, err
}

// fold copies the result of child c into parent p unless p already holds
// a result.
func fold(p, c *batch.Request) {
	if !p.Reply.IsEmpty() {
		return
	}
	p.Reply.Code = c.Reply.Code
	p.Reply.Aux = c.Reply.Aux
	if text, ok := c.Reply.Text(); ok {
		p.Reply.Set(batch.Text(text))
	}
}

func (d *Dispatcher) write(r *batch.Request) error {
	conn := r.Conn
	if conn == nil {
		return transport.ErrConnectionClosed
	}

	conn.Lock()
	defer conn.Unlock()

	err := batch.EncodeReply(conn.Writer(), &r.Reply)
	if err == nil {
		err = conn.Flush()
	}
	if err == nil {
		return nil
	}

	args := []any{"conn", conn.ID(), "host", conn.Host(), "type", r.Type, "error", err}
	if errors.Is(err, transport.ErrWriteTimeout) {
		d.logger.Error("DIS reply failure: write timed out", args...)
	} else {
		d.logger.Error("DIS reply failure", args...)
	}
	d.logError(conn, err)
	conn.Discard()
	conn.Close()
	return fmt.Errorf("reply to %s: %w", conn.Host(), err)
}

func (d *Dispatcher) record(r *batch.Request, o Outcome) {
	now := d.clock.Now()
	var latency time.Duration
	if !r.Received.IsZero() {
		latency = now.Sub(r.Received)
	}
	metrics.RecordReply(r.Type.String(), o.String(), latency)

	if d.protocol == nil || (o != RemoteSent && o != LocalDelivered) {
		return
	}
	connID := ""
	if r.Conn != nil {
		connID = r.Conn.ID()
	}
	d.protocol.Log(log.Event{
		Timestamp:    now,
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		Message:      batch.ReplyEvent(r, now),
	})
}

func (d *Dispatcher) logError(conn *transport.Conn, err error) {
	if d.protocol == nil {
		return
	}
	d.protocol.Log(log.Event{
		Timestamp:    d.clock.Now(),
		ConnectionID: conn.ID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		LocalRole:    log.RoleServer,
		RemoteAddr:   conn.RemoteAddr(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: "reply",
		},
	})
}
