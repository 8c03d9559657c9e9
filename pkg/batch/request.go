package batch

import (
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/transport"
)

// Body is the operation-specific part of a request.
type Body interface {
	// Object returns the identifier the request targets, if any.
	Object() string
}

// JobRequest targets one job (DeleteJob, LocateJob).
type JobRequest struct {
	JobID string
}

// SignalRequest asks for a signal to be delivered to a job.
type SignalRequest struct {
	JobID  string
	Signal string
}

// StatusRequest asks for attributes of one object or, with an empty ID,
// every object of the kind. No Attrs means all readable attributes.
type StatusRequest struct {
	ID    string
	Attrs []attr.Fragment
}

// SelectRequest selects jobs whose attributes match every criterion.
type SelectRequest struct {
	Criteria []attr.Fragment
}

// RescQueryRequest asks for counts of named resources.
type RescQueryRequest struct {
	Resources []string
}

func (b *JobRequest) Object() string { return b.JobID }
func (b *SignalRequest) Object() string { return b.JobID }
func (b *StatusRequest) Object() string { return b.ID }
func (b *SelectRequest) Object() string { return "" }
func (b *RescQueryRequest) Object() string { return "" }

// Request is one client operation in flight.
type Request struct {
	Type   Operation
	User   string
	Host   string
	Perm   attr.Perm
	Extend string
	Body   Body

	// Conn is the connection the request arrived on; transport.Local for
	// requests issued inside the server.
	Conn *transport.Conn

	// Parent is set on fan-out children. RefCount counts children that
	// have not yet folded their result in.
	Parent   *Request
	RefCount int

	Reply    Reply
	Received time.Time

	// OnFree, if set, runs once when the request is freed.
	OnFree func(*Request)

	freed bool
}

// NewRequest creates a request of the given type on conn.
func NewRequest(op Operation, conn *transport.Conn, body Body) *Request {
	r := &Request{
		Type:     op,
		Conn:     conn,
		Body:     body,
		Received: time.Now(),
	}
	if conn != nil {
		r.Host = conn.Host()
	}
	return r
}

// NewChild creates a fan-out child of r and counts it on r.
func (r *Request) NewChild(body Body) *Request {
	c := &Request{
		Type:     r.Type,
		User:     r.User,
		Host:     r.Host,
		Perm:     r.Perm,
		Extend:   r.Extend,
		Body:     body,
		Conn:     r.Conn,
		Parent:   r,
		Received: r.Received,
	}
	r.RefCount++
	return c
}

// Object returns the target identifier of the body.
func (r *Request) Object() string {
	if r.Body == nil {
		return ""
	}
	return r.Body.Object()
}

// IsLocal reports whether the request was issued inside the server.
func (r *Request) IsLocal() bool {
	return r.Conn != nil && r.Conn.IsLocal()
}

// Free releases the reply payload. A request must be freed exactly once;
// a second call panics.
func (r *Request) Free() {
	if r.freed {
		panic("batch: request freed twice")
	}
	r.freed = true
	r.Reply.Set(nil)
	if r.OnFree != nil {
		r.OnFree(r)
	}
}

// Freed reports whether Free has run.
func (r *Request) Freed() bool {
	return r.freed
}
