package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/config"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/geoyin/openpbs/pkg/transport"
)

// Error is a failed reply: the batch code, aux value and server text.
type Error = batch.Error

// ErrNoStatus is returned when a status reply carries no entry.
var ErrNoStatus = errors.New("status reply has no entries")

// Options configures a connection.
type Options struct {
	// User is sent in every request header (default: the current user).
	User string

	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration

	// RequestTimeout bounds sending one request and reading its reply.
	RequestTimeout time.Duration

	// Attempts is how many times Dial tries before giving up.
	Attempts int

	// Backoff spaces the dial attempts.
	Backoff BackoffConfig

	// ProtocolLogger receives frame and state events (optional).
	ProtocolLogger log.Logger
}

// DefaultOptions returns the options of config.DefaultClient.
func DefaultOptions() Options {
	return OptionsFrom(config.DefaultClient())
}

// OptionsFrom converts client configuration into connection options.
func OptionsFrom(cfg *config.Client) Options {
	return Options{
		ConnectTimeout: cfg.ConnectTimeout.Std(),
		RequestTimeout: cfg.RequestTimeout.Std(),
		Attempts:       cfg.Retry.Attempts,
		Backoff: BackoffConfig{
			Initial: cfg.Retry.InitialDelay.Std(),
			Max:     cfg.Retry.MaxDelay.Std(),
			Jitter:  JitterFactor,
		},
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "nobody"
}

// Conn is a connection to one batch server. One request is outstanding
// at a time: each call holds the connection's send lock from writing the
// request until its reply has been read. Conn is safe for concurrent use;
// concurrent calls take turns.
type Conn struct {
	addr string
	user string
	tc   *transport.Conn
}

// Dial connects to the server at addr, retrying with backoff.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	if opts.User == "" {
		opts.User = currentUser()
	}
	attempts := max(opts.Attempts, 1)
	backoff := NewBackoff(opts.Backoff)
	tcfg := transport.Config{
		WriteTimeout: opts.RequestTimeout,
		ReadTimeout:  opts.RequestTimeout,
		Logger:       opts.ProtocolLogger,
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff.Next()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		dctx, cancel := ctx, context.CancelFunc(func() {})
		if opts.ConnectTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		}
		tc, err := transport.Dial(dctx, addr, tcfg)
		cancel()
		if err == nil {
			return &Conn{addr: addr, user: opts.User, tc: tc}, nil
		}
		lastErr = err
	}
	return nil, &Error{Code: batch.ErrNoServer, Text: fmt.Sprintf("cannot connect to server %s: %v", addr, lastErr)}
}

// Addr returns the server address.
func (c *Conn) Addr() string { return c.addr }

// User returns the user sent in request headers.
func (c *Conn) User() string { return c.user }

// Do sends r and returns the decoded reply, whatever its code. A
// transport failure closes the connection. Cancelling ctx closes the
// connection as well, since a request cannot be withdrawn once sent.
func (c *Conn) Do(ctx context.Context, r *batch.Request) (*batch.Reply, error) {
	c.tc.Lock()
	defer c.tc.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { c.tc.Close() })
	defer stop()

	if r.User == "" {
		r.User = c.user
	}
	if err := batch.EncodeRequest(c.tc.Writer(), r); err != nil {
		c.tc.Discard()
		return nil, fmt.Errorf("encode %s: %w", r.Type, err)
	}
	if err := c.tc.Flush(); err != nil {
		c.tc.Close()
		return nil, c.failed(ctx, fmt.Errorf("send %s: %w", r.Type, err))
	}
	buf, err := c.tc.ReadMessage()
	if err != nil {
		c.tc.Close()
		return nil, c.failed(ctx, fmt.Errorf("read %s reply: %w", r.Type, err))
	}
	rp, err := batch.DecodeReply(buf)
	if err != nil {
		c.tc.Close()
		return nil, fmt.Errorf("decode %s reply: %w", r.Type, err)
	}
	return rp, nil
}

func (c *Conn) failed(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// call sends a request and turns an error reply into *Error.
func (c *Conn) call(ctx context.Context, op batch.Operation, body batch.Body, extend string) (*batch.Reply, error) {
	r := &batch.Request{Type: op, User: c.user, Body: body, Extend: extend}
	rp, err := c.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := rp.Err(); err != nil {
		return nil, err
	}
	return rp, nil
}

// Close sends Disconnect, then closes the connection.
func (c *Conn) Close() error {
	if !c.tc.Closed() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Disconnect(ctx)
		cancel()
	}
	return c.tc.Close()
}

// Disconnect tells the server this connection is done. The server closes
// it after replying.
func (c *Conn) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, batch.OpDisconnect, nil, "")
	return err
}

// DeleteJob deletes one job. modifier is the DeleteJob extension, such as
// "force" or "nomail".
func (c *Conn) DeleteJob(ctx context.Context, id, modifier string) error {
	_, err := c.call(ctx, batch.OpDeleteJob, &batch.JobRequest{JobID: id}, modifier)
	return err
}

// SignalJob sends sig to a running job, or to every running subjob of an
// array.
func (c *Conn) SignalJob(ctx context.Context, id, sig string) error {
	_, err := c.call(ctx, batch.OpSignalJob, &batch.SignalRequest{JobID: id, Signal: sig}, "")
	return err
}

// LocateJob returns the server a job lives on.
func (c *Conn) LocateJob(ctx context.Context, id string) (string, error) {
	rp, err := c.call(ctx, batch.OpLocateJob, &batch.JobRequest{JobID: id}, "")
	if err != nil {
		return "", err
	}
	loc, ok := rp.Payload().(batch.Locate)
	if !ok {
		return "", fmt.Errorf("locate %s: unexpected reply choice %d", id, rp.Choice())
	}
	return string(loc), nil
}

// StatusJobs returns the status of one job or, with an empty id, of every
// job. extend "t" adds subjob entries and "x" includes finished jobs.
func (c *Conn) StatusJobs(ctx context.Context, id, extend string, attrs ...string) ([]*batch.StatusEntry, error) {
	return c.status(ctx, batch.OpStatusJob, id, extend, attrs)
}

// StatusQueues returns the status of one queue or, with an empty name, of
// every queue.
func (c *Conn) StatusQueues(ctx context.Context, name string, attrs ...string) ([]*batch.StatusEntry, error) {
	return c.status(ctx, batch.OpStatusQueue, name, "", attrs)
}

// StatusServer returns the server status.
func (c *Conn) StatusServer(ctx context.Context, attrs ...string) (*batch.StatusEntry, error) {
	list, err := c.status(ctx, batch.OpStatusSvr, "", "", attrs)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoStatus
	}
	return list[0], nil
}

func (c *Conn) status(ctx context.Context, op batch.Operation, id, extend string, attrs []string) ([]*batch.StatusEntry, error) {
	rp, err := c.call(ctx, op, &batch.StatusRequest{ID: id, Attrs: AttrList(attrs...)}, extend)
	if err != nil {
		return nil, err
	}
	switch p := rp.Payload().(type) {
	case batch.StatusList:
		return p, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: unexpected reply choice %d", op, rp.Choice())
	}
}

// SelectJobs returns the ids of jobs matching every criterion.
func (c *Conn) SelectJobs(ctx context.Context, criteria ...attr.Fragment) ([]string, error) {
	rp, err := c.call(ctx, batch.OpSelectJobs, &batch.SelectRequest{Criteria: criteria}, "")
	if err != nil {
		return nil, err
	}
	ids, _ := rp.Payload().(batch.SelectList)
	return ids, nil
}

// RescQuery returns counts for the named resources.
func (c *Conn) RescQuery(ctx context.Context, names ...string) (*batch.ResourceQuery, error) {
	rp, err := c.call(ctx, batch.OpRescQuery, &batch.RescQueryRequest{Resources: names}, "")
	if err != nil {
		return nil, err
	}
	q, ok := rp.Payload().(*batch.ResourceQuery)
	if !ok {
		return nil, fmt.Errorf("resource query: unexpected reply choice %d", rp.Choice())
	}
	return q, nil
}

// AttrList turns names such as "job_state" or "Resource_List.ncpus" into
// a request attribute list.
func AttrList(names ...string) []attr.Fragment {
	if len(names) == 0 {
		return nil
	}
	list := make([]attr.Fragment, len(names))
	for i, n := range names {
		name, resource, _ := strings.Cut(n, ".")
		list[i] = attr.Fragment{Name: name, Resource: resource}
	}
	return list
}

// Equal selects jobs whose attribute equals value. name may carry a
// resource, as in "Resource_List.ncpus".
func Equal(name, value string) attr.Fragment {
	return criterion(name, value, attr.OpEQ)
}

// NotEqual selects jobs whose attribute differs from value.
func NotEqual(name, value string) attr.Fragment {
	return criterion(name, value, attr.OpNE)
}

func criterion(name, value string, op attr.Op) attr.Fragment {
	n, resource, _ := strings.Cut(name, ".")
	return attr.Fragment{Name: n, Resource: resource, Value: value, Op: op}
}

// ErrBadJobID is returned for an identifier that is not "seq[.server]",
// where seq starts with digits and may carry an array index.
var ErrBadJobID = errors.New("illegally formed job identifier")

// ParseJobID splits a job identifier into its sequence part and server
// name. The server is empty when id has none.
func ParseJobID(id string) (seq, server string, err error) {
	seq, server, _ = strings.Cut(id, ".")
	digits := 0
	for digits < len(seq) && seq[digits] >= '0' && seq[digits] <= '9' {
		digits++
	}
	rest := seq[digits:]
	if digits == 0 || (rest != "" && !isArraySuffix(rest)) {
		return "", "", fmt.Errorf("%w: %s", ErrBadJobID, id)
	}
	return seq, server, nil
}

// isArraySuffix reports whether s is "[]" or "[N]".
func isArraySuffix(s string) bool {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return false
	}
	for _, c := range s[1 : len(s)-1] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
