package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/clock"
	"github.com/geoyin/openpbs/pkg/config"
	"github.com/geoyin/openpbs/pkg/dis"
	"github.com/geoyin/openpbs/pkg/dispatch"
	"github.com/geoyin/openpbs/pkg/job"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/geoyin/openpbs/pkg/metrics"
	"github.com/geoyin/openpbs/pkg/persistence"
	"github.com/geoyin/openpbs/pkg/status"
	"github.com/geoyin/openpbs/pkg/transport"
	"github.com/geoyin/openpbs/pkg/work"
)

// Server errors.
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
)

// State is the server life-cycle state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Options supplies the collaborators of a Server. Every field is optional.
type Options struct {
	// Clock drives timed tasks and eligible time (default: real clock).
	Clock clock.Clock

	// Logger receives operational messages (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives frame, request and reply events.
	ProtocolLogger log.Logger

	// Mailer is told about deleted jobs. Nil sends no mail.
	Mailer Mailer

	// Store saves jobs after every change and restores them on New.
	Store *persistence.ServerStateStore
}

// message is one received frame waiting for the loop.
type message struct {
	conn *transport.Conn
	buf  *dis.ReadBuffer
}

// Server is the batch server runtime.
//
// Every request is decoded and handled on one loop goroutine, which also
// runs the task queues, so jobs, attribute caches and pending requests are
// never touched concurrently.
type Server struct {
	cfg      *config.Server
	clock    clock.Clock
	logger   *slog.Logger
	protocol log.Logger
	mailer   Mailer
	store    *persistence.ServerStateStore

	jobs     *job.Table
	tracking *job.Tracking
	cache    *attr.Cache
	status   *status.Builder
	tasks    *work.Queues
	dispatch *dispatch.Dispatcher
	listener *transport.Server

	inbox chan message
	calls chan func()

	mu       sync.Mutex
	state    State
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a server from cfg, restoring saved jobs when opts.Store is
// set.
func New(cfg *config.Server, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		clock:    opts.Clock,
		logger:   opts.Logger,
		protocol: opts.ProtocolLogger,
		mailer:   opts.Mailer,
		store:    opts.Store,
		jobs:     job.NewTable(cfg.Name),
		tracking: job.NewTracking(),
		inbox:    make(chan message, 64),
		calls:    make(chan func()),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.cache = &attr.Cache{
		ShowHidden: cfg.ShowHidden,
		OnFetch: func(_ *attr.Def, r attr.FetchResult) {
			metrics.RecordCacheFetch(r.String())
		},
	}
	s.status = status.NewBuilder(s.cache, s.clock)
	s.status.EligibleTime = cfg.EligibleTime
	s.status.QueryOthers = cfg.QueryOthers

	s.tasks = work.New(s.clock)
	s.dispatch = dispatch.New(dispatch.Config{
		Tasks:          s.tasks,
		Clock:          s.clock,
		Logger:         s.logger,
		ProtocolLogger: s.protocol,
	})

	for _, name := range cfg.Queues {
		s.jobs.AddQueue(job.NewQueue(name))
	}
	s.setServerAttrs()

	if s.store != nil {
		saved, err := s.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if saved != nil {
			if err := s.jobs.Restore(saved, s.tracking); err != nil {
				return nil, fmt.Errorf("restore state: %w", err)
			}
			s.logger.Info("restored jobs", "count", s.jobs.Len(), "path", s.store.Path())
		}
	}
	s.updateAssigned()
	return s, nil
}

func (s *Server) setServerAttrs() {
	a := &s.jobs.Server.Attrs
	a[job.ServerAttrDefaultQueue].SetString(s.cfg.Queues[0])
	a[job.ServerAttrEligibleTimeEnable].SetBool(s.cfg.EligibleTime)
	if s.cfg.DefaultQdelArgs != "" {
		a[job.ServerAttrDefaultQdelArgs].SetString(s.cfg.DefaultQdelArgs)
	}
	a[job.ServerAttrHistoryEnable].SetBool(s.cfg.History.Enable)
	if s.cfg.History.Enable {
		a[job.ServerAttrHistoryDuration].SetLong(int64(s.cfg.History.Duration.Std() / time.Second))
	}
	a[job.ServerAttrQueryOthers].SetBool(s.cfg.QueryOthers)

	names := make([]string, 0, len(s.cfg.Resources))
	for name := range s.cfg.Resources {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		a[job.ServerAttrResourcesAvailable].SetResource(name, s.cfg.Resources[name])
	}
}

// State returns the life-cycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start listens on the configured address and starts the loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = transport.NewServer(transport.ServerConfig{
		Address: s.cfg.Listen,
		Conn: transport.Config{
			MaxMessageSize: s.cfg.MaxMessageSize,
			WriteTimeout:   s.cfg.WriteTimeout.Std(),
			Logger:         s.protocol,
		},
		OnConnect: func(c *transport.Conn) {
			metrics.ConnectionOpened()
			s.logger.Debug("connection opened", "conn", c.ID(), "host", c.Host())
		},
		OnDisconnect: func(c *transport.Conn) {
			metrics.ConnectionClosed()
			s.logger.Debug("connection closed", "conn", c.ID(), "host", c.Host())
		},
		OnMessage: func(c *transport.Conn, buf *dis.ReadBuffer) {
			select {
			case s.inbox <- message{conn: c, buf: buf}:
			case <-s.ctx.Done():
			}
		},
		OnError: func(c *transport.Conn, err error) {
			if c != nil {
				s.logger.Debug("connection error", "conn", c.ID(), "error", err)
				return
			}
			s.logger.Warn("listener error", "error", err)
		},
	})
	if err := s.listener.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}

	if s.cfg.History.Enable {
		s.schedulePurge()
	}

	s.loopDone = make(chan struct{})
	go s.loop()
	s.state = StateRunning
	s.logger.Info("server started", "name", s.cfg.Name, "addr", s.listener.Addr())
	return nil
}

// Stop closes every connection, stops the loop and saves the jobs.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.cancel()
	err := s.listener.Stop()
	<-s.loopDone
	s.save()
	s.logger.Info("server stopped", "name", s.cfg.Name)
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Do runs fn on the loop and waits for it to return.
func (s *Server) Do(fn func()) error {
	s.mu.Lock()
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running {
		return ErrNotStarted
	}

	done := make(chan struct{})
	select {
	case s.calls <- func() { fn(); close(done) }:
	case <-s.loopDone:
		return ErrNotStarted
	}
	<-done
	return nil
}

// AddJob inserts j into the job table. A queued job starts accruing
// eligible time. Before Start the job is inserted directly; once the
// server runs, the insert happens on the loop.
func (s *Server) AddJob(j *job.Job) error {
	s.mu.Lock()
	if s.state == StateIdle {
		defer s.mu.Unlock()
		return s.addJob(j)
	}
	s.mu.Unlock()

	var err error
	if doErr := s.Do(func() { err = s.addJob(j) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Server) addJob(j *job.Job) error {
	if err := s.jobs.Add(j); err != nil {
		return err
	}
	if j.State == job.StateQueued {
		j.SetAccrual(job.AccrueEligible, s.clock.Now())
	}
	s.changed()
	return nil
}

func (s *Server) loop() {
	defer close(s.loopDone)

	for {
		s.tasks.Run()

		var timer <-chan time.Time
		if when, ok := s.tasks.NextDeadline(); ok {
			timer = s.clock.After(when.Sub(s.clock.Now()))
		}

		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			s.process(m)
		case fn := <-s.calls:
			fn()
		case <-timer:
		}
	}
}

// process decodes one frame and handles the request it carries.
func (s *Server) process(m message) {
	r, err := batch.DecodeRequest(m.buf)
	if r == nil {
		s.logger.Warn("request header decode failed", "host", m.conn.Host(), "error", err)
		m.conn.Close()
		return
	}

	r.Conn = m.conn
	r.Host = m.conn.Host()
	r.Received = s.clock.Now()
	r.Perm = s.permFor(r.User)

	metrics.RecordRequest(r.Type.String())
	s.logRequest(r)

	switch {
	case errors.Is(err, batch.ErrUnknownOperation):
		s.dispatch.Reject(r, batch.ErrUnkReq, 0)
	case err != nil:
		s.logger.Warn("request decode failed",
			"host", r.Host, "type", r.Type, "error", err, "dis", dis.CodeOf(err))
		s.dispatch.Reject(r, batch.ErrProtocol, 0)
		m.conn.Close()
	default:
		s.handle(r)
	}
}

func (s *Server) logRequest(r *batch.Request) {
	if s.protocol == nil {
		return
	}
	s.protocol.Log(log.Event{
		Timestamp:    r.Received,
		ConnectionID: r.Conn.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   r.Conn.RemoteAddr(),
		Message:      batch.RequestEvent(r),
	})
}

func (s *Server) permFor(user string) attr.Perm {
	switch {
	case slices.Contains(s.cfg.Managers, user):
		return attr.MgrPerm
	case slices.Contains(s.cfg.Operators, user):
		return attr.OperPerm
	default:
		return attr.UserPerm
	}
}

// changed refreshes the derived counts and saves the jobs.
func (s *Server) changed() {
	s.jobs.Changed()
	s.updateAssigned()
	s.save()
}

func (s *Server) save() {
	if s.store == nil {
		return
	}
	state, err := s.jobs.Snapshot(s.tracking)
	if err != nil {
		s.logger.Error("snapshot jobs", "error", err)
		return
	}
	state.SavedAt = s.clock.Now()
	if err := s.store.Save(state); err != nil {
		s.logger.Error("save state", "path", s.store.Path(), "error", err)
	}
}
