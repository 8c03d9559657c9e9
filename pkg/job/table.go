package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
)

// Table errors.
var (
	ErrUnknownJob = errors.New("unknown job id")
	ErrJobExists  = errors.New("job already exists")
)

// Queue is one execution queue.
type Queue struct {
	QueueName string
	Attrs     [NumQueueAttrs]attr.Attribute
}

// NewQueue creates an enabled, started execution queue.
func NewQueue(name string) *Queue {
	q := &Queue{QueueName: name}
	q.Attrs[QueueAttrType].SetString("Execution")
	q.Attrs[QueueAttrEnabled].SetBool(true)
	q.Attrs[QueueAttrStarted].SetBool(true)
	return q
}

func (q *Queue) Kind() batch.ObjectKind     { return batch.KindQueue }
func (q *Queue) Name() string               { return q.QueueName }
func (q *Queue) Defs() attr.Table           { return QueueDefs }
func (q *Queue) Attr(i int) *attr.Attribute { return &q.Attrs[i] }

// Server is the server object.
type Server struct {
	ServerName string
	Attrs      [NumServerAttrs]attr.Attribute
}

// NewServer creates the server object.
func NewServer(name string) *Server {
	s := &Server{ServerName: name}
	s.Attrs[ServerAttrState].SetString("Active")
	return s
}

func (s *Server) Kind() batch.ObjectKind     { return batch.KindServer }
func (s *Server) Name() string               { return s.ServerName }
func (s *Server) Defs() attr.Table           { return ServerDefs }
func (s *Server) Attr(i int) *attr.Attribute { return &s.Attrs[i] }

// Table holds the server's jobs and queues in creation order.
type Table struct {
	Server *Server

	jobs   []*Job
	byID   map[string]*Job
	queues []*Queue
}

// NewTable creates an empty table for the named server.
func NewTable(server string) *Table {
	return &Table{
		Server: NewServer(server),
		byID:   make(map[string]*Job),
	}
}

// Add inserts j.
func (t *Table) Add(j *Job) error {
	if _, ok := t.byID[j.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, j.ID)
	}
	t.byID[j.ID] = j
	t.jobs = append(t.jobs, j)
	t.refresh()
	return nil
}

// Find returns the job or running subjob instance with exactly this id.
func (t *Table) Find(id string) *Job {
	return t.byID[id]
}

// Resolve finds the target of id. For a subjob id it returns the array
// parent and the array index; otherwise index is -1.
func (t *Table) Resolve(id string) (*Job, int, error) {
	if j, ok := t.byID[id]; ok && j.Parent == nil {
		return j, -1, nil
	}
	if parentID, idx, ok := ParseSubjobID(id); ok {
		if p, ok := t.byID[parentID]; ok && p.Array != nil {
			if _, ok := p.Array.Lookup(idx); ok {
				return p, idx, nil
			}
		}
	}
	return nil, -1, fmt.Errorf("%w: %s", ErrUnknownJob, id)
}

// Remove deletes j.
func (t *Table) Remove(j *Job) {
	if t.byID[j.ID] != j {
		return
	}
	delete(t.byID, j.ID)
	t.jobs = slices.DeleteFunc(t.jobs, func(e *Job) bool { return e == j })
	t.refresh()
}

// Jobs returns the top-level jobs in creation order. Running subjob
// instances are reached through their parent's tracker.
func (t *Table) Jobs() []*Job {
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		if j.Parent == nil {
			out = append(out, j)
		}
	}
	return out
}

// Len returns the number of top-level jobs.
func (t *Table) Len() int {
	return len(t.Jobs())
}

// AddQueue inserts q.
func (t *Table) AddQueue(q *Queue) {
	t.queues = append(t.queues, q)
	t.refresh()
}

// Queue returns the named queue.
func (t *Table) Queue(name string) *Queue {
	for _, q := range t.queues {
		if strings.EqualFold(q.QueueName, name) {
			return q
		}
	}
	return nil
}

// Queues returns the queues in creation order.
func (t *Table) Queues() []*Queue {
	return t.queues
}

// Changed recomputes the job counts after job states changed.
func (t *Table) Changed() {
	t.refresh()
}

func (t *Table) refresh() {
	jobs := t.Jobs()
	setLong(&t.Server.Attrs[ServerAttrTotalJobs], int64(len(jobs)))
	setString(&t.Server.Attrs[ServerAttrStateCount], stateCount(jobs))
	for _, q := range t.queues {
		var in []*Job
		for _, j := range jobs {
			if strings.EqualFold(j.Attrs[AttrQueue].Value.Str, q.QueueName) {
				in = append(in, j)
			}
		}
		setLong(&q.Attrs[QueueAttrTotalJobs], int64(len(in)))
		setString(&q.Attrs[QueueAttrStateCount], stateCount(in))
	}
}

func stateCount(jobs []*Job) string {
	var n [StateFinished + 1]int
	for _, j := range jobs {
		n[j.State]++
	}
	return fmt.Sprintf("Transit:%d Queued:%d Held:%d Waiting:%d Running:%d Exiting:%d Begun:%d",
		n[StateTransit], n[StateQueued], n[StateHeld], n[StateWaiting], n[StateRunning],
		n[StateExiting], n[StateBegun])
}

// setLong and setString leave the attribute unmodified when the value is
// unchanged, so cached encodings stay valid.
func setLong(a *attr.Attribute, v int64) {
	if !a.IsSet() || a.Value.Long != v {
		a.SetLong(v)
	}
}

func setString(a *attr.Attribute, v string) {
	if !a.IsSet() || a.Value.Str != v {
		a.SetString(v)
	}
}

// ExpiredHistory returns history jobs that entered history before cutoff.
func (t *Table) ExpiredHistory(cutoff time.Time) []*Job {
	var out []*Job
	for _, j := range t.Jobs() {
		if j.State.IsHistory() && !j.HistoryAt.IsZero() && j.HistoryAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}
