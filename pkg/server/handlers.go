package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/job"
)

// SupportedOperations returns the request types the server handles.
func SupportedOperations() []batch.Operation {
	return []batch.Operation{
		batch.OpConnect, batch.OpDisconnect,
		batch.OpStatusJob, batch.OpStatusQueue, batch.OpStatusSvr,
		batch.OpDeleteJob, batch.OpSignalJob, batch.OpLocateJob,
		batch.OpSelectJobs, batch.OpRescQuery,
	}
}

// handle runs the handler for r. Every path ends in exactly one reply,
// possibly from a task that runs later.
func (s *Server) handle(r *batch.Request) {
	switch r.Type {
	case batch.OpConnect:
		s.dispatch.Ack(r)
	case batch.OpDisconnect:
		s.disconnect(r)
	case batch.OpStatusJob:
		s.statusJob(r)
	case batch.OpStatusQueue:
		s.statusQueue(r)
	case batch.OpStatusSvr:
		s.statusServer(r)
	case batch.OpDeleteJob:
		s.deleteJob(r)
	case batch.OpSignalJob:
		s.signalJob(r)
	case batch.OpLocateJob:
		s.locateJob(r)
	case batch.OpSelectJobs:
		s.selectJobs(r)
	case batch.OpRescQuery:
		s.rescQuery(r)
	default:
		s.dispatch.Reject(r, batch.ErrUnkReq, 0)
	}
}

func body[T batch.Body](r *batch.Request) (T, bool) {
	b, ok := r.Body.(T)
	return b, ok
}

// fail replies with err. A missing attribute names the offending entry of
// list.
func (s *Server) fail(r *batch.Request, err error, list []attr.Fragment) {
	var berr *batch.Error
	if !errors.As(err, &berr) {
		s.logger.Error("request failed", "type", r.Type, "object", r.Object(), "error", err)
		s.dispatch.Reject(r, batch.ErrSystem, 0)
		return
	}
	switch {
	case berr.Code == batch.ErrNoAttr && list != nil:
		s.dispatch.BadAttr(r, berr.Code, berr.Aux, list)
	case berr.Text != "":
		s.dispatch.Text(r, berr.Code, berr.Text)
	default:
		s.dispatch.Reject(r, berr.Code, berr.Aux)
	}
}

// mayModify reports whether the requester may act on j.
func mayModify(r *batch.Request, j *job.Job) bool {
	return r.Perm&attr.OperWrite != 0 || j.Owner() == r.User
}

// mayView reports whether the requester may see j in listings.
func (s *Server) mayView(r *batch.Request, j *job.Job) bool {
	return s.cfg.QueryOthers || r.Perm&attr.PrivRead != 0 || j.Owner() == r.User
}

func (s *Server) disconnect(r *batch.Request) {
	conn := r.Conn
	s.dispatch.Ack(r)
	if conn != nil && !conn.IsLocal() {
		conn.Close()
	}
}

func (s *Server) statusJob(r *batch.Request) {
	b, ok := body[*batch.StatusRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	expand := strings.Contains(r.Extend, "t")
	history := strings.Contains(r.Extend, "x")

	r.Reply.Reset()
	r.Reply.Set(batch.StatusList{})

	if b.ID == "" {
		for _, j := range s.jobs.Jobs() {
			if j.State.IsHistory() && !history {
				continue
			}
			if !s.mayView(r, j) {
				continue
			}
			if err := s.appendJob(r, j, b.Attrs, expand); err != nil {
				s.fail(r, err, b.Attrs)
				return
			}
		}
		s.dispatch.Send(r)
		return
	}

	j, idx, err := s.jobs.Resolve(b.ID)
	if err != nil {
		s.dispatch.Reject(r, batch.ErrUnkJobID, 0)
		return
	}
	if idx >= 0 {
		e, err := s.status.Subjob(j, idx, b.Attrs, r.Perm, r.User)
		if err != nil {
			s.fail(r, err, b.Attrs)
			return
		}
		r.Reply.AppendStatus(e)
	} else if err := s.appendJob(r, j, b.Attrs, expand); err != nil {
		s.fail(r, err, b.Attrs)
		return
	}
	s.dispatch.Send(r)
}

// appendJob adds the entry of j and, when expand is set, one entry per
// subjob of an array.
func (s *Server) appendJob(r *batch.Request, j *job.Job, list []attr.Fragment, expand bool) error {
	e, err := s.status.Job(j, list, r.Perm, r.User)
	if err != nil {
		return err
	}
	r.Reply.AppendStatus(e)
	if !expand || !j.IsArray() {
		return nil
	}
	for i := range j.Array.Subjobs {
		e, err := s.status.Subjob(j, j.Array.Index(i), list, r.Perm, r.User)
		if err != nil {
			return err
		}
		r.Reply.AppendStatus(e)
	}
	return nil
}

func (s *Server) statusQueue(r *batch.Request) {
	b, ok := body[*batch.StatusRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}

	queues := s.jobs.Queues()
	if b.ID != "" {
		name, _, _ := strings.Cut(b.ID, "@")
		q := s.jobs.Queue(name)
		if q == nil {
			s.dispatch.Reject(r, batch.ErrUnkQue, 0)
			return
		}
		queues = []*job.Queue{q}
	}

	r.Reply.Reset()
	r.Reply.Set(batch.StatusList{})
	for _, q := range queues {
		e, err := s.status.Build(q, b.Attrs, r.Perm)
		if err != nil {
			s.fail(r, err, b.Attrs)
			return
		}
		r.Reply.AppendStatus(e)
	}
	s.dispatch.Send(r)
}

func (s *Server) statusServer(r *batch.Request) {
	b, ok := body[*batch.StatusRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	e, err := s.status.Build(s.jobs.Server, b.Attrs, r.Perm)
	if err != nil {
		s.fail(r, err, b.Attrs)
		return
	}
	r.Reply.Reset()
	r.Reply.AppendStatus(e)
	s.dispatch.Send(r)
}

func (s *Server) locateJob(r *batch.Request) {
	b, ok := body[*batch.JobRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	if _, _, err := s.jobs.Resolve(b.JobID); err == nil {
		s.dispatch.Payload(r, batch.Locate(s.cfg.Name))
		return
	}
	if loc, ok := s.tracking.Locate(b.JobID); ok {
		s.dispatch.Payload(r, batch.Locate(loc))
		return
	}
	s.dispatch.Reject(r, batch.ErrUnkJobID, 0)
}

func (s *Server) selectJobs(r *batch.Request) {
	b, ok := body[*batch.SelectRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}

	index := make([]int, len(b.Criteria))
	for n, c := range b.Criteria {
		i := job.Defs.Find(c.Name)
		if i < 0 {
			s.dispatch.BadAttr(r, batch.ErrNoAttr, n+1, b.Criteria)
			return
		}
		if c.Op != attr.OpEQ && c.Op != attr.OpNE {
			s.dispatch.Reject(r, batch.ErrIvalReq, n+1)
			return
		}
		index[n] = i
	}

	ids := batch.SelectList{}
	for _, j := range s.jobs.Jobs() {
		if j.State.IsHistory() || !s.mayView(r, j) {
			continue
		}
		match := true
		for n, c := range b.Criteria {
			v, ok, err := attrValue(j, index[n], c.Resource)
			if err != nil {
				s.fail(r, err, nil)
				return
			}
			equal := ok && v == c.Value
			if equal != (c.Op == attr.OpEQ) {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, j.ID)
		}
	}
	s.dispatch.Payload(r, ids)
}

// attrValue returns the encoded value of attribute i of j, or of one
// resource entry of it.
func attrValue(j *job.Job, i int, resource string) (string, bool, error) {
	frags, err := job.Defs[i].EncodeAttr(&j.Attrs[i], attr.MgrPerm)
	if err != nil {
		return "", false, err
	}
	for _, f := range frags {
		if f.Resource == resource {
			return f.Value, true, nil
		}
	}
	return "", false, nil
}

func (s *Server) rescQuery(r *batch.Request) {
	b, ok := body[*batch.RescQueryRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}

	n := len(b.Resources)
	q := &batch.ResourceQuery{
		Avail: make([]int64, n),
		Alloc: make([]int64, n),
		Resvd: make([]int64, n),
		Down:  make([]int64, n),
	}
	avail := &s.jobs.Server.Attrs[job.ServerAttrResourcesAvailable]
	for i, name := range b.Resources {
		v, ok := avail.Resource(name)
		if !ok {
			s.dispatch.Reject(r, batch.ErrUnkResc, i+1)
			return
		}
		total, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.dispatch.Reject(r, batch.ErrBadAtVal, i+1)
			return
		}
		q.Avail[i] = total
		q.Alloc[i] = s.assigned(name)
	}
	s.dispatch.Payload(r, q)
}

// running returns every running job, including running subjob instances.
func (s *Server) running() []*job.Job {
	var out []*job.Job
	for _, j := range s.jobs.Jobs() {
		if j.State == job.StateRunning || j.State == job.StateExiting {
			out = append(out, j)
		}
		if !j.IsArray() {
			continue
		}
		for _, sj := range j.Array.Subjobs {
			if sj.Job != nil {
				out = append(out, sj.Job)
			}
		}
	}
	return out
}

// assigned sums the named resource over running jobs.
func (s *Server) assigned(name string) int64 {
	var sum int64
	for _, j := range s.running() {
		if v, ok := j.Attrs[job.AttrResourceList].Resource(name); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				sum += n
			}
		}
	}
	return sum
}

// updateAssigned refreshes resources_assigned for the numeric available
// resources.
func (s *Server) updateAssigned() {
	avail := &s.jobs.Server.Attrs[job.ServerAttrResourcesAvailable]
	out := &s.jobs.Server.Attrs[job.ServerAttrResourcesAssigned]
	for _, res := range avail.Value.Resources {
		if _, err := strconv.ParseInt(res.Value, 10, 64); err != nil {
			continue
		}
		v := strconv.FormatInt(s.assigned(res.Name), 10)
		if cur, ok := out.Resource(res.Name); !ok || cur != v {
			out.SetResource(res.Name, v)
		}
	}
}
