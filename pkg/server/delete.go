package server

import (
	"strings"
	"time"

	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/job"
	"github.com/geoyin/openpbs/pkg/work"
)

// deleteMode is the parsed DeleteJob extension: an optional "nomail"
// prefix followed by "", "force", "deletehist" or "forcedeletehist".
type deleteMode struct {
	nomail     bool
	force      bool
	deletehist bool
}

func parseDeleteMode(ext string) (deleteMode, bool) {
	var m deleteMode
	if rest, ok := strings.CutPrefix(ext, "nomail"); ok {
		m.nomail = true
		ext = rest
	}
	switch ext {
	case "":
	case "force":
		m.force = true
	case "deletehist":
		m.deletehist = true
	case "forcedeletehist":
		m.force, m.deletehist = true, true
	default:
		return m, false
	}
	return m, true
}

func (s *Server) deleteJob(r *batch.Request) {
	b, ok := body[*batch.JobRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	mode, ok := parseDeleteMode(r.Extend)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	j, idx, err := s.jobs.Resolve(b.JobID)
	if err != nil {
		s.dispatch.Reject(r, batch.ErrUnkJobID, 0)
		return
	}
	if !mayModify(r, j) {
		s.dispatch.Reject(r, batch.ErrPerm, 0)
		return
	}

	switch {
	case idx >= 0:
		s.deleteSubjob(r, j, idx, mode)
	case j.State.IsHistory():
		if !mode.deletehist {
			s.dispatch.Text(r, batch.ErrBadState, "Job has finished, use the delete history option")
			return
		}
		s.purge(j)
		s.dispatch.Reject(r, batch.ErrHistJobDel, 0)
	case j.IsArray():
		s.deleteArray(r, j, mode)
	default:
		s.deleteOne(r, j, mode)
	}
}

func (s *Server) killDelay(mode deleteMode) time.Duration {
	if mode.force {
		return 0
	}
	return s.cfg.KillDelay.Std()
}

// deleteOne ends a plain job. A running job is told to exit and removed
// once the kill delay has passed; the reply is sent then.
func (s *Server) deleteOne(r *batch.Request, j *job.Job, mode deleteMode) {
	if j.State != job.StateRunning && j.State != job.StateExiting {
		s.endJob(j, r.User, mode)
		s.dispatch.Ack(r)
		return
	}
	if j.Substate == job.SubstateExiting && !mode.force {
		s.dispatch.Reject(r, batch.ErrBadState, 0)
		return
	}

	j.SetState(job.StateExiting, job.SubstateExiting)
	s.changed()
	s.tasks.After(s.killDelay(mode), func(*work.Task) {
		s.endJob(j, r.User, mode)
		s.dispatch.Ack(r)
	}, r)
}

// deleteArray fans the delete out to every live subjob. The parent reply
// goes out when the last child has folded in.
func (s *Server) deleteArray(r *batch.Request, p *job.Job, mode deleteMode) {
	var idxs []int
	exiting := false
	for i, sj := range p.Array.Subjobs {
		switch {
		case sj.State.IsHistory():
		case sj.State == job.StateExiting && !mode.force:
			exiting = true
		default:
			idxs = append(idxs, p.Array.Index(i))
		}
	}
	if len(idxs) == 0 {
		if !exiting {
			s.endJob(p, r.User, mode)
		}
		s.dispatch.Ack(r)
		return
	}

	// Count every child on the parent before any of them can complete.
	children := make([]*batch.Request, len(idxs))
	for k, idx := range idxs {
		children[k] = r.NewChild(&batch.JobRequest{JobID: p.SubjobID(idx)})
	}
	for k, idx := range idxs {
		s.deleteSubjob(children[k], p, idx, mode)
	}
}

// deleteSubjob ends subjob idx of p. A running subjob is removed after the
// kill delay.
func (s *Server) deleteSubjob(r *batch.Request, p *job.Job, idx int, mode deleteMode) {
	sj, _ := p.Array.Lookup(idx)
	switch {
	case sj.State.IsHistory():
		s.dispatch.Reject(r, batch.ErrBadState, 0)
	case sj.State == job.StateRunning || sj.State == job.StateExiting:
		sj.State, sj.Substate = job.StateExiting, job.SubstateExiting
		if sj.Job != nil {
			sj.Job.SetState(job.StateExiting, job.SubstateExiting)
		}
		p.RefreshArray()
		s.changed()
		s.tasks.After(s.killDelay(mode), func(*work.Task) {
			s.endSubjob(p, idx, r.User, mode)
			s.dispatch.Ack(r)
		}, r)
	default:
		s.endSubjob(p, idx, r.User, mode)
		s.dispatch.Ack(r)
	}
}

// endSubjob marks subjob idx terminated. The parent ends with its last
// live subjob.
func (s *Server) endSubjob(p *job.Job, idx int, by string, mode deleteMode) {
	sj, _ := p.Array.Lookup(idx)
	sj.State, sj.Substate = job.StateExpired, job.SubstateTerminated
	if sj.Job != nil {
		s.jobs.Remove(sj.Job)
		sj.Job = nil
	}
	p.RefreshArray()
	if !p.Array.Live() && !p.State.IsHistory() {
		s.endJob(p, by, mode)
		return
	}
	s.changed()
}

// endJob finishes j: the owner is mailed unless suppressed, then j moves
// to history or, without history or with deletehist, is removed.
func (s *Server) endJob(j *job.Job, by string, mode deleteMode) {
	now := s.clock.Now()
	if !mode.nomail {
		s.notify(j, by)
	}
	j.SetAccrual(job.AccrueExit, now)

	if s.cfg.History.Enable && !mode.deletehist {
		j.SetState(job.StateFinished, job.SubstateTerminated)
		j.SetComment("Job deleted by " + by)
		j.HistoryAt = now
		s.logger.Info("job moved to history", "job", j.ID, "by", by)
		s.changed()
		return
	}
	s.jobs.Remove(j)
	s.logger.Info("job deleted", "job", j.ID, "by", by)
	s.changed()
}

// purge removes a history job.
func (s *Server) purge(j *job.Job) {
	s.jobs.Remove(j)
	s.logger.Info("job history purged", "job", j.ID)
	s.changed()
}

func (s *Server) notify(j *job.Job, by string) {
	if s.mailer == nil || !wantsMail(j) {
		return
	}
	if err := s.mailer.JobDeleted(j, by); err != nil {
		s.logger.Warn("mail failed", "job", j.ID, "error", err)
	}
}
