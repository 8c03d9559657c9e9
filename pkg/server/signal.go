package server

import (
	"slices"
	"strconv"
	"strings"

	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/job"
)

// Pseudo-signals handled by the server itself.
const (
	sigSuspend = "suspend"
	sigResume  = "resume"
)

var signalNames = []string{
	"HUP", "INT", "QUIT", "KILL", "USR1", "USR2", "TERM", "STOP", "CONT", "TSTP",
}

// normalizeSignal accepts "suspend", "resume", a signal number, or a
// signal name with or without the SIG prefix.
func normalizeSignal(sig string) (string, bool) {
	if lower := strings.ToLower(sig); lower == sigSuspend || lower == sigResume {
		return lower, true
	}
	if n, err := strconv.Atoi(sig); err == nil {
		return sig, n > 0 && n < 65
	}
	name := strings.TrimPrefix(strings.ToUpper(sig), "SIG")
	if slices.Contains(signalNames, name) {
		return "SIG" + name, true
	}
	return "", false
}

func (s *Server) signalJob(r *batch.Request) {
	b, ok := body[*batch.SignalRequest](r)
	if !ok {
		s.dispatch.Reject(r, batch.ErrIvalReq, 0)
		return
	}
	sig, ok := normalizeSignal(b.Signal)
	if !ok {
		s.dispatch.Reject(r, batch.ErrUnkSig, 0)
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
		sj, _ := j.Array.Lookup(idx)
		if sj.Job == nil {
			s.dispatch.Reject(r, batch.ErrBadState, 0)
			return
		}
		s.signalOne(r, sj.Job, sig)
	case j.IsArray():
		var targets []*job.Job
		for _, sj := range j.Array.Subjobs {
			if sj.Job != nil && sj.State == job.StateRunning {
				targets = append(targets, sj.Job)
			}
		}
		if len(targets) == 0 {
			s.dispatch.Reject(r, batch.ErrBadState, 0)
			return
		}
		children := make([]*batch.Request, len(targets))
		for k, t := range targets {
			children[k] = r.NewChild(&batch.SignalRequest{JobID: t.ID, Signal: b.Signal})
		}
		for k, t := range targets {
			s.signalOne(children[k], t, sig)
		}
	default:
		s.signalOne(r, j, sig)
	}
}

// signalOne delivers sig to the running job j.
func (s *Server) signalOne(r *batch.Request, j *job.Job, sig string) {
	if j.State != job.StateRunning {
		s.dispatch.Reject(r, batch.ErrBadState, 0)
		return
	}
	suspended := j.Substate == job.SubstateSuspended

	switch sig {
	case sigSuspend:
		if suspended {
			s.dispatch.Reject(r, batch.ErrBadState, 0)
			return
		}
		j.SetState(job.StateRunning, job.SubstateSuspended)
		j.SetComment("Job suspended by " + r.User)
	case sigResume:
		if !suspended {
			s.dispatch.Reject(r, batch.ErrBadState, 0)
			return
		}
		j.SetState(job.StateRunning, job.SubstateRunning)
		j.SetComment("Job resumed by " + r.User)
	}
	if j.Parent != nil {
		if sj, ok := j.Parent.Array.Lookup(j.Index); ok {
			sj.Substate = j.Substate
		}
	}

	s.logger.Info("job signaled", "job", j.ID, "signal", sig, "by", r.User)
	s.changed()
	s.dispatch.Ack(r)
}
