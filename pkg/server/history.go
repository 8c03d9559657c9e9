package server

import (
	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/transport"
	"github.com/geoyin/openpbs/pkg/work"
)

// historyUser is the requester of internal history purges.
const historyUser = "batchd"

func (s *Server) schedulePurge() {
	s.tasks.After(s.cfg.History.PurgeInterval.Std(), s.purgeHistory, nil)
}

// purgeHistory issues a local DeleteJob for every history job older than
// the history duration, then reschedules itself.
func (s *Server) purgeHistory(*work.Task) {
	cutoff := s.clock.Now().Add(-s.cfg.History.Duration.Std())
	for _, j := range s.jobs.ExpiredHistory(cutoff) {
		r := batch.NewRequest(batch.OpDeleteJob, transport.Local, &batch.JobRequest{JobID: j.ID})
		r.User = historyUser
		r.Perm = attr.MgrPerm
		r.Extend = "nomaildeletehist"
		r.Received = s.clock.Now()

		s.tasks.Defer(s.purgeDone, r)
		s.handle(r)
	}
	s.schedulePurge()
}

// purgeDone runs once the reply of a purge request has been delivered.
// It owns the request and frees it.
func (s *Server) purgeDone(t *work.Task) {
	r := t.Param.(*batch.Request)
	switch r.Reply.Code {
	case batch.Success, batch.ErrHistJobDel:
		s.logger.Debug("history purge done", "job", r.Object())
	default:
		s.logger.Warn("history purge failed", "job", r.Object(), "error", r.Reply.Err())
	}
	r.Free()
}
