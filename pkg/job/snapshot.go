package job

import (
	"fmt"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/persistence"
)

// Snapshot captures the top-level jobs of t and the tracking table for
// saving. Running subjob instances are not saved; their tracked state is.
func (t *Table) Snapshot(tr *Tracking) (*persistence.ServerState, error) {
	state := &persistence.ServerState{Server: t.Server.ServerName}
	for _, j := range t.Jobs() {
		rec := persistence.JobRecord{
			ID:       j.ID,
			State:    j.State.Char(),
			Substate: int(j.Substate),
			History:  j.HistoryAt,
		}
		for i := range j.Attrs {
			frags, err := Defs[i].EncodeAttr(&j.Attrs[i], attr.MgrPerm)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", j.ID, err)
			}
			for _, f := range frags {
				rec.Attrs = append(rec.Attrs, persistence.AttrRecord{Name: f.Name, Resource: f.Resource, Value: f.Value})
			}
		}
		if j.Array != nil {
			rec.Array = j.Array.Spec()
			for _, sj := range j.Array.Subjobs {
				rec.Subjobs = append(rec.Subjobs, persistence.SubjobRecord{State: sj.State.Char(), Substate: int(sj.Substate)})
			}
		}
		state.Jobs = append(state.Jobs, rec)
	}
	if tr != nil {
		for _, e := range tr.Entries() {
			state.Tracking = append(state.Tracking, persistence.TrackRecord{
				JobID:    e.JobID,
				Location: e.Location,
				State:    e.State.Char(),
				HopCount: e.HopCount,
				Modified: e.Modified,
			})
		}
	}
	return state, nil
}

// Restore adds the saved jobs to t and the saved tracking entries to tr.
func (t *Table) Restore(state *persistence.ServerState, tr *Tracking) error {
	for _, rec := range state.Jobs {
		j, err := restoreJob(rec)
		if err != nil {
			return err
		}
		if err := t.Add(j); err != nil {
			return err
		}
	}
	if tr != nil {
		for _, e := range state.Tracking {
			s, _ := ParseState(e.State)
			tr.entries[e.JobID] = &Track{
				JobID:    e.JobID,
				Location: e.Location,
				State:    s,
				HopCount: e.HopCount,
				Modified: e.Modified,
			}
		}
	}
	return nil
}

func restoreJob(rec persistence.JobRecord) (*Job, error) {
	j := &Job{ID: rec.ID, HistoryAt: rec.History}
	for _, a := range rec.Attrs {
		i := Defs.Find(a.Name)
		if i < 0 {
			return nil, fmt.Errorf("job %s: unknown attribute %q", rec.ID, a.Name)
		}
		if err := Defs[i].DecodeAttr(&j.Attrs[i], a.Resource, a.Value); err != nil {
			return nil, fmt.Errorf("job %s: %w", rec.ID, err)
		}
	}

	s, ok := ParseState(rec.State)
	if !ok {
		return nil, fmt.Errorf("job %s: bad state %q", rec.ID, rec.State)
	}
	j.SetState(s, Substate(rec.Substate))

	if rec.Array != "" {
		trk, err := ParseRange(rec.Array)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", rec.ID, err)
		}
		if len(rec.Subjobs) != len(trk.Subjobs) {
			return nil, fmt.Errorf("job %s: %d subjobs saved for range %s", rec.ID, len(rec.Subjobs), rec.Array)
		}
		for i, sr := range rec.Subjobs {
			ss, _ := ParseState(sr.State)
			trk.Subjobs[i] = Subjob{State: ss, Substate: Substate(sr.Substate)}
		}
		j.MakeArray(trk)
	}
	return j, nil
}
