package job

import (
	"strings"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
)

// State is the life-cycle state of a job or subjob.
type State uint8

const (
	StateTransit State = iota
	StateQueued
	StateHeld
	StateWaiting
	StateRunning
	StateExiting
	StateExpired
	StateBegun
	StateMoved
	StateFinished
)

const stateChars = "TQHWREXBMF"

// Char returns the one-letter state shown in job_state.
func (s State) Char() string {
	if int(s) >= len(stateChars) {
		return "?"
	}
	return stateChars[s : s+1]
}

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateTransit:
		return "Transit"
	case StateQueued:
		return "Queued"
	case StateHeld:
		return "Held"
	case StateWaiting:
		return "Waiting"
	case StateRunning:
		return "Running"
	case StateExiting:
		return "Exiting"
	case StateExpired:
		return "Expired"
	case StateBegun:
		return "Begun"
	case StateMoved:
		return "Moved"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// ParseState parses a one-letter state.
func ParseState(c string) (State, bool) {
	i := strings.Index(stateChars, c)
	if len(c) != 1 || i < 0 {
		return 0, false
	}
	return State(i), true
}

// IsHistory reports whether the state is kept only as job history.
func (s State) IsHistory() bool {
	return s == StateFinished || s == StateMoved || s == StateExpired
}

// Substate refines State.
type Substate int

const (
	SubstateNone       Substate = 0
	SubstateQueued     Substate = 10
	SubstateRunning    Substate = 42
	SubstateSuspended  Substate = 43
	SubstateExiting    Substate = 50
	SubstateFinished   Substate = 92
	SubstateTerminated Substate = 93
	SubstateFailed     Substate = 94
)

// Job is one job, array parent, or running subjob instance.
type Job struct {
	ID       string
	State    State
	Substate Substate
	Attrs    [NumAttrs]attr.Attribute

	// Array is set on array parents.
	Array *Tracker

	// Parent and Index are set on the running instance of a subjob.
	Parent *Job
	Index  int

	// HistoryAt is when the job entered history.
	HistoryAt time.Time
}

// New creates a queued job.
func New(id, name, owner, queue string) *Job {
	j := &Job{ID: id}
	j.Attrs[AttrName].SetString(name)
	j.Attrs[AttrOwner].SetString(owner)
	j.Attrs[AttrQueue].SetString(queue)
	j.Attrs[AttrAccrueType].SetLong(AccrueInitial)
	j.SetState(StateQueued, SubstateQueued)
	return j
}

// Kind reports the job object kind.
func (j *Job) Kind() batch.ObjectKind { return batch.KindJob }

// Name returns the job identifier.
func (j *Job) Name() string { return j.ID }

// Defs returns the job attribute table.
func (j *Job) Defs() attr.Table { return Defs }

// Attr returns attribute slot i.
func (j *Job) Attr(i int) *attr.Attribute { return &j.Attrs[i] }

// SetState moves the job to state s and substate sub.
func (j *Job) SetState(s State, sub Substate) {
	j.State = s
	j.Substate = sub
	if cur := j.Attrs[AttrState]; !cur.IsSet() || cur.Value.Str != s.Char() {
		j.Attrs[AttrState].SetString(s.Char())
	}
}

// SetComment replaces the comment.
func (j *Job) SetComment(c string) {
	j.Attrs[AttrComment].SetString(c)
}

// Owner returns the user part of Job_Owner.
func (j *Job) Owner() string {
	owner := j.Attrs[AttrOwner].Value.Str
	if i := strings.IndexByte(owner, '@'); i >= 0 {
		return owner[:i]
	}
	return owner
}

// IsArray reports whether j is an array parent.
func (j *Job) IsArray() bool { return j.Array != nil }

// SetAccrual switches accrue_type, folding the time accrued so far into
// eligible_time when leaving the eligible state.
func (j *Job) SetAccrual(typ int64, now time.Time) {
	cur := j.Attrs[AttrAccrueType].Value.Long
	if cur == typ {
		return
	}
	if cur == AccrueEligible {
		start := j.Attrs[AttrSampleStart].Value.Long
		j.Attrs[AttrEligibleTime].SetLong(j.Attrs[AttrEligibleTime].Value.Long + now.Unix() - start)
	} else if !j.Attrs[AttrEligibleTime].IsSet() {
		j.Attrs[AttrEligibleTime].SetLong(0)
	}
	j.Attrs[AttrAccrueType].SetLong(typ)
	j.Attrs[AttrSampleStart].SetLong(now.Unix())
}

// EligibleTime returns eligible_time as of now, including time accrued
// since the last sample when the job is accruing eligible time.
func (j *Job) EligibleTime(now time.Time) int64 {
	v := j.Attrs[AttrEligibleTime].Value.Long
	if j.Attrs[AttrAccrueType].Value.Long == AccrueEligible {
		v += now.Unix() - j.Attrs[AttrSampleStart].Value.Long
	}
	return v
}

// MakeArray turns j into an array parent over the given index range.
func (j *Job) MakeArray(t *Tracker) {
	j.Array = t
	j.Attrs[AttrArray].SetBool(true)
	j.Attrs[AttrIndicesSubmitted].SetString(t.Spec())
	j.RefreshArray()
}

// RefreshArray recomputes array_indices_remaining and array_state_count
// after subjob states changed.
func (j *Job) RefreshArray() {
	if j.Array == nil {
		return
	}
	remaining := j.Array.Range(StateQueued)
	if remaining == "" {
		remaining = "-"
	}
	if a := &j.Attrs[AttrIndicesRemaining]; !a.IsSet() || a.Value.Str != remaining {
		a.SetString(remaining)
	}
	if a := &j.Attrs[AttrStateCount]; !a.IsSet() || a.Value.Str != j.Array.StateCount() {
		a.SetString(j.Array.StateCount())
	}
}

// SubjobID returns the identifier of subjob idx of j.
func (j *Job) SubjobID(idx int) string {
	return MakeSubjobID(j.ID, idx)
}
