package job

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadRange is returned for a malformed array index range.
var ErrBadRange = errors.New("bad array index range")

// Subjob is the tracked state of one array element.
type Subjob struct {
	State    State
	Substate Substate

	// Job is the running instance, if one exists.
	Job *Job
}

// Tracker holds the subjobs of an array parent. Subjob i has index
// Start + i*Step.
type Tracker struct {
	Start, End, Step int
	Subjobs          []Subjob
}

// ParseRange parses "N", "N-M" or "N-M:S" into a tracker of queued
// subjobs.
func ParseRange(spec string) (*Tracker, error) {
	rng, step := spec, "1"
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		rng, step = spec[:i], spec[i+1:]
	}
	lo, hi := rng, rng
	if i := strings.IndexByte(rng, '-'); i >= 0 {
		lo, hi = rng[:i], rng[i+1:]
	}

	start, err1 := strconv.Atoi(lo)
	end, err2 := strconv.Atoi(hi)
	st, err3 := strconv.Atoi(step)
	if err := errors.Join(err1, err2, err3); err != nil || start < 0 || end < start || st < 1 {
		return nil, fmt.Errorf("%w: %q", ErrBadRange, spec)
	}

	t := &Tracker{Start: start, End: end, Step: st}
	n := (end-start)/st + 1
	t.Subjobs = make([]Subjob, n)
	for i := range t.Subjobs {
		t.Subjobs[i] = Subjob{State: StateQueued, Substate: SubstateQueued}
	}
	return t, nil
}

// Spec returns the submitted range in ParseRange syntax.
func (t *Tracker) Spec() string {
	if t.Start == t.End {
		return strconv.Itoa(t.Start)
	}
	s := fmt.Sprintf("%d-%d", t.Start, t.End)
	if t.Step != 1 {
		s += ":" + strconv.Itoa(t.Step)
	}
	return s
}

// Index returns the array index of slot i.
func (t *Tracker) Index(i int) int {
	return t.Start + i*t.Step
}

// Lookup returns the subjob with array index idx.
func (t *Tracker) Lookup(idx int) (*Subjob, bool) {
	if idx < t.Start || idx > t.End || (idx-t.Start)%t.Step != 0 {
		return nil, false
	}
	return &t.Subjobs[(idx-t.Start)/t.Step], true
}

// Count returns the number of subjobs in state s.
func (t *Tracker) Count(s State) int {
	n := 0
	for _, sj := range t.Subjobs {
		if sj.State == s {
			n++
		}
	}
	return n
}

// Live reports whether any subjob has not yet finished.
func (t *Tracker) Live() bool {
	for _, sj := range t.Subjobs {
		if !sj.State.IsHistory() {
			return true
		}
	}
	return false
}

// Range returns the indices in state s in compressed form, for example
// "1-3,7,9-13:2". It returns "" when there are none.
func (t *Tracker) Range(s State) string {
	var parts []string
	i := 0
	for i < len(t.Subjobs) {
		if t.Subjobs[i].State != s {
			i++
			continue
		}
		j := i
		for j+1 < len(t.Subjobs) && t.Subjobs[j+1].State == s {
			j++
		}
		switch {
		case i == j:
			parts = append(parts, strconv.Itoa(t.Index(i)))
		case t.Step == 1:
			parts = append(parts, fmt.Sprintf("%d-%d", t.Index(i), t.Index(j)))
		default:
			parts = append(parts, fmt.Sprintf("%d-%d:%d", t.Index(i), t.Index(j), t.Step))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// StateCount renders per-state subjob counts.
func (t *Tracker) StateCount() string {
	return fmt.Sprintf("Queued:%d Running:%d Exiting:%d Expired:%d",
		t.Count(StateQueued), t.Count(StateRunning), t.Count(StateExiting),
		t.Count(StateExpired)+t.Count(StateFinished))
}

// IsArrayID reports whether id names an array parent, as in "12[].svr".
func IsArrayID(id string) bool {
	return strings.Contains(id, "[]")
}

// MakeSubjobID returns the identifier of subjob idx of array parentID.
func MakeSubjobID(parentID string, idx int) string {
	return strings.Replace(parentID, "[]", "["+strconv.Itoa(idx)+"]", 1)
}

// ParseSubjobID splits "12[3].svr" into "12[].svr" and 3.
func ParseSubjobID(id string) (parentID string, idx int, ok bool) {
	open := strings.IndexByte(id, '[')
	if open < 0 {
		return "", 0, false
	}
	end := strings.IndexByte(id[open:], ']')
	if end < 2 {
		return "", 0, false
	}
	end += open
	idx, err := strconv.Atoi(id[open+1 : end])
	if err != nil || idx < 0 {
		return "", 0, false
	}
	return id[:open+1] + id[end:], idx, true
}
