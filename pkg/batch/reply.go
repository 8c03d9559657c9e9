package batch

import (
	"github.com/geoyin/openpbs/pkg/attr"
)

// Choice is the wire discriminator of a reply payload.
type Choice int

const (
	ChoiceNull      Choice = 1
	ChoiceQueue     Choice = 2
	ChoiceRdytoCom  Choice = 3
	ChoiceCommit    Choice = 4
	ChoiceSelect    Choice = 5
	ChoiceStatus    Choice = 6
	ChoiceText      Choice = 7
	ChoiceLocate    Choice = 8
	ChoiceRescQuery Choice = 9
)

// Payload is one reply variant. The set of variants is closed.
type Payload interface {
	Choice() Choice
	release()
}

// Text is a free-text payload.
type Text string

// JobID carries the identifier of a queued or committed job.
type JobID string

// Locate carries the server a job currently lives on.
type Locate string

// SelectList carries the identifiers selected by a SelectJobs request.
type SelectList []string

// ResourceQuery carries per-resource counts, index-aligned with the
// requested names.
type ResourceQuery struct {
	Avail []int64
	Alloc []int64
	Resvd []int64
	Down  []int64
}

// StatusEntry is the attribute snapshot of one object.
type StatusEntry struct {
	Kind  ObjectKind
	Name  string
	Attrs attr.List
}

// Value returns the value of attribute name, or of one resource entry of
// it when resource is not empty.
func (e *StatusEntry) Value(name, resource string) (string, bool) {
	for _, f := range e.Attrs.Fragments() {
		if f.Name == name && f.Resource == resource {
			return f.Value, true
		}
	}
	return "", false
}

// StatusList is the payload of a status reply.
type StatusList []*StatusEntry

func (Text) Choice() Choice { return ChoiceText }
func (JobID) Choice() Choice { return ChoiceQueue }
func (Locate) Choice() Choice { return ChoiceLocate }
func (SelectList) Choice() Choice { return ChoiceSelect }
func (*ResourceQuery) Choice() Choice { return ChoiceRescQuery }
func (StatusList) Choice() Choice { return ChoiceStatus }

func (Text) release() {}
func (JobID) release() {}
func (Locate) release() {}
func (SelectList) release() {}
func (*ResourceQuery) release() {}

// release drops every entry's shares of cached attribute encodings.
func (s StatusList) release() {
	for _, e := range s {
		e.Attrs.Release()
	}
}

// Reply is the result of one request.
type Reply struct {
	Code Code
	Aux  int

	payload Payload
}

// Payload returns the active variant, or nil when the reply is empty.
func (r *Reply) Payload() Payload {
	return r.payload
}

// Choice returns the wire discriminator of the active variant.
func (r *Reply) Choice() Choice {
	if r.payload == nil {
		return ChoiceNull
	}
	return r.payload.Choice()
}

// Set replaces the payload, releasing the previous one. A nil p empties
// the reply.
func (r *Reply) Set(p Payload) {
	if r.payload != nil {
		r.payload.release()
	}
	r.payload = p
}

// Reset clears code, aux and payload.
func (r *Reply) Reset() {
	r.Set(nil)
	r.Code = Success
	r.Aux = 0
}

// IsEmpty reports whether the reply has neither a code nor a payload.
func (r *Reply) IsEmpty() bool {
	return r.Code == Success && r.payload == nil
}

// Text returns the text payload if the reply carries one.
func (r *Reply) Text() (string, bool) {
	t, ok := r.payload.(Text)
	return string(t), ok
}

// AppendStatus adds an entry to a status payload, switching the reply to
// a status payload first if needed.
func (r *Reply) AppendStatus(e *StatusEntry) {
	list, ok := r.payload.(StatusList)
	if !ok {
		r.Set(nil)
	}
	r.payload = append(list, e)
}

// Err returns the reply as an *Error, or nil on success.
func (r *Reply) Err() error {
	if r.Code == Success {
		return nil
	}
	text, _ := r.Text()
	return &Error{Code: r.Code, Aux: r.Aux, Text: text}
}
