package status

import (
	"fmt"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/clock"
	"github.com/geoyin/openpbs/pkg/job"
)

// Object is anything whose attributes can be reported.
type Object interface {
	Kind() batch.ObjectKind
	Name() string
	Defs() attr.Table
	Attr(i int) *attr.Attribute
}

// Builder assembles status entries.
type Builder struct {
	Cache *attr.Cache
	Clock clock.Clock

	// EligibleTime enables reporting of eligible_time and accrue_type.
	EligibleTime bool

	// QueryOthers lets any user status jobs they do not own.
	QueryOthers bool
}

// NewBuilder creates a builder using cache.
func NewBuilder(cache *attr.Cache, clk clock.Clock) *Builder {
	if cache == nil {
		cache = &attr.Cache{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Builder{Cache: cache, Clock: clk}
}

// Attributes appends the requested attributes of obj to out. An empty
// list selects every attribute below limit readable with perm; a negative
// limit means the whole table. A name not in the table fails with
// ErrNoAttr and its 1-based position as Aux.
func (b *Builder) Attributes(out *attr.List, obj Object, list []attr.Fragment, perm attr.Perm, limit int) error {
	defs := obj.Defs()
	if limit < 0 || limit > len(defs) {
		limit = len(defs)
	}

	if len(list) > 0 {
		for nth, f := range list {
			i := defs.Find(f.Name)
			if i < 0 {
				return &batch.Error{Code: batch.ErrNoAttr, Aux: nth + 1}
			}
			if err := b.fetch(out, obj, &defs[i], i, perm); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < limit; i++ {
		if err := b.fetch(out, obj, &defs[i], i, perm); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) fetch(out *attr.List, obj Object, def *attr.Def, i int, perm attr.Perm) error {
	if !def.Perm.Readable(perm) {
		return nil
	}
	if err := b.Cache.Fetch(out, obj.Attr(i), def, perm); err != nil {
		return &batch.Error{Code: batch.ErrSystem, Text: fmt.Sprintf("encode %s: %v", def.Name, err)}
	}
	return nil
}

// Build returns the status entry of obj. On error nothing stays linked.
func (b *Builder) Build(obj Object, list []attr.Fragment, perm attr.Perm) (*batch.StatusEntry, error) {
	return b.build(obj, list, perm, -1)
}

func (b *Builder) build(obj Object, list []attr.Fragment, perm attr.Perm, limit int) (*batch.StatusEntry, error) {
	e := &batch.StatusEntry{Kind: obj.Kind(), Name: obj.Name()}
	if err := b.Attributes(&e.Attrs, obj, list, perm, limit); err != nil {
		e.Attrs.Release()
		return nil, err
	}
	return e, nil
}

// Job returns the status entry of j as seen by user holding perm.
func (b *Builder) Job(j *job.Job, list []attr.Fragment, perm attr.Perm, user string) (*batch.StatusEntry, error) {
	if err := b.authorize(j, perm, user); err != nil {
		return nil, err
	}
	j.RefreshArray()

	v := &view{Object: j, name: j.ID}
	if b.EligibleTime {
		if j.Attrs[job.AttrAccrueType].Value.Long == job.AccrueEligible {
			v.set(job.AttrEligibleTime, attr.Derived(attr.LongValue(j.EligibleTime(b.Clock.Now()))))
		}
	} else {
		b.hideEligible(v)
	}
	return b.build(v, list, perm, -1)
}

// Subjob returns the status entry of subjob idx of array parent p. A
// running subjob reports its own attributes. Otherwise the entry is the
// parent's attributes with the subjob's state and, once it ended, a
// comment describing how; with no list the array attributes are left out.
func (b *Builder) Subjob(p *job.Job, idx int, list []attr.Fragment, perm attr.Perm, user string) (*batch.StatusEntry, error) {
	if err := b.authorize(p, perm, user); err != nil {
		return nil, err
	}
	if p.Array == nil {
		return nil, &batch.Error{Code: batch.ErrIvalReq}
	}
	sj, ok := p.Array.Lookup(idx)
	if !ok {
		return nil, &batch.Error{Code: batch.ErrUnkJobID}
	}
	if sj.State == job.StateRunning && sj.Job != nil {
		return b.Job(sj.Job, list, perm, user)
	}

	v := &view{Object: p, name: p.SubjobID(idx)}
	v.set(job.AttrState, attr.Derived(attr.StringValue(sj.State.Char())))
	if sj.State == job.StateExpired || sj.State == job.StateFinished {
		if c := endComment(sj.Substate); c != "" {
			v.set(job.AttrComment, attr.Derived(attr.StringValue(c)))
		}
	}
	if !b.EligibleTime {
		b.hideEligible(v)
	}

	limit := -1
	if len(list) == 0 {
		limit = job.AttrArray
	}
	return b.build(v, list, perm, limit)
}

func endComment(sub job.Substate) string {
	switch sub {
	case job.SubstateFinished:
		return "Subjob finished"
	case job.SubstateFailed:
		return "Subjob failed"
	case job.SubstateTerminated:
		return "Subjob terminated"
	default:
		return ""
	}
}

func (b *Builder) hideEligible(v *view) {
	v.set(job.AttrEligibleTime, attr.Unset())
	v.set(job.AttrAccrueType, attr.Unset())
}

func (b *Builder) authorize(j *job.Job, perm attr.Perm, user string) error {
	if b.QueryOthers || perm&attr.PrivRead != 0 || j.Owner() == user {
		return nil
	}
	return &batch.Error{Code: batch.ErrPerm}
}

// view reports an object under another name with some attributes
// replaced. The object itself is never modified.
type view struct {
	Object
	name    string
	overlay map[int]*attr.Attribute
}

func (v *view) Name() string { return v.name }

func (v *view) Attr(i int) *attr.Attribute {
	if a, ok := v.overlay[i]; ok {
		return a
	}
	return v.Object.Attr(i)
}

func (v *view) set(i int, a *attr.Attribute) {
	if v.overlay == nil {
		v.overlay = make(map[int]*attr.Attribute)
	}
	v.overlay[i] = a
}
