package status

import (
	"testing"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/clock"
	"github.com/geoyin/openpbs/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObject struct {
	defs  attr.Table
	attrs []attr.Attribute
}

func newTestObject() *testObject {
	o := &testObject{
		defs: attr.Table{
			{Name: "A", Type: attr.TypeString, Perm: attr.ReadOnly},
			{Name: "B", Type: attr.TypeString, Perm: attr.ReadOnly},
			{Name: "C", Type: attr.TypeString, Perm: attr.ReadOnly, Hidden: true},
		},
		attrs: make([]attr.Attribute, 3),
	}
	o.attrs[0].SetString("x")
	o.attrs[2].SetString("secret")
	return o
}

func (o *testObject) Kind() batch.ObjectKind     { return batch.KindNode }
func (o *testObject) Name() string               { return "node1" }
func (o *testObject) Defs() attr.Table           { return o.defs }
func (o *testObject) Attr(i int) *attr.Attribute { return &o.attrs[i] }

func names(e *batch.StatusEntry) []string {
	var out []string
	for _, f := range e.Attrs.Fragments() {
		out = append(out, f.Name)
	}
	return out
}

func value(e *batch.StatusEntry, name string) (string, bool) {
	for _, f := range e.Attrs.Fragments() {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func TestBuildAllReadableSkipsUnsetAndHidden(t *testing.T) {
	b := NewBuilder(nil, nil)
	e, err := b.Build(newTestObject(), nil, attr.UserRead)
	require.NoError(t, err)
	assert.Equal(t, batch.KindNode, e.Kind)
	assert.Equal(t, "node1", e.Name)
	assert.Equal(t, []string{"A"}, names(e))

	b.Cache.ShowHidden = true
	e, err = b.Build(newTestObject(), nil, attr.UserRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, names(e))
}

func TestBuildBadAttributePosition(t *testing.T) {
	b := NewBuilder(nil, nil)
	obj := newTestObject()
	list := []attr.Fragment{{Name: "a"}, {Name: "nope"}, {Name: "B"}}

	e, err := b.Build(obj, list, attr.UserRead)
	assert.Nil(t, e)
	var berr *batch.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, batch.ErrNoAttr, berr.Code)
	assert.Equal(t, 2, berr.Aux)

	// The group linked before the failure was released.
	assert.Equal(t, 0, obj.attrs[0].Cached(attr.UserRead).Shares())
}

func TestBuildRequestedListKeepsOrder(t *testing.T) {
	b := NewBuilder(nil, nil)
	obj := newTestObject()
	obj.attrs[1].SetString("y")

	e, err := b.Build(obj, []attr.Fragment{{Name: "B"}, {Name: "A"}}, attr.UserRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, names(e))
}

func TestRepeatedBuildsShareThenClone(t *testing.T) {
	var results []attr.FetchResult
	cache := &attr.Cache{OnFetch: func(_ *attr.Def, r attr.FetchResult) { results = append(results, r) }}
	b := NewBuilder(cache, nil)
	obj := newTestObject()
	list := []attr.Fragment{{Name: "A"}}

	var entries []*batch.StatusEntry
	for range 3 {
		e, err := b.Build(obj, list, attr.UserRead)
		require.NoError(t, err)
		entries = append(entries, e)
	}
	assert.Equal(t, []attr.FetchResult{attr.FetchBuilt, attr.FetchLinked, attr.FetchCloned}, results)
	for _, e := range entries {
		v, _ := value(e, "A")
		assert.Equal(t, "x", v)
	}
	assert.Same(t, entries[0].Attrs.Groups()[0], entries[1].Attrs.Groups()[0])
	assert.NotSame(t, entries[0].Attrs.Groups()[0], entries[2].Attrs.Groups()[0])
	assert.Equal(t, 1, entries[2].Attrs.Groups()[0].Shares())
}

func newJob(t *testing.T) *job.Job {
	t.Helper()
	j := job.New("1.svr", "sim", "alice@host", "workq")
	return j
}

func TestJobEligibleTimeIsComputedNotStored(t *testing.T) {
	clk := clock.Fake(time.Unix(1_000_000, 0))
	b := NewBuilder(nil, clk)
	b.EligibleTime = true

	j := newJob(t)
	j.SetAccrual(job.AccrueEligible, clk.Now())
	clk.Advance(125 * time.Second)

	e, err := b.Job(j, nil, attr.UserRead, "alice")
	require.NoError(t, err)
	v, ok := value(e, "eligible_time")
	require.True(t, ok)
	assert.Equal(t, "00:02:05", v)
	assert.Equal(t, int64(0), j.Attrs[job.AttrEligibleTime].Value.Long, "stored value changed")

	clk.Advance(time.Minute)
	e, err = b.Job(j, nil, attr.UserRead, "alice")
	require.NoError(t, err)
	v, _ = value(e, "eligible_time")
	assert.Equal(t, "00:03:05", v)
}

func TestJobEligibleTimeDisabledIsAbsent(t *testing.T) {
	b := NewBuilder(nil, nil)
	j := newJob(t)
	j.SetAccrual(job.AccrueEligible, time.Now())

	e, err := b.Job(j, nil, attr.MgrPerm, "root")
	require.NoError(t, err)
	_, ok := value(e, "eligible_time")
	assert.False(t, ok)
	_, ok = value(e, "accrue_type")
	assert.False(t, ok)
	assert.True(t, j.Attrs[job.AttrEligibleTime].IsSet(), "stored flags changed")
	assert.True(t, j.Attrs[job.AttrAccrueType].IsSet())
}

func TestJobPermission(t *testing.T) {
	b := NewBuilder(nil, nil)
	j := newJob(t)

	_, err := b.Job(j, nil, attr.UserRead, "mallory")
	assert.ErrorIs(t, err, &batch.Error{Code: batch.ErrPerm})

	_, err = b.Job(j, nil, attr.OperPerm, "operator")
	assert.NoError(t, err)

	b.QueryOthers = true
	_, err = b.Job(j, nil, attr.UserRead, "mallory")
	assert.NoError(t, err)
}

func TestSubjobView(t *testing.T) {
	b := NewBuilder(nil, nil)
	p := job.New("4[].svr", "sweep", "alice@host", "workq")
	p.SetComment("parent comment")
	trk, err := job.ParseRange("1-3")
	require.NoError(t, err)
	trk.Subjobs[1] = job.Subjob{State: job.StateFinished, Substate: job.SubstateFailed}
	p.MakeArray(trk)

	e, err := b.Subjob(p, 2, nil, attr.UserRead, "alice")
	require.NoError(t, err)
	assert.Equal(t, "4[2].svr", e.Name)
	state, _ := value(e, "job_state")
	assert.Equal(t, "F", state)
	comment, _ := value(e, "comment")
	assert.Equal(t, "Subjob failed", comment)
	_, ok := value(e, "array_indices_remaining")
	assert.False(t, ok, "array attributes leak into subjob view")

	// The parent is untouched.
	assert.Equal(t, "Q", p.Attrs[job.AttrState].Value.Str)
	assert.Equal(t, "parent comment", p.Attrs[job.AttrComment].Value.Str)

	e, err = b.Subjob(p, 1, nil, attr.UserRead, "alice")
	require.NoError(t, err)
	comment, _ = value(e, "comment")
	assert.Equal(t, "parent comment", comment)

	// An explicit list may name array attributes.
	e, err = b.Subjob(p, 1, []attr.Fragment{{Name: "array_indices_remaining"}}, attr.UserRead, "alice")
	require.NoError(t, err)
	rem, _ := value(e, "array_indices_remaining")
	assert.Equal(t, "1,3", rem)

	_, err = b.Subjob(p, 9, nil, attr.UserRead, "alice")
	assert.ErrorIs(t, err, &batch.Error{Code: batch.ErrUnkJobID})
}

func TestSubjobRunningUsesInstance(t *testing.T) {
	b := NewBuilder(nil, nil)
	p := job.New("4[].svr", "sweep", "alice@host", "workq")
	trk, _ := job.ParseRange("1-2")
	p.MakeArray(trk)

	inst := job.New("4[1].svr", "sweep", "alice@host", "workq")
	inst.SetState(job.StateRunning, job.SubstateRunning)
	inst.Parent, inst.Index = p, 1
	trk.Subjobs[0] = job.Subjob{State: job.StateRunning, Substate: job.SubstateRunning, Job: inst}

	e, err := b.Subjob(p, 1, nil, attr.UserRead, "alice")
	require.NoError(t, err)
	assert.Equal(t, "4[1].svr", e.Name)
	state, _ := value(e, "job_state")
	assert.Equal(t, "R", state)
}

func TestArrayRemainingRecomputed(t *testing.T) {
	b := NewBuilder(nil, nil)
	p := job.New("4[].svr", "sweep", "alice@host", "workq")
	trk, _ := job.ParseRange("1-3")
	p.MakeArray(trk)

	e, err := b.Job(p, []attr.Fragment{{Name: "array_indices_remaining"}}, attr.UserRead, "alice")
	require.NoError(t, err)
	rem, _ := value(e, "array_indices_remaining")
	assert.Equal(t, "1-3", rem)

	trk.Subjobs[0].State = job.StateRunning
	e, err = b.Job(p, []attr.Fragment{{Name: "array_indices_remaining"}}, attr.UserRead, "alice")
	require.NoError(t, err)
	rem, _ = value(e, "array_indices_remaining")
	assert.Equal(t, "2-3", rem)
}
