package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		spec  string
		count int
		want  string
		err   bool
	}{
		{spec: "5", count: 1, want: "5"},
		{spec: "1-10", count: 10, want: "1-10"},
		{spec: "0-9:3", count: 4, want: "0-9:3"},
		{spec: "3-1", err: true},
		{spec: "1-x", err: true},
		{spec: "1-4:0", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			trk, err := ParseRange(tt.spec)
			if tt.err {
				assert.ErrorIs(t, err, ErrBadRange)
				return
			}
			require.NoError(t, err)
			assert.Len(t, trk.Subjobs, tt.count)
			assert.Equal(t, tt.want, trk.Spec())
		})
	}
}

func TestTrackerRange(t *testing.T) {
	trk, err := ParseRange("1-10")
	require.NoError(t, err)
	for _, idx := range []int{4, 5, 8} {
		sj, ok := trk.Lookup(idx)
		require.True(t, ok)
		sj.State = StateRunning
	}
	assert.Equal(t, "1-3,6-7,9-10", trk.Range(StateQueued))
	assert.Equal(t, "4-5,8", trk.Range(StateRunning))
	assert.Equal(t, "", trk.Range(StateFinished))
	assert.Equal(t, "Queued:7 Running:3 Exiting:0 Expired:0", trk.StateCount())

	stepped, err := ParseRange("0-8:2")
	require.NoError(t, err)
	_, ok := stepped.Lookup(3)
	assert.False(t, ok)
	sj, _ := stepped.Lookup(4)
	sj.State = StateFinished
	assert.Equal(t, "0-2:2,6-8:2", stepped.Range(StateQueued))
}

func TestSubjobIDs(t *testing.T) {
	assert.Equal(t, "12[3].svr", MakeSubjobID("12[].svr", 3))

	parent, idx, ok := ParseSubjobID("12[3].svr")
	require.True(t, ok)
	assert.Equal(t, "12[].svr", parent)
	assert.Equal(t, 3, idx)

	for _, id := range []string{"12.svr", "12[].svr", "12[x].svr", "12[3.svr"} {
		_, _, ok := ParseSubjobID(id)
		assert.False(t, ok, id)
	}
	assert.True(t, IsArrayID("12[].svr"))
}

func TestTableResolve(t *testing.T) {
	tbl := NewTable("svr")
	tbl.AddQueue(NewQueue("workq"))
	plain := New("1.svr", "a", "alice@host", "workq")
	arr := New("2[].svr", "b", "bob@host", "workq")
	trk, _ := ParseRange("1-3")
	arr.MakeArray(trk)
	require.NoError(t, tbl.Add(plain))
	require.NoError(t, tbl.Add(arr))
	assert.ErrorIs(t, tbl.Add(plain), ErrJobExists)

	j, idx, err := tbl.Resolve("1.svr")
	require.NoError(t, err)
	assert.Same(t, plain, j)
	assert.Equal(t, -1, idx)

	j, idx, err = tbl.Resolve("2[2].svr")
	require.NoError(t, err)
	assert.Same(t, arr, j)
	assert.Equal(t, 2, idx)

	_, _, err = tbl.Resolve("2[7].svr")
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, _, err = tbl.Resolve("3.svr")
	assert.True(t, errors.Is(err, ErrUnknownJob))

	assert.Equal(t, int64(2), tbl.Server.Attrs[ServerAttrTotalJobs].Value.Long)
	assert.Equal(t, int64(2), tbl.Queue("WORKQ").Attrs[QueueAttrTotalJobs].Value.Long)

	tbl.Remove(plain)
	assert.Equal(t, 1, tbl.Len())
	assert.Nil(t, tbl.Find("1.svr"))
}

func TestArrayRefresh(t *testing.T) {
	j := New("5[].svr", "arr", "alice@host", "workq")
	trk, _ := ParseRange("1-3")
	j.MakeArray(trk)
	assert.Equal(t, "1-3", j.Attrs[AttrIndicesRemaining].Value.Str)

	for i := range trk.Subjobs {
		trk.Subjobs[i].State = StateFinished
	}
	j.RefreshArray()
	assert.Equal(t, "-", j.Attrs[AttrIndicesRemaining].Value.Str)
	assert.True(t, j.Attrs[AttrIndicesRemaining].IsModified())
	assert.False(t, trk.Live())
}

func TestEligibleAccrual(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	j := New("7.svr", "e", "alice@host", "workq")
	j.SetAccrual(AccrueEligible, start)
	assert.Equal(t, int64(0), j.EligibleTime(start))
	assert.Equal(t, int64(90), j.EligibleTime(start.Add(90*time.Second)))

	j.SetAccrual(AccrueRun, start.Add(100*time.Second))
	assert.Equal(t, int64(100), j.Attrs[AttrEligibleTime].Value.Long)
	assert.Equal(t, int64(100), j.EligibleTime(start.Add(500*time.Second)))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "01:01:05", FormatDuration(3665))
	secs, err := ParseDuration("01:01:05")
	require.NoError(t, err)
	assert.Equal(t, int64(3665), secs)
	secs, err = ParseDuration("90")
	require.NoError(t, err)
	assert.Equal(t, int64(90), secs)
	_, err = ParseDuration("1:2:3:4")
	assert.Error(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	tbl := NewTable("svr")
	j := New("1.svr", "sim", "alice@host", "workq")
	j.Attrs[AttrResourceList].SetResource("ncpus", "4")
	j.SetComment("waiting")
	arr := New("2[].svr", "sweep", "bob@host", "workq")
	trk, _ := ParseRange("1-2")
	trk.Subjobs[0] = Subjob{State: StateFinished, Substate: SubstateFailed}
	arr.MakeArray(trk)
	require.NoError(t, tbl.Add(j))
	require.NoError(t, tbl.Add(arr))

	tr := NewTracking()
	now := time.Unix(2_000_000, 0)
	tr.Update("9.svr", "svr2", StateTransit, now)
	tr.Update("9.svr", "svr3", StateQueued, now)

	state, err := tbl.Snapshot(tr)
	require.NoError(t, err)
	require.Len(t, state.Jobs, 2)

	restored := NewTable("svr")
	rtr := NewTracking()
	require.NoError(t, restored.Restore(state, rtr))

	got := restored.Find("1.svr")
	require.NotNil(t, got)
	assert.Equal(t, "sim", got.Attrs[AttrName].Value.Str)
	v, ok := got.Attrs[AttrResourceList].Resource("ncpus")
	assert.True(t, ok)
	assert.Equal(t, "4", v)
	assert.Equal(t, StateQueued, got.State)

	gotArr := restored.Find("2[].svr")
	require.NotNil(t, gotArr)
	require.NotNil(t, gotArr.Array)
	assert.Equal(t, SubstateFailed, gotArr.Array.Subjobs[0].Substate)
	assert.Equal(t, "2", gotArr.Attrs[AttrIndicesRemaining].Value.Str)

	loc, ok := rtr.Locate("9.svr")
	assert.True(t, ok)
	assert.Equal(t, "svr3", loc)
	assert.Equal(t, 1, rtr.Entries()[0].HopCount)
}
