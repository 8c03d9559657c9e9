package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) DeleteJob(_ context.Context, id, modifier string) error {
	return m.Called(id, modifier).Error(0)
}

func (m *mockSession) LocateJob(_ context.Context, id string) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *mockSession) StatusServer(_ context.Context, _ ...string) (*batch.StatusEntry, error) {
	args := m.Called()
	e, _ := args.Get(0).(*batch.StatusEntry)
	return e, args.Error(1)
}

func serverEntry(defaultArgs string) *batch.StatusEntry {
	e := &batch.StatusEntry{Kind: batch.KindServer, Name: "svr"}
	if defaultArgs != "" {
		e.Attrs.AppendFragments(attr.Fragment{Name: "default_qdel_arguments", Value: defaultArgs})
	}
	return e
}

func jobIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d.svr", i+1)
	}
	return ids
}

func TestDeleteBatchSuppressesMailAfterDefaultThreshold(t *testing.T) {
	s := &mockSession{}
	s.On("StatusServer").Return(serverEntry(""), nil).Once()
	s.On("DeleteJob", mock.Anything, "").Return(nil).Times(DefaultMailThreshold)
	s.On("DeleteJob", mock.Anything, "nomail").Return(nil).Once()

	report := (&DeleteBatch{}).Run(context.Background(), s, jobIDs(DefaultMailThreshold+1))

	require.Len(t, report.Results, DefaultMailThreshold+1)
	assert.Equal(t, "", report.Results[DefaultMailThreshold-1].Modifier)
	assert.Equal(t, "nomail", report.Results[DefaultMailThreshold].Modifier)
	assert.False(t, report.AnyFailed)
	s.AssertExpectations(t)
}

func TestDeleteBatchServerDefaultThreshold(t *testing.T) {
	s := &mockSession{}
	s.On("StatusServer").Return(serverEntry("-Wsuppress_email=2"), nil).Once()
	s.On("DeleteJob", mock.Anything, "force").Return(nil).Twice()
	s.On("DeleteJob", "3.svr", "nomailforce").Return(nil).Once()

	report := (&DeleteBatch{Force: true}).Run(context.Background(), s, jobIDs(3))
	assert.False(t, report.AnyFailed)
	s.AssertExpectations(t)
}

func TestDeleteBatchExplicitThresholdSkipsServer(t *testing.T) {
	s := &mockSession{}
	s.On("DeleteJob", "1.svr", "").Return(nil).Once()
	s.On("DeleteJob", "2.svr", "nomail").Return(nil).Once()

	report := (&DeleteBatch{MailThreshold: 1}).Run(context.Background(), s, jobIDs(2))
	assert.False(t, report.AnyFailed)
	s.AssertExpectations(t)
	s.AssertNotCalled(t, "StatusServer")
}

func TestDeleteBatchUnsupportedServerArgsUsesDefault(t *testing.T) {
	s := &mockSession{}
	s.On("StatusServer").Return(serverEntry("-Wforce"), nil).Once()
	s.On("DeleteJob", "1.svr", "").Return(nil).Once()

	report := (&DeleteBatch{}).Run(context.Background(), s, jobIDs(1))
	assert.False(t, report.AnyFailed)
	s.AssertExpectations(t)
}

func TestDeleteBatchHistoryDeleteDoesNotCount(t *testing.T) {
	s := &mockSession{}
	s.On("DeleteJob", "1.svr", "deletehist").Return(&Error{Code: batch.ErrHistJobDel}).Once()
	s.On("DeleteJob", "2.svr", "deletehist").Return(nil).Once()
	s.On("DeleteJob", "3.svr", "nomaildeletehist").Return(nil).Once()

	b := &DeleteBatch{DeleteHistory: true, MailThreshold: 1}
	report := b.Run(context.Background(), s, jobIDs(3))

	assert.False(t, report.AnyFailed)
	assert.True(t, report.Results[0].HistoryDeleted)
	assert.NoError(t, report.Results[0].Err)
	s.AssertExpectations(t)
}

func TestDeleteBatchFailuresAreCollected(t *testing.T) {
	s := &mockSession{}
	s.On("DeleteJob", "1.svr", "").Return(&Error{Code: batch.ErrPerm}).Once()
	s.On("DeleteJob", "2.svr", "").Return(nil).Once()

	report := (&DeleteBatch{MailThreshold: 10}).Run(context.Background(), s, jobIDs(2))

	assert.True(t, report.AnyFailed)
	assert.ErrorIs(t, report.Results[0].Err, &Error{Code: batch.ErrPerm})
	assert.NoError(t, report.Results[1].Err)
	s.AssertExpectations(t)
}

func TestDeleteBatchRetriesAtLocatedServer(t *testing.T) {
	home := &mockSession{}
	home.On("DeleteJob", "1.svr", "").Return(&Error{Code: batch.ErrUnkJobID}).Once()
	home.On("LocateJob", "1.svr").Return("svr2", nil).Once()

	away := &mockSession{}
	away.On("DeleteJob", "1.svr", "").Return(nil).Once()

	b := &DeleteBatch{
		MailThreshold: 10,
		Connect: func(_ context.Context, server string) (Session, error) {
			assert.Equal(t, "svr2", server)
			return away, nil
		},
	}
	report := b.Run(context.Background(), home, jobIDs(1))

	assert.False(t, report.AnyFailed)
	assert.Equal(t, "svr2", report.Results[0].Server)
	home.AssertExpectations(t)
	away.AssertExpectations(t)
}

func TestDeleteBatchUnknownJobRetriesOnce(t *testing.T) {
	home := &mockSession{}
	home.On("DeleteJob", "1.svr", "").Return(&Error{Code: batch.ErrUnkJobID}).Once()
	home.On("LocateJob", "1.svr").Return("svr2", nil).Once()

	away := &mockSession{}
	away.On("DeleteJob", "1.svr", "").Return(&Error{Code: batch.ErrUnkJobID}).Once()

	connects := 0
	b := &DeleteBatch{
		MailThreshold: 10,
		Connect: func(context.Context, string) (Session, error) {
			connects++
			return away, nil
		},
	}
	report := b.Run(context.Background(), home, jobIDs(1))

	assert.True(t, report.AnyFailed)
	assert.Equal(t, 1, connects)
	assert.ErrorIs(t, report.Results[0].Err, &Error{Code: batch.ErrUnkJobID})
	away.AssertNotCalled(t, "LocateJob", mock.Anything)
}

func TestDeleteBatchUnknownWithoutConnectFails(t *testing.T) {
	s := &mockSession{}
	s.On("DeleteJob", "1.svr", "").Return(&Error{Code: batch.ErrUnkJobID}).Once()

	report := (&DeleteBatch{MailThreshold: 10}).Run(context.Background(), s, jobIDs(1))
	assert.True(t, report.AnyFailed)
	s.AssertNotCalled(t, "LocateJob", mock.Anything)
}

func TestDeleteBatchModifier(t *testing.T) {
	tests := []struct {
		force, hist bool
		want        string
	}{
		{false, false, ""},
		{true, false, "force"},
		{false, true, "deletehist"},
		{true, true, "forcedeletehist"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b := &DeleteBatch{Force: tt.force, DeleteHistory: tt.hist}
			assert.Equal(t, tt.want, b.Modifier())
		})
	}
}

func TestParseDefaultArgs(t *testing.T) {
	n, err := ParseDefaultArgs("-Wsuppress_email=500")
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = ParseDefaultArgs("-Wforce")
	assert.ErrorIs(t, err, ErrUnsupportedArgs)

	_, err = ParseDefaultArgs("-Wsuppress_email=lots")
	assert.Error(t, err)
}

func TestParseSuppressEmail(t *testing.T) {
	n, ok, err := ParseSuppressEmail("suppress_email=7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok, err = ParseSuppressEmail("force")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAttrListAndCriteria(t *testing.T) {
	list := AttrList("job_state", "Resource_List.ncpus")
	assert.Equal(t, []attr.Fragment{
		{Name: "job_state"},
		{Name: "Resource_List", Resource: "ncpus"},
	}, list)
	assert.Nil(t, AttrList())

	assert.Equal(t, attr.Fragment{Name: "queue", Value: "workq", Op: attr.OpEQ}, Equal("queue", "workq"))
	assert.Equal(t, attr.OpNE, NotEqual("job_state", "R").Op)
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
}

func TestBackoffJitterBounds(t *testing.T) {
	for range 20 {
		d := NewBackoff(BackoffConfig{Initial: time.Second, Jitter: 0.25}).Next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDialFailsWithNoServer(t *testing.T) {
	opts := Options{
		User:           "alice",
		ConnectTimeout: 100 * time.Millisecond,
		Attempts:       2,
		Backoff:        BackoffConfig{Initial: time.Millisecond},
	}
	_, err := Dial(context.Background(), "127.0.0.1:1", opts)
	assert.ErrorIs(t, err, &Error{Code: batch.ErrNoServer})
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		id, seq, server string
		wantErr         bool
	}{
		{"12", "12", "", false},
		{"12.svr", "12", "svr", false},
		{"12.svr.example.com", "12", "svr.example.com", false},
		{"7[].svr", "7[]", "svr", false},
		{"7[3].svr", "7[3]", "svr", false},
		{"svr.12", "", "", true},
		{"12x.svr", "", "", true},
		{"7[a].svr", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			seq, server, err := ParseJobID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadJobID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.seq, seq)
			assert.Equal(t, tt.server, server)
		})
	}
}
