package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
)

type mockServer struct {
	mock.Mock
}

func (m *mockServer) Addr() string { return "svr:15001" }

func (m *mockServer) StatusJobs(_ context.Context, id, extend string, attrs ...string) ([]*batch.StatusEntry, error) {
	args := m.Called(id, extend, attrs)
	list, _ := args.Get(0).([]*batch.StatusEntry)
	return list, args.Error(1)
}

func (m *mockServer) StatusQueues(_ context.Context, name string, attrs ...string) ([]*batch.StatusEntry, error) {
	args := m.Called(name, attrs)
	list, _ := args.Get(0).([]*batch.StatusEntry)
	return list, args.Error(1)
}

func (m *mockServer) StatusServer(_ context.Context, attrs ...string) (*batch.StatusEntry, error) {
	args := m.Called(attrs)
	e, _ := args.Get(0).(*batch.StatusEntry)
	return e, args.Error(1)
}

func (m *mockServer) SelectJobs(_ context.Context, criteria ...attr.Fragment) ([]string, error) {
	args := m.Called(criteria)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockServer) RescQuery(_ context.Context, names ...string) (*batch.ResourceQuery, error) {
	args := m.Called(names)
	q, _ := args.Get(0).(*batch.ResourceQuery)
	return q, args.Error(1)
}

func (m *mockServer) DeleteJob(_ context.Context, id, modifier string) error {
	return m.Called(id, modifier).Error(0)
}

func (m *mockServer) SignalJob(_ context.Context, id, sig string) error {
	return m.Called(id, sig).Error(0)
}

func (m *mockServer) LocateJob(_ context.Context, id string) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func newTestShell(srv Server) (*Shell, *bytes.Buffer) {
	var out bytes.Buffer
	return &Shell{srv: srv, out: &out}, &out
}

func jobEntry(id, state string) *batch.StatusEntry {
	e := &batch.StatusEntry{Kind: batch.KindJob, Name: id}
	e.Attrs.AppendFragments(attr.Fragment{Name: "job_state", Value: state})
	return e
}

func TestStat(t *testing.T) {
	srv := &mockServer{}
	srv.On("StatusJobs", "1.svr", "", []string{"job_state"}).Return([]*batch.StatusEntry{jobEntry("1.svr", "R")}, nil)
	srv.On("StatusJobs", "", "", mock.Anything).Return(nil, nil)
	sh, out := newTestShell(srv)

	assert.True(t, sh.Execute(context.Background(), "stat 1.svr job_state"))
	assert.Contains(t, out.String(), "Job 1.svr\n")
	assert.Regexp(t, `job_state\s+R`, out.String())

	out.Reset()
	assert.True(t, sh.Execute(context.Background(), "stat"))
	assert.Equal(t, "no jobs\n", out.String())
	srv.AssertExpectations(t)
}

func TestErrorsAreReported(t *testing.T) {
	srv := &mockServer{}
	srv.On("DeleteJob", "9.svr", "").Return(&batch.Error{Code: batch.ErrUnkJobID})
	srv.On("SignalJob", "1.svr", "bogus").Return(&batch.Error{Code: batch.ErrUnkSig, Text: "no such signal"})
	sh, out := newTestShell(srv)

	sh.Execute(context.Background(), "delete 9.svr")
	assert.Contains(t, out.String(), "delete failed: "+batch.ErrUnkJobID.Message())

	out.Reset()
	sh.Execute(context.Background(), "signal 1.svr bogus")
	assert.Equal(t, "signal failed: no such signal\n", out.String())
	srv.AssertExpectations(t)
}

func TestJobCommands(t *testing.T) {
	srv := &mockServer{}
	srv.On("DeleteJob", "1.svr", "force").Return(nil)
	srv.On("SignalJob", "2.svr", "suspend").Return(nil)
	srv.On("LocateJob", "3.svr").Return("other:15001", nil)
	sh, out := newTestShell(srv)
	ctx := context.Background()

	sh.Execute(ctx, "delete 1.svr force")
	sh.Execute(ctx, "sig 2.svr suspend")
	sh.Execute(ctx, "locate 3.svr")
	assert.Equal(t, "deleted 1.svr\nsent suspend to 2.svr\n3.svr is on other:15001\n", out.String())
	srv.AssertExpectations(t)
}

func TestSelect(t *testing.T) {
	srv := &mockServer{}
	srv.On("SelectJobs", mock.MatchedBy(func(c []attr.Fragment) bool {
		return len(c) == 2 && c[0].Op == attr.OpEQ && c[1].Op == attr.OpNE && c[1].Value == "R"
	})).Return([]string{"1.svr", "4.svr"}, nil)
	sh, out := newTestShell(srv)

	sh.Execute(context.Background(), "select queue=workq job_state!=R")
	assert.Equal(t, "1.svr\n4.svr\n", out.String())

	out.Reset()
	sh.Execute(context.Background(), "select queue")
	assert.Contains(t, out.String(), "Bad criterion")
	srv.AssertExpectations(t)
}

func TestResc(t *testing.T) {
	srv := &mockServer{}
	srv.On("RescQuery", []string{"ncpus", "mem"}).Return(&batch.ResourceQuery{
		Avail: []int64{8, 0}, Alloc: []int64{2}, Resvd: []int64{0, 0}, Down: []int64{0, 0},
	}, nil)
	sh, out := newTestShell(srv)

	sh.Execute(context.Background(), "resc ncpus mem")
	assert.Regexp(t, `(?m)^ncpus\s+8\s+2\s+0\s+0$`, out.String())
	assert.Regexp(t, `(?m)^mem\s+0\s+0\s+0\s+0$`, out.String())
}

func TestUsageAndQuit(t *testing.T) {
	sh, out := newTestShell(&mockServer{})
	ctx := context.Background()

	assert.True(t, sh.Execute(ctx, "   "))
	assert.True(t, sh.Execute(ctx, "locate"))
	assert.True(t, sh.Execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Usage: locate <job-id>")
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	assert.False(t, sh.Execute(ctx, "quit"))
	assert.False(t, sh.Execute(ctx, "EXIT"))
}
