package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/clock"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/geoyin/openpbs/pkg/transport"
	"github.com/geoyin/openpbs/pkg/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func countFrees(r *batch.Request) *int {
	n := new(int)
	r.OnFree = func(*batch.Request) { *n++ }
	return n
}

func newParent(conn *transport.Conn, children int) (*batch.Request, []*batch.Request) {
	p := batch.NewRequest(batch.OpDeleteJob, conn, &batch.JobRequest{JobID: "7[].svr"})
	kids := make([]*batch.Request, children)
	for i := range kids {
		kids[i] = p.NewChild(&batch.JobRequest{JobID: "7[1].svr"})
	}
	return p, kids
}

func TestChildFoldFirstErrorWins(t *testing.T) {
	q := work.New(clock.Fake(time.Unix(0, 0)))
	d := New(Config{Tasks: q})

	p, kids := newParent(transport.Local, 4)
	var woken *batch.Request
	q.Defer(func(task *work.Task) { woken = task.Param.(*batch.Request) }, p)
	require.Equal(t, 4, p.RefCount)

	// Success, failure, success: parent still pending.
	for i, code := range []batch.Code{batch.Success, batch.ErrBadState, batch.Success} {
		kids[i].Reply.Code = code
		if code != batch.Success {
			kids[i].Reply.Set(batch.Text("first failure"))
		}
		out, err := d.Send(kids[i])
		require.NoError(t, err)
		assert.Equal(t, Aggregated, out)
		assert.True(t, kids[i].Freed())
	}
	assert.Equal(t, 1, p.RefCount)
	assert.Equal(t, 0, q.Run())
	assert.Nil(t, woken)

	// A later failure must not overwrite the first.
	kids[3].Reply.Code = batch.ErrUnkJobID
	kids[3].Reply.Set(batch.Text("second failure"))
	out, err := d.Send(kids[3])
	require.NoError(t, err)
	assert.Equal(t, Aggregated, out)

	assert.Equal(t, 0, p.RefCount)
	assert.Equal(t, 1, q.Run())
	require.Same(t, p, woken)
	assert.Equal(t, batch.ErrBadState, p.Reply.Code)
	text, ok := p.Reply.Text()
	assert.True(t, ok)
	assert.Equal(t, "first failure", text)
	assert.False(t, p.Freed(), "woken task owns the local request")
}

func TestParentWithChildrenIsPending(t *testing.T) {
	d := New(Config{})
	p, _ := newParent(transport.Local, 2)
	frees := countFrees(p)

	out, err := d.Send(p)
	require.NoError(t, err)
	assert.Equal(t, Pending, out)
	assert.Equal(t, 0, *frees)
}

func TestLocalDeliveryWakesExactlyOneTask(t *testing.T) {
	q := work.New(clock.Fake(time.Unix(0, 0)))
	d := New(Config{Tasks: q})

	r := batch.NewRequest(batch.OpDeleteJob, transport.Local, &batch.JobRequest{JobID: "1.svr"})
	other := batch.NewRequest(batch.OpDeleteJob, transport.Local, &batch.JobRequest{JobID: "2.svr"})
	ran := 0
	q.Defer(func(*work.Task) { ran++ }, r)
	q.Defer(func(*work.Task) { t.Error("wrong task woken") }, other)

	out, err := d.Ack(r)
	require.NoError(t, err)
	assert.Equal(t, LocalDelivered, out)
	assert.Equal(t, 1, q.Len(work.Immediate))
	assert.Equal(t, 1, q.Len(work.Deferred))
	q.Run()
	assert.Equal(t, 1, ran)
}

func TestLocalWithoutWaiterFails(t *testing.T) {
	d := New(Config{Tasks: work.New(nil)})
	r := batch.NewRequest(batch.OpDeleteJob, transport.Local, &batch.JobRequest{JobID: "1.svr"})
	frees := countFrees(r)

	out, err := d.Ack(r)
	assert.Equal(t, LocalFailed, out)
	assert.ErrorIs(t, err, &batch.Error{Code: batch.ErrSystem})
	assert.Equal(t, 1, *frees)
}

func TestRemoteSend(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	server := transport.NewConn(a, transport.Config{})
	client := transport.NewConn(b, transport.Config{})
	logger := &captureLogger{}
	d := New(Config{ProtocolLogger: logger})

	r := batch.NewRequest(batch.OpLocateJob, server, &batch.JobRequest{JobID: "3.svr"})
	frees := countFrees(r)

	got := make(chan *batch.Reply, 1)
	go func() {
		msg, err := client.ReadMessage()
		if err != nil {
			t.Errorf("ReadMessage: %v", err)
			got <- nil
			return
		}
		rp, err := batch.DecodeReply(msg)
		if err != nil {
			t.Errorf("DecodeReply: %v", err)
		}
		got <- rp
	}()

	r.Reply.Set(batch.Locate("svr2"))
	out, err := d.Send(r)
	require.NoError(t, err)
	assert.Equal(t, RemoteSent, out)
	assert.Equal(t, 1, *frees)

	rp := <-got
	require.NotNil(t, rp)
	assert.Equal(t, batch.ChoiceLocate, rp.Choice())
	assert.Equal(t, batch.Locate("svr2"), rp.Payload())

	require.Len(t, logger.events, 1)
	msg := logger.events[0].Message
	require.NotNil(t, msg)
	assert.Equal(t, log.MessageTypeReply, msg.Type)
	assert.Equal(t, "3.svr", msg.Object)
}

func TestRemoteFlushFailureClosesConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	server := transport.NewConn(a, transport.Config{WriteTimeout: 20 * time.Millisecond})
	var logs bytes.Buffer
	d := New(Config{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})

	r := batch.NewRequest(batch.OpDeleteJob, server, &batch.JobRequest{JobID: "4.svr"})
	frees := countFrees(r)

	// Nobody reads b, so the flush times out.
	out, err := d.Reject(r, batch.ErrUnkJobID, 0)
	assert.Equal(t, RemoteFailed, out)
	assert.ErrorIs(t, err, transport.ErrWriteTimeout)
	assert.True(t, server.Closed())
	assert.Equal(t, 1, *frees)
	assert.Equal(t, 0, server.Writer().Len())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "DIS reply failure: write timed out", entry["msg"])
	assert.Equal(t, server.ID(), entry["conn"])
	assert.Equal(t, server.Host(), entry["host"])
}

func TestReplyHelpers(t *testing.T) {
	q := work.New(nil)
	d := New(Config{Tasks: q})
	newLocal := func() *batch.Request {
		r := batch.NewRequest(batch.OpStatusJob, transport.Local, &batch.StatusRequest{})
		q.Defer(func(*work.Task) {}, r)
		return r
	}

	t.Run("reject", func(t *testing.T) {
		r := newLocal()
		r.Reply.Set(batch.SelectList{"a"})
		_, err := d.Reject(r, batch.ErrPerm, 0)
		require.NoError(t, err)
		text, _ := r.Reply.Text()
		assert.Equal(t, batch.ErrPerm.Message(), text)
	})

	t.Run("bad attribute", func(t *testing.T) {
		r := newLocal()
		list := []attr.Fragment{{Name: "Job_Name"}, {Name: "Resource_List", Resource: "ncpus"}}
		_, err := d.BadAttr(r, batch.ErrNoAttr, 2, list)
		require.NoError(t, err)
		text, _ := r.Reply.Text()
		assert.Equal(t, batch.ErrNoAttr.Message()+" Resource_List.ncpus", text)
		assert.Equal(t, 2, r.Reply.Aux)
	})

	t.Run("empty text", func(t *testing.T) {
		r := newLocal()
		_, err := d.Text(r, batch.ErrBadState, "")
		require.NoError(t, err)
		assert.Equal(t, batch.ChoiceNull, r.Reply.Choice())
		assert.Equal(t, batch.ErrBadState, r.Reply.Code)
	})

	t.Run("job id", func(t *testing.T) {
		r := newLocal()
		r.Reply.Code = batch.ErrSystem
		_, err := d.JobID(r, "12.svr")
		require.NoError(t, err)
		assert.Equal(t, batch.Success, r.Reply.Code)
		assert.Equal(t, batch.JobID("12.svr"), r.Reply.Payload())
	})

	t.Run("payload", func(t *testing.T) {
		r := newLocal()
		_, err := d.Payload(r, batch.Locate("svr2"))
		require.NoError(t, err)
		assert.Equal(t, batch.ChoiceLocate, r.Reply.Choice())
	})
}
