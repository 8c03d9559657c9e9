package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func sampleEvents() []Event {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Event{
		{
			Timestamp:    base,
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerTransport,
			Category:     CategoryMessage,
			Frame:        &FrameEvent{Size: 16, Data: []byte("+2+2+6+0"), Digest: bytes.Repeat([]byte{0xab}, 32)},
		},
		{
			Timestamp:    base.Add(time.Millisecond),
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			Message:      &MessageEvent{Type: MessageTypeRequest, Operation: 6, OperationName: "DeleteJob", User: "alice", Object: "12.svr"},
		},
		{
			Timestamp:    base.Add(2 * time.Millisecond),
			ConnectionID: "conn-1",
			Direction:    DirectionOut,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			Message:      &MessageEvent{Type: MessageTypeReply, Operation: 6, OperationName: "DeleteJob", Code: intPtr(15001), Aux: intPtr(0)},
		},
		{
			Timestamp:    base.Add(3 * time.Millisecond),
			ConnectionID: "conn-2",
			Layer:        LayerService,
			Category:     CategoryError,
			Error:        &ErrorEventData{Layer: LayerTransport, Message: "DIS reply failure", Context: "host n1"},
		},
	}
}

func writeEvents(t *testing.T, path string, events []Event) {
	t.Helper()
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		l.Log(e)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, e)
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := sampleEvents()[2]
	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Message == nil || out.Message.Code == nil || *out.Message.Code != 15001 {
		t.Fatalf("message = %+v", out.Message)
	}
	if out.Message.OperationName != "DeleteJob" {
		t.Errorf("operation = %q", out.Message.OperationName)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	for _, name := range []string{"events.blog", "events.blog" + CompressedSuffix} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			writeEvents(t, path, sampleEvents())

			got := readAll(t, path, Filter{})
			if len(got) != 4 {
				t.Fatalf("read %d events, want 4", len(got))
			}
			if got[0].Frame == nil || len(got[0].Frame.Digest) != 32 {
				t.Errorf("frame digest lost: %+v", got[0].Frame)
			}
			if got[3].Error == nil || got[3].Error.Message != "DIS reply failure" {
				t.Errorf("error event = %+v", got[3].Error)
			}
		})
	}
}

func TestFileLoggerAppendsPlainFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.blog")
	events := sampleEvents()
	writeEvents(t, path, events[:2])
	writeEvents(t, path, events[2:])

	if got := readAll(t, path, Filter{}); len(got) != 4 {
		t.Errorf("read %d events, want 4", len(got))
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.blog")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Close()
	l.Log(sampleEvents()[0])
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if got := readAll(t, path, Filter{}); len(got) != 0 {
		t.Errorf("read %d events, want 0", len(got))
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.blog")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Log(sampleEvents()[1])
			}
		}()
	}
	wg.Wait()
	l.Close()

	if got := readAll(t, path, Filter{}); len(got) != 200 {
		t.Errorf("read %d events, want 200", len(got))
	}
}

func TestFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.blog")
	writeEvents(t, path, sampleEvents())

	wire := LayerWire
	out := DirectionOut
	op := 6
	start := sampleEvents()[1].Timestamp

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "conn-1"}, 3},
		{"layer", Filter{Layer: &wire}, 2},
		{"direction", Filter{Direction: &out}, 1},
		{"operation", Filter{Operation: &op}, 2},
		{"errors only", Filter{ErrorsOnly: true}, 2},
		{"time start", Filter{TimeStart: &start}, 3},
		{"time end", Filter{TimeEnd: &start}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readAll(t, path, tt.filter); len(got) != tt.want {
				t.Errorf("matched %d events, want %d", len(got), tt.want)
			}
		})
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)
	m.Log(sampleEvents()[0])
	NoopLogger{}.Log(sampleEvents()[0])

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan-out = %d/%d, want 1/1", len(a.events), len(b.events))
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	for _, e := range sampleEvents() {
		a.Log(e)
	}

	out := buf.String()
	for _, want := range []string{"operation=DeleteJob", "user=alice", "code=15001", "digest=abababababababab", "error_msg=\"DIS reply failure\""} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
