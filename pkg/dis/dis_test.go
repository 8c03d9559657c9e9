package dis

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestWriteUnsignedForm(t *testing.T) {
	tests := []struct {
		value uint64
		want  string
	}{
		{0, "+0"},
		{5, "+5"},
		{42, "2+42"},
		{123, "3+123"},
		{1234567890, "210+1234567890"},
		{math.MaxUint64, "220+18446744073709551615"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			w := NewWriteBuffer()
			if err := WriteUnsigned(w, tt.value); err != nil {
				t.Fatalf("WriteUnsigned: %v", err)
			}
			if got := string(w.Bytes()); got != tt.want {
				t.Errorf("encoded = %q, want %q", got, tt.want)
			}

			got, err := ReadUnsigned(NewReadBuffer(w.Bytes()))
			if err != nil {
				t.Fatalf("ReadUnsigned: %v", err)
			}
			if got != tt.value {
				t.Errorf("decoded = %d, want %d", got, tt.value)
			}
		})
	}
}

func TestSignedRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 15001, -15001, math.MaxInt64, math.MinInt64}

	for _, v := range values {
		w := NewWriteBuffer()
		if err := WriteSigned(w, v); err != nil {
			t.Fatalf("WriteSigned(%d): %v", v, err)
		}
		got, err := ReadSigned(NewReadBuffer(w.Bytes()))
		if err != nil {
			t.Fatalf("ReadSigned(%q): %v", w.Bytes(), err)
		}
		if got != v {
			t.Errorf("round trip %d -> %q -> %d", v, w.Bytes(), got)
		}
	}
}

func TestReadIntegerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEOD},
		{"leading zero", "03+123", ErrLeadZero},
		{"non digit", "x", ErrNonDigit},
		{"non digit in value", "3+1a3", ErrNonDigit},
		{"truncated value", "3+12", ErrEOD},
		{"negative unsigned", "-7", ErrBadSign},
		{"too many digits", "221+123456789012345678901", ErrOverflow},
		{"value overflows", "220+18446744073709551616", ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReadBuffer([]byte(tt.input))
			v, err := ReadUnsigned(r)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if v != 0 {
				t.Errorf("value = %d, want 0 on failure", v)
			}
			if r.Pos() != 0 {
				t.Errorf("position = %d, want rollback to 0", r.Pos())
			}
		})
	}
}

func TestReadSignedOverflow(t *testing.T) {
	r := NewReadBuffer([]byte("219+9223372036854775808"))
	if _, err := ReadSigned(r); !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}

func TestCountedStringRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte("Job_Name"),
		bytes.Repeat([]byte("z"), 1234),
		{0x00, 0xff, '+', '-'},
	}

	for _, p := range payloads {
		w := NewWriteBuffer()
		if err := WriteCountedString(w, p); err != nil {
			t.Fatalf("WriteCountedString: %v", err)
		}
		got, err := ReadCountedString(NewReadBuffer(w.Bytes()), len(p))
		if err != nil {
			t.Fatalf("ReadCountedString(%q): %v", w.Bytes(), err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("payload = %q, want %q", got, p)
		}
	}
}

func TestReadCountedStringRollback(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   error
	}{
		{"negative length", "-3abc", 10, ErrBadSign},
		{"exceeds capacity", "2+10abcdefghij", 5, ErrOverflow},
		{"short read", "+5abc", 10, ErrProto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A committed value precedes the string so the checkpoint is
			// not at offset zero.
			input := "3+100" + tt.input
			r := NewReadBuffer([]byte(input))
			if _, err := ReadUnsigned(r); err != nil {
				t.Fatalf("ReadUnsigned: %v", err)
			}
			before := r.Pos()

			got, err := ReadCountedString(r, tt.maxLen)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got != nil {
				t.Errorf("payload = %q, want nil", got)
			}
			if r.Pos() != before {
				t.Errorf("position = %d, want %d", r.Pos(), before)
			}
			if CodeOf(err) != tt.want.(*Error).Code {
				t.Errorf("CodeOf = %v", CodeOf(err))
			}
		})
	}
}

func TestRetryAfterFailedDecode(t *testing.T) {
	r := NewReadBuffer([]byte("-3"))
	if _, err := ReadUnsigned(r); !errors.Is(err, ErrBadSign) {
		t.Fatalf("ReadUnsigned err = %v", err)
	}
	v, err := ReadSigned(r)
	if err != nil {
		t.Fatalf("ReadSigned after rollback: %v", err)
	}
	if v != -3 {
		t.Errorf("value = %d, want -3", v)
	}
}

type failingWriter struct {
	WriteBuffer
	failAfter int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(w.buf)+len(p) > w.failAfter {
		n := w.failAfter - len(w.buf)
		w.buf = append(w.buf, p[:n]...)
		return n, errors.New("disk full")
	}
	return w.WriteBuffer.Write(p)
}

func TestFailedWriteIsDiscarded(t *testing.T) {
	w := &failingWriter{failAfter: 8}
	if err := WriteString(w, "abc"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	committed := string(w.Bytes())

	err := WriteString(w, "longer value")
	if !errors.Is(err, ErrProto) {
		t.Fatalf("err = %v, want ErrProto", err)
	}
	if got := string(w.Bytes()); got != committed {
		t.Errorf("buffer = %q, want %q", got, committed)
	}
	if len(w.buf) != w.Len() {
		t.Errorf("uncommitted bytes left in buffer: %d > %d", len(w.buf), w.Len())
	}
}

type brokenCommit struct {
	*ReadBuffer
}

func (brokenCommit) Commit(bool) error { return errors.New("checkpoint lost") }

func TestCommitFailure(t *testing.T) {
	r := brokenCommit{NewReadBuffer([]byte("+3abc"))}
	_, err := ReadCountedString(r, 10)
	if !errors.Is(err, ErrNoCommit) {
		t.Errorf("err = %v, want ErrNoCommit", err)
	}
}

func TestCodeString(t *testing.T) {
	if BadSign.String() != "negative value where unsigned expected" {
		t.Errorf("BadSign = %q", BadSign.String())
	}
	if Code(99).String() != "code 99" {
		t.Errorf("unknown = %q", Code(99).String())
	}
	if CodeOf(errors.New("other")) != Proto {
		t.Error("foreign errors should map to Proto")
	}
}
