package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks event files written as zstd archives.
const CompressedSuffix = ".zst"

// FileLogger appends events to a CBOR event file. A path ending in
// CompressedSuffix is written through a zstd encoder; such archives are
// closed as a single stream and cannot be appended to later.
type FileLogger struct {
	file    *os.File
	zw      *zstd.Encoder
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
	compressed := strings.HasSuffix(path, CompressedSuffix)
	if compressed {
		flags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}

	l := &FileLogger{file: f}
	var w io.Writer = f
	if compressed {
		l.zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, err
		}
		w = l.zw
	}
	l.encoder = newEncoder(w)
	return l, nil
}

// Log writes an event. Encoding errors are dropped.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Close flushes and closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.zw != nil {
		if err := l.zw.Close(); err != nil {
			l.file.Close()
			return err
		}
	}
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
