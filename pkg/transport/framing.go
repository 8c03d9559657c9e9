package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/geoyin/openpbs/pkg/log"
	"golang.org/x/crypto/blake2b"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size (1 MB).
	// Status replies for large job tables are bigger than typical requests.
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize caps the frame bytes copied into log events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// Framer reads and writes length-prefixed frames. It does no locking;
// Conn serializes writers.
type Framer struct {
	rw             io.ReadWriter
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte

	logger log.Logger
	connID string
	remote string
}

// NewFramer creates a framer with the given max message size. Zero selects
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{rw: rw, maxMessageSize: maxSize}
}

// SetLogger configures frame logging. Pass nil to disable.
func (f *Framer) SetLogger(logger log.Logger, connID, remote string) {
	f.logger = logger
	f.connID = connID
	f.remote = remote
}

// WriteFrame writes one frame.
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > f.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), f.maxMessageSize)
	}

	frame := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)

	if _, err := f.rw.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if f.logger != nil {
		f.logger.Log(f.frameEvent(data, log.DirectionOut))
	}
	return nil
}

// ReadFrame reads one frame and returns its payload.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(f.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > f.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if f.logger != nil {
		f.logger.Log(f.frameEvent(payload, log.DirectionIn))
	}
	return payload, nil
}

func (f *Framer) frameEvent(data []byte, direction log.Direction) log.Event {
	digest := blake2b.Sum256(data)
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: f.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   f.remote,
		Frame: &log.FrameEvent{
			Size:      LengthPrefixSize + len(data),
			Data:      append([]byte(nil), frameData...),
			Truncated: truncated,
			Digest:    digest[:],
		},
	}
}
