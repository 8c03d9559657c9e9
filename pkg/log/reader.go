package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// Operation matches message events of one request type.
	Operation *int

	// ErrorsOnly matches replies with a non-zero code and error events.
	ErrorsOnly bool

	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether the event satisfies every criterion.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.Operation != nil && (event.Message == nil || event.Message.Operation != *f.Operation) {
		return false
	}
	if f.ErrorsOnly && !isFailure(event) {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

func isFailure(event Event) bool {
	if event.Error != nil {
		return true
	}
	return event.Message != nil && event.Message.Code != nil && *event.Message.Code != 0
}

// Reader streams events from an event file, plain or zstd-compressed.
type Reader struct {
	file    *os.File
	zr      *zstd.Decoder
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader reads all events from path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader reads the events of path that match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: f, filter: filter}
	var src io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r.zr, err = zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		src = r.zr
	}
	r.decoder = newDecoder(src)
	return r, nil
}

// Next returns the next matching event, or io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Close releases the file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.file.Close()
}
