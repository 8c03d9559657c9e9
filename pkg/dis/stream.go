package dis

import (
	"io"
)

// Reader is an input stream with a read checkpoint.
type Reader interface {
	io.Reader
	io.ByteReader

	// Commit releases the checkpoint when ok is true and rewinds the read
	// position to it otherwise.
	Commit(ok bool) error
}

// Writer is an output stream with a write checkpoint.
type Writer interface {
	io.Writer
	io.ByteWriter

	// Commit keeps everything written since the last checkpoint when ok is
	// true and discards it otherwise.
	Commit(ok bool) error
}

// ReadBuffer is a Reader over one complete message.
// ReadByte returns ErrEOD once the message is exhausted.
type ReadBuffer struct {
	data []byte
	pos  int
	mark int
}

// NewReadBuffer returns a ReadBuffer over data. The slice is not copied.
func NewReadBuffer(data []byte) *ReadBuffer {
	return &ReadBuffer{data: data}
}

// ReadByte reads one byte.
func (b *ReadBuffer) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, ErrEOD
	}
	c := b.data[b.pos]
	b.pos++
	return c, nil
}

// Read reads up to len(p) bytes and returns io.EOF once the message is
// exhausted.
func (b *ReadBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// Commit implements Reader.
func (b *ReadBuffer) Commit(ok bool) error {
	if ok {
		b.mark = b.pos
	} else {
		b.pos = b.mark
	}
	return nil
}

// Pos returns the current read offset.
func (b *ReadBuffer) Pos() int {
	return b.pos
}

// Len returns the number of unread bytes.
func (b *ReadBuffer) Len() int {
	return len(b.data) - b.pos
}

// WriteBuffer is a Writer that accumulates one outbound message.
type WriteBuffer struct {
	buf       []byte
	committed int
}

// NewWriteBuffer returns an empty WriteBuffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{}
}

// Write appends p.
func (b *WriteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends c.
func (b *WriteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Commit implements Writer.
func (b *WriteBuffer) Commit(ok bool) error {
	if ok {
		b.committed = len(b.buf)
	} else {
		b.buf = b.buf[:b.committed]
	}
	return nil
}

// Bytes returns the committed bytes. Uncommitted data is never exposed.
func (b *WriteBuffer) Bytes() []byte {
	return b.buf[:b.committed]
}

// Len returns the number of committed bytes.
func (b *WriteBuffer) Len() int {
	return b.committed
}

// Reset discards all data, committed or not.
func (b *WriteBuffer) Reset() {
	b.buf = b.buf[:0]
	b.committed = 0
}

// Compile-time interface satisfaction checks.
var (
	_ Reader = (*ReadBuffer)(nil)
	_ Writer = (*WriteBuffer)(nil)
)
