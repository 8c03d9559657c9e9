package dis

import (
	"io"
)

// MaxStringLength caps strings read with ReadString.
const MaxStringLength = 1 << 20

// WriteCountedString writes len(p) followed by p and commits both as one
// value.
func WriteCountedString(w Writer, p []byte) error {
	b := appendInteger(make([]byte, 0, len(p)+8), false, uint64(len(p)))
	return write(w, append(b, p...))
}

// WriteString writes s as a counted string.
func WriteString(w Writer, s string) error {
	return WriteCountedString(w, []byte(s))
}

// ReadCountedString reads a counted string of at most maxLen bytes.
//
// A negative length fails with ErrBadSign, a length above maxLen with
// ErrOverflow, and a payload shorter than the length with ErrProto. On any
// failure the stream is rolled back to its checkpoint and nil is returned.
func ReadCountedString(r Reader, maxLen int) ([]byte, error) {
	var out []byte
	neg, n, err := readInteger(r)
	if err == nil {
		switch {
		case neg:
			err = ErrBadSign
		case n > uint64(maxLen):
			err = ErrOverflow
		default:
			out = make([]byte, n)
			if _, rerr := io.ReadFull(r, out); rerr != nil {
				err = ErrProto
			}
		}
	}
	if err = commit(r, err); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadString reads a counted string of at most MaxStringLength bytes.
func ReadString(r Reader) (string, error) {
	b, err := ReadCountedString(r, MaxStringLength)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
