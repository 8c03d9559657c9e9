package dis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

const (
	// maxRecursion bounds the digit-count prefix chain.
	maxRecursion = 30

	// maxDigits is the digit count of math.MaxUint64.
	maxDigits = 20
)

// WriteUnsigned writes v and commits it.
func WriteUnsigned(w Writer, v uint64) error {
	return write(w, appendInteger(nil, false, v))
}

// WriteSigned writes v and commits it.
func WriteSigned(w Writer, v int64) error {
	if v < 0 {
		// -(v+1)+1 avoids overflow for math.MinInt64.
		return write(w, appendInteger(nil, true, uint64(-(v+1))+1))
	}
	return write(w, appendInteger(nil, false, uint64(v)))
}

// ReadUnsigned reads an unsigned integer. A negative value fails with
// ErrBadSign. On failure the stream is rolled back and 0 is returned.
func ReadUnsigned(r Reader) (uint64, error) {
	neg, v, err := readInteger(r)
	if err == nil && neg && v != 0 {
		err = ErrBadSign
	}
	if err = commit(r, err); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadSigned reads a signed integer. On failure the stream is rolled back
// and 0 is returned.
func ReadSigned(r Reader) (int64, error) {
	neg, v, err := readInteger(r)
	if err == nil {
		switch {
		case !neg && v > math.MaxInt64:
			err = ErrOverflow
		case neg && v > uint64(math.MaxInt64)+1:
			err = ErrOverflow
		}
	}
	if err = commit(r, err); err != nil {
		return 0, err
	}
	if neg && v > 0 {
		return -int64(v-1) - 1, nil
	}
	return int64(v), nil
}

// appendInteger appends the encoded form of a sign and magnitude to dst.
func appendInteger(dst []byte, neg bool, v uint64) []byte {
	digits := strconv.AppendUint(nil, v, 10)

	var counts []string
	for n := len(digits); n > 1; {
		c := strconv.Itoa(n)
		counts = append(counts, c)
		n = len(c)
	}
	for i := len(counts) - 1; i >= 0; i-- {
		dst = append(dst, counts[i]...)
	}

	if neg {
		dst = append(dst, '-')
	} else {
		dst = append(dst, '+')
	}
	return append(dst, digits...)
}

// readInteger decodes one integer without committing.
func readInteger(r Reader) (neg bool, v uint64, err error) {
	count := uint64(1)
	for level := 0; level < maxRecursion; level++ {
		c, err := readByte(r)
		if err != nil {
			return false, 0, err
		}
		switch {
		case c == '+' || c == '-':
			v, err := readDigits(r, 0, count)
			if err != nil {
				return false, 0, err
			}
			return c == '-', v, nil
		case c == '0':
			return false, 0, ErrLeadZero
		case c >= '1' && c <= '9':
			n, err := readDigits(r, uint64(c-'0'), count-1)
			if err != nil {
				return false, 0, err
			}
			count = n
		default:
			return false, 0, ErrNonDigit
		}
	}
	return false, 0, fmt.Errorf("%w: count prefix exceeds %d levels", ErrOverflow, maxRecursion)
}

// readDigits reads k decimal digits and accumulates them onto v.
func readDigits(r Reader, v uint64, k uint64) (uint64, error) {
	if k > maxDigits {
		return 0, ErrOverflow
	}
	for ; k > 0; k-- {
		c, err := readByte(r)
		if err != nil {
			return 0, err
		}
		if c < '0' || c > '9' {
			return 0, ErrNonDigit
		}
		d := uint64(c - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, ErrOverflow
		}
		v = v*10 + d
	}
	return v, nil
}

func readByte(r Reader) (byte, error) {
	c, err := r.ReadByte()
	if err == nil {
		return c, nil
	}
	var de *Error
	switch {
	case errors.As(err, &de):
		return 0, err
	case errors.Is(err, io.EOF):
		return 0, ErrEOF
	default:
		return 0, fmt.Errorf("%w: %w", ErrProto, err)
	}
}

// commit closes one primitive operation. A checkpoint failure overrides
// the result of the operation.
func commit(s interface{ Commit(bool) error }, err error) error {
	if cerr := s.Commit(err == nil); cerr != nil {
		return fmt.Errorf("%w: %w", ErrNoCommit, cerr)
	}
	return err
}

func write(w Writer, b []byte) error {
	_, err := w.Write(b)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProto, err)
	}
	return commit(w, err)
}
