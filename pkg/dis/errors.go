package dis

import (
	"errors"
	"fmt"
)

// Code is a DIS result code as carried in logs and protocol errors.
type Code int

// DIS result codes.
const (
	Success  Code = 0
	Overflow Code = 1
	HugeVal  Code = 2
	BadSign  Code = 3
	LeadZero Code = 4
	NonDigit Code = 5
	NullStr  Code = 6
	EOD      Code = 7
	NoMalloc Code = 8
	Proto    Code = 9
	NoCommit Code = 10
	EOF      Code = 11
)

var codeNames = [...]string{
	Success:  "success",
	Overflow: "overflow",
	HugeVal:  "value too large",
	BadSign:  "negative value where unsigned expected",
	LeadZero: "leading zero",
	NonDigit: "non-digit",
	NullStr:  "null string",
	EOD:      "end of data",
	NoMalloc: "allocation failed",
	Proto:    "protocol error",
	NoCommit: "commit failed",
	EOF:      "end of file",
}

// String returns the code description.
func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code %d", int(c))
}

// Error is a decode or encode failure carrying its DIS code.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return "dis: " + e.Code.String()
}

// Codec errors. Compare with errors.Is.
var (
	ErrOverflow = &Error{Code: Overflow}
	ErrHugeVal  = &Error{Code: HugeVal}
	ErrBadSign  = &Error{Code: BadSign}
	ErrLeadZero = &Error{Code: LeadZero}
	ErrNonDigit = &Error{Code: NonDigit}
	ErrNullStr  = &Error{Code: NullStr}
	ErrEOD      = &Error{Code: EOD}
	ErrNoMalloc = &Error{Code: NoMalloc}
	ErrProto    = &Error{Code: Proto}
	ErrNoCommit = &Error{Code: NoCommit}
	ErrEOF      = &Error{Code: EOF}
)

// CodeOf returns the DIS code of err. Nil maps to Success and errors that
// did not originate in this package map to Proto.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return Proto
}
