package batch

import (
	"fmt"
)

// Code is a batch reply code. Zero is success.
type Code int

// Reply codes.
const (
	Success        Code = 0
	ErrUnkJobID    Code = 15001
	ErrNoAttr      Code = 15002
	ErrAttrRO      Code = 15003
	ErrIvalReq     Code = 15004
	ErrUnkReq      Code = 15005
	ErrPerm        Code = 15007
	ErrSystem      Code = 15010
	ErrInternal    Code = 15011
	ErrUnkSig      Code = 15013
	ErrBadAtVal    Code = 15014
	ErrBadState    Code = 15016
	ErrUnkQue      Code = 15018
	ErrProtocol    Code = 15031
	ErrNoServer    Code = 15034
	ErrUnkResc     Code = 15035
	ErrHistJobDel  Code = 15139
	ErrBadAttrList Code = 15032
)

var codeMessages = map[Code]string{
	Success:        "Success",
	ErrUnkJobID:    "Unknown Job Id",
	ErrNoAttr:      "Undefined attribute",
	ErrAttrRO:      "Cannot set attribute, read only or insufficient permission",
	ErrIvalReq:     "Invalid request",
	ErrUnkReq:      "Unknown request",
	ErrPerm:        "Unauthorized Request",
	ErrSystem:      "System error",
	ErrInternal:    "Server internal error",
	ErrUnkSig:      "Unknown signal name",
	ErrBadAtVal:    "Illegal attribute or resource value",
	ErrBadState:    "Request invalid for state of job",
	ErrUnkQue:      "Unknown queue",
	ErrProtocol:    "Protocol failure",
	ErrNoServer:    "No server to connect to",
	ErrUnkResc:     "Unknown resource",
	ErrHistJobDel:  "Job history has been deleted",
	ErrBadAttrList: "Bad attribute list structure",
}

// Message returns the default text for the code.
func (c Code) Message() string {
	if s, ok := codeMessages[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}

// String returns the default text for the code.
func (c Code) String() string {
	return c.Message()
}

// Error is a failed reply as seen by a caller.
type Error struct {
	Code Code
	Aux  int
	Text string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Code.Message()
}

// Is matches any *Error with the same code, so callers can test
// errors.Is(err, &batch.Error{Code: batch.ErrUnkJobID}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}
