package batch

import (
	"time"

	"github.com/geoyin/openpbs/pkg/log"
)

// RequestEvent describes r for the protocol log.
func RequestEvent(r *Request) *log.MessageEvent {
	return &log.MessageEvent{
		Type:          log.MessageTypeRequest,
		Operation:     int(r.Type),
		OperationName: r.Type.String(),
		User:          r.User,
		Object:        r.Object(),
	}
}

// ReplyEvent describes the reply of r for the protocol log. A zero now
// omits the processing time.
func ReplyEvent(r *Request, now time.Time) *log.MessageEvent {
	code := int(r.Reply.Code)
	aux := r.Reply.Aux
	choice := int(r.Reply.Choice())
	ev := &log.MessageEvent{
		Type:          log.MessageTypeReply,
		Operation:     int(r.Type),
		OperationName: r.Type.String(),
		User:          r.User,
		Object:        r.Object(),
		Code:          &code,
		Aux:           &aux,
		Choice:        &choice,
	}
	if !now.IsZero() && !r.Received.IsZero() {
		d := now.Sub(r.Received)
		ev.ProcessingTime = &d
	}
	return ev
}
