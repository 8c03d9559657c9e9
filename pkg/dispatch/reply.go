package dispatch

import (
	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
)

// Ack sends a success reply with no payload.
func (d *Dispatcher) Ack(r *batch.Request) (Outcome, error) {
	r.Reply.Reset()
	return d.Send(r)
}

// Reject sends an error reply carrying the default text for code.
func (d *Dispatcher) Reject(r *batch.Request, code batch.Code, aux int) (Outcome, error) {
	if code != batch.Success {
		d.logger.Debug("Reject reply",
			"code", int(code), "aux", aux, "type", r.Type, "user", r.User, "host", r.Host)
	}
	r.Reply.Reset()
	r.Reply.Code = code
	r.Reply.Aux = aux
	if code != batch.Success {
		r.Reply.Set(batch.Text(code.Message()))
	}
	return d.Send(r)
}

// BadAttr rejects r naming the attribute at 1-based position aux of list.
func (d *Dispatcher) BadAttr(r *batch.Request, code batch.Code, aux int, list []attr.Fragment) (Outcome, error) {
	msg := code.Message()
	if aux >= 1 && aux <= len(list) {
		f := list[aux-1]
		msg += " " + f.Name
		if f.Resource != "" {
			msg += "." + f.Resource
		}
	}
	r.Reply.Reset()
	r.Reply.Code = code
	r.Reply.Aux = aux
	r.Reply.Set(batch.Text(msg))
	return d.Send(r)
}

// Text sends a reply with code and text. Empty text sends no payload.
func (d *Dispatcher) Text(r *batch.Request, code batch.Code, text string) (Outcome, error) {
	r.Reply.Reset()
	r.Reply.Code = code
	if text != "" {
		r.Reply.Set(batch.Text(text))
	}
	return d.Send(r)
}

// JobID sends a success reply carrying a job identifier.
func (d *Dispatcher) JobID(r *batch.Request, id string) (Outcome, error) {
	r.Reply.Reset()
	r.Reply.Set(batch.JobID(id))
	return d.Send(r)
}

// Payload sends a success reply carrying p.
func (d *Dispatcher) Payload(r *batch.Request, p batch.Payload) (Outcome, error) {
	r.Reply.Reset()
	r.Reply.Set(p)
	return d.Send(r)
}
