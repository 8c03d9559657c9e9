package batch

import (
	"errors"
	"fmt"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/dis"
)

// Codec errors.
var (
	ErrProtocolMismatch = errors.New("batch: protocol type or version mismatch")
	ErrUnknownOperation = errors.New("batch: unknown request type")
	ErrListTooLong      = errors.New("batch: list too long")
)

// maxListLen bounds decoded list counts.
const maxListLen = 1 << 16

// mgrCmdDelete is the manager sub-command carried in a DeleteJob body.
const (
	mgrCmdDelete = 1
)

// EncodeRequest writes r to w.
func EncodeRequest(w dis.Writer, r *Request) error {
	if err := encodeHeader(w, r.Type, r.User); err != nil {
		return fmt.Errorf("%s header: %w", r.Type, err)
	}
	if err := encodeBody(w, r); err != nil {
		return fmt.Errorf("%s body: %w", r.Type, err)
	}
	if err := encodeExtend(w, r.Extend); err != nil {
		return fmt.Errorf("%s extension: %w", r.Type, err)
	}
	return nil
}

func encodeHeader(w dis.Writer, op Operation, user string) error {
	if err := dis.WriteUnsigned(w, ProtType); err != nil {
		return err
	}
	if err := dis.WriteUnsigned(w, ProtVersion); err != nil {
		return err
	}
	if err := dis.WriteUnsigned(w, uint64(op)); err != nil {
		return err
	}
	return dis.WriteString(w, user)
}

func encodeExtend(w dis.Writer, ext string) error {
	if ext == "" {
		return dis.WriteUnsigned(w, 0)
	}
	if err := dis.WriteUnsigned(w, 1); err != nil {
		return err
	}
	return dis.WriteString(w, ext)
}

func encodeBody(w dis.Writer, r *Request) error {
	switch r.Type {
	case OpConnect, OpDisconnect:
		return nil
	case OpDeleteJob:
		b, err := body[*JobRequest](r)
		if err != nil {
			return err
		}
		if err := dis.WriteUnsigned(w, mgrCmdDelete); err != nil {
			return err
		}
		if err := dis.WriteUnsigned(w, uint64(KindJob)); err != nil {
			return err
		}
		if err := dis.WriteString(w, b.JobID); err != nil {
			return err
		}
		return writeAttrList(w, nil)
	case OpLocateJob:
		b, err := body[*JobRequest](r)
		if err != nil {
			return err
		}
		return dis.WriteString(w, b.JobID)
	case OpSignalJob:
		b, err := body[*SignalRequest](r)
		if err != nil {
			return err
		}
		if err := dis.WriteString(w, b.JobID); err != nil {
			return err
		}
		return dis.WriteString(w, b.Signal)
	case OpStatusJob, OpStatusQueue, OpStatusSvr, OpStatusNode:
		b, err := body[*StatusRequest](r)
		if err != nil {
			return err
		}
		if err := dis.WriteString(w, b.ID); err != nil {
			return err
		}
		return writeAttrList(w, b.Attrs)
	case OpSelectJobs:
		b, err := body[*SelectRequest](r)
		if err != nil {
			return err
		}
		return writeAttrList(w, b.Criteria)
	case OpRescQuery:
		b, err := body[*RescQueryRequest](r)
		if err != nil {
			return err
		}
		if err := dis.WriteUnsigned(w, uint64(len(b.Resources))); err != nil {
			return err
		}
		for _, name := range b.Resources {
			if err := dis.WriteString(w, name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOperation, int(r.Type))
	}
}

func body[T Body](r *Request) (T, error) {
	b, ok := r.Body.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("body is %T, want %T", r.Body, zero)
	}
	return b, nil
}

// DecodeRequest reads one request from rd. When the header decodes but the
// request type is unknown, the partial request is returned together with
// ErrUnknownOperation so the caller can reject it.
func DecodeRequest(rd dis.Reader) (*Request, error) {
	pt, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	ver, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if pt != ProtType || ver != ProtVersion {
		return nil, fmt.Errorf("%w: %d/%d", ErrProtocolMismatch, pt, ver)
	}
	op, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	user, err := dis.ReadString(rd)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	r := &Request{Type: Operation(op), User: user}
	if r.Body, err = decodeBody(rd, r.Type); err != nil {
		return r, err
	}

	flag, err := dis.ReadUnsigned(rd)
	if err != nil {
		return r, fmt.Errorf("%s extension: %w", r.Type, err)
	}
	if flag != 0 {
		if r.Extend, err = dis.ReadString(rd); err != nil {
			return r, fmt.Errorf("%s extension: %w", r.Type, err)
		}
	}
	return r, nil
}

func decodeBody(rd dis.Reader, op Operation) (Body, error) {
	wrap := func(err error) error { return fmt.Errorf("%s body: %w", op, err) }

	switch op {
	case OpConnect, OpDisconnect:
		return nil, nil
	case OpDeleteJob:
		if _, err := dis.ReadUnsigned(rd); err != nil {
			return nil, wrap(err)
		}
		if _, err := dis.ReadUnsigned(rd); err != nil {
			return nil, wrap(err)
		}
		id, err := dis.ReadString(rd)
		if err != nil {
			return nil, wrap(err)
		}
		if _, err := readAttrList(rd); err != nil {
			return nil, wrap(err)
		}
		return &JobRequest{JobID: id}, nil
	case OpLocateJob:
		id, err := dis.ReadString(rd)
		if err != nil {
			return nil, wrap(err)
		}
		return &JobRequest{JobID: id}, nil
	case OpSignalJob:
		id, err := dis.ReadString(rd)
		if err != nil {
			return nil, wrap(err)
		}
		sig, err := dis.ReadString(rd)
		if err != nil {
			return nil, wrap(err)
		}
		return &SignalRequest{JobID: id, Signal: sig}, nil
	case OpStatusJob, OpStatusQueue, OpStatusSvr, OpStatusNode:
		id, err := dis.ReadString(rd)
		if err != nil {
			return nil, wrap(err)
		}
		attrs, err := readAttrList(rd)
		if err != nil {
			return nil, wrap(err)
		}
		return &StatusRequest{ID: id, Attrs: attrs}, nil
	case OpSelectJobs:
		crit, err := readAttrList(rd)
		if err != nil {
			return nil, wrap(err)
		}
		return &SelectRequest{Criteria: crit}, nil
	case OpRescQuery:
		n, err := readCount(rd)
		if err != nil {
			return nil, wrap(err)
		}
		names := make([]string, n)
		for i := range names {
			if names[i], err = dis.ReadString(rd); err != nil {
				return nil, wrap(err)
			}
		}
		return &RescQueryRequest{Resources: names}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, int(op))
	}
}

// EncodeReply writes rp to w.
func EncodeReply(w dis.Writer, rp *Reply) error {
	if err := dis.WriteUnsigned(w, ProtType); err != nil {
		return err
	}
	if err := dis.WriteUnsigned(w, ProtVersion); err != nil {
		return err
	}
	if err := dis.WriteSigned(w, int64(rp.Code)); err != nil {
		return err
	}
	if err := dis.WriteSigned(w, int64(rp.Aux)); err != nil {
		return err
	}
	if err := dis.WriteUnsigned(w, uint64(rp.Choice())); err != nil {
		return err
	}

	switch p := rp.Payload().(type) {
	case nil:
		return nil
	case Text:
		return dis.WriteString(w, string(p))
	case JobID:
		return dis.WriteString(w, string(p))
	case Locate:
		return dis.WriteString(w, string(p))
	case SelectList:
		if err := dis.WriteUnsigned(w, uint64(len(p))); err != nil {
			return err
		}
		for _, id := range p {
			if err := dis.WriteString(w, id); err != nil {
				return err
			}
		}
		return nil
	case StatusList:
		if err := dis.WriteUnsigned(w, uint64(len(p))); err != nil {
			return err
		}
		for _, e := range p {
			if err := dis.WriteUnsigned(w, uint64(e.Kind)); err != nil {
				return err
			}
			if err := dis.WriteString(w, e.Name); err != nil {
				return err
			}
			if err := writeAttrList(w, e.Attrs.Fragments()); err != nil {
				return err
			}
		}
		return nil
	case *ResourceQuery:
		if err := dis.WriteUnsigned(w, uint64(len(p.Avail))); err != nil {
			return err
		}
		for _, arr := range [][]int64{p.Avail, p.Alloc, p.Resvd, p.Down} {
			for i := range p.Avail {
				var v int64
				if i < len(arr) {
					v = arr[i]
				}
				if err := dis.WriteSigned(w, v); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("batch: unsupported payload %T", p)
	}
}

// DecodeReply reads one reply from rd.
func DecodeReply(rd dis.Reader) (*Reply, error) {
	pt, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, err
	}
	ver, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, err
	}
	if pt != ProtType || ver != ProtVersion {
		return nil, fmt.Errorf("%w: %d/%d", ErrProtocolMismatch, pt, ver)
	}

	rp := &Reply{}
	code, err := dis.ReadSigned(rd)
	if err != nil {
		return nil, err
	}
	aux, err := dis.ReadSigned(rd)
	if err != nil {
		return nil, err
	}
	choice, err := dis.ReadUnsigned(rd)
	if err != nil {
		return nil, err
	}
	rp.Code, rp.Aux = Code(code), int(aux)

	switch Choice(choice) {
	case ChoiceNull:
	case ChoiceText, ChoiceQueue, ChoiceRdytoCom, ChoiceCommit, ChoiceLocate:
		s, err := dis.ReadString(rd)
		if err != nil {
			return nil, err
		}
		switch Choice(choice) {
		case ChoiceText:
			rp.Set(Text(s))
		case ChoiceLocate:
			rp.Set(Locate(s))
		default:
			rp.Set(JobID(s))
		}
	case ChoiceSelect:
		n, err := readCount(rd)
		if err != nil {
			return nil, err
		}
		ids := make(SelectList, n)
		for i := range ids {
			if ids[i], err = dis.ReadString(rd); err != nil {
				return nil, err
			}
		}
		rp.Set(ids)
	case ChoiceStatus:
		n, err := readCount(rd)
		if err != nil {
			return nil, err
		}
		list := make(StatusList, 0, n)
		for i := 0; i < n; i++ {
			kind, err := dis.ReadUnsigned(rd)
			if err != nil {
				return nil, err
			}
			name, err := dis.ReadString(rd)
			if err != nil {
				return nil, err
			}
			frags, err := readAttrList(rd)
			if err != nil {
				return nil, err
			}
			e := &StatusEntry{Kind: ObjectKind(kind), Name: name}
			e.Attrs.AppendFragments(frags...)
			list = append(list, e)
		}
		rp.Set(list)
	case ChoiceRescQuery:
		n, err := readCount(rd)
		if err != nil {
			return nil, err
		}
		q := &ResourceQuery{}
		for _, dst := range []*[]int64{&q.Avail, &q.Alloc, &q.Resvd, &q.Down} {
			*dst = make([]int64, n)
			for i := range *dst {
				if (*dst)[i], err = dis.ReadSigned(rd); err != nil {
					return nil, err
				}
			}
		}
		rp.Set(q)
	default:
		return nil, fmt.Errorf("%w: reply choice %d", ErrProtocolMismatch, choice)
	}
	return rp, nil
}

func writeAttrList(w dis.Writer, frags []attr.Fragment) error {
	if err := dis.WriteUnsigned(w, uint64(len(frags))); err != nil {
		return err
	}
	for _, f := range frags {
		if err := dis.WriteUnsigned(w, uint64(f.Size())); err != nil {
			return err
		}
		if err := dis.WriteString(w, f.Name); err != nil {
			return err
		}
		if f.Resource != "" {
			if err := dis.WriteUnsigned(w, 1); err != nil {
				return err
			}
			if err := dis.WriteString(w, f.Resource); err != nil {
				return err
			}
		} else if err := dis.WriteUnsigned(w, 0); err != nil {
			return err
		}
		if err := dis.WriteString(w, f.Value); err != nil {
			return err
		}
		if err := dis.WriteUnsigned(w, uint64(f.Op)); err != nil {
			return err
		}
	}
	return nil
}

func readAttrList(rd dis.Reader) ([]attr.Fragment, error) {
	n, err := readCount(rd)
	if err != nil {
		return nil, err
	}
	var frags []attr.Fragment
	for i := 0; i < n; i++ {
		var f attr.Fragment
		if _, err := dis.ReadUnsigned(rd); err != nil {
			return nil, err
		}
		if f.Name, err = dis.ReadString(rd); err != nil {
			return nil, err
		}
		hasResc, err := dis.ReadUnsigned(rd)
		if err != nil {
			return nil, err
		}
		if hasResc != 0 {
			if f.Resource, err = dis.ReadString(rd); err != nil {
				return nil, err
			}
		}
		if f.Value, err = dis.ReadString(rd); err != nil {
			return nil, err
		}
		op, err := dis.ReadUnsigned(rd)
		if err != nil {
			return nil, err
		}
		f.Op = attr.Op(op)
		frags = append(frags, f)
	}
	return frags, nil
}

func readCount(rd dis.Reader) (int, error) {
	n, err := dis.ReadUnsigned(rd)
	if err != nil {
		return 0, err
	}
	if n > maxListLen {
		return 0, fmt.Errorf("%w: %d", ErrListTooLong, n)
	}
	return int(n), nil
}
