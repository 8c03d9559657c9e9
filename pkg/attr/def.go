package attr

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Perm is a set of access bits, used both for what a definition allows
// and for what a requester holds.
type Perm uint16

const (
	UserRead Perm = 1 << iota
	UserWrite
	OperRead
	OperWrite
	MgrRead
	MgrWrite
)

const (
	// ReadMask selects the read bits.
	ReadMask = UserRead | OperRead | MgrRead

	// PrivRead is held by operators and managers and selects the
	// privileged encoding.
	PrivRead = OperRead | MgrRead

	// ReadOnly is readable by everyone and writable by no one.
	ReadOnly = ReadMask

	// UserPerm is the access of an ordinary user.
	UserPerm = UserRead | UserWrite

	// OperPerm is the access of an operator.
	OperPerm = UserPerm | OperRead | OperWrite

	// MgrPerm is the access of a manager.
	MgrPerm = OperPerm | MgrRead | MgrWrite
)

// Readable reports whether a holder of perm may read an attribute defined
// with d.
func (d Perm) Readable(perm Perm) bool {
	return d&perm&ReadMask != 0
}

// Op is the operator carried with a wire fragment.
type Op uint8

const (
	OpSet Op = iota
	OpUnset
	OpIncr
	OpDecr
	OpEQ
	OpNE
	OpGE
	OpGT
	OpLE
	OpLT
	OpDflt
)

// Fragment is one wire unit of an encoded attribute.
type Fragment struct {
	Name     string
	Resource string
	Value    string
	Op       Op
}

// Size returns the encoded size of the fragment, counting one terminator
// per string.
func (f Fragment) Size() int {
	return len(f.Name) + len(f.Resource) + len(f.Value) + 3
}

// EncodeFunc renders an attribute into fragments. Returning no fragments
// means the attribute contributes nothing.
type EncodeFunc func(a *Attribute, name string, perm Perm) ([]Fragment, error)

// DecodeFunc parses one wire value into an attribute.
type DecodeFunc func(a *Attribute, resource, value string) error

// ErrBadValue is returned when a value cannot be parsed for its type.
var ErrBadValue = errors.New("bad attribute value")

// Def describes one attribute slot of an object type.
type Def struct {
	Name string
	Type Type
	Perm Perm

	// Hidden attributes are omitted from status unless the server shows
	// hidden attributes.
	Hidden bool

	// PrivateResources are resource entries only privileged viewers see.
	PrivateResources []string

	// Encode and Decode override the type's default codec.
	Encode EncodeFunc
	Decode DecodeFunc
}

// EncodeAttr renders a with the definition's encoder.
func (d *Def) EncodeAttr(a *Attribute, perm Perm) ([]Fragment, error) {
	if !a.IsSet() {
		return nil, nil
	}
	if d.Encode != nil {
		return d.Encode(a, d.Name, perm)
	}

	v := a.Value
	switch d.Type {
	case TypeString:
		return []Fragment{{Name: d.Name, Value: v.Str}}, nil
	case TypeLong:
		return []Fragment{{Name: d.Name, Value: strconv.FormatInt(v.Long, 10)}}, nil
	case TypeBool:
		s := "False"
		if v.Bool {
			s = "True"
		}
		return []Fragment{{Name: d.Name, Value: s}}, nil
	case TypeList:
		return []Fragment{{Name: d.Name, Value: strings.Join(v.List, ",")}}, nil
	case TypeResource:
		var out []Fragment
		for _, r := range v.Resources {
			if perm&PrivRead == 0 && slices.Contains(d.PrivateResources, r.Name) {
				continue
			}
			out = append(out, Fragment{Name: d.Name, Resource: r.Name, Value: r.Value})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("attribute %s: unsupported type %v", d.Name, d.Type)
	}
}

// DecodeAttr parses value into a with the definition's decoder.
func (d *Def) DecodeAttr(a *Attribute, resource, value string) error {
	if d.Decode != nil {
		return d.Decode(a, resource, value)
	}

	switch d.Type {
	case TypeString:
		a.SetString(value)
	case TypeLong:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, d.Name, value)
		}
		a.SetLong(v)
	case TypeBool:
		switch strings.ToLower(value) {
		case "true", "t", "y", "1":
			a.SetBool(true)
		case "false", "f", "n", "0":
			a.SetBool(false)
		default:
			return fmt.Errorf("%w: %s=%q", ErrBadValue, d.Name, value)
		}
	case TypeList:
		if value == "" {
			a.SetList(nil)
		} else {
			a.SetList(strings.Split(value, ","))
		}
	case TypeResource:
		if resource == "" {
			return fmt.Errorf("%w: %s requires a resource name", ErrBadValue, d.Name)
		}
		a.SetResource(resource, value)
	default:
		return fmt.Errorf("attribute %s: unsupported type %v", d.Name, d.Type)
	}
	return nil
}

// Table is the ordered attribute definitions of one object type.
type Table []Def

// Find returns the index of the named attribute, or -1.
// Names compare case-insensitively.
func (t Table) Find(name string) int {
	for i := range t {
		if strings.EqualFold(t[i].Name, name) {
			return i
		}
	}
	return -1
}
