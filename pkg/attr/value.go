package attr

import (
	"slices"
)

// Type is the value type of an attribute.
type Type uint8

const (
	TypeString Type = iota
	TypeLong
	TypeBool
	TypeList
	TypeResource
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeLong:
		return "long"
	case TypeBool:
		return "boolean"
	case TypeList:
		return "list"
	case TypeResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Resource is one named entry of a resource attribute.
type Resource struct {
	Name  string
	Value string
}

// Value is a tagged attribute value. Only the field selected by Type is
// meaningful.
type Value struct {
	Type      Type
	Str       string
	Long      int64
	Bool      bool
	List      []string
	Resources []Resource
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// LongValue returns an integer Value.
func LongValue(v int64) Value { return Value{Type: TypeLong, Long: v} }

// Flag is an attribute state bit.
type Flag uint8

const (
	// FlagSet marks an attribute that has a value.
	FlagSet Flag = 1 << iota
	// FlagModified marks a value changed since it was last encoded.
	FlagModified
)

// Attribute is one attribute slot of an object.
type Attribute struct {
	Value Value
	Flags Flag

	// cache holds the encoded groups, indexed by view.
	cache [2]*Encoded
}

// IsSet reports whether the attribute has a value.
func (a *Attribute) IsSet() bool { return a.Flags&FlagSet != 0 }

// IsModified reports whether the cached encodings are stale.
func (a *Attribute) IsModified() bool { return a.Flags&FlagModified != 0 }

// MarkModified invalidates the cached encodings.
func (a *Attribute) MarkModified() { a.Flags |= FlagModified }

// SetString stores a string value.
func (a *Attribute) SetString(s string) {
	a.set(Value{Type: TypeString, Str: s})
}

// SetLong stores an integer value.
func (a *Attribute) SetLong(v int64) {
	a.set(Value{Type: TypeLong, Long: v})
}

// SetBool stores a boolean value.
func (a *Attribute) SetBool(v bool) {
	a.set(Value{Type: TypeBool, Bool: v})
}

// SetList stores a list of strings.
func (a *Attribute) SetList(items []string) {
	a.set(Value{Type: TypeList, List: slices.Clone(items)})
}

// SetResource sets one entry of a resource attribute, replacing any
// existing entry of the same name.
func (a *Attribute) SetResource(name, value string) {
	res := slices.Clone(a.Value.Resources)
	if a.Value.Type != TypeResource || !a.IsSet() {
		res = nil
	}
	i := slices.IndexFunc(res, func(r Resource) bool { return r.Name == name })
	if i >= 0 {
		res[i].Value = value
	} else {
		res = append(res, Resource{Name: name, Value: value})
	}
	a.set(Value{Type: TypeResource, Resources: res})
}

// Resource returns the value of one resource entry.
func (a *Attribute) Resource(name string) (string, bool) {
	for _, r := range a.Value.Resources {
		if r.Name == name {
			return r.Value, true
		}
	}
	return "", false
}

// Clear removes the value.
func (a *Attribute) Clear() {
	a.Value = Value{Type: a.Value.Type}
	a.Flags = (a.Flags &^ FlagSet) | FlagModified
}

func (a *Attribute) set(v Value) {
	a.Value = v
	a.Flags |= FlagSet | FlagModified
}

// Derived returns a standalone attribute carrying v. It has no cached
// encodings and is marked modified, so it is always encoded afresh.
func Derived(v Value) *Attribute {
	return &Attribute{Value: v, Flags: FlagSet | FlagModified}
}

// Unset returns an attribute with no value, reported as absent.
func Unset() *Attribute {
	return &Attribute{}
}

// Discard drops both cached encodings. Reply lists still holding a group
// keep it.
func (a *Attribute) Discard() {
	a.cache[viewUser] = nil
	a.cache[viewPriv] = nil
}

// Cached returns the cached group for the view selected by perm.
func (a *Attribute) Cached(perm Perm) *Encoded {
	return a.cache[viewFor(perm)]
}
