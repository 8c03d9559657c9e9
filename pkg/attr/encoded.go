package attr

import (
	"slices"
)

// Encoded is the fragment group of one attribute. Its fragments are
// immutable once built.
//
// The share count is the number of reply lists the group is currently
// linked into. A group with two or more shares must not be linked again.
type Encoded struct {
	frags  []Fragment
	shares int
}

// NewEncoded returns an unshared group over frags.
func NewEncoded(frags []Fragment) *Encoded {
	return &Encoded{frags: frags}
}

// Fragments returns the group's fragments. Callers must not modify them.
func (e *Encoded) Fragments() []Fragment {
	return e.frags
}

// Shares returns the share count.
func (e *Encoded) Shares() int {
	return e.shares
}

// clone returns an independent, unlinked copy.
func (e *Encoded) clone() *Encoded {
	return &Encoded{frags: slices.Clone(e.frags)}
}

// List is an ordered sequence of fragment groups, such as the attributes
// of one status entry.
type List struct {
	groups []*Encoded
}

// Append links g into the list and takes a share of it.
func (l *List) Append(g *Encoded) {
	g.shares++
	l.groups = append(l.groups, g)
}

// AppendFragments adds freshly built fragments as a new group.
func (l *List) AppendFragments(frags ...Fragment) {
	if len(frags) == 0 {
		return
	}
	l.Append(NewEncoded(frags))
}

// Groups returns the linked groups.
func (l *List) Groups() []*Encoded {
	return l.groups
}

// Fragments returns every fragment in order.
func (l *List) Fragments() []Fragment {
	var out []Fragment
	for _, g := range l.groups {
		out = append(out, g.frags...)
	}
	return out
}

// Len returns the number of fragments.
func (l *List) Len() int {
	n := 0
	for _, g := range l.groups {
		n += len(g.frags)
	}
	return n
}

// Release drops the list's share of every group and empties it. Calling it
// again is a no-op.
func (l *List) Release() {
	for _, g := range l.groups {
		g.shares--
	}
	l.groups = nil
}
