package attr

// View slots.
const (
	viewUser = 0
	viewPriv = 1
)

func viewFor(perm Perm) int {
	if perm&PrivRead != 0 {
		return viewPriv
	}
	return viewUser
}

// FetchResult reports what Cache.Fetch did.
type FetchResult uint8

const (
	FetchSkipped FetchResult = iota
	FetchBuilt
	FetchLinked
	FetchCloned
)

// String returns the result name.
func (r FetchResult) String() string {
	switch r {
	case FetchSkipped:
		return "skipped"
	case FetchBuilt:
		return "built"
	case FetchLinked:
		return "linked"
	case FetchCloned:
		return "cloned"
	default:
		return "unknown"
	}
}

// Cache fetches attribute encodings into reply lists, reusing the groups
// cached on each Attribute.
//
// Cache itself holds only switches; the cached groups live on the
// attributes. It is used from the single server goroutine and does no
// locking.
type Cache struct {
	// ShowHidden includes hidden attributes.
	ShowHidden bool

	// OnFetch, if set, is called with the outcome of each fetch.
	OnFetch func(def *Def, result FetchResult)
}

// Fetch appends the encoding of a, as seen by a holder of perm, to out.
//
// A modified attribute has both cached groups discarded first. An
// attribute without a cached group is encoded, and the new group is cached
// and linked. A cached group with fewer than two shares is linked; one
// with two or more is cloned and the clone linked. Unset attributes and
// hidden ones (unless ShowHidden) contribute nothing.
func (c *Cache) Fetch(out *List, a *Attribute, def *Def, perm Perm) error {
	result, err := c.fetch(out, a, def, perm)
	if err == nil && c.OnFetch != nil {
		c.OnFetch(def, result)
	}
	return err
}

func (c *Cache) fetch(out *List, a *Attribute, def *Def, perm Perm) (FetchResult, error) {
	if def.Hidden && !c.ShowHidden {
		return FetchSkipped, nil
	}

	slot := viewFor(perm)
	if a.IsModified() {
		a.Discard()
	}

	cached := a.cache[slot]
	if cached == nil {
		if !a.IsSet() {
			return FetchSkipped, nil
		}
		frags, err := def.EncodeAttr(a, perm)
		if err != nil {
			return FetchSkipped, err
		}
		g := NewEncoded(frags)
		a.cache[slot] = g
		a.Flags &^= FlagModified
		if len(frags) == 0 {
			return FetchBuilt, nil
		}
		out.Append(g)
		return FetchBuilt, nil
	}

	if len(cached.frags) == 0 {
		return FetchLinked, nil
	}
	if cached.shares < 2 {
		out.Append(cached)
		return FetchLinked, nil
	}
	out.Append(cached.clone())
	return FetchCloned, nil
}
