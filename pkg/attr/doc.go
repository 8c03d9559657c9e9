// Package attr models object attributes and their wire encodings.
//
// An Attribute holds a tagged Value plus SET and MODIFIED flags. Its
// definition (Def) names it and knows how to encode it into Fragments, the
// (name, resource, value) strings carried in status replies. Fragments of
// one attribute travel together as an Encoded group.
//
// Cache keeps two encoded groups per attribute, one for privileged viewers
// and one for ordinary users, so unchanged attributes are not re-encoded on
// every status query. A group linked into two reply lists at once is never
// linked a third time; the third consumer gets a clone.
package attr
