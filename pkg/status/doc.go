// Package status builds the attribute snapshots carried in status
// replies.
//
// Attributes are fetched through attr.Cache, so unchanged attributes are
// not re-encoded between queries. Values that are computed at query time,
// such as eligible time accrued so far, and subjob views of an array
// parent are presented through an overlay view: the overlay supplies the
// derived attribute for one build and the stored object is left as it was.
package status
