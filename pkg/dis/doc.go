// Package dis implements the Data-is-Strings wire encoding used by the
// batch protocol.
//
// Every value on the wire is printable ASCII. Integers are written as a
// sign and decimal digits preceded by a recursive digit count, so the
// decoder always knows how many bytes to consume:
//
//	5           -> +5
//	123         -> 3+123
//	1234567890  -> 210+1234567890
//
// Strings are counted: an unsigned integer length followed by exactly that
// many bytes.
//
// # Commit and Rollback
//
// Streams carry a checkpoint. Each primitive read or write ends with a
// Commit call: Commit(true) advances the checkpoint, Commit(false) rewinds
// the stream to it. A failed decode therefore leaves the read position
// where it was, so the caller may retry with another strategy, and a
// failed encode never leaves a partial value in the outbound buffer.
package dis
