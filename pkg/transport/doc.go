// Package transport carries DIS-encoded batch messages over TCP.
//
// Each message is sent as one length-prefixed frame:
//
//	┌──────────────────────────────┐
//	│  DIS request / reply fields  │
//	├──────────────────────────────┤
//	│  Length prefix (4B, BE)      │
//	├──────────────────────────────┤
//	│            TCP               │
//	└──────────────────────────────┘
//
// A Conn owns one outbound buffer. Callers take the send lock, encode into
// Writer, and Flush; only committed DIS values reach the frame. A flush
// that exceeds the write timeout fails with ErrWriteTimeout.
//
// Local is a pseudo-connection for requests issued inside the server
// process. It has no socket; replies to local requests are delivered by
// waking a deferred task instead of writing bytes.
package transport
