// Package client is the client side of the batch protocol.
//
// A Conn carries one request at a time: the caller holds the connection's
// send lock from writing a request until its reply is read, so concurrent
// callers sharing a Conn take turns. Error replies surface as *Error.
//
// DeleteBatch implements the delete command's batch rules: a mail
// threshold after which deletions are sent with the nomail modifier, a
// single locate-and-retry for jobs that moved, and an aggregate failure
// flag over all targets.
package client
