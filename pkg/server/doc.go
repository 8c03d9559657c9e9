// Package server implements the batch server runtime.
//
// A Server accepts framed DIS connections, decodes each request and runs
// its handler on a single loop goroutine. Handlers reply through the
// dispatcher: immediately, after a timed task (deleting a running job
// waits out the kill delay), or once every fan-out child has folded in
// (array deletes and signals). Requests the server issues to itself, such
// as history purges, use the local connection and complete through a
// deferred task.
//
// Supported requests:
//
//   - Connect and Disconnect
//   - StatusJob, StatusQueue and StatusServer
//   - DeleteJob with the nomail, force and deletehist modifiers
//   - SignalJob, including suspend and resume
//   - LocateJob
//   - SelectJobs with EQ and NE criteria
//   - RescQuery
package server
