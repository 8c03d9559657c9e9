// Package persistence saves and restores the job state of a batch server.
//
// State is kept as one JSON document holding every job, its set attributes
// in wire form, array subjob states and the tracking table. Saves replace
// the file atomically.
package persistence
