// Package job holds the server's object model: jobs, array subjob
// tracking, queues, the server object and the job location tracking
// table.
//
// Each object type has an attribute table (Defs, QueueDefs, ServerDefs)
// and stores one attr.Attribute per slot, so the status builder can read
// any object the same way. Array parents track their subjobs in a Tracker;
// a subjob has no attribute set of its own until it runs.
package job
