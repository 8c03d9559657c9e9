// Package batch defines batch protocol requests and replies and their DIS
// wire encoding.
//
// # Requests
//
//	header:    prot-type  version  request-type  user
//	body:      per request type
//	extension: flag [string]
//
// # Replies
//
//	prot-type  version  code  aux  choice  payload
//
// A Reply holds exactly one Payload variant; setting a new one releases the
// previous. A Request may have a Parent: child requests created by fan-out
// (for example one per sub-job of an array) fold their results into the
// parent instead of being sent.
package batch
