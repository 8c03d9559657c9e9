// Package dispatch delivers the replies of completed batch requests.
//
// A request ends in one of these states:
//
//	Pending        children outstanding, nothing sent
//	Aggregated     child result folded into its parent
//	LocalDelivered deferred task of a local request made runnable
//	RemoteSent     reply encoded and flushed to the client
//	RemoteFailed   encode or flush failed, connection closed
//
// When children fold into a parent, the first non-success result wins;
// later results do not overwrite it. The parent is sent once its last
// child has folded in.
package dispatch
