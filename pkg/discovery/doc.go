// Package discovery announces batch servers over mDNS/DNS-SD and finds
// them by server name.
//
// A server registers one instance of the _pbs-batch._tcp service named
// after the server. TXT records carry the server name (SN), the protocol
// version (VER) and the default queue (Q).
//
// Clients use Resolve to turn a server name, such as the one a LocateJob
// reply carries, into a dialable address. Names that already contain a
// port are returned unchanged.
package discovery
