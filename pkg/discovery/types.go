package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a batch server.
	ServiceType = "_pbs-batch._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default batch server port.
	DefaultPort = 15001
)

// TXT record keys.
const (
	TXTKeyServerName   = "SN"  // Server name used in job ids
	TXTKeyVersion      = "VER" // Protocol version, major.minor
	TXTKeyDefaultQueue = "Q"   // Default queue (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Errors.
var (
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrNotFound            = errors.New("server not found")
)

// ServerInfo is what a server announces.
type ServerInfo struct {
	Name         string
	Port         uint16
	Version      string
	DefaultQueue string
}

// ServerService is a discovered batch server.
type ServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Name         string
	Version      string
	DefaultQueue string
}

// Addr returns host:port for the first known address, or for the host
// name when no address was resolved.
func (s *ServerService) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// ServiceEntry is a library-independent view of one mDNS answer.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     int
	Text     []string
	Addrs    []string
}

// ToServerService converts the entry. It fails when the TXT records lack
// the server name or version.
func (e *ServiceEntry) ToServerService() (*ServerService, error) {
	info, err := DecodeServerTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &ServerService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         uint16(e.Port),
		Addresses:    e.Addrs,
		Name:         info.Name,
		Version:      info.Version,
		DefaultQueue: info.DefaultQueue,
	}, nil
}
