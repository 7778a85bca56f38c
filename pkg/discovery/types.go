package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD service type for CoAP over TCP.
	ServiceType = "_coap._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the CoAP over TCP port.
	DefaultPort = 5683

	// DefaultBrowseTimeout bounds a Find call without a context deadline.
	DefaultBrowseTimeout = 5 * time.Second

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyResourceType = "rt"
	TXTKeyKID          = "kid"
	TXTKeySuites       = "suites"
)

// ResourceTypeEDHOC marks peers that serve the EDHOC resource.
const ResourceTypeEDHOC = "core.edhoc"

var (
	ErrNotFound        = errors.New("service not found")
	ErrNoAddress       = errors.New("service has no address")
	ErrInvalidInstance = errors.New("invalid instance name")
	ErrBrowserStopped  = errors.New("browser stopped")
)

// Service is a resolved peer. Addresses from every interface that
// answered are merged into one entry per instance.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	Text      TXTRecordMap
}

// Address returns host:port for dialing, preferring a resolved address
// over the host name.
func (s *Service) Address() (string, error) {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, s.Instance)
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// ServiceInfo describes a service to advertise.
type ServiceInfo struct {
	Instance string
	Port     uint16
	KID      []byte
	Suites   []int
}

// Validate checks the instance name.
func (i *ServiceInfo) Validate() error {
	return ValidateInstanceName(i.Instance)
}

// ValidateInstanceName checks that name fits a single DNS label.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstance)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d bytes", ErrInvalidInstance, len(name))
	}
	return nil
}
