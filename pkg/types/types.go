package types

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is an IPv4 address and UDP port pair.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// String returns the endpoint in ip:port form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.Port)))
}

// ParseEndpoint parses an "ip:port" string. Only IPv4 literals are accepted.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}

	ip, err := ParseIPv4(host)
	if err != nil {
		return Endpoint{}, err
	}

	port, err := ParsePort(portStr)
	if err != nil {
		return Endpoint{}, err
	}

	return Endpoint{IP: ip, Port: port}, nil
}

// ParseIPv4 parses a dotted-quad IPv4 literal and returns its 4-byte form.
func ParseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return ip4, nil
}

// ParsePort parses a non-zero UDP port.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n == 0 {
		return 0, fmt.Errorf("port must be in 1..65535")
	}
	return uint16(n), nil
}

// STUNError represents an error during STUN operations
type STUNError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *STUNError) Error() string {
	return fmt.Sprintf("STUN %s: %v", e.Op, e.Err)
}

func (e *STUNError) Unwrap() error {
	return e.Err
}

// NewSTUNError creates a new STUN error
func NewSTUNError(op string, err error) error {
	return &STUNError{
		Op:  op,
		Err: err,
	}
}
