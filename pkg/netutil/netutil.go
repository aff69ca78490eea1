package netutil

import (
	"fmt"
	"net"

	"github.com/jackpal/gateway"
)

// IsPrivateIP checks if an IPv4 address is in a private, link-local or
// carrier-grade NAT range. Addresses in these ranges are never what a remote
// peer sees.
func IsPrivateIP(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	switch {
	// 10.0.0.0/8
	case ip4[0] == 10:
		return true
	// 172.16.0.0/12
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	// 192.168.0.0/16
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	// 169.254.0.0/16 (link-local)
	case ip4[0] == 169 && ip4[1] == 254:
		return true
	// 100.64.0.0/10 (carrier-grade NAT)
	case ip4[0] == 100 && ip4[1]&0xc0 == 64:
		return true
	}
	return false
}

// IsPublicIP checks if an IPv4 address is routable on the public internet
func IsPublicIP(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	if ip4.IsLoopback() || ip4.IsUnspecified() || ip4.IsMulticast() ||
		ip4.IsLinkLocalUnicast() || ip4.Equal(net.IPv4bcast) {
		return false
	}

	return !IsPrivateIP(ip4)
}

// Unmap returns the 4-byte form of an IPv4 or IPv4-mapped IPv6 address and
// leaves other addresses untouched.
func Unmap(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// DefaultGateway returns the IPv4 default gateway of this machine.
func DefaultGateway() (net.IP, error) {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("discover gateway: %w", err)
	}
	return ip, nil
}
