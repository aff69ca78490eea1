package rendezvous

import (
	"net"
	"net/http"
	"strings"

	"github.com/saintparish4/brpunch/pkg/netutil"
)

// AddrResolver determines the public address of a request's sender.
type AddrResolver struct {
	// TrustProxy takes the first X-Forwarded-For entry over the socket
	// address. Only enable behind a reverse proxy that sets it.
	TrustProxy bool

	// ExternalIP replaces a loopback host address, for hosts running on the
	// same machine as the service.
	ExternalIP net.IP
}

// ClientIP returns the sender's address, IPv4-mapped addresses unmapped.
// It returns nil when no address can be parsed.
func (a AddrResolver) ClientIP(r *http.Request) net.IP {
	if a.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := parseHost(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	return parseHost(r.RemoteAddr)
}

// HostIP is ClientIP with loopback replaced by ExternalIP when configured.
func (a AddrResolver) HostIP(r *http.Request) net.IP {
	ip := a.ClientIP(r)
	if ip != nil && ip.IsLoopback() && a.ExternalIP != nil {
		return netutil.Unmap(a.ExternalIP)
	}
	return ip
}

// parseHost accepts "ip", "ip:port" and "[ip]:port".
func parseHost(s string) net.IP {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip := net.ParseIP(strings.Trim(s, "[]"))
	if ip == nil {
		return nil
	}
	return netutil.Unmap(ip)
}
