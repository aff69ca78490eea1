// Package fingerprint derives the identifier a host is registered under at
// the rendezvous service.
//
// A fingerprint is the lowercase hex SHA-1 of the host's public "ip:port"
// string. The rendezvous computes it from the address it observes, and the
// client computes it from the address the game is connecting to, so both
// sides agree without the host ever reporting its own address.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/saintparish4/brpunch/pkg/types"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha1.Size * 2

// Sum returns the lowercase hex SHA-1 of the UTF-8 bytes of s.
func Sum(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// Of returns the fingerprint of ip:port.
func Of(ip string, port uint16) string {
	return Sum(ip + ":" + strconv.Itoa(int(port)))
}

// OfEndpoint returns the fingerprint of an endpoint.
func OfEndpoint(ep types.Endpoint) string {
	return Of(ep.IP.String(), ep.Port)
}

// Valid reports whether s is a well-formed fingerprint: exactly Size
// lowercase hex characters.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
