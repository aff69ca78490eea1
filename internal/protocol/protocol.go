// Package protocol defines the text frames exchanged between the rendezvous
// service and host agents over the control channel.
//
//	host -> service   server_port:<u16>
//	service -> host   ok
//	service -> host   open <ipv4> <u16>
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/saintparish4/brpunch/pkg/types"
)

const (
	// AckText acknowledges a registration.
	AckText = "ok"

	registerPrefix = "server_port:"
	openVerb       = "open"
)

// ErrNotDirective is returned by ParseOpen for text that is not an open
// directive at all. Such text is ignored by hosts.
var ErrNotDirective = errors.New("not a directive")

// FormatRegister returns the registration message for gamePort.
func FormatRegister(gamePort uint16) string {
	return registerPrefix + strconv.FormatUint(uint64(gamePort), 10)
}

// ParseRegister parses a registration message. Spaces after the colon are
// tolerated.
func ParseRegister(msg string) (uint16, error) {
	rest, ok := strings.CutPrefix(msg, registerPrefix)
	if !ok {
		return 0, fmt.Errorf("expected %q prefix in %q", registerPrefix, msg)
	}
	port, err := types.ParsePort(strings.TrimSpace(rest))
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", msg, err)
	}
	return port, nil
}

// FormatOpen returns the directive asking a host to punch toward dst.
func FormatOpen(dst types.Endpoint) string {
	return fmt.Sprintf("%s %s %d", openVerb, dst.IP, dst.Port)
}

// ParseOpen parses an open directive. Text that does not start with the open
// verb yields ErrNotDirective; a directive with bad arguments yields
// types.ErrMalformedDirective.
func ParseOpen(msg string) (types.Endpoint, error) {
	fields := strings.Fields(msg)
	if len(fields) == 0 || fields[0] != openVerb {
		return types.Endpoint{}, ErrNotDirective
	}
	if len(fields) != 3 {
		return types.Endpoint{}, fmt.Errorf("%w: %q: want 2 arguments, got %d", types.ErrMalformedDirective, msg, len(fields)-1)
	}

	ip, err := types.ParseIPv4(fields[1])
	if err != nil {
		return types.Endpoint{}, fmt.Errorf("%w: %q: %v", types.ErrMalformedDirective, msg, err)
	}
	port, err := types.ParsePort(fields[2])
	if err != nil {
		return types.Endpoint{}, fmt.Errorf("%w: %q: %v", types.ErrMalformedDirective, msg, err)
	}
	return types.Endpoint{IP: ip, Port: port}, nil
}
