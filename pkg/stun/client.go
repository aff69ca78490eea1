// Package stun discovers the public endpoint of this machine with a single
// STUN binding request.
package stun

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"

	"github.com/saintparish4/brpunch/pkg/types"
)

const (
	// DefaultServer is a public STUN server.
	DefaultServer = "stun.l.google.com:19302"

	// DefaultTimeout for one binding transaction.
	DefaultTimeout = 5 * time.Second

	maxMessageSize = 1500
)

// Client represents a STUN client
type Client struct {
	ServerAddr string
	Timeout    time.Duration
}

// NewClient creates a new STUN client
func NewClient(serverAddr string) *Client {
	if serverAddr == "" {
		serverAddr = DefaultServer
	}
	return &Client{
		ServerAddr: serverAddr,
		Timeout:    DefaultTimeout,
	}
}

// Discover performs STUN discovery to find the public endpoint. Only IPv4
// mappings are accepted.
func (c *Client) Discover(ctx context.Context) (types.Endpoint, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", c.ServerAddr)
	if err != nil {
		return types.Endpoint{}, types.NewSTUNError("resolve address", err)
	}

	conn, err := net.DialUDP("udp4", nil, serverAddr)
	if err != nil {
		return types.Endpoint{}, types.NewSTUNError("dial", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return types.Endpoint{}, types.NewSTUNError("set_deadline", err)
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return types.Endpoint{}, types.NewSTUNError("build_request", err)
	}
	if _, err := req.WriteTo(conn); err != nil {
		return types.Endpoint{}, types.NewSTUNError("send_request", err)
	}

	buf := make([]byte, maxMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return types.Endpoint{}, ctx.Err()
		}
		return types.Endpoint{}, types.NewSTUNError("read_response", err)
	}

	ep, err := parseBindingResponse(buf[:n], req.TransactionID)
	if err != nil {
		return types.Endpoint{}, types.NewSTUNError("parse_response", err)
	}
	return ep, nil
}

// parseBindingResponse decodes a Binding Success response and extracts the
// mapped address, falling back to MAPPED-ADDRESS for RFC 3489 servers.
func parseBindingResponse(raw []byte, txID [stun.TransactionIDSize]byte) (types.Endpoint, error) {
	res := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := res.Decode(); err != nil {
		return types.Endpoint{}, err
	}
	if res.Type != stun.BindingSuccess {
		return types.Endpoint{}, fmt.Errorf("unexpected message type %s", res.Type)
	}
	if res.TransactionID != txID {
		return types.Endpoint{}, fmt.Errorf("transaction ID mismatch")
	}

	var ip net.IP
	var port int

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		ip, port = xorAddr.IP, xorAddr.Port
	} else {
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(res); err != nil {
			return types.Endpoint{}, fmt.Errorf("no mapped address in response: %w", err)
		}
		ip, port = mapped.IP, mapped.Port
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return types.Endpoint{}, fmt.Errorf("mapped address %v is not IPv4", ip)
	}
	if port <= 0 || port > 65535 {
		return types.Endpoint{}, fmt.Errorf("mapped port %d out of range", port)
	}
	return types.Endpoint{IP: ip4, Port: uint16(port)}, nil
}
