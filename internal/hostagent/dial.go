package hostagent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saintparish4/brpunch/pkg/types"
)

// HostPath is the rendezvous endpoint for host control channels.
const HostPath = "/api/host"

// ControlURL returns the control channel URL for a rendezvous address. addr
// is host:port, or a ws:// or wss:// URL.
func ControlURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		return (&url.URL{Scheme: "ws", Host: addr, Path: HostPath}).String(), nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse rendezvous address %q: %w", addr, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("rendezvous scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = HostPath
	}
	return u.String(), nil
}

// Dial opens the control channel to the rendezvous service at addr.
func Dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	target, err := ControlURL(addr)
	if err != nil {
		return nil, err
	}

	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := d.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %s)", types.ErrRendezvousUnreachable, target, err, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrRendezvousUnreachable, target, err)
	}
	return conn, nil
}
