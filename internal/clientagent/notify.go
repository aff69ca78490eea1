package clientagent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/saintparish4/brpunch/pkg/fingerprint"
	"github.com/saintparish4/brpunch/pkg/types"
)

// DefaultRendezvousAddr is the public rendezvous service.
const DefaultRendezvousAddr = "104.155.180.165:6923"

// Notifier posts join requests to the rendezvous service.
type Notifier struct {
	Addr   string
	Client *http.Client
}

// NewNotifier creates a notifier for the service at addr, given as host:port
// or an http(s) URL.
func NewNotifier(addr string) *Notifier {
	return &Notifier{
		Addr:   addr,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// JoinURL returns the join request URL for target and port.
func (n *Notifier) JoinURL(target string, port uint16) string {
	base := n.Addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	q := url.Values{}
	q.Set("target", fingerprint.Sum(target))
	q.Set("port", strconv.Itoa(int(port)))
	return strings.TrimRight(base, "/") + "/api/join?" + q.Encode()
}

// Join asks the service to have target punch toward this machine's port.
// It does not retry.
func (n *Notifier) Join(ctx context.Context, target string, port uint16) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.JoinURL(target, port), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrRendezvousUnreachable, err)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrRendezvousUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.ErrUnknownTarget
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("rendezvous returned %s", resp.Status)
	}
	return nil
}
