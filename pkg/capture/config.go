package capture

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/saintparish4/brpunch/pkg/netutil"
)

const (
	// DefaultSrcPort is the local port the probe socket binds to.
	DefaultSrcPort = 3333

	// DefaultDstPort is the port the probe traffic is addressed to.
	DefaultDstPort = 44444

	// DefaultWindow is how long the probe emits and captures.
	DefaultWindow = 500 * time.Millisecond

	// DefaultEmitInterval between probe datagrams.
	DefaultEmitInterval = 10 * time.Millisecond

	// DefaultReadTimeout bounds each blocking read on a capture device, and
	// so how late a worker notices the end of the window.
	DefaultReadTimeout = 100 * time.Millisecond

	// DefaultFilter keeps everything but IPv4 UDP out of userspace.
	DefaultFilter = "ip and udp"
)

// DefaultDstIP is public but not assigned to anyone, so probe traffic takes
// the default route and is dropped somewhere upstream.
var DefaultDstIP = net.IPv4(172, 15, 200, 200).To4()

// Config holds the probe parameters.
type Config struct {
	SrcPort      uint16
	DstIP        net.IP
	DstPort      uint16
	Window       time.Duration
	EmitInterval time.Duration
	ReadTimeout  time.Duration
	Filter       string
}

// DefaultConfig returns the probe configuration used by the host agent.
func DefaultConfig() Config {
	return Config{
		SrcPort:      DefaultSrcPort,
		DstIP:        DefaultDstIP,
		DstPort:      DefaultDstPort,
		Window:       DefaultWindow,
		EmitInterval: DefaultEmitInterval,
		ReadTimeout:  DefaultReadTimeout,
		Filter:       DefaultFilter,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SrcPort == 0 || c.DstPort == 0 {
		return errors.New("probe ports must be non-zero")
	}
	if !netutil.IsPublicIP(c.DstIP) {
		return fmt.Errorf("probe destination %v must be a public IPv4 address", c.DstIP)
	}
	if c.Window <= 0 || c.EmitInterval <= 0 || c.ReadTimeout <= 0 {
		return errors.New("probe durations must be positive")
	}
	return nil
}

func (c Config) dstAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.DstIP.To4(), Port: int(c.DstPort)}
}
