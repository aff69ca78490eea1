// Package capture discovers which device carries Internet-bound UDP traffic
// by sending probe datagrams to a dead public address and sniffing for them
// on every capture device at once. The first captured probe frame becomes the
// template whose link and network headers are reused for forged frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket/layers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saintparish4/brpunch/pkg/packet"
	"github.com/saintparish4/brpunch/pkg/types"
)

var probePayload = []byte{0}

// Template is a captured probe frame and the device it was seen on.
type Template struct {
	Device string
	Frame  []byte
	Meta   packet.Meta
}

// Prober runs the capture probe.
type Prober struct {
	cfg    Config
	opener DeviceOpener
	dial   Dialer
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithOpener replaces the libpcap device opener.
func WithOpener(o DeviceOpener) Option {
	return func(p *Prober) { p.opener = o }
}

// WithDialer replaces the probe socket dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.dial = d }
}

// WithClock replaces the wall clock driving the window and the emitter.
func WithClock(c clock.Clock) Option {
	return func(p *Prober) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProber creates a prober. By default it captures through libpcap and
// sends from a real UDP socket.
func NewProber(cfg Config, opts ...Option) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	p := &Prober{
		cfg:    cfg,
		opener: PcapOpener{},
		dial:   DialProbe,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("capture")
	return p, nil
}

// collector gathers worker outcomes.
type collector struct {
	mu       sync.Mutex
	opened   int
	openErrs error
	winner   *Template
}

func (c *collector) openFailed(device string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErrs = multierr.Append(c.openErrs, fmt.Errorf("%s: %w", device, err))
}

func (c *collector) markOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
}

// win records frame unless another device already won.
func (c *collector) win(device string, frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.winner != nil {
		return false
	}
	c.winner = &Template{Device: device, Frame: append([]byte(nil), frame...)}
	return true
}

// Run emits probe datagrams for the configured window while every device is
// sniffed in parallel. It returns once all workers have exited.
//
// The returned error wraps types.ErrCaptureUnavailable when no device could be
// opened and types.ErrNoRouteDiscovered when devices opened but none saw a
// probe frame.
func (p *Prober) Run(ctx context.Context) (*Template, error) {
	devices, err := p.opener.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", types.ErrCaptureUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices", types.ErrCaptureUnavailable)
	}

	conn, err := p.dial(p.cfg.SrcPort, p.cfg.dstAddr())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var active atomic.Bool
	active.Store(true)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			active.Store(false)
			close(done)
		})
	}

	timer := p.clock.AfterFunc(p.cfg.Window, stop)
	defer timer.Stop()
	stopOnCancel := context.AfterFunc(ctx, stop)
	defer stopOnCancel()

	p.logger.Debug("probe started",
		zap.Int("devices", len(devices)),
		zap.Uint16("src_port", p.cfg.SrcPort),
		zap.Stringer("dst", p.cfg.dstAddr()),
		zap.Duration("window", p.cfg.Window))

	c := &collector{}
	var g errgroup.Group
	g.Go(func() error {
		p.emit(conn, &active, done)
		return nil
	})
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			p.watch(dev, &active, c)
			return nil
		})
	}
	_ = g.Wait()

	if c.winner == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.opened == 0 {
			p.logger.Warn("no capture device could be opened",
				zap.Int("failures", len(multierr.Errors(c.openErrs))),
				zap.Error(c.openErrs))
			return nil, fmt.Errorf("%w: %v", types.ErrCaptureUnavailable, c.openErrs)
		}
		return nil, types.ErrNoRouteDiscovered
	}

	meta, err := packet.ExtractMeta(c.winner.Frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoRouteDiscovered, err)
	}
	c.winner.Meta = meta

	p.logger.Info("template captured",
		zap.String("device", c.winner.Device),
		zap.Stringer("meta", meta))
	return c.winner, nil
}

func (p *Prober) emit(w io.Writer, active *atomic.Bool, done <-chan struct{}) {
	ticker := p.clock.Ticker(p.cfg.EmitInterval)
	defer ticker.Stop()

	warned := false
	for active.Load() {
		if _, err := w.Write(probePayload); err != nil && !warned {
			p.logger.Debug("probe write failed", zap.Error(err))
			warned = true
		}
		select {
		case <-ticker.C:
		case <-done:
			return
		}
	}
}

func (p *Prober) watch(device string, active *atomic.Bool, c *collector) {
	src, err := p.opener.Open(device, p.cfg.ReadTimeout, p.cfg.Filter)
	if err != nil {
		p.logger.Debug("open device failed", zap.String("device", device), zap.Error(err))
		c.openFailed(device, err)
		return
	}
	defer src.Close()
	c.markOpened()

	// Frames on non-Ethernet links (loopback, tunnels, cooked captures)
	// cannot serve as a template.
	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		p.logger.Debug("skipping device", zap.String("device", device), zap.Stringer("link_type", lt))
		return
	}

	for active.Load() {
		data, _, err := src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// Read timeouts land here; loop to re-check the flag.
			continue
		}
		if !packet.MatchesProbe(data, p.cfg.SrcPort, p.cfg.DstIP, p.cfg.DstPort) {
			continue
		}
		if c.win(device, data) {
			p.logger.Debug("probe frame captured", zap.String("device", device), zap.Int("len", len(data)))
		}
		return
	}
}
