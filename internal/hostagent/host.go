package hostagent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/pkg/capture"
	"github.com/saintparish4/brpunch/pkg/fingerprint"
	"github.com/saintparish4/brpunch/pkg/holepunch"
	"github.com/saintparish4/brpunch/pkg/netutil"
	"github.com/saintparish4/brpunch/pkg/stun"
	"github.com/saintparish4/brpunch/pkg/types"
)

const (
	// DefaultGamePort is the game's default server port.
	DefaultGamePort = 7777

	// DefaultRendezvousAddr is the public rendezvous service.
	DefaultRendezvousAddr = "104.155.180.165:6923"
)

// Config holds host agent configuration.
type Config struct {
	GamePort       uint16
	RendezvousAddr string

	// STUNServer, when set, is queried once at startup so the log shows the
	// public address and fingerprint clients will use.
	STUNServer string

	// Sentinel sends a one byte payload instead of an empty datagram.
	Sentinel bool

	Capture capture.Config
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		GamePort:       DefaultGamePort,
		RendezvousAddr: DefaultRendezvousAddr,
		STUNServer:     stun.DefaultServer,
		Capture:        capture.DefaultConfig(),
	}
}

// Prober captures the frame template.
type Prober interface {
	Run(ctx context.Context) (*capture.Template, error)
}

// Host wires the probe, the injector and the control channel together.
type Host struct {
	cfg    Config
	logger *zap.Logger

	prober       Prober
	openInjector func(device string) (holepunch.Injector, func(), error)
	dial         func(ctx context.Context, addr string) (Conn, error)
	discover     func(ctx context.Context) (types.Endpoint, error)
	gateway      func() (net.IP, error)

	agent atomic.Pointer[Agent]
}

// Option configures a Host.
type Option func(*Host)

// WithProber replaces the libpcap capture probe.
func WithProber(p Prober) Option {
	return func(h *Host) { h.prober = p }
}

// WithInjector replaces the libpcap injector.
func WithInjector(open func(device string) (holepunch.Injector, func(), error)) Option {
	return func(h *Host) { h.openInjector = open }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial func(ctx context.Context, addr string) (Conn, error)) Option {
	return func(h *Host) { h.dial = dial }
}

// New creates a host.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Host, error) {
	if cfg.GamePort == 0 {
		return nil, errors.New("game port must be non-zero")
	}
	if cfg.RendezvousAddr == "" {
		return nil, errors.New("rendezvous address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Host{
		cfg:     cfg,
		logger:  logger.Named("host"),
		gateway: netutil.DefaultGateway,
		openInjector: func(device string) (holepunch.Injector, func(), error) {
			handle, err := holepunch.OpenInjector(device)
			if err != nil {
				return nil, nil, err
			}
			return handle, handle.Close, nil
		},
		dial: func(ctx context.Context, addr string) (Conn, error) {
			return Dial(ctx, addr)
		},
	}
	if cfg.STUNServer != "" {
		h.discover = stun.NewClient(cfg.STUNServer).Discover
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.prober == nil {
		p, err := capture.NewProber(cfg.Capture, capture.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		h.prober = p
	}
	return h, nil
}

// Run captures the template, then serves the control channel until it ends
// or ctx is canceled. Startup failures are returned unchanged so callers can
// match them with errors.Is.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("discovering route", zap.Uint16("game_port", h.cfg.GamePort))
	tmpl, err := h.prober.Run(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("using device",
		zap.String("device", tmpl.Device),
		zap.Stringer("src_mac", tmpl.Meta.SrcMAC),
		zap.Stringer("gateway_mac", tmpl.Meta.DstMAC),
		zap.Stringer("src_ip", tmpl.Meta.SrcIP))

	if gw, err := h.gateway(); err == nil {
		h.logger.Debug("default gateway", zap.Stringer("ip", gw))
	} else {
		h.logger.Debug("default gateway unknown", zap.Error(err))
	}

	inj, closeInj, err := h.openInjector(tmpl.Device)
	if err != nil {
		return err
	}
	if closeInj != nil {
		defer closeInj()
	}

	puncher, err := holepunch.NewPuncher(inj, tmpl.Meta, h.cfg.GamePort, h.logger)
	if err != nil {
		return err
	}
	if h.cfg.Sentinel {
		puncher.Payload = []byte{0}
	}

	h.logPublicEndpoint(ctx)

	conn, err := h.dial(ctx, h.cfg.RendezvousAddr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "host shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	h.logger.Info("connected to rendezvous", zap.String("addr", h.cfg.RendezvousAddr))
	agent := NewAgent(h.cfg.GamePort, puncher, h.logger)
	h.agent.Store(agent)
	err = agent.Run(conn)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// State returns the control channel state.
func (h *Host) State() State {
	if a := h.agent.Load(); a != nil {
		return a.State()
	}
	return StateDisconnected
}

func (h *Host) logPublicEndpoint(ctx context.Context) {
	if h.discover == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, stun.DefaultTimeout)
	defer cancel()

	ep, err := h.discover(ctx)
	if err != nil {
		h.logger.Warn("public address discovery failed", zap.Error(err))
		return
	}
	host := fmt.Sprintf("%s:%d", ep.IP, h.cfg.GamePort)
	h.logger.Info("clients should join",
		zap.String("host", host),
		zap.String("fingerprint", fingerprint.Of(ep.IP.String(), h.cfg.GamePort)))
}
