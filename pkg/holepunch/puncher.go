// Package holepunch sends the single forged UDP frame that opens a NAT
// mapping from the game server's port toward a waiting client.
package holepunch

import (
	"fmt"
	"sync"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/pkg/packet"
	"github.com/saintparish4/brpunch/pkg/types"
)

// Injector writes raw link-layer frames. *pcap.Handle satisfies it.
type Injector interface {
	WritePacketData(data []byte) error
}

// Puncher forges and injects punch frames on behalf of the game server.
// It is safe for concurrent use; frames are injected one at a time.
type Puncher struct {
	mu      sync.Mutex
	inj     Injector
	meta    packet.Meta
	srcPort uint16
	logger  *zap.Logger

	// Payload is appended to every frame. Empty by default.
	Payload []byte
}

// NewPuncher returns a puncher that sends from meta's addresses and srcPort.
func NewPuncher(inj Injector, meta packet.Meta, srcPort uint16, logger *zap.Logger) (*Puncher, error) {
	if inj == nil {
		return nil, fmt.Errorf("nil injector")
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if srcPort == 0 {
		return nil, fmt.Errorf("source port must be non-zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Puncher{
		inj:     inj,
		meta:    meta,
		srcPort: srcPort,
		logger:  logger.Named("punch"),
	}, nil
}

// SrcPort returns the spoofed source port.
func (p *Puncher) SrcPort() uint16 { return p.srcPort }

// Punch writes one frame toward dst. There is no retransmission.
func (p *Puncher) Punch(dst types.Endpoint) error {
	ip := dst.IP.To4()
	if ip == nil || ip.IsUnspecified() || dst.Port == 0 {
		return fmt.Errorf("%w: bad destination %s", types.ErrMalformedDirective, dst)
	}

	frame, err := packet.ForgeWithPayload(p.meta, p.srcPort, ip, dst.Port, p.Payload)
	if err != nil {
		return fmt.Errorf("%w: forge: %v", types.ErrPacketSend, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.inj.WritePacketData(frame); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPacketSend, err)
	}

	p.logger.Debug("punched",
		zap.Uint16("src_port", p.srcPort),
		zap.Stringer("dst", dst),
		zap.Int("frame_len", len(frame)))
	return nil
}

// OpenInjector opens device for frame injection.
func OpenInjector(device string) (*pcap.Handle, error) {
	// Nothing is read from this handle, so a tiny snaplen and no timeout.
	h, err := pcap.OpenLive(device, 128, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s for injection: %v", types.ErrCaptureUnavailable, device, err)
	}
	return h, nil
}
