// Package packet builds and parses the Ethernet/IPv4/UDP frames the host
// agent captures as a template and later forges.
package packet

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TTL of every forged frame.
const TTL = 20

var (
	errNotEthernetIPv4UDP = errors.New("frame is not Ethernet/IPv4/UDP")
	errBadMeta            = errors.New("invalid template meta")
)

// Meta is the link and network addressing taken from a captured template
// frame. Forged frames reuse it verbatim, so only the UDP ports differ from
// what the operating system itself would send.
type Meta struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr // default gateway
	SrcIP  net.IP
}

// Validate checks that m holds two 6-byte MACs and an IPv4 source.
func (m Meta) Validate() error {
	if len(m.SrcMAC) != 6 || len(m.DstMAC) != 6 {
		return fmt.Errorf("%w: MAC addresses must be 6 bytes", errBadMeta)
	}
	if m.SrcIP.To4() == nil {
		return fmt.Errorf("%w: source must be IPv4", errBadMeta)
	}
	return nil
}

func (m Meta) String() string {
	return fmt.Sprintf("src=%s/%s gw=%s", m.SrcMAC, m.SrcIP, m.DstMAC)
}

// Fields are the header values of a decoded frame.
type Fields struct {
	SrcMAC      net.HardwareAddr
	DstMAC      net.HardwareAddr
	SrcIP       net.IP
	DstIP       net.IP
	TTL         uint8
	Flags       layers.IPv4Flag
	IHL         uint8
	SrcPort     uint16
	DstPort     uint16
	UDPLength   uint16
	IPChecksum  uint16
	UDPChecksum uint16
	Payload     []byte
}

// decoder is not safe for concurrent use; each call builds its own.
type decoder struct {
	eth    layers.Ethernet
	ip4    layers.IPv4
	udp    layers.UDP
	pl     gopacket.Payload
	parser *gopacket.DecodingLayerParser
	found  []gopacket.LayerType
}

func newDecoder() *decoder {
	d := &decoder{}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.ip4, &d.udp, &d.pl)
	d.parser.IgnoreUnsupported = true
	d.found = make([]gopacket.LayerType, 0, 4)
	return d
}

func (d *decoder) decode(frame []byte) error {
	// DecodingLayerParser stops with an error at the first layer it cannot
	// handle; what was decoded up to that point is still in d.found.
	_ = d.parser.DecodeLayers(frame, &d.found)

	var haveEth, haveIP, haveUDP bool
	for _, lt := range d.found {
		switch lt {
		case layers.LayerTypeEthernet:
			haveEth = true
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeUDP:
			haveUDP = true
		}
	}
	if !haveEth || !haveIP || !haveUDP {
		return errNotEthernetIPv4UDP
	}
	return nil
}

// Decode parses an Ethernet/IPv4/UDP frame.
func Decode(frame []byte) (Fields, error) {
	d := newDecoder()
	if err := d.decode(frame); err != nil {
		return Fields{}, err
	}

	return Fields{
		SrcMAC:      append(net.HardwareAddr(nil), d.eth.SrcMAC...),
		DstMAC:      append(net.HardwareAddr(nil), d.eth.DstMAC...),
		SrcIP:       append(net.IP(nil), d.ip4.SrcIP.To4()...),
		DstIP:       append(net.IP(nil), d.ip4.DstIP.To4()...),
		TTL:         d.ip4.TTL,
		Flags:       d.ip4.Flags,
		IHL:         d.ip4.IHL,
		SrcPort:     uint16(d.udp.SrcPort),
		DstPort:     uint16(d.udp.DstPort),
		UDPLength:   d.udp.Length,
		IPChecksum:  d.ip4.Checksum,
		UDPChecksum: d.udp.Checksum,
		Payload:     append([]byte(nil), d.udp.Payload...),
	}, nil
}

// ExtractMeta pulls the template addressing out of a captured frame.
func ExtractMeta(frame []byte) (Meta, error) {
	f, err := Decode(frame)
	if err != nil {
		return Meta{}, fmt.Errorf("extract meta: %w", err)
	}

	m := Meta{SrcMAC: f.SrcMAC, DstMAC: f.DstMAC, SrcIP: f.SrcIP}
	if err := m.Validate(); err != nil {
		return Meta{}, fmt.Errorf("extract meta: %w", err)
	}
	return m, nil
}

// MatchesProbe reports whether frame is the capture probe: UDP from srcPort
// to dstIP:dstPort.
func MatchesProbe(frame []byte, srcPort uint16, dstIP net.IP, dstPort uint16) bool {
	d := newDecoder()
	if err := d.decode(frame); err != nil {
		return false
	}
	return uint16(d.udp.SrcPort) == srcPort &&
		uint16(d.udp.DstPort) == dstPort &&
		bytes.Equal(d.ip4.DstIP.To4(), dstIP.To4())
}

// Forge builds a zero-payload Ethernet/IPv4/UDP frame from meta with the
// given ports and destination address.
func Forge(meta Meta, srcPort uint16, dstIP net.IP, dstPort uint16) ([]byte, error) {
	return ForgeWithPayload(meta, srcPort, dstIP, dstPort, nil)
}

// ForgeWithPayload is Forge with a UDP payload.
func ForgeWithPayload(meta Meta, srcPort uint16, dstIP net.IP, dstPort uint16, payload []byte) ([]byte, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	dst := dstIP.To4()
	if dst == nil {
		return nil, fmt.Errorf("destination %v is not IPv4", dstIP)
	}

	eth := &layers.Ethernet{
		SrcMAC:       meta.SrcMAC,
		DstMAC:       meta.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      TTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    meta.SrcIP.To4(),
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
