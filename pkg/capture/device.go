package capture

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Source is an open capture device. *pcap.Handle satisfies it.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
	Close()
}

// DeviceOpener enumerates and opens capture devices.
type DeviceOpener interface {
	Devices() ([]string, error)
	Open(device string, readTimeout time.Duration, filter string) (Source, error)
}

// Dialer creates the socket the probe traffic is sent from.
type Dialer func(srcPort uint16, dst *net.UDPAddr) (io.WriteCloser, error)

// DialProbe binds a UDP socket to srcPort on all interfaces and connects it
// to dst.
func DialProbe(srcPort uint16, dst *net.UDPAddr) (io.WriteCloser, error) {
	local := &net.UDPAddr{IP: net.IPv4zero, Port: int(srcPort)}
	conn, err := net.DialUDP("udp4", local, dst)
	if err != nil {
		return nil, fmt.Errorf("bind probe socket %s -> %s: %w", local, dst, err)
	}
	return conn, nil
}

// PcapOpener opens devices through libpcap (Npcap on Windows).
type PcapOpener struct {
	SnapLen int
}

// Devices lists every device libpcap can capture on.
func (o PcapOpener) Devices() ([]string, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ifs))
	for _, i := range ifs {
		names = append(names, i.Name)
	}
	return names, nil
}

// Open activates device in immediate mode, so frames are delivered as they
// arrive instead of when the kernel buffer fills, and installs filter.
func (o PcapOpener) Open(device string, readTimeout time.Duration, filter string) (Source, error) {
	snapLen := o.SnapLen
	if snapLen <= 0 {
		snapLen = 65536
	}

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("set immediate mode: %w", err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set filter %q: %w", filter, err)
		}
	}
	return handle, nil
}
