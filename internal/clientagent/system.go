package clientagent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/saintparish4/brpunch/pkg/types"
)

// ProcessFinder locates the game process.
type ProcessFinder interface {
	FindPID(ctx context.Context, nameContains string) (int32, error)
}

// SocketLister enumerates the IPv4 UDP ports a process has bound.
type SocketLister interface {
	UDPPorts(ctx context.Context, pid int32) ([]uint16, error)
}

// SystemProcesses finds processes through gopsutil.
type SystemProcesses struct{}

// FindPID returns the first process whose name contains nameContains.
// Processes whose name cannot be read are skipped.
func (SystemProcesses) FindPID(ctx context.Context, nameContains string) (int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(name, nameContains) {
			return p.Pid, nil
		}
	}
	return 0, types.ErrGameNotRunning
}

// SystemSockets lists sockets through gopsutil.
type SystemSockets struct{}

// UDPPorts returns the distinct local ports of pid's IPv4 UDP sockets in
// ascending order.
func (SystemSockets) UDPPorts(ctx context.Context, pid int32) ([]uint16, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "udp4")
	if err != nil {
		return nil, fmt.Errorf("list udp sockets: %w", err)
	}
	return portsOf(conns, pid), nil
}

func portsOf(conns []psnet.ConnectionStat, pid int32) []uint16 {
	seen := make(map[uint16]bool)
	var ports []uint16
	for _, c := range conns {
		if c.Pid != pid || c.Laddr.Port == 0 || c.Laddr.Port > 65535 {
			continue
		}
		port := uint16(c.Laddr.Port)
		if !seen[port] {
			seen[port] = true
			ports = append(ports, port)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
