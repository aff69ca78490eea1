// Package clientagent finds the host the game is trying to join and asks the
// rendezvous service to have that host punch toward the game's UDP port.
package clientagent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/pkg/fingerprint"
	"github.com/saintparish4/brpunch/pkg/types"
)

// Joiner sends the introduction request.
type Joiner interface {
	Join(ctx context.Context, target string, port uint16) error
}

// Result describes a completed introduction.
type Result struct {
	Target      string
	Fingerprint string
	PID         int32
	Port        uint16
}

// Agent runs one introduction.
type Agent struct {
	Processes ProcessFinder
	Sockets   SocketLister
	Joiner    Joiner
	OpenLog   func() (io.ReadCloser, error)

	logger *zap.Logger
}

// New creates an agent using the live system and the service at
// rendezvousAddr.
func New(rendezvousAddr string, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Processes: SystemProcesses{},
		Sockets:   SystemSockets{},
		Joiner:    NewNotifier(rendezvousAddr),
		OpenLog:   OpenLog,
		logger:    logger.Named("client"),
	}
}

// Run reads the target from the game log, finds the game's only UDP port and
// posts the join request. An unreadable log or a missing game process is
// reported before a missing target.
func (a *Agent) Run(ctx context.Context) (Result, error) {
	target, targetErr := a.readTarget()
	if targetErr != nil && !errors.Is(targetErr, types.ErrNoTargetFound) {
		return Result{}, targetErr
	}

	pid, err := a.Processes.FindPID(ctx, GameName)
	if err != nil {
		return Result{}, err
	}
	if targetErr != nil {
		return Result{PID: pid}, targetErr
	}

	res := Result{Target: target, Fingerprint: fingerprint.Sum(target), PID: pid}
	a.logger.Debug("game found", zap.Int32("pid", pid), zap.String("target", target))

	ports, err := a.Sockets.UDPPorts(ctx, pid)
	if err != nil {
		return res, err
	}
	switch len(ports) {
	case 0:
		return res, types.ErrNoActivePort
	case 1:
		res.Port = ports[0]
	default:
		return res, fmt.Errorf("%w: %v", types.ErrAmbiguousPorts, ports)
	}

	a.logger.Info("requesting punch",
		zap.String("target", res.Target),
		zap.String("fingerprint", res.Fingerprint),
		zap.Uint16("port", res.Port))
	if err := a.Joiner.Join(ctx, target, res.Port); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Agent) readTarget() (string, error) {
	rc, err := a.OpenLog()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return ScanTarget(rc)
}
