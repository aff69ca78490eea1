package types

import "errors"

// Startup failures. The agents print these and exit.
var (
	ErrGameNotRunning     = errors.New("game is not running")
	ErrCaptureUnavailable = errors.New("packet capture unavailable")
	ErrNoRouteDiscovered  = errors.New("no route discovered: probe packet was not captured on any device")
	ErrLogUnreadable      = errors.New("game log unreadable")
	ErrNoTargetFound      = errors.New("no connection attempt found in game log")
)

// Runtime failures.
var (
	// ErrChannelTransport is fatal: the host closes the channel and exits.
	ErrChannelTransport = errors.New("control channel transport error")

	// ErrPacketSend and ErrMalformedDirective are logged and the host keeps serving.
	ErrPacketSend         = errors.New("packet send failed")
	ErrMalformedDirective = errors.New("malformed directive")

	ErrRendezvousUnreachable = errors.New("rendezvous unreachable")
	ErrUnknownTarget         = errors.New("target host is not registered")
)

// Client preconditions on the game's UDP sockets.
var (
	ErrNoActivePort   = errors.New("game has no active UDP port")
	ErrAmbiguousPorts = errors.New("game has more than one active UDP port")
)
