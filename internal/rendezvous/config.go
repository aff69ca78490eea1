package rendezvous

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// DefaultAddr is where the public rendezvous listens.
const DefaultAddr = ":6923"

// Config holds server configuration options.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	CleanupInterval time.Duration
	StaleTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration

	// TrustProxy takes client addresses from X-Forwarded-For.
	TrustProxy bool
	// ExternalIP stands in for loopback host addresses.
	ExternalIP net.IP

	Logger *zap.Logger
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		CleanupInterval: 1 * time.Minute,
		StaleTimeout:    5 * time.Minute,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
	}
}
