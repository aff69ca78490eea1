// Command rendezvous runs the hole punching rendezvous service.
//
// Hosts keep a WebSocket open on /api/host; clients POST /api/join to have a
// host punch toward them.
//
// Usage:
//
//	rendezvous [flags]
//
// Flags:
//
//	-addr string         Listen address (default ":6923", env PORT)
//	-proxy               Trust X-Forwarded-For (env PROXY)
//	-external-ip string  Address used for hosts connecting over loopback (env EXTERNAL_IP)
//	-env string          .env file to load
//	-verbose             Enable debug logging
//
// Endpoints:
//
//	WebSocket: ws://host:port/api/host
//	Join:      POST /api/join?target=<fingerprint>&port=<port>
//	Health:    GET /health
//	Stats:     GET /api/stats
//	Metrics:   GET /metrics
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/internal/config"
	"github.com/saintparish4/brpunch/internal/logging"
	"github.com/saintparish4/brpunch/internal/rendezvous"
)

var version = "dev" // Set via ldflags

func main() {
	envFile := flag.String("env", "", "Path to a .env file (default ./.env if present)")
	addr := flag.String("addr", "", "Listen address (default "+rendezvous.DefaultAddr+")")
	proxy := flag.Bool("proxy", false, "Take client addresses from X-Forwarded-For")
	externalIP := flag.String("external-ip", "", "Public address substituted for loopback hosts")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rendezvous %s\n", version)
		return
	}

	if err := config.Load(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := buildConfig(*addr, *proxy, *externalIP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(*verbose || config.Bool("VERBOSE", false))
	defer logger.Sync()
	cfg.Logger = logger

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(rendezvous.NewServer),
		fx.Invoke(registerLifecycle),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)
	app.Run()
}

// buildConfig merges flags over the environment. Flags win when set.
func buildConfig(addr string, proxy bool, externalIP string) (rendezvous.Config, error) {
	cfg := rendezvous.DefaultConfig()

	switch {
	case addr != "":
		cfg.Addr = addr
	case config.String("PORT", "") != "":
		cfg.Addr = listenAddr(config.String("PORT", ""))
	}

	cfg.TrustProxy = proxy || config.Bool("PROXY", false)

	if externalIP == "" {
		externalIP = config.String("EXTERNAL_IP", "")
	}
	if externalIP != "" {
		ip := net.ParseIP(externalIP).To4()
		if ip == nil {
			return cfg, fmt.Errorf("external ip %q is not an IPv4 address", externalIP)
		}
		cfg.ExternalIP = ip
	}
	return cfg, nil
}

// listenAddr accepts a bare port or a host:port.
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func registerLifecycle(lc fx.Lifecycle, s *rendezvous.Server, cfg rendezvous.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
	cfg.Logger.Info("rendezvous configured",
		zap.String("version", version),
		zap.String("addr", cfg.Addr))
}
