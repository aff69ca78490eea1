// Command host runs the host agent next to a game server. It discovers the
// route to the Internet, registers the game port with the rendezvous service
// and punches toward every client the service introduces.
//
// Capturing and injecting frames needs libpcap (Npcap on Windows) and
// usually administrator rights.
//
// Usage:
//
//	host [flags] [game_port] [rendezvous]
//
// game_port defaults to 7777 and rendezvous to 104.155.180.165:6923
// (env RENDEZVOUS_ADDR).
//
// Flags:
//
//	-stun string   STUN server used to log the public address (env STUN_SERVER, "" disables)
//	-sentinel      Send a one byte payload instead of an empty datagram
//	-env string    .env file to load
//	-verbose       Enable debug logging
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/saintparish4/brpunch/internal/config"
	"github.com/saintparish4/brpunch/internal/hostagent"
	"github.com/saintparish4/brpunch/internal/logging"
	"github.com/saintparish4/brpunch/pkg/stun"
	"github.com/saintparish4/brpunch/pkg/types"
)

var version = "dev" // Set via ldflags

func main() {
	envFile := flag.String("env", "", "Path to a .env file (default ./.env if present)")
	stunServer := flag.String("stun", stun.DefaultServer, "STUN server for public address discovery (empty disables)")
	sentinel := flag.Bool("sentinel", false, "Send a one byte payload instead of an empty datagram")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("host %s\n", version)
		return
	}

	if err := config.Load(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	var stunFlag *string
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "stun" {
			stunFlag = stunServer
		}
	})

	cfg, err := buildConfig(flag.Args(), stunFlag, *sentinel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage()
		os.Exit(2)
	}

	os.Exit(run(cfg, *verbose || config.Bool("VERBOSE", false)))
}

func run(cfg hostagent.Config, verbose bool) int {
	logger := logging.Must(verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := hostagent.New(cfg, logger)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	err = host.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("host stopped")
		return 0
	case errors.Is(err, types.ErrCaptureUnavailable):
		logger.Error("packet capture unavailable; install libpcap or Npcap and run with administrator rights", zap.Error(err))
	case errors.Is(err, types.ErrNoRouteDiscovered):
		logger.Error("could not discover the route to the Internet", zap.Error(err))
	case errors.Is(err, types.ErrRendezvousUnreachable):
		logger.Error("could not reach the rendezvous service", zap.String("addr", cfg.RendezvousAddr), zap.Error(err))
	default:
		logger.Error("host failed", zap.Error(err))
	}
	return 1
}

// buildConfig reads the positional arguments over the environment. stunFlag
// is nil when -stun was not given.
func buildConfig(args []string, stunFlag *string, sentinel bool) (hostagent.Config, error) {
	cfg := hostagent.DefaultConfig()
	cfg.RendezvousAddr = config.String("RENDEZVOUS_ADDR", cfg.RendezvousAddr)
	cfg.STUNServer = config.String("STUN_SERVER", stun.DefaultServer)
	if stunFlag != nil {
		cfg.STUNServer = *stunFlag
	}
	cfg.Sentinel = sentinel || config.Bool("SENTINEL", false)

	if len(args) > 2 {
		return cfg, fmt.Errorf("too many arguments")
	}
	if len(args) >= 1 {
		port, err := types.ParsePort(args[0])
		if err != nil {
			return cfg, fmt.Errorf("game port: %w", err)
		}
		cfg.GamePort = port
	}
	if len(args) == 2 {
		cfg.RendezvousAddr = args[1]
	}
	return cfg, nil
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: host [flags] [game_port=%d] [rendezvous=%s]\n\n",
		hostagent.DefaultGamePort, hostagent.DefaultRendezvousAddr)
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Environment variables:")
	fmt.Fprintln(out, "  RENDEZVOUS_ADDR  rendezvous service address")
	fmt.Fprintf(out, "  STUN_SERVER      STUN server (default: %s)\n", stun.DefaultServer)
}
