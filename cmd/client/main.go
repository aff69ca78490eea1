// Command client asks the rendezvous service to have the host the game is
// trying to join punch toward the game's UDP port. Start the connection
// attempt in game first, then run this.
//
// Usage:
//
//	client [flags] [rendezvous]
//
// rendezvous defaults to 104.155.180.165:6923 (env RENDEZVOUS_ADDR).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/saintparish4/brpunch/internal/clientagent"
	"github.com/saintparish4/brpunch/internal/config"
	"github.com/saintparish4/brpunch/internal/logging"
	"github.com/saintparish4/brpunch/pkg/types"
)

var version = "dev" // Set via ldflags

func main() {
	envFile := flag.String("env", "", "Path to a .env file (default ./.env if present)")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("client %s\n", version)
		return
	}

	if err := config.Load(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	addr := config.String("RENDEZVOUS_ADDR", clientagent.DefaultRendezvousAddr)
	if flag.NArg() > 0 {
		addr = flag.Arg(0)
	}

	os.Exit(run(addr, *timeout, *verbose || config.Bool("VERBOSE", false)))
}

func run(addr string, timeout time.Duration, verbose bool) int {
	logger := logging.Must(verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := clientagent.New(addr, logger).Run(ctx)
	return report(res, err)
}

// report prints the outcome and returns the exit code. Only failures that
// mean the tool cannot work on this machine are non-zero.
func report(res clientagent.Result, err error) int {
	switch {
	case err == nil:
		fmt.Printf("Asked %s to punch toward local port %d\n", res.Target, res.Port)
		return 0
	case errors.Is(err, types.ErrGameNotRunning):
		fmt.Fprintln(os.Stderr, "Brickadia is not running.")
		return 1
	case errors.Is(err, types.ErrLogUnreadable):
		fmt.Fprintf(os.Stderr, "Could not read the game log: %v\n", err)
		return 1
	case errors.Is(err, types.ErrNoTargetFound):
		fmt.Println("No connection attempt found. Try to join a server in game first.")
	case errors.Is(err, types.ErrNoActivePort):
		fmt.Println("The game has no open UDP port. Try to join a server in game first.")
	case errors.Is(err, types.ErrAmbiguousPorts):
		fmt.Printf("The game has more than one open UDP port: %v\n", err)
	case errors.Is(err, types.ErrUnknownTarget):
		fmt.Printf("%s is not running the host agent.\n", res.Target)
	case errors.Is(err, types.ErrRendezvousUnreachable):
		fmt.Printf("Could not reach the rendezvous service: %v\n", err)
	default:
		fmt.Printf("Join failed: %v\n", err)
	}
	return 0
}
