package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/dapp/internal/client"
	"github.com/mattjoyce/dapp/internal/config"
	"github.com/mattjoyce/dapp/internal/log"
	"github.com/mattjoyce/dapp/internal/protocol"
	"github.com/mattjoyce/dapp/internal/runner"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			os.Exit(0)
		}
		os.Exit(runServe(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("dapp-client version %s (protocol %s)\n", version, protocol.Version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `dapp-client - DevAssistant protocol client

Usage:
  dapp-client <command> [flags]

Commands:
  run               Serve run requests on the configured streams
  config check      Validate a configuration file
  config lock       Write BLAKE3 checksums for a configuration file
  version           Show client and protocol versions
  help              Show this help message

Frames are exchanged on stdin/stdout unless the config names other streams.
Logs are written to stderr.
`)
}

func printRunHelp() {
	fmt.Println("Usage: dapp-client run [--config PATH] [--once]")
	fmt.Println("Serve dispatch cycles until the inbound stream closes.")
	fmt.Println("  --once   handle exactly one run message, then exit")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: dapp-client config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: dapp-client config check --config PATH")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration check PASSED: %s (%d steps)\n", cfg.SourcePath, len(cfg.Run.Steps))
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: dapp-client config lock --config PATH [--dry-run]")
		return 1
	}

	report, err := config.Lock(*configPath, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	for _, f := range report.Files {
		fmt.Printf("%s  %s\n", f.Hash, f.Path)
	}
	if report.Written {
		fmt.Printf("Wrote %s\n", report.ChecksumPath)
	} else {
		fmt.Println("Dry-run: .checksums not written")
	}
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	once := fs.Bool("once", false, "Handle a single run message")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("main")

	in, out, closeStreams, err := openTransport(cfg.Transport)
	if err != nil {
		logger.Error("failed to open transport", "error", err)
		return 1
	}
	defer closeStreams()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A blocked read only returns once the inbound stream is closed.
	go func() {
		<-ctx.Done()
		if c, ok := in.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	conn := protocol.NewConn(in, out, protocol.WithLimits(protocol.Limits{MaxBodyBytes: cfg.Protocol.MaxFrameBytes}))
	c := client.New(conn, runner.New(cfg.Run, nil))

	logger.Info("dapp-client starting", "version", version, "protocol", protocol.Version, "config", cfg.SourcePath)
	if err := serve(ctx, c, *once, logger); err != nil {
		logger.Error("dapp-client stopped", "error", err)
		return 1
	}
	logger.Info("dapp-client stopped")
	return 0
}

// serve runs dispatch cycles until the inbound stream closes at a frame
// boundary, ctx is cancelled, or (with once) a single cycle completes.
func serve(ctx context.Context, c *client.Client, once bool, logger *slog.Logger) error {
	for cycles := 0; ; cycles++ {
		if ctx.Err() != nil {
			logger.Info("shutdown requested", "cycles", cycles)
			return nil
		}

		err := c.Pingpong(ctx)
		switch {
		case err == nil:
			if once {
				return nil
			}
		case ctx.Err() != nil:
			logger.Info("shutdown requested", "cycles", cycles)
			return nil
		case errors.Is(err, io.EOF):
			logger.Info("inbound stream closed", "cycles", cycles)
			return nil
		default:
			return err
		}
	}
}

// openTransport opens the configured streams. "-" selects stdin/stdout.
func openTransport(cfg config.TransportConfig) (io.Reader, io.Writer, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	var in io.Reader = os.Stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open input %s: %w", cfg.Input, err)
		}
		closers = append(closers, f)
		in = f
	}

	outFile := os.Stdout
	if cfg.Output != "-" {
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY, 0)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("open output %s: %w", cfg.Output, err)
		}
		closers = append(closers, f)
		outFile = f
	}

	return in, bufio.NewWriter(outFile), closeAll, nil
}
