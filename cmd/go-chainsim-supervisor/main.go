// Package main provides the go-chainsim-supervisor CLI entry point.
//
// go-chainsim-supervisor launches a local blockchain chain simulator inside a
// private workspace, waits for its HTTP API, generates the first epoch and
// keeps the process supervised until it is stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/config"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/logging"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/orchestrator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/process"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-chainsim-supervisor
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Handle version flag early (before flag parsing)
	if len(args) > 0 {
		arg := args[0]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Fprintf(stdout, "go-chainsim-supervisor %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		if err := printCommand(stdout, cfg.SimulatorOptions()); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	opts := cfg.SimulatorOptions()
	logger.Info("starting",
		"version", version,
		"assets_dir", cfg.AssetsDir,
		"port", opts.ServerPort(),
		"shards", opts.NumShards(),
		"autogenerate", opts.AutogenerateInterval().String(),
		"metrics_addr", cfg.MetricsAddr,
		"config_file", cfg.ConfigFile,
	)

	if !cfg.TUIEnabled {
		printBanner(stdout, cfg, opts)
	}

	// Create and run orchestrator
	orch := orchestrator.New(cfg, logger)
	orch.Metrics().SetInfo(version, opts.ServerPort(), opts.NumShards())
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}
	return 0
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config, opts simulator.Options) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                     go-chainsim-supervisor                        ║")
	fmt.Fprintln(w, "║          Local chain simulator process supervision                ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Assets:      %s\n", cfg.AssetsDir)
	fmt.Fprintf(w, "  API:         http://localhost:%d\n", opts.ServerPort())
	fmt.Fprintf(w, "  Shards:      %d (%d rounds/epoch, %s rounds)\n",
		opts.NumShards(), opts.RoundsPerEpoch(), opts.RoundDuration())
	if opts.Autogenerates() {
		fmt.Fprintf(w, "  Blocks:      one every %s\n", opts.AutogenerateInterval())
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.MaxRestarts > 0 {
		fmt.Fprintf(w, "  Restarts:    up to %d\n", cfg.MaxRestarts)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

// printCommand prints the simulator command and its configuration document.
func printCommand(w io.Writer, opts simulator.Options) error {
	doc, err := simulator.NewDocument(opts).Encode()
	if err != nil {
		return err
	}

	const dir = "<workspace>"
	fmt.Fprintln(w, "# Simulator command, run from a fresh workspace:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, process.NewSimulatorRunner().CommandString(dir, opts))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "# %s:\n", filepath.Join(dir, workspace.ConfigDir, workspace.ConfigFile))
	fmt.Fprintln(w)
	_, err = w.Write(doc)
	return err
}
