package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const usageHeader = `go-chainsim-supervisor - run and control a local chain simulator

Usage:
  go-chainsim-supervisor [flags]

`

const usageFooter = `
Examples:
  # Start with defaults (port 8085, 3 shards) and generate a block every second
  go-chainsim-supervisor -assets ./chain-simulator -autogenerate 1s

  # Load settings from a file, overriding the port
  go-chainsim-supervisor -config chainsim.yaml -port 9085

  # Show the command that would be run
  go-chainsim-supervisor -print-cmd

`

// flagCategories groups flags for the usage message.
var flagCategories = []struct {
	title string
	names []string
}{
	{"Simulator", []string{"assets", "port", "shards", "rounds-per-epoch", "round-duration", "bypass-signature", "autogenerate"}},
	{"Control Plane", []string{"ready-timeout", "rpc-timeout"}},
	{"Restart Policy", []string{"max-restarts"}},
	{"Safety & Diagnostics", []string{"print-cmd", "skip-preflight", "config"}},
	{"Observability", []string{"metrics", "v", "log-format", "tui"}},
}

// newFlagSet binds every flag to a field of cfg.
func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("go-chainsim-supervisor", flag.ContinueOnError)
	fs.SetOutput(output)

	// Simulator
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Directory holding the chainsimulator executable, its library and config/")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Simulator HTTP API port")
	fs.IntVar(&cfg.Shards, "shards", cfg.Shards, "Number of shards")
	fs.IntVar(&cfg.RoundsPerEpoch, "rounds-per-epoch", cfg.RoundsPerEpoch, "Rounds per epoch")
	fs.DurationVar(&cfg.RoundDuration, "round-duration", cfg.RoundDuration, "Round duration")
	fs.BoolVar(&cfg.BypassSignature, "bypass-signature", cfg.BypassSignature, "Bypass transaction signature checks")
	fs.DurationVar(&cfg.Autogenerate, "autogenerate", cfg.Autogenerate, "Generate one block per interval (0 = disabled)")

	// Control plane
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "How long to wait for GET /about after launch")
	fs.DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "Per-request control-plane timeout")

	// Restart policy
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Restart the simulator up to N times after unexpected exits")

	// Safety & Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the simulator command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file (flags given explicitly take precedence)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" = disabled)`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	fs.Usage = func() {
		fmt.Fprint(output, usageHeader)
		for i, c := range flagCategories {
			if i > 0 {
				fmt.Fprintln(output)
			}
			fmt.Fprintf(output, "%s Flags:\n", c.title)
			printFlagCategory(fs, output, c.names)
		}
		fmt.Fprint(output, usageFooter)
	}
	return fs
}

// ParseFlags parses args (without the program name) and returns a Config.
//
// When -config names a file, its values replace the defaults and the flags
// are parsed a second time on top so that explicit flags win.
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	if err := newFlagSet(cfg, output).Parse(args); err != nil {
		return nil, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	path := cfg.ConfigFile
	fileCfg := DefaultConfig()
	if err := LoadFile(path, fileCfg); err != nil {
		return nil, err
	}
	if err := newFlagSet(fileCfg, io.Discard).Parse(args); err != nil {
		return nil, err
	}
	fileCfg.ConfigFile = path
	return fileCfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
