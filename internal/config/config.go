// Package config provides configuration management for go-chainsim-supervisor.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Simulator
	AssetsDir       string        `json:"assets_dir" yaml:"assets_dir"`
	Port            int           `json:"port" yaml:"port"`
	Shards          int           `json:"shards" yaml:"shards"`
	RoundsPerEpoch  int           `json:"rounds_per_epoch" yaml:"rounds_per_epoch"`
	RoundDuration   time.Duration `json:"round_duration" yaml:"round_duration"`
	BypassSignature bool          `json:"bypass_signature" yaml:"bypass_signature"`
	Autogenerate    time.Duration `json:"autogenerate" yaml:"autogenerate"` // 0 = disabled

	// Control plane
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	RPCTimeout   time.Duration `json:"rpc_timeout" yaml:"rpc_timeout"`

	// Observability
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // empty = disabled
	Verbose     bool   `json:"verbose" yaml:"verbose"`
	LogFormat   string `json:"log_format" yaml:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui" yaml:"tui"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd" yaml:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight" yaml:"skip_preflight"`

	// Restart policy
	MaxRestarts int `json:"max_restarts" yaml:"max_restarts"` // 0 = never restart

	// ConfigFile is the YAML file the values above were loaded from, if any.
	ConfigFile string `json:"config_file" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Simulator
		AssetsDir:      "chain-simulator",
		Port:           int(simulator.DefaultServerPort),
		Shards:         int(simulator.DefaultNumShards),
		RoundsPerEpoch: int(simulator.DefaultRoundsPerEpoch),
		RoundDuration:  simulator.DefaultRoundDuration,

		// Control plane
		ReadyTimeout: 10 * time.Second,
		RPCTimeout:   30 * time.Second,

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		LogFormat:   "json",
		TUIEnabled:  false,
	}
}

// LoadFile reads a YAML config file into cfg. ${VAR} references are
// expanded from the environment before parsing. Keys absent from the file
// keep their current value.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return fmt.Errorf("expand config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

// SimulatorOptions converts the config into launch options.
// Call Validate first; out-of-range values are not rechecked here.
func (c *Config) SimulatorOptions() simulator.Options {
	return simulator.DefaultOptions().
		WithServerPort(uint16(c.Port)).
		WithNumShards(uint64(c.Shards)).
		WithRoundsPerEpoch(uint64(c.RoundsPerEpoch)).
		WithRoundDuration(c.RoundDuration).
		WithBypassTxSignature(c.BypassSignature).
		WithAutogeneration(c.Autogenerate)
}
