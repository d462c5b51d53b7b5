// Package simulator describes how a chain simulator process is configured:
// the immutable launch Options, the command-line arguments they translate to,
// and the TOML configuration document written before every launch.
package simulator

import (
	"strconv"
	"time"
)

// Default option values used by DefaultOptions.
const (
	DefaultServerPort     uint16 = 8085
	DefaultNumShards      uint64 = 3
	DefaultRoundsPerEpoch uint64 = 20
	DefaultRoundDuration         = 6000 * time.Millisecond
)

// Options is the immutable set of user-facing launch options.
//
// Options has value semantics: every With* method returns a modified copy and
// never touches the receiver, so an Options value handed to a supervisor can
// not change underneath it.
type Options struct {
	serverPort           uint16
	numShards            uint64
	roundsPerEpoch       uint64
	roundDuration        time.Duration
	bypassTxSignature    bool
	autogenerateInterval time.Duration
}

// DefaultOptions returns port 8085, 3 shards, 20 rounds per epoch, signature
// checks enabled and no block autogeneration.
func DefaultOptions() Options {
	return Options{
		serverPort:     DefaultServerPort,
		numShards:      DefaultNumShards,
		roundsPerEpoch: DefaultRoundsPerEpoch,
		roundDuration:  DefaultRoundDuration,
	}
}

// WithServerPort returns a copy listening on port.
func (o Options) WithServerPort(port uint16) Options {
	o.serverPort = port
	return o
}

// WithNumShards returns a copy with n shards.
func (o Options) WithNumShards(n uint64) Options {
	o.numShards = n
	return o
}

// WithRoundsPerEpoch returns a copy with n rounds per epoch.
func (o Options) WithRoundsPerEpoch(n uint64) Options {
	o.roundsPerEpoch = n
	return o
}

// WithRoundDuration returns a copy with the given round duration.
func (o Options) WithRoundDuration(d time.Duration) Options {
	o.roundDuration = d
	return o
}

// WithBypassTxSignature returns a copy with transaction signature checks
// bypassed (or not).
func (o Options) WithBypassTxSignature(bypass bool) Options {
	o.bypassTxSignature = bypass
	return o
}

// WithAutogeneration returns a copy that generates one block every interval
// once started. A non-positive interval disables autogeneration.
func (o Options) WithAutogeneration(every time.Duration) Options {
	if every < 0 {
		every = 0
	}
	o.autogenerateInterval = every
	return o
}

// ServerPort is the simulator's HTTP port.
func (o Options) ServerPort() uint16 { return o.serverPort }

// NumShards is the number of shards the simulator runs.
func (o Options) NumShards() uint64 { return o.numShards }

// RoundsPerEpoch is the number of rounds in one epoch.
func (o Options) RoundsPerEpoch() uint64 { return o.roundsPerEpoch }

// RoundDuration is the simulated duration of one round.
func (o Options) RoundDuration() time.Duration { return o.roundDuration }

// BypassTxSignature reports whether transaction signatures are not checked.
func (o Options) BypassTxSignature() bool { return o.bypassTxSignature }

// AutogenerateInterval is the block autogeneration cadence (0 = disabled).
func (o Options) AutogenerateInterval() time.Duration { return o.autogenerateInterval }

// Autogenerates reports whether block autogeneration is enabled.
func (o Options) Autogenerates() bool {
	return o.autogenerateInterval > 0
}

// BlocksPerEpoch is the number of blocks that advance the chain by one epoch.
func (o Options) BlocksPerEpoch() uint64 {
	return o.roundsPerEpoch + 1
}

// CLIArgs returns the simulator's command-line arguments, in a fixed order.
func (o Options) CLIArgs() []string {
	return []string{
		"--server-port", strconv.FormatUint(uint64(o.serverPort), 10),
		"--num-of-shards", strconv.FormatUint(o.numShards, 10),
		"--rounds-per-epoch", strconv.FormatUint(o.roundsPerEpoch, 10),
		"--bypass-txs-signature", strconv.FormatBool(o.bypassTxSignature),
	}
}
