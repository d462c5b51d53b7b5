package simulator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Repository references the simulator records in its configuration.
const (
	ChainGoRepo      = "https://github.com/multiversx/mx-chain-go"
	ChainProxyGoRepo = "https://github.com/multiversx/mx-chain-proxy-go"
)

// ErrConfigEncode is returned when the configuration document can not be
// rendered as TOML.
var ErrConfigEncode = errors.New("cannot convert config to TOML")

// Document is the simulator's static configuration file (config/config.toml).
type Document struct {
	Config DocumentConfig `toml:"config"`
}

// DocumentConfig groups the two sections the simulator reads.
type DocumentConfig struct {
	Simulator SimulatorSection `toml:"simulator"`
	Logs      LogsSection      `toml:"logs"`
}

// SimulatorSection holds chain parameters.
type SimulatorSection struct {
	ServerPort                  uint16 `toml:"server-port"`
	NumOfShards                 uint64 `toml:"num-of-shards"`
	RoundDurationInMilliseconds uint64 `toml:"round-duration-in-milliseconds"`
	RoundsPerEpoch              uint64 `toml:"rounds-per-epoch"`
	ChainGoRepo                 string `toml:"mx-chain-go-repo"`
	ChainProxyGoRepo            string `toml:"mx-chain-proxy-go-repo"`
}

// LogsSection holds the simulator's own log file rotation settings.
type LogsSection struct {
	LifeSpanInMB  uint64 `toml:"log-file-life-span-in-mb"`
	LifeSpanInSec uint64 `toml:"log-file-life-span-in-sec"`
	FilePrefix    string `toml:"log-file-prefix"`
	LogsPath      string `toml:"logs-path"`
}

// DefaultDocument returns the document with every value at its default.
func DefaultDocument() Document {
	return Document{
		Config: DocumentConfig{
			Simulator: SimulatorSection{
				ServerPort:                  DefaultServerPort,
				NumOfShards:                 DefaultNumShards,
				RoundDurationInMilliseconds: uint64(DefaultRoundDuration.Milliseconds()),
				RoundsPerEpoch:              DefaultRoundsPerEpoch,
				ChainGoRepo:                 ChainGoRepo,
				ChainProxyGoRepo:            ChainProxyGoRepo,
			},
			Logs: LogsSection{
				LifeSpanInMB:  1024,
				LifeSpanInSec: 432000,
				FilePrefix:    "chain-simulator",
				LogsPath:      "logs",
			},
		},
	}
}

// NewDocument derives the configuration document from o. The result depends
// only on o.
func NewDocument(o Options) Document {
	doc := DefaultDocument()
	doc.Config.Simulator.ServerPort = o.serverPort
	doc.Config.Simulator.NumOfShards = o.numShards
	doc.Config.Simulator.RoundsPerEpoch = o.roundsPerEpoch
	if o.roundDuration > 0 {
		doc.Config.Simulator.RoundDurationInMilliseconds = uint64(o.roundDuration.Milliseconds())
	}
	return doc
}

// Encode renders the document as TOML.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigEncode, err)
	}
	return buf.Bytes(), nil
}

// DecodeDocument parses a TOML configuration document.
func DecodeDocument(b []byte) (Document, error) {
	var d Document
	if _, err := toml.Decode(string(b), &d); err != nil {
		return Document{}, fmt.Errorf("decode config document: %w", err)
	}
	return d, nil
}
