// Package node wires the slot-production, finality, and authority-schedule
// subsystems together into a single running consensus core, adapting the
// lifecycle conventions the pack uses for its own top-level node type.
package node

import (
	"errors"
	"fmt"

	"github.com/qdrvm/kagome-sub000/types"
)

// Config holds everything needed to assemble a Node.
type Config struct {
	// Name is a human-readable node identifier (used in logs).
	Name string

	// ChainID/GenesisHash identify the network this node participates in.
	ChainID     string
	GenesisHash types.Hash

	// SlotDuration is the BABE slot length, in milliseconds.
	SlotDuration uint64

	// EpochLength is the number of slots per epoch.
	EpochLength uint64

	// GrandpaRoundDuration is the base GRANDPA round duration.
	GrandpaRoundDuration uint64 // milliseconds

	// BackoffBlocks is the finality-lag threshold beyond which slot
	// claiming is skipped (§4.4's backing-off rule).
	BackoffBlocks uint32

	// MetricsNamespace prefixes every published metric name.
	MetricsNamespace string

	// WestendCompat names the hard-coded past-round compatibility hatch for
	// one specific legacy chain and justification. New does not read it;
	// the hatch is configured through grandpa.Config's WestendGenesisHash
	// and WestendPastRound, which New leaves unset.
	WestendCompat bool

	// LogLevel selects the verbosity of every subsystem logger this node
	// constructs ("debug", "info", "warn", "error"); see log.ParseLevel.
	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults for a relay-chain-
// shaped network.
func DefaultConfig() Config {
	return Config{
		Name:                 "consensus-core",
		ChainID:              "dev",
		SlotDuration:         6000,
		EpochLength:          2400,
		GrandpaRoundDuration: 4000,
		BackoffBlocks:        128,
		MetricsNamespace:     "kagome_sub000",
		LogLevel:             "info",
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("config: name must not be empty")
	}
	if c.SlotDuration == 0 {
		return fmt.Errorf("config: slot duration must be positive, got %d", c.SlotDuration)
	}
	if c.EpochLength == 0 {
		return fmt.Errorf("config: epoch length must be positive, got %d", c.EpochLength)
	}
	if c.GrandpaRoundDuration == 0 {
		return fmt.Errorf("config: grandpa round duration must be positive, got %d", c.GrandpaRoundDuration)
	}
	return nil
}
