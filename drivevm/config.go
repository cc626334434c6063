// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/drivevm/epoch"
)

const (
	defaultContractCacheSize = 512
	defaultResultCacheSize   = 128
)

var errBadCacheSize = errors.New("cache sizes must be positive")

// Config holds the runtime settings of the VM. It can be passed as JSON
// config bytes.
type Config struct {
	Network string `json:"network"`
	ChainID string `json:"chainId"`
	// EpochDuration is in milliseconds.
	EpochDuration     uint64 `json:"epochDuration"`
	ContractCacheSize int    `json:"contractCacheSize"`
	ResultCacheSize   int    `json:"resultCacheSize"`
	// CheckCredits verifies the credit supply after every commit.
	CheckCredits bool `json:"checkCredits"`
}

// DefaultConfig returns the settings of [network].
func DefaultConfig(network string) (Config, error) {
	duration, err := epoch.Duration(network)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Network:           network,
		ChainID:           "drive-" + network,
		EpochDuration:     duration,
		ContractCacheSize: defaultContractCacheSize,
		ResultCacheSize:   defaultResultCacheSize,
	}, nil
}

// ParseConfig overlays the JSON [b] on the defaults of [network].
func ParseConfig(network string, b []byte) (Config, error) {
	c, err := DefaultConfig(network)
	if err != nil {
		return Config{}, err
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return c, c.Verify()
}

func (c Config) Verify() error {
	if _, err := epoch.Duration(c.Network); err != nil {
		return err
	}
	if c.EpochDuration == 0 {
		return fmt.Errorf("epoch duration of %s is zero", c.Network)
	}
	if c.ContractCacheSize <= 0 || c.ResultCacheSize <= 0 {
		return errBadCacheSize
	}
	return nil
}
