// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package epoch closes fee accounting epochs: it pays the epoch pools out to
// block proposers, resolves finished vote polls and counts protocol upgrade
// signals.
package epoch

import (
	"errors"
	"fmt"
	"math"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/version"
)

// Epoch durations in milliseconds.
const (
	MainnetDuration uint64 = 788_400_000
	TestnetDuration uint64 = 3_600_000
	DevnetDuration  uint64 = 60_000
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	errEpochOverflow  = errors.New("epoch index overflow")
	errEpochBackwards = errors.New("epoch cannot go backwards")
)

// Duration returns the epoch length of [network].
func Duration(network string) (uint64, error) {
	switch network {
	case "mainnet":
		return MainnetDuration, nil
	case "testnet":
		return TestnetDuration, nil
	case "devnet":
		return DevnetDuration, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// Index returns the epoch a block at [blockTime] falls into.
func Index(genesisTime, blockTime, duration uint64) (uint16, error) {
	if blockTime <= genesisTime {
		return 0, nil
	}
	n := (blockTime - genesisTime) / duration
	if n > math.MaxUint16 {
		return 0, errEpochOverflow
	}
	return uint16(n), nil
}

// Block is the block that starts a new epoch.
type Block struct {
	Height uint64
	// Time is in milliseconds.
	Time uint64
}

// Report summarises a rollover.
type Report struct {
	Closed   *drive.EpochInfo
	Started  *drive.EpochInfo
	Payouts  []Payout
	Resolved []Resolution
	// Upgrade is the protocol version the chain switches to, zero when the
	// signals did not reach the threshold.
	Upgrade version.ProtocolVersion
}

// Manager performs rollovers against the block transaction.
type Manager struct {
	drive *drive.Drive
	log   log.Logger
}

func NewManager(d *drive.Drive) *Manager {
	return &Manager{
		drive: d,
		log:   log.New("module", "epoch"),
	}
}

// Start records the first epoch of the chain.
func (m *Manager) Start(txn *storage.Txn, pv *version.PlatformVersion, blk Block) error {
	b := drive.NewBatch(&pv.Fee, 0)
	if err := b.PutEpoch(&drive.EpochInfo{
		Index:       0,
		StartHeight: blk.Height,
		StartTime:   blk.Time,
		Protocol:    uint32(pv.Protocol),
	}); err != nil {
		return err
	}
	return m.drive.Apply(txn, b)
}

// Rollover closes epoch [from] and starts epoch [to]. Epochs in between had
// no blocks: their storage shares carry into the pool of [to].
func (m *Manager) Rollover(txn *storage.Txn, pv *version.PlatformVersion, from, to uint16, blk Block) (*Report, error) {
	if to <= from {
		return nil, fmt.Errorf("%w: %d to %d", errEpochBackwards, from, to)
	}
	view := m.drive.View(txn, nil)
	b := drive.NewBatch(&pv.Fee, to)

	distribute, err := Distributors.Lookup(pv, version.EpochDistribute)
	if err != nil {
		return nil, err
	}
	closed, payouts, err := distribute(view, b, pv, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to distribute epoch %d: %w", from, err)
	}

	resolve, err := Resolvers.Lookup(pv, version.VotePollResolve)
	if err != nil {
		return nil, err
	}
	resolved, err := resolve(view, b, to)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve polls: %w", err)
	}

	check, err := UpgradeCheckers.Lookup(pv, version.ProtocolUpgradeCheck)
	if err != nil {
		return nil, err
	}
	upgrade, err := check(view, b, pv, closed.Blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to count upgrade signals: %w", err)
	}

	protocol := pv.Protocol
	if upgrade != 0 {
		protocol = upgrade
	}
	started := &drive.EpochInfo{
		Index:       to,
		StartHeight: blk.Height,
		StartTime:   blk.Time,
		Protocol:    uint32(protocol),
	}
	if err := b.PutEpoch(closed); err != nil {
		return nil, err
	}
	if err := b.PutEpoch(started); err != nil {
		return nil, err
	}
	if err := m.drive.Apply(txn, b); err != nil {
		return nil, err
	}

	m.log.Info("epoch closed",
		"epoch", from,
		"next", to,
		"blocks", closed.Blocks,
		"processing", closed.ProcessingPaid,
		"storage", closed.StoragePaid,
		"leftovers", closed.Leftovers,
		"polls", len(resolved),
	)
	if upgrade != 0 {
		m.log.Info("protocol upgrade accepted", "from", pv.Protocol, "to", upgrade, "epoch", to)
	}
	return &Report{
		Closed:   closed,
		Started:  started,
		Payouts:  payouts,
		Resolved: resolved,
		Upgrade:  upgrade,
	}, nil
}
