// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/storage"
)

var (
	// Keys of the platform singletons in the misc tree. They must not collide
	// with the keys the drive layer writes there.
	isInitializedKey = []byte("platform/initialized")
	platformStateKey = []byte("platform/state")

	errStateMissing = errors.New("platform state is missing")
)

// PlatformState is the chain level checkpoint persisted with every block.
type PlatformState struct {
	ChainID     string `serialize:"true" json:"chainId"`
	Network     string `serialize:"true" json:"network"`
	GenesisTime uint64 `serialize:"true" json:"genesisTime"`
	// InitialHeight is the height of the first block after genesis.
	InitialHeight uint64 `serialize:"true" json:"initialHeight"`
	// Height and BlockTime are those of the last committed block. Both are
	// zero before the first block.
	Height                uint64 `serialize:"true" json:"height"`
	BlockTime             uint64 `serialize:"true" json:"blockTime"`
	Protocol              uint32 `serialize:"true" json:"protocolVersion"`
	Epoch                 uint16 `serialize:"true" json:"epoch"`
	CoreChainLockedHeight uint32 `serialize:"true" json:"coreChainLockedHeight"`
	// QuorumHash commits to the enabled masternodes. It is empty while
	// there are none.
	QuorumHash ids.ID `serialize:"true" json:"quorumHash"`
}

// NextHeight is the height the next block must have.
func (s *PlatformState) NextHeight() uint64 {
	if s.Height == 0 {
		return s.InitialHeight
	}
	return s.Height + 1
}

// QuorumHash hashes the proTxHashes of the enabled masternodes of [v] in
// proTxHash order.
func QuorumHash(v *drive.View) (ids.ID, error) {
	mns, err := v.Masternodes()
	if err != nil {
		return ids.Empty, err
	}
	var buf []byte
	for _, mn := range mns {
		if mn.Enabled {
			buf = append(buf, mn.ProTxHash[:]...)
		}
	}
	if len(buf) == 0 {
		return ids.Empty, nil
	}
	return hashing.ComputeHash256Array(buf), nil
}

func (s *PlatformState) clone() *PlatformState {
	c := *s
	return &c
}

// ChainState reads and writes the platform singletons.
type ChainState interface {
	IsInitialized() (bool, error)
	SetInitialized(txn *storage.Txn) error
	// Load reads the committed checkpoint.
	Load() (*PlatformState, error)
	Put(txn *storage.Txn, s *PlatformState) error
}

var _ ChainState = &chainState{}

type chainState struct {
	committed drive.Reader
}

func NewChainState(committed drive.Reader) ChainState {
	return &chainState{committed: committed}
}

func (s *chainState) IsInitialized() (bool, error) {
	_, err := s.committed.Get(storage.Misc, isInitializedKey)
	switch {
	case err == database.ErrNotFound:
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

func (s *chainState) SetInitialized(txn *storage.Txn) error {
	return txn.Put(storage.Misc, isInitializedKey, []byte{1})
}

func (s *chainState) Load() (*PlatformState, error) {
	b, err := s.committed.Get(storage.Misc, platformStateKey)
	if err == database.ErrNotFound {
		return nil, errStateMissing
	}
	if err != nil {
		return nil, err
	}
	ps := &PlatformState{}
	if _, err := Codec.Unmarshal(b, ps); err != nil {
		return nil, fmt.Errorf("failed to decode platform state: %w", err)
	}
	return ps, nil
}

func (s *chainState) Put(txn *storage.Txn, ps *PlatformState) error {
	b, err := Codec.Marshal(CodecVersion, ps)
	if err != nil {
		return err
	}
	return txn.Put(storage.Misc, platformStateKey, b)
}
