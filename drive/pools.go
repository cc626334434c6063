// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/storage"
)

var (
	errSignedOverflow  = errors.New("signed pool arithmetic overflow")
	errNegativeStorage = errors.New("storage pool went negative")
	errCreditsMismatch = errors.New("total credits mismatch")
)

// The storage pool is kept as a difference array over epochs: the amount
// epoch e pays out is the sum of every delta up to e. The storage rate holds
// the sum of the deltas of epochs already paid out.

func encodeSigned(v int64) []byte {
	b := make([]byte, counterSize)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeSigned(b []byte) (int64, error) {
	if len(b) != counterSize {
		return 0, fmt.Errorf("signed value has %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func addSigned(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, errSignedOverflow
	}
	return a + b, nil
}

// ProposerCount is the number of blocks a proposer produced in an epoch.
type ProposerCount struct {
	ProTxHash ids.ID
	Blocks    uint64
}

// UpgradeCount is the number of blocks signalling a protocol version.
type UpgradeCount struct {
	Version uint32
	Blocks  uint64
}

// ProcessingPool is the processing fees collected in the current epoch.
func (v *View) ProcessingPool() (uint64, error) {
	n, _, err := v.getUint64(storage.Pools, processingPoolKey)
	return n, err
}

// StorageRate is the sum of the storage deltas of every paid out epoch.
func (v *View) StorageRate() (int64, error) {
	return readDelta(v.r, storageRateKey)
}

func (v *View) StorageDelta(epoch uint32) (int64, error) {
	return readDelta(v.r, StorageDeltaKey(epoch))
}

func (v *View) Epoch(index uint16) (*EpochInfo, bool, error) {
	info := &EpochInfo{}
	found, err := v.getRecord(storage.Pools, EpochKey(index), info)
	if err != nil || !found {
		return nil, false, err
	}
	return info, true, nil
}

// ProposerCounts returns the block counts of [epoch] in proTxHash order.
func (v *View) ProposerCounts(epoch uint16) ([]ProposerCount, error) {
	prefix := ProposerPrefix(epoch)
	var counts []ProposerCount
	err := v.r.Iterate(storage.Pools, prefix, func(key, value []byte) (bool, error) {
		proTxHash, err := ids.ToID(key[len(prefix):])
		if err != nil {
			return false, err
		}
		n, err := database.ParseUInt64(value)
		if err != nil {
			return false, err
		}
		counts = append(counts, ProposerCount{ProTxHash: proTxHash, Blocks: n})
		return true, nil
	})
	return counts, err
}

// UpgradeCounts returns the version signals of the current epoch in version
// order.
func (v *View) UpgradeCounts() ([]UpgradeCount, error) {
	prefix := UpgradeCountPrefix()
	var counts []UpgradeCount
	err := v.r.Iterate(storage.Votes, prefix, func(key, value []byte) (bool, error) {
		n, err := database.ParseUInt64(value)
		if err != nil {
			return false, err
		}
		counts = append(counts, UpgradeCount{
			Version: binary.BigEndian.Uint32(key[len(prefix):]),
			Blocks:  n,
		})
		return true, nil
	})
	return counts, err
}

// OutstandingStorage is the storage fees still to be paid out from
// [currentEpoch] on.
func (v *View) OutstandingStorage(currentEpoch uint16) (uint64, error) {
	rate, err := v.StorageRate()
	if err != nil {
		return 0, err
	}
	var (
		prefix = []byte{storageDeltaPrefix}
		prev   = uint32(currentEpoch)
		total  uint64
	)
	err = v.r.Iterate(storage.Pools, prefix, func(key, value []byte) (bool, error) {
		epoch := binary.BigEndian.Uint32(key[len(prefix):])
		delta, err := decodeSigned(value)
		if err != nil {
			return false, err
		}
		if epoch < prev {
			// deltas of paid out epochs are folded into the rate
			return false, fmt.Errorf("unfolded storage delta at epoch %d", epoch)
		}
		if rate < 0 {
			return false, errNegativeStorage
		}
		span, err := safemath.Mul64(uint64(rate), uint64(epoch-prev))
		if err != nil {
			return false, err
		}
		if total, err = safemath.Add64(total, span); err != nil {
			return false, err
		}
		if rate, err = addSigned(rate, delta); err != nil {
			return false, err
		}
		prev = epoch
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if rate != 0 {
		return 0, fmt.Errorf("%w: storage rate ends at %d", errNegativeStorage, rate)
	}
	return total, nil
}

// VerifyTotalCredits checks that every credit minted and not burnt is held
// by a balance, the processing pool or a future storage allocation.
func (v *View) VerifyTotalCredits(currentEpoch uint16) error {
	total, err := v.TotalCredits()
	if err != nil {
		return err
	}
	var held uint64
	err = v.r.Iterate(storage.Balances, nil, func(_, value []byte) (bool, error) {
		n, err := database.ParseUInt64(value)
		if err != nil {
			return false, err
		}
		held, err = safemath.Add64(held, n)
		return err == nil, err
	})
	if err != nil {
		return err
	}
	processing, err := v.ProcessingPool()
	if err != nil {
		return err
	}
	storageHeld, err := v.OutstandingStorage(currentEpoch)
	if err != nil {
		return err
	}
	for _, n := range []uint64{processing, storageHeld} {
		if held, err = safemath.Add64(held, n); err != nil {
			return err
		}
	}
	if held != total {
		return fmt.Errorf("%w: minted %d, held %d", errCreditsMismatch, total, held)
	}
	return nil
}

func (b *Batch) PutEpoch(info *EpochInfo) error {
	value, err := marshal(info)
	if err != nil {
		return err
	}
	b.Raw(storage.Pools, EpochKey(info.Index), value)
	return nil
}

// SetProcessingPool overwrites the processing pool.
func (b *Batch) SetProcessingPool(amount uint64) {
	if amount == 0 {
		b.RawDelete(storage.Pools, processingPoolKey)
		return
	}
	b.Raw(storage.Pools, processingPoolKey, database.PackUInt64(amount))
}

// FoldStorageDelta moves the delta of [epoch] into the storage rate, which
// becomes [rate].
func (b *Batch) FoldStorageDelta(epoch uint32, rate int64) {
	b.RawDelete(storage.Pools, StorageDeltaKey(epoch))
	if rate == 0 {
		b.RawDelete(storage.Pools, storageRateKey)
		return
	}
	b.Raw(storage.Pools, storageRateKey, encodeSigned(rate))
}

// CountProposer adds a block to [proTxHash] in [epoch].
func (b *Batch) CountProposer(epoch uint16, proTxHash ids.ID) {
	b.RawCounter(storage.Pools, ProposerKey(epoch, proTxHash), 1, false)
}

func (b *Batch) DeleteProposerCount(epoch uint16, proTxHash ids.ID) {
	b.RawDelete(storage.Pools, ProposerKey(epoch, proTxHash))
}

// SignalUpgrade counts a block signalling [version].
func (b *Batch) SignalUpgrade(version uint32) {
	b.RawCounter(storage.Votes, UpgradeCountKey(version), 1, false)
}

func (b *Batch) ClearUpgradeCount(version uint32) {
	b.RawDelete(storage.Votes, UpgradeCountKey(version))
}
