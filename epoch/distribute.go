// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import (
	"errors"
	"math"
	"math/bits"

	"github.com/ava-labs/avalanchego/ids"
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

var (
	errNegativeStorageShare = errors.New("negative storage share")
	errStorageRateOverflow  = errors.New("storage rate overflow")
)

// Payout is what one proposer received for an epoch.
type Payout struct {
	ProTxHash ids.ID
	Identity  ids.ID
	Blocks    uint64
	Amount    uint64
}

// DistributeFunc pays out epoch [from] and returns its finalized record.
type DistributeFunc func(v *drive.View, b *drive.Batch, pv *version.PlatformVersion, from, to uint16) (*drive.EpochInfo, []Payout, error)

// StorageShareFunc folds the storage deltas of [from, to) into the storage
// rate and returns the share of each epoch.
type StorageShareFunc func(v *drive.View, b *drive.Batch, from, to uint16) ([]uint64, error)

var (
	Distributors  = version.NewDispatcher[DistributeFunc]("epoch.distribute")
	StorageShares = version.NewDispatcher[StorageShareFunc]("epoch.storage")
)

func init() {
	Distributors.Register(version.EpochDistribute, 0, distributeV0)
	StorageShares.Register(version.DriveSpreadStorageFees, 0, storageSharesV0)
}

func storageSharesV0(v *drive.View, b *drive.Batch, from, to uint16) ([]uint64, error) {
	rate, err := v.StorageRate()
	if err != nil {
		return nil, err
	}
	shares := make([]uint64, 0, int(to-from))
	for e := uint32(from); e < uint32(to); e++ {
		delta, err := v.StorageDelta(e)
		if err != nil {
			return nil, err
		}
		if (delta > 0 && rate > math.MaxInt64-delta) || (delta < 0 && rate < math.MinInt64-delta) {
			return nil, errStorageRateOverflow
		}
		rate += delta
		if rate < 0 {
			return nil, errNegativeStorageShare
		}
		b.FoldStorageDelta(e, rate)
		shares = append(shares, uint64(rate))
	}
	return shares, nil
}

// distributeV0 splits the processing pool and the storage share of [from]
// between its proposers by block count. Division leftovers, payouts to
// unknown masternodes and the storage shares of skipped epochs start the
// processing pool of [to].
func distributeV0(v *drive.View, b *drive.Batch, pv *version.PlatformVersion, from, to uint16) (*drive.EpochInfo, []Payout, error) {
	info, found, err := v.Epoch(from)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		info = &drive.EpochInfo{Index: from, Protocol: uint32(pv.Protocol)}
	}

	processing, err := v.ProcessingPool()
	if err != nil {
		return nil, nil, err
	}
	spread, err := StorageShares.Lookup(pv, version.DriveSpreadStorageFees)
	if err != nil {
		return nil, nil, err
	}
	shares, err := spread(v, b, from, to)
	if err != nil {
		return nil, nil, err
	}
	var carry uint64
	for _, s := range shares[1:] {
		if carry, err = safemath.Add64(carry, s); err != nil {
			return nil, nil, err
		}
	}
	pool, err := safemath.Add64(processing, shares[0])
	if err != nil {
		return nil, nil, err
	}

	counts, err := v.ProposerCounts(from)
	if err != nil {
		return nil, nil, err
	}
	var blocks uint64
	for _, c := range counts {
		if blocks, err = safemath.Add64(blocks, c.Blocks); err != nil {
			return nil, nil, err
		}
	}

	var (
		paid    uint64
		payouts = make([]Payout, 0, len(counts))
	)
	for _, c := range counts {
		b.DeleteProposerCount(from, c.ProTxHash)
		mn, found, err := v.Masternode(c.ProTxHash)
		if err != nil {
			return nil, nil, err
		}
		if !found || mn.PayoutIdentity == ids.Empty {
			continue
		}
		amount := share(pool, c.Blocks, blocks)
		if amount == 0 {
			continue
		}
		b.AddBalance(mn.PayoutIdentity, amount)
		paid += amount
		payouts = append(payouts, Payout{
			ProTxHash: c.ProTxHash,
			Identity:  mn.PayoutIdentity,
			Blocks:    c.Blocks,
			Amount:    amount,
		})
	}

	leftovers := pool - paid
	next, err := safemath.Add64(leftovers, carry)
	if err != nil {
		return nil, nil, err
	}
	b.SetProcessingPool(next)

	info.Finalized = true
	info.ProcessingPaid = processing
	info.StoragePaid = shares[0]
	info.Blocks = blocks
	info.Leftovers = next
	return info, payouts, nil
}

// share returns pool*part/total rounded down. part <= total keeps the
// quotient within 64 bits.
func share(pool, part, total uint64) uint64 {
	hi, lo := bits.Mul64(pool, part)
	q, _ := bits.Div64(hi, lo, total)
	return q
}
