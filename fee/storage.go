// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fee

import (
	safemath "github.com/ava-labs/avalanchego/utils/math"
)

const (
	EpochsPerYear = 20
	// PerpetualStorageEpochs is the window storage fees prepay: 50 years.
	PerpetualStorageEpochs = 50 * EpochsPerYear
)

// Allocation is how a storage fee paid in one epoch is spread over the
// PerpetualStorageEpochs epochs starting with that epoch. The first epoch also
// receives the division remainder.
type Allocation struct {
	PerEpoch  uint64
	Remainder uint64
}

// Allocate splits [fee] evenly over the storage window.
func Allocate(fee uint64) Allocation {
	return Allocation{
		PerEpoch:  fee / PerpetualStorageEpochs,
		Remainder: fee % PerpetualStorageEpochs,
	}
}

// EpochShare is the part of [fee], paid in [insertEpoch], that belongs to the
// pool of [epoch].
func EpochShare(fee uint64, insertEpoch, epoch uint16) uint64 {
	if epoch < insertEpoch || uint32(epoch) >= uint32(insertEpoch)+PerpetualStorageEpochs {
		return 0
	}
	a := Allocate(fee)
	if epoch == insertEpoch {
		return a.PerEpoch + a.Remainder
	}
	return a.PerEpoch
}

// RefundAmount is the part of [fee], paid in [insertEpoch], allocated to the
// epochs strictly after [currentEpoch]. Removing data in [currentEpoch]
// refunds exactly this amount.
func RefundAmount(fee uint64, insertEpoch, currentEpoch uint16) (uint64, error) {
	if currentEpoch < insertEpoch {
		currentEpoch = insertEpoch
	}
	end := WindowEnd(insertEpoch)
	start := uint32(currentEpoch) + 1
	if start >= end {
		return 0, nil
	}
	amount, err := safemath.Mul64(Allocate(fee).PerEpoch, uint64(end-start))
	if err != nil {
		return 0, ErrFeeOverflow
	}
	return amount, nil
}

// WindowEnd is the first epoch that no longer receives any of a fee paid in
// [insertEpoch].
func WindowEnd(insertEpoch uint16) uint32 {
	return uint32(insertEpoch) + PerpetualStorageEpochs
}
