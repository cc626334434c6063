// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fee

import (
	"errors"
	"sort"

	"github.com/ava-labs/avalanchego/ids"
	safemath "github.com/ava-labs/avalanchego/utils/math"
)

var (
	ErrUnpricedOperation = errors.New("operation has no price")
	ErrFeeOverflow       = errors.New("fee arithmetic overflow")
)

// Multipliers applied to aggregated costs. Changing them is a consensus
// change.
const (
	StorageFeeMultiplier    uint64 = 1
	ProcessingFeeMultiplier uint64 = 1
)

// Refund returns the not yet consumed part of prepaid storage to its owner.
type Refund struct {
	Owner       ids.ID
	InsertEpoch uint16
	OriginalFee uint64
	// FromEpoch is the epoch the removal happened in. Allocations after it
	// are refunded.
	FromEpoch uint16
	Amount    uint64
}

// Result is the outcome of metering one transition.
type Result struct {
	StorageFee             uint64
	ProcessingFee          uint64
	Refunds                []Refund
	RemovedBytesFromSystem uint64
}

// Add accumulates [o] into [r]. Overflow is fatal to the caller.
func (r *Result) Add(o Result) error {
	storage, err := safemath.Add64(r.StorageFee, o.StorageFee)
	if err != nil {
		return ErrFeeOverflow
	}
	processing, err := safemath.Add64(r.ProcessingFee, o.ProcessingFee)
	if err != nil {
		return ErrFeeOverflow
	}
	removed, err := safemath.Add64(r.RemovedBytesFromSystem, o.RemovedBytesFromSystem)
	if err != nil {
		return ErrFeeOverflow
	}
	r.StorageFee = storage
	r.ProcessingFee = processing
	r.RemovedBytesFromSystem = removed
	r.Refunds = append(r.Refunds, o.Refunds...)
	return nil
}

// Total is the storage plus processing fee.
func (r *Result) Total() (uint64, error) {
	total, err := safemath.Add64(r.StorageFee, r.ProcessingFee)
	if err != nil {
		return 0, ErrFeeOverflow
	}
	return total, nil
}

// TotalRefunds sums every refund.
func (r *Result) TotalRefunds() (uint64, error) {
	var total uint64
	for _, refund := range r.Refunds {
		var err error
		total, err = safemath.Add64(total, refund.Amount)
		if err != nil {
			return 0, ErrFeeOverflow
		}
	}
	return total, nil
}

// RefundsByEpoch sums refunds by the epoch the refunded data was inserted in.
func (r *Result) RefundsByEpoch() (map[uint16]uint64, error) {
	byEpoch := make(map[uint16]uint64)
	for _, refund := range r.Refunds {
		sum, err := safemath.Add64(byEpoch[refund.InsertEpoch], refund.Amount)
		if err != nil {
			return nil, ErrFeeOverflow
		}
		byEpoch[refund.InsertEpoch] = sum
	}
	return byEpoch, nil
}

// OwnerRefund is the total refund owed to one identity.
type OwnerRefund struct {
	Owner  ids.ID
	Amount uint64
}

// RefundsByOwner sums refunds per owner, ordered by owner ID so that
// crediting them is deterministic.
func (r *Result) RefundsByOwner() ([]OwnerRefund, error) {
	byOwner := make(map[ids.ID]uint64)
	for _, refund := range r.Refunds {
		sum, err := safemath.Add64(byOwner[refund.Owner], refund.Amount)
		if err != nil {
			return nil, ErrFeeOverflow
		}
		byOwner[refund.Owner] = sum
	}
	out := make([]OwnerRefund, 0, len(byOwner))
	for owner, amount := range byOwner {
		if amount == 0 {
			continue
		}
		out = append(out, OwnerRefund{Owner: owner, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Owner[:]) < string(out[j].Owner[:])
	})
	return out, nil
}

// ApplyUserFeeIncrease adds a tip of [percent]% of the total fee to the
// processing fee.
func (r *Result) ApplyUserFeeIncrease(percent uint16) error {
	if percent == 0 {
		return nil
	}
	total, err := r.Total()
	if err != nil {
		return err
	}
	scaled, err := safemath.Mul64(total, uint64(percent))
	if err != nil {
		return ErrFeeOverflow
	}
	processing, err := safemath.Add64(r.ProcessingFee, scaled/100)
	if err != nil {
		return ErrFeeOverflow
	}
	r.ProcessingFee = processing
	return nil
}

// CapTo lowers the fee so its total does not exceed [max], taking from the
// processing fee first. It returns the amount removed.
func (r *Result) CapTo(max uint64) (uint64, error) {
	total, err := r.Total()
	if err != nil {
		return 0, err
	}
	if total <= max {
		return 0, nil
	}
	excess := total - max
	if excess <= r.ProcessingFee {
		r.ProcessingFee -= excess
		return excess, nil
	}
	r.StorageFee -= excess - r.ProcessingFee
	r.ProcessingFee = 0
	return excess, nil
}
