// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fee

import (
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/version"
)

// CalculateFunc aggregates the cost of metered operations into a Result.
type CalculateFunc func(fv *version.FeeVersion, ops []Operation, currentEpoch uint16) (Result, error)

// Calculators is the dispatch table of fee aggregation rules.
var Calculators = version.NewDispatcher[CalculateFunc]("fee")

func init() {
	Calculators.Register(version.FeeCalculate, 0, calculateV0)
}

// Calculate prices [ops] with the rules and cost tables of [pv].
func Calculate(pv *version.PlatformVersion, ops []Operation, currentEpoch uint16) (Result, error) {
	calc, err := Calculators.Lookup(pv, version.FeeCalculate)
	if err != nil {
		return Result{}, err
	}
	return calc(&pv.Fee, ops, currentEpoch)
}

func calculateV0(fv *version.FeeVersion, ops []Operation, currentEpoch uint16) (Result, error) {
	var (
		storage    uint64
		processing uint64
		result     Result
	)
	for _, op := range ops {
		s, p, err := op.cost(fv)
		if err != nil {
			return Result{}, err
		}
		if storage, err = safemath.Add64(storage, s); err != nil {
			return Result{}, ErrFeeOverflow
		}
		if processing, err = safemath.Add64(processing, p); err != nil {
			return Result{}, ErrFeeOverflow
		}

		if op.Kind != RemoveOp {
			continue
		}
		removed, err := safemath.Add64(op.KeySize, op.ValueSize)
		if err != nil {
			return Result{}, ErrFeeOverflow
		}
		if result.RemovedBytesFromSystem, err = safemath.Add64(result.RemovedBytesFromSystem, removed); err != nil {
			return Result{}, ErrFeeOverflow
		}
		amount, err := RefundAmount(op.PaidFee, op.InsertEpoch, currentEpoch)
		if err != nil {
			return Result{}, err
		}
		if amount == 0 {
			continue
		}
		result.Refunds = append(result.Refunds, Refund{
			Owner:       op.Owner,
			InsertEpoch: op.InsertEpoch,
			OriginalFee: op.PaidFee,
			FromEpoch:   currentEpoch,
			Amount:      amount,
		})
	}

	var err error
	if result.StorageFee, err = safemath.Mul64(storage, StorageFeeMultiplier); err != nil {
		return Result{}, ErrFeeOverflow
	}
	if result.ProcessingFee, err = safemath.Mul64(processing, ProcessingFeeMultiplier); err != nil {
		return Result{}, ErrFeeOverflow
	}
	return result, nil
}

// ExecutionContext collects the operations metered while validating and
// executing one transition.
type ExecutionContext struct {
	dryRun bool
	ops    []Operation
}

// NewExecutionContext returns an empty context. A dry run context is used to
// estimate fees without committing state.
func NewExecutionContext(dryRun bool) *ExecutionContext {
	return &ExecutionContext{dryRun: dryRun}
}

func (c *ExecutionContext) DryRun() bool { return c.dryRun }

// Add appends metered operations.
func (c *ExecutionContext) Add(ops ...Operation) {
	c.ops = append(c.ops, ops...)
}

// Operations returns the metered operations in order.
func (c *ExecutionContext) Operations() []Operation {
	return c.ops
}

// Len is the number of metered operations.
func (c *ExecutionContext) Len() int { return len(c.ops) }

// Truncate drops every operation recorded after the first [n].
func (c *ExecutionContext) Truncate(n int) {
	if n < len(c.ops) {
		c.ops = c.ops[:n]
	}
}
