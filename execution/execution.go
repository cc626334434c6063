// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package execution validates transitions, applies their actions to the open
// block and charges their fees.
package execution

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/drivevm/action"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/validation"
	"github.com/ava-labs/drivevm/version"
)

var (
	errUnexpectedAction = errors.New("unexpected action type")

	// ErrInternal marks failures of the engine itself. They abort the block.
	ErrInternal = errors.New("internal execution error")
)

// BlockInfo is what execution needs to know about the open block.
type BlockInfo struct {
	Platform *version.PlatformVersion
	Height   uint64
	// Time is in milliseconds.
	Time  uint64
	Epoch uint16
}

// Result is the outcome of one transition for the block result log.
type Result struct {
	TransitionID ids.ID
	Kind         string
	Errors       []dpp.ConsensusError
	// Fee is the metered cost. It is only debited when Charged is set.
	Fee     fee.Result
	Charged bool
}

// Valid reports whether the transition's own action was applied.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Executor runs transitions against the block transaction.
type Executor struct {
	drive    *drive.Drive
	verifier crypto.Verifier
	triggers *validation.Triggers
	log      log.Logger
}

func New(d *drive.Drive, verifier crypto.Verifier, triggers *validation.Triggers) *Executor {
	return &Executor{
		drive:    d,
		verifier: verifier,
		triggers: triggers,
		log:      log.New("module", "execution"),
	}
}

func internal(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// Process validates [raw] and applies its action to [txn]. Consensus errors
// are reported in the result. A returned error means the block cannot be
// finalized.
func (e *Executor) Process(txn *storage.Txn, blk *BlockInfo, raw []byte) (*Result, error) {
	st, cerr := dpp.ParseTransition(raw)
	if cerr != nil {
		return &Result{Kind: "unknown", Errors: []dpp.ConsensusError{cerr}}, nil
	}
	kind := st.Unsigned.Kind().String()
	result := &Result{TransitionID: st.ID(), Kind: kind}

	meter := fee.NewExecutionContext(false)
	ctx := &validation.Context{
		Platform:    blk.Platform,
		Epoch:       blk.Epoch,
		BlockHeight: blk.Height,
		BlockTime:   blk.Time,
		View:        e.drive.View(txn, meter),
		Verifier:    e.verifier,
		Schema:      dpp.DefaultSchemaValidator{MaxDocumentSize: blk.Platform.Limits.MaxDocumentSize},
		Triggers:    e.triggers,
	}
	outcome, err := validation.Validate(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s %s: %w", kind, st.ID(), err)
	}
	result.Errors = outcome.Errors
	if !outcome.Valid() && !outcome.Paid {
		// reported, never debited
		result.Fee, err = fee.Calculate(blk.Platform, meter.Operations(), blk.Epoch)
		if err != nil {
			return nil, err
		}
		e.log.Debug("transition rejected", "id", st.ID(), "kind", kind, "error", outcome.Errors[0])
		return result, nil
	}

	act := outcome.Action
	b := drive.NewBatch(&blk.Platform.Fee, blk.Epoch)
	opsFn, err := Operations.Lookup(blk.Platform, version.OperationsMethod(act.Name()))
	if err != nil {
		return nil, err
	}
	if err := opsFn(b, act); err != nil {
		return nil, internal("failed to build operations of %s: %v", act.Name(), err)
	}

	ops := append(append([]fee.Operation(nil), meter.Operations()...), b.FeeOperations()...)
	res, err := fee.Calculate(blk.Platform, ops, blk.Epoch)
	if err != nil {
		return nil, err
	}
	if err := res.ApplyUserFeeIncrease(act.UserFeeIncrease()); err != nil {
		return nil, err
	}

	if !feeExempt(kind) {
		available, spend, err := e.available(txn, act)
		if err != nil {
			return nil, err
		}
		total, err := res.Total()
		if err != nil {
			return nil, err
		}
		switch {
		case outcome.Paid:
			// the validation work is charged as far as the balance covers it
			if _, err := res.CapTo(available); err != nil {
				return nil, err
			}
		case available < spend || available-spend < total:
			result.Errors = []dpp.ConsensusError{insufficient(act, available, total, spend)}
			result.Fee = res
			e.log.Debug("transition cannot pay its fee", "id", st.ID(), "kind", kind, "fee", total, "available", available)
			return result, nil
		}
		if err := b.Charge(act.Payer(), &res); err != nil {
			return nil, err
		}
		result.Charged = true
	}
	result.Fee = res

	if err := e.drive.Apply(txn, b); err != nil {
		return nil, internal("failed to apply %s %s: %v", kind, st.ID(), err)
	}
	if outcome.Paid {
		e.log.Debug("transition failed, nonce consumed", "id", st.ID(), "kind", kind, "error", outcome.Errors[0])
	}
	return result, nil
}

// feeExempt transitions are metered but not debited. Masternode voting
// identities hold no credits.
func feeExempt(kind string) bool {
	return kind == version.KindMasternodeVote
}

// available returns what the payer of [a] can spend on fees and the amount
// the action itself moves out of that balance.
func (e *Executor) available(txn *storage.Txn, a action.Action) (uint64, uint64, error) {
	view := e.drive.View(txn, nil)
	switch a := a.(type) {
	case *action.IdentityCreate:
		return a.Lock.Lock.Credits, 0, nil
	case *action.IdentityTopUp:
		balance, _, err := view.Balance(a.IdentityID)
		if err != nil {
			return 0, 0, err
		}
		if balance+a.Lock.Lock.Credits < balance {
			return 0, 0, internal("balance of %s overflows", a.IdentityID)
		}
		return balance + a.Lock.Lock.Credits, 0, nil
	case *action.IdentityCreditTransfer:
		balance, _, err := view.Balance(a.From)
		return balance, a.Amount, err
	case *action.IdentityCreditWithdrawal:
		balance, _, err := view.Balance(a.IdentityID)
		return balance, a.Amount, err
	default:
		balance, _, err := view.Balance(a.Payer())
		return balance, 0, err
	}
}

func insufficient(a action.Action, available, total, spend uint64) dpp.ConsensusError {
	switch a.(type) {
	case *action.IdentityCreate, *action.IdentityTopUp:
		return &dpp.InsufficientAssetLockValueError{Value: available, Required: total}
	default:
		return &dpp.IdentityInsufficientBalanceError{
			IdentityID: a.Payer(),
			Balance:    available,
			Required:   total + spend,
		}
	}
}
