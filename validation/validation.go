// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validation turns state transitions into actions. Validation runs
// in three ordered phases: structure, identity and signature, then state.
// A phase only runs when the previous one succeeded.
package validation

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/action"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/version"
)

type (
	// StructureFunc checks a transition without reading state.
	StructureFunc func(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error)
	// IdentitySignedFunc resolves the signer and verifies the signature.
	IdentitySignedFunc func(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error)
	// StateFunc checks a transition against current state and produces
	// its action.
	StateFunc func(ctx *Context, st *dpp.StateTransition, signer *dpp.Identity) (action.Action, []dpp.ConsensusError, error)
)

var (
	Structures     = version.NewDispatcher[StructureFunc]("structure")
	IdentitySigned = version.NewDispatcher[IdentitySignedFunc]("identity_signed")
	States         = version.NewDispatcher[StateFunc]("state")
)

// Context is what validation of one transition may use.
type Context struct {
	Platform    *version.PlatformVersion
	Epoch       uint16
	BlockHeight uint64
	// BlockTime is in milliseconds.
	BlockTime uint64

	// View reads the open block and meters into the transition's
	// execution context.
	View     *drive.View
	Verifier crypto.Verifier
	Schema   dpp.SchemaValidator
	Triggers *Triggers

	// nonce is the signer's current nonce once the nonce check passed.
	nonce uint64
}

func (c *Context) meter(ops ...fee.Operation) {
	if m := c.View.Meter(); m != nil {
		m.Add(ops...)
	}
}

func (c *Context) processing() *version.ProcessingFees {
	return &c.Platform.Fee.Processing
}

// Outcome is the result of validating one transition.
type Outcome struct {
	// Action is the validated action, or the nonce bump of a paid failure.
	Action action.Action
	Errors []dpp.ConsensusError
	// Paid failures consume the nonce and are charged their validation
	// cost, so the nonces of accepted transitions of an identity can have
	// gaps. Unpaid failures leave state untouched.
	Paid bool
	// Signer is the identity resolved by the identity phase.
	Signer *dpp.Identity
}

// Valid reports whether the transition passed every phase.
func (o *Outcome) Valid() bool { return len(o.Errors) == 0 }

func unpaid(errs ...dpp.ConsensusError) *Outcome {
	return &Outcome{Errors: errs}
}

// Validate runs every phase on [st]. A returned error is an internal failure
// that must abort the block; user failures are reported in the outcome.
func Validate(ctx *Context, st *dpp.StateTransition) (*Outcome, error) {
	pv := ctx.Platform
	kind := st.Unsigned.Kind().String()

	ctx.meter(fee.FunctionCall(ctx.processing().StructureCheck))
	bounds, err := pv.TransitionBounds(kind)
	if err != nil {
		return nil, err
	}
	if fv := st.Unsigned.FeatureVersion(); !bounds.Contains(fv) {
		return unpaid(&dpp.UnsupportedFeatureVersionError{Kind: kind, Version: fv, Bounds: bounds}), nil
	}
	if size := len(st.Bytes()); size > int(pv.Limits.MaxTransitionSize) {
		return unpaid(&dpp.TransitionTooLargeError{Size: uint32(size), Max: pv.Limits.MaxTransitionSize}), nil
	}
	structure, err := Structures.Lookup(pv, version.StructureMethod(kind))
	if err != nil {
		return nil, err
	}
	errs, err := structure(ctx, st)
	if err != nil || len(errs) > 0 {
		return unpaid(errs...), err
	}

	var signer *dpp.Identity
	if _, err := pv.MethodVersion(version.IdentitySignedMethod(kind)); err == nil {
		signed, err := IdentitySigned.Lookup(pv, version.IdentitySignedMethod(kind))
		if err != nil {
			return nil, err
		}
		signer, errs, err = signed(ctx, st)
		if err != nil || len(errs) > 0 {
			return unpaid(errs...), err
		}
	}

	n, hasNonce := nonceOf(st.Unsigned)
	var current uint64
	if hasNonce {
		ctx.meter(fee.FunctionCall(ctx.processing().FetchIdentityNonce))
		if n.contractScoped {
			current, err = ctx.View.ContractNonce(n.identity, n.contract)
		} else {
			current, err = ctx.View.IdentityNonce(n.identity)
		}
		if err != nil {
			return nil, err
		}
		if n.value != current+1 {
			return unpaid(&dpp.InvalidIdentityNonceError{
				IdentityID: n.identity,
				ContractID: n.contract,
				Current:    current,
				Got:        n.value,
			}), nil
		}
		ctx.nonce = current
	}

	state, err := States.Lookup(pv, version.StateMethod(kind))
	if err != nil {
		return nil, err
	}
	act, errs, err := state(ctx, st, signer)
	if err != nil {
		return nil, err
	}
	if len(errs) == 0 {
		return &Outcome{Action: act, Signer: signer}, nil
	}
	if !hasNonce || !paidFailure(errs) {
		return &Outcome{Errors: errs, Signer: signer}, nil
	}
	base := action.Base{FeeIncrease: st.Unsigned.UserFeeIncrease()}
	var bump action.Action
	if n.contractScoped {
		bump = &action.BumpIdentityContractNonce{
			Base:       base,
			IdentityID: n.identity,
			ContractID: n.contract,
			Nonce:      action.Bump(current),
		}
	} else {
		bump = &action.BumpIdentityNonce{
			Base:       base,
			IdentityID: n.identity,
			Nonce:      action.Bump(current),
		}
	}
	return &Outcome{Action: bump, Errors: errs, Paid: true, Signer: signer}, nil
}

// paidFailure reports whether a state failure is charged. Balance failures
// are not, since the signer could not pay for them.
func paidFailure(errs []dpp.ConsensusError) bool {
	for _, e := range errs {
		if dpp.ClassOf(e) == dpp.FeeClass {
			return false
		}
	}
	return true
}

type nonce struct {
	identity       ids.ID
	contract       ids.ID
	contractScoped bool
	value          uint64
}

func nonceOf(t dpp.UnsignedTransition) (nonce, bool) {
	switch t := t.(type) {
	case *dpp.DataContractCreate:
		return nonce{identity: t.Contract.OwnerID, value: t.IdentityNonce}, true
	case *dpp.DataContractUpdate:
		return nonce{identity: t.Contract.OwnerID, contract: t.Contract.ID, contractScoped: true, value: t.IdentityContractNonce}, true
	case *dpp.DocumentsBatch:
		return nonce{identity: t.Owner, contract: t.ContractID, contractScoped: true, value: t.IdentityContractNonce}, true
	case *dpp.IdentityUpdate:
		return nonce{identity: t.IdentityID, value: t.IdentityNonce}, true
	case *dpp.IdentityCreditWithdrawal:
		return nonce{identity: t.IdentityID, value: t.IdentityNonce}, true
	case *dpp.IdentityCreditTransfer:
		return nonce{identity: t.IdentityID, value: t.IdentityNonce}, true
	case *dpp.MasternodeVote:
		return nonce{identity: t.VoterIdentityID, value: t.IdentityNonce}, true
	default:
		return nonce{}, false
	}
}
