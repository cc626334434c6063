// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/version"
)

var errUnexpectedTransition = errors.New("unexpected transition type")

func init() {
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindDataContractCreate), 0, signedContractCreate)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindDataContractUpdate), 0, signedContractUpdate)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindDocumentsBatch), 0, signedDocumentsBatch)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindIdentityUpdate), 0, signedIdentityUpdate)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindIdentityCreditWithdrawal), 0, signedWithdrawal)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindIdentityCreditTransfer), 0, signedTransfer)
	IdentitySigned.Register(version.IdentitySignedMethod(version.KindMasternodeVote), 0, signedVote)
}

// keyRequirement is what the signing key of a transition must satisfy.
type keyRequirement struct {
	purposes []dpp.Purpose
	levels   []dpp.SecurityLevel
}

func (r keyRequirement) allowsPurpose(p dpp.Purpose) bool {
	for _, allowed := range r.purposes {
		if allowed == p {
			return true
		}
	}
	return false
}

func (r keyRequirement) allowsLevel(l dpp.SecurityLevel) bool {
	for _, allowed := range r.levels {
		if allowed == l {
			return true
		}
	}
	return false
}

var (
	contractCreateKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Authentication},
		levels:   []dpp.SecurityLevel{dpp.Critical, dpp.High},
	}
	criticalAuthKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Authentication},
		levels:   []dpp.SecurityLevel{dpp.Critical},
	}
	masterKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Authentication},
		levels:   []dpp.SecurityLevel{dpp.Master},
	}
	withdrawalKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Authentication, dpp.Transfer},
		levels:   []dpp.SecurityLevel{dpp.Critical},
	}
	transferKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Transfer},
		levels:   []dpp.SecurityLevel{dpp.Critical},
	}
	votingKeys = keyRequirement{
		purposes: []dpp.Purpose{dpp.Voting},
		levels:   []dpp.SecurityLevel{dpp.Critical, dpp.High},
	}
)

// verifyIdentitySignature fetches [identityID] and checks the signature of
// [st] against its key. Checks run in a fixed order so that the first
// failing one is reported.
func verifyIdentitySignature(
	ctx *Context,
	st *dpp.StateTransition,
	identityID ids.ID,
	req keyRequirement,
) (*dpp.Identity, []dpp.ConsensusError, error) {
	ctx.meter(fee.FunctionCall(ctx.processing().FetchIdentityKeys))
	identity, found, err := ctx.View.Identity(identityID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, []dpp.ConsensusError{&dpp.IdentityNotFoundError{IdentityID: identityID}}, nil
	}

	key, ok := identity.Key(st.SignaturePublicKeyID)
	if !ok {
		return nil, []dpp.ConsensusError{&dpp.MissingPublicKeyError{KeyID: st.SignaturePublicKeyID}}, nil
	}
	if key.Disabled() {
		return nil, []dpp.ConsensusError{&dpp.PublicKeyIsDisabledError{KeyID: key.ID}}, nil
	}
	if !req.allowsPurpose(key.Purpose) {
		return nil, []dpp.ConsensusError{&dpp.WrongPublicKeyPurposeError{
			KeyID:   key.ID,
			Purpose: key.Purpose,
			Allowed: req.purposes,
		}}, nil
	}
	if !req.allowsLevel(key.SecurityLevel) {
		return nil, []dpp.ConsensusError{&dpp.PublicKeySecurityLevelNotMetError{
			KeyID:   key.ID,
			Level:   key.SecurityLevel,
			Allowed: req.levels,
		}}, nil
	}
	if !key.Type.CanSign() {
		return nil, []dpp.ConsensusError{&dpp.InvalidSignaturePublicKeyError{KeyID: key.ID, KeyType: key.Type}}, nil
	}

	cerr, err := verifySignature(ctx, st, key.Data, key.Type)
	if err != nil || cerr != nil {
		return nil, consensusErrors(cerr), err
	}
	return identity, nil, nil
}

// verifySignature meters and checks the signature of [st] against [pubkey].
func verifySignature(ctx *Context, st *dpp.StateTransition, pubkey []byte, kt crypto.KeyType) (dpp.ConsensusError, error) {
	msg, err := st.SignableBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transition: %w", err)
	}
	ctx.meter(
		fee.Hash(uint64(len(msg))),
		fee.SignatureVerification(kt),
	)
	valid, err := ctx.Verifier.VerifySignature(st.Signature, msg, pubkey, kt)
	switch {
	case errors.Is(err, crypto.ErrUnsupportedKeyType):
		return &dpp.InvalidSignaturePublicKeyError{KeyID: st.SignaturePublicKeyID, KeyType: kt}, nil
	case err != nil:
		return nil, err
	case !valid:
		return &dpp.InvalidStateTransitionSignatureError{}, nil
	}
	return nil, nil
}

func consensusErrors(errs ...dpp.ConsensusError) []dpp.ConsensusError {
	out := errs[:0]
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func signedContractCreate(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractCreate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.Contract.OwnerID, contractCreateKeys)
}

func signedContractUpdate(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractUpdate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.Contract.OwnerID, criticalAuthKeys)
}

// signedDocumentsBatch requires a key at least as strong as the strictest
// document type the batch touches.
func signedDocumentsBatch(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DocumentsBatch)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	required := dpp.High
	ctx.meter(fee.FunctionCall(ctx.processing().FetchContract))
	stored, found, err := ctx.View.Contract(t.ContractID)
	if err != nil {
		return nil, nil, err
	}
	if found {
		for _, dt := range t.Transitions {
			if docType, ok := stored.Contract.DocumentType(dt.DocumentType); ok && docType.SecurityLevel < required {
				required = docType.SecurityLevel
			}
		}
	}
	if required < dpp.Critical {
		required = dpp.Critical
	}
	req := keyRequirement{purposes: []dpp.Purpose{dpp.Authentication}}
	for l := dpp.Critical; l <= required; l++ {
		req.levels = append(req.levels, l)
	}
	return verifyIdentitySignature(ctx, st, t.Owner, req)
}

func signedIdentityUpdate(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityUpdate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.IdentityID, masterKeys)
}

func signedWithdrawal(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditWithdrawal)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.IdentityID, withdrawalKeys)
}

func signedTransfer(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditTransfer)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.IdentityID, transferKeys)
}

func signedVote(ctx *Context, st *dpp.StateTransition) (*dpp.Identity, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.MasternodeVote)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	return verifyIdentitySignature(ctx, st, t.VoterIdentityID, votingKeys)
}
