// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/drivevm/action"
	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/version"
)

func init() {
	States.Register(version.StateMethod(version.KindDataContractCreate), 0, stateContractCreate)
	States.Register(version.StateMethod(version.KindDataContractUpdate), 0, stateContractUpdate)
	States.Register(version.StateMethod(version.KindDocumentsBatch), 0, stateDocumentsBatchV0)
	States.Register(version.StateMethod(version.KindDocumentsBatch), 1, stateDocumentsBatchV1)
	States.Register(version.StateMethod(version.KindIdentityCreate), 0, stateIdentityCreate)
	States.Register(version.StateMethod(version.KindIdentityTopUp), 0, stateIdentityTopUp)
	States.Register(version.StateMethod(version.KindIdentityUpdate), 0, stateIdentityUpdate)
	States.Register(version.StateMethod(version.KindIdentityCreditWithdrawal), 0, stateWithdrawal)
	States.Register(version.StateMethod(version.KindIdentityCreditTransfer), 0, stateTransfer)
	States.Register(version.StateMethod(version.KindMasternodeVote), 0, stateVote)
}

func fail(errs ...dpp.ConsensusError) (action.Action, []dpp.ConsensusError, error) {
	return nil, errs, nil
}

func base(st *dpp.StateTransition) action.Base {
	return action.Base{FeeIncrease: st.Unsigned.UserFeeIncrease()}
}

func stateContractCreate(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractCreate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	ctx.meter(fee.FunctionCall(ctx.processing().FetchContract))
	_, found, err := ctx.View.Contract(t.Contract.ID)
	if err != nil {
		return nil, nil, err
	}
	if found {
		return fail(&dpp.DataContractAlreadyPresentError{ContractID: t.Contract.ID})
	}
	if t.Contract.Version != 1 {
		return fail(&dpp.InvalidDataContractVersionError{Expected: 1, Got: t.Contract.Version})
	}
	return &action.DataContractCreate{
		Base:     base(st),
		Contract: t.Contract,
		Nonce:    action.Bump(ctx.nonce),
	}, nil, nil
}

func stateContractUpdate(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractUpdate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	ctx.meter(fee.FunctionCall(ctx.processing().FetchContract))
	old, found, err := ctx.View.Contract(t.Contract.ID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return fail(&dpp.DataContractNotFoundError{ContractID: t.Contract.ID})
	}
	if contracts.IsSystem(t.Contract.ID) {
		return fail(&dpp.DataContractUpdateNotAllowedError{Reason: "system contracts are immutable"})
	}
	if old.Contract.OwnerID != t.Contract.OwnerID {
		return fail(&dpp.DataContractUpdateNotAllowedError{Reason: "owner cannot change"})
	}
	if expected := old.Contract.Version + 1; t.Contract.Version != expected {
		return fail(&dpp.InvalidDataContractVersionError{Expected: expected, Got: t.Contract.Version})
	}
	if errs := compatibleUpdate(&old.Contract, &t.Contract); len(errs) > 0 {
		return fail(errs...)
	}
	return &action.DataContractUpdate{
		Base:     base(st),
		Old:      old,
		Contract: t.Contract,
		Nonce:    action.Bump(ctx.nonce),
	}, nil, nil
}

// compatibleUpdate rejects changes that would invalidate stored documents.
// Document types may be added and existing types may gain optional
// properties.
func compatibleUpdate(old, updated *dpp.DataContract) []dpp.ConsensusError {
	var errs []dpp.ConsensusError
	notAllowed := func(format string, args ...interface{}) {
		errs = append(errs, &dpp.DataContractUpdateNotAllowedError{Reason: fmt.Sprintf(format, args...)})
	}
	for i := range old.DocumentTypes {
		was := &old.DocumentTypes[i]
		now, ok := updated.DocumentType(was.Name)
		if !ok {
			notAllowed("document type %q was removed", was.Name)
			continue
		}
		if !sameIndices(was.Indices, now.Indices) {
			notAllowed("indices of %q changed", was.Name)
		}
		if was.GroupControlled != now.GroupControlled || was.ControlGroup != now.ControlGroup {
			notAllowed("group control of %q changed", was.Name)
		}
		for _, p := range was.Properties {
			q, ok := now.Property(p.Name)
			if !ok {
				notAllowed("property %s.%s was removed", was.Name, p.Name)
			} else if q.Type != p.Type {
				notAllowed("property %s.%s changed type", was.Name, p.Name)
			}
		}
		required := make(map[string]struct{}, len(was.Required))
		for _, r := range was.Required {
			required[r] = struct{}{}
		}
		for _, r := range now.Required {
			if _, ok := required[r]; !ok {
				notAllowed("property %s.%s became required", was.Name, r)
			}
		}
	}
	return errs
}

func sameIndices(a, b []dpp.Index) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Unique != b[i].Unique || a[i].Contested != b[i].Contested {
			return false
		}
		if len(a[i].Properties) != len(b[i].Properties) {
			return false
		}
		for j := range a[i].Properties {
			if a[i].Properties[j] != b[i].Properties[j] {
				return false
			}
		}
	}
	return true
}

// UniqueKeyHash is the key material that must not be shared between
// identities. Only authentication keys are unique.
func UniqueKeyHash(k *dpp.IdentityPublicKey) ([]byte, bool) {
	if k.Purpose != dpp.Authentication {
		return nil, false
	}
	switch k.Type {
	case crypto.ECDSASecp256k1, crypto.BLS12381:
		return crypto.Hash160(k.Data), true
	default:
		return k.Data, true
	}
}

// claimKeyHashes checks that no identity uses the unique keys of [keys].
func claimKeyHashes(ctx *Context, keys []dpp.IdentityPublicKey) ([][]byte, []dpp.ConsensusError, error) {
	var (
		hashes [][]byte
		errs   []dpp.ConsensusError
	)
	for i := range keys {
		h, unique := UniqueKeyHash(&keys[i])
		if !unique {
			continue
		}
		ctx.meter(fee.FunctionCall(ctx.processing().ValidateKey))
		_, taken, err := ctx.View.IdentityByKeyHash(h)
		if err != nil {
			return nil, nil, err
		}
		if taken {
			errs = append(errs, &dpp.DuplicateItemError{Field: "publicKeys", Item: hex.EncodeToString(h)})
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, errs, nil
}

// spendableLock fetches an unspent asset lock and checks the transition is
// signed by its key.
func spendableLock(ctx *Context, st *dpp.StateTransition, o dpp.OutPoint) (*drive.AssetLockRecord, []dpp.ConsensusError, error) {
	record, found, err := ctx.View.AssetLock(o)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, []dpp.ConsensusError{&dpp.AssetLockNotFoundError{OutPoint: o}}, nil
	}
	if record.Spent {
		return nil, []dpp.ConsensusError{&dpp.AssetLockAlreadySpentError{OutPoint: o}}, nil
	}
	cerr, err := verifySignature(ctx, st, record.Lock.PubKeyHash, crypto.ECDSAHash160)
	if err != nil || cerr != nil {
		return nil, consensusErrors(cerr), err
	}
	spent := *record
	spent.Spent = true
	return &spent, nil, nil
}

func stateIdentityCreate(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	lock, errs, err := spendableLock(ctx, st, t.AssetLock)
	if err != nil || len(errs) > 0 {
		return nil, errs, err
	}
	id := dpp.IdentityIDFromOutPoint(t.AssetLock)
	exists, err := ctx.View.IdentityExists(id)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return fail(&dpp.IdentityAlreadyExistsError{IdentityID: id})
	}
	if min := ctx.Platform.Limits.MinIdentityFundingAmount; lock.Lock.Credits < min {
		return fail(&dpp.InsufficientAssetLockValueError{Value: lock.Lock.Credits, Required: min})
	}
	hashes, errs, err := claimKeyHashes(ctx, t.PublicKeys)
	if err != nil || len(errs) > 0 {
		return nil, errs, err
	}
	identity := dpp.Identity{
		ID:         id,
		PublicKeys: append([]dpp.IdentityPublicKey(nil), t.PublicKeys...),
	}
	identity.SortKeys()
	return &action.IdentityCreate{
		Base:      base(st),
		Identity:  identity,
		Lock:      *lock,
		KeyHashes: hashes,
	}, nil, nil
}

func stateIdentityTopUp(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityTopUp)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	lock, errs, err := spendableLock(ctx, st, t.AssetLock)
	if err != nil || len(errs) > 0 {
		return nil, errs, err
	}
	exists, err := ctx.View.IdentityExists(t.IdentityID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return fail(&dpp.IdentityNotFoundError{IdentityID: t.IdentityID})
	}
	return &action.IdentityTopUp{
		Base:       base(st),
		IdentityID: t.IdentityID,
		Lock:       *lock,
	}, nil, nil
}

func stateIdentityUpdate(ctx *Context, st *dpp.StateTransition, signer *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityUpdate)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	if expected := signer.Revision + 1; t.Revision != expected {
		return fail(&dpp.InvalidIdentityRevisionError{IdentityID: signer.ID, Current: signer.Revision, Got: t.Revision})
	}

	updated := *signer
	updated.PublicKeys = append([]dpp.IdentityPublicKey(nil), signer.PublicKeys...)
	updated.Revision = t.Revision

	var errs []dpp.ConsensusError
	for _, k := range t.AddPublicKeys {
		if _, exists := signer.Key(k.ID); exists {
			errs = append(errs, &dpp.DuplicatedIdentityPublicKeyIDError{KeyID: k.ID})
			continue
		}
		updated.PublicKeys = append(updated.PublicKeys, k)
	}
	disabledAt := ctx.BlockTime
	if disabledAt == 0 {
		disabledAt = 1
	}
	for _, id := range t.DisablePublicKeys {
		key, ok := updated.Key(id)
		if !ok || key.Disabled() {
			errs = append(errs, &dpp.UnknownPublicKeyToDisableError{KeyID: id})
			continue
		}
		key.DisabledAt = disabledAt
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	if max := ctx.Platform.Limits.MaxKeysPerIdentity; len(updated.PublicKeys) > int(max) {
		return fail(invalidField("addPublicKeys", "identity would have %d keys, limit is %d", len(updated.PublicKeys), max))
	}
	if !updated.HasEnabledMasterKey() {
		return fail(&dpp.MissingMasterKeyError{})
	}
	hashes, errs, err := claimKeyHashes(ctx, t.AddPublicKeys)
	if err != nil || len(errs) > 0 {
		return nil, errs, err
	}
	updated.SortKeys()

	old := *signer
	return &action.IdentityUpdate{
		Base:      base(st),
		Old:       old,
		Updated:   updated,
		KeyHashes: hashes,
		Nonce:     action.Bump(ctx.nonce),
	}, nil, nil
}

// WithdrawalDocumentID is the ID of the withdrawal queued at [index].
func WithdrawalDocumentID(owner ids.ID, index uint64) ids.ID {
	p := wrappers.Packer{MaxSize: wrappers.LongLen}
	p.PackLong(index)
	return dpp.DocumentID(contracts.WithdrawalsID, owner, contracts.WithdrawalType, hashing.ComputeHash256Array(p.Bytes))
}

func stateWithdrawal(ctx *Context, st *dpp.StateTransition, signer *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditWithdrawal)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	ctx.meter(fee.FunctionCall(ctx.processing().FetchIdentityBal))
	if signer.Balance < t.Amount {
		return fail(&dpp.IdentityInsufficientBalanceError{IdentityID: signer.ID, Balance: signer.Balance, Required: t.Amount})
	}
	index, err := ctx.View.WithdrawalIndex()
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(map[string]interface{}{
		"index":          index,
		"amount":         t.Amount,
		"coreFeePerByte": t.CoreFeePerByte,
		"outputScript":   hex.EncodeToString(t.OutputScript),
		"status":         contracts.WithdrawalQueued,
	})
	if err != nil {
		return nil, nil, err
	}
	doc := dpp.Document{
		ID:         WithdrawalDocumentID(t.IdentityID, index),
		ContractID: contracts.WithdrawalsID,
		Type:       contracts.WithdrawalType,
		OwnerID:    t.IdentityID,
		Revision:   1,
		CreatedAt:  ctx.BlockTime,
		UpdatedAt:  ctx.BlockTime,
		Data:       data,
	}
	indices, err := documentIndices(contracts.Withdrawals(), contracts.WithdrawalType, data)
	if err != nil {
		return nil, nil, err
	}
	return &action.IdentityCreditWithdrawal{
		Base:       base(st),
		IdentityID: t.IdentityID,
		Amount:     t.Amount,
		Document:   doc,
		Indices:    indices,
		Index:      action.Bump(index),
		Nonce:      action.Bump(ctx.nonce),
	}, nil, nil
}

// documentIndices returns the unique index values of a platform written
// document.
func documentIndices(c *dpp.DataContract, documentType string, data []byte) ([]action.IndexValues, error) {
	dt, ok := c.DocumentType(documentType)
	if !ok {
		return nil, fmt.Errorf("contract %s has no document type %q", c.ID, documentType)
	}
	fields, err := dpp.ParseDocumentData(data)
	if err != nil {
		return nil, err
	}
	var out []action.IndexValues
	for i := range dt.Indices {
		idx := &dt.Indices[i]
		if !idx.Unique {
			continue
		}
		if values, ok := dpp.IndexValues(dt, idx, fields); ok {
			out = append(out, action.IndexValues{Index: idx.Name, Values: values})
		}
	}
	return out, nil
}

func stateTransfer(ctx *Context, st *dpp.StateTransition, signer *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditTransfer)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	ctx.meter(fee.FunctionCall(ctx.processing().FetchIdentityBal))
	if signer.Balance < t.Amount {
		return fail(&dpp.IdentityInsufficientBalanceError{IdentityID: signer.ID, Balance: signer.Balance, Required: t.Amount})
	}
	exists, err := ctx.View.IdentityExists(t.RecipientID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return fail(&dpp.RecipientIdentityNotFoundError{IdentityID: t.RecipientID})
	}
	return &action.IdentityCreditTransfer{
		Base:   base(st),
		From:   t.IdentityID,
		To:     t.RecipientID,
		Amount: t.Amount,
		Nonce:  action.Bump(ctx.nonce),
	}, nil, nil
}

func stateVote(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.MasternodeVote)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	mn, found, err := ctx.View.Masternode(t.ProTxHash)
	if err != nil {
		return nil, nil, err
	}
	if !found || !mn.Enabled {
		return fail(&dpp.MasternodeNotFoundError{ProTxHash: t.ProTxHash})
	}
	if mn.VoterIdentity != t.VoterIdentityID {
		return fail(&dpp.InvalidIdentifierError{Field: "voterIdentityId", Expected: mn.VoterIdentity, Got: t.VoterIdentityID})
	}
	pollID := t.PollID()
	poll, found, err := ctx.View.Poll(pollID)
	if err != nil {
		return nil, nil, err
	}
	if !found || poll.Resolved {
		return fail(&dpp.VotePollNotFoundError{PollID: pollID})
	}
	if t.Choice == dpp.TowardsIdentity {
		if _, ok := poll.Contender(t.TowardsIdentity); !ok {
			return fail(invalidField("towardsIdentity", "%s is not a contender", t.TowardsIdentity))
		}
	}
	previous, found, err := ctx.View.Vote(pollID, t.ProTxHash)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		previous = nil
	}
	return &action.MasternodeVote{
		Base:      base(st),
		ProTxHash: t.ProTxHash,
		Voter:     t.VoterIdentityID,
		PollID:    pollID,
		Previous:  previous,
		Vote:      drive.Vote{Choice: t.Choice, TowardsIdentity: t.TowardsIdentity},
		Nonce:     action.Bump(ctx.nonce),
	}, nil, nil
}
