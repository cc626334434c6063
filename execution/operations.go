// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/action"
	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

// OperationsFunc turns an action into storage operations. It performs no
// reads.
type OperationsFunc func(b *drive.Batch, a action.Action) error

var Operations = version.NewDispatcher[OperationsFunc]("operations")

func init() {
	Operations.Register(version.OperationsMethod(version.KindDataContractCreate), 0, contractCreateOps)
	Operations.Register(version.OperationsMethod(version.KindDataContractUpdate), 0, contractUpdateOps)
	Operations.Register(version.OperationsMethod(version.KindDocumentsBatch), 0, documentsBatchOps)
	Operations.Register(version.OperationsMethod(version.KindIdentityCreate), 0, identityCreateOps)
	Operations.Register(version.OperationsMethod(version.KindIdentityTopUp), 0, identityTopUpOps)
	Operations.Register(version.OperationsMethod(version.KindIdentityUpdate), 0, identityUpdateOps)
	Operations.Register(version.OperationsMethod(version.KindIdentityCreditWithdrawal), 0, withdrawalOps)
	Operations.Register(version.OperationsMethod(version.KindIdentityCreditTransfer), 0, transferOps)
	Operations.Register(version.OperationsMethod(version.KindMasternodeVote), 0, voteOps)
	Operations.Register(version.BumpIdentityNonceOps, 0, bumpIdentityNonceOps)
	Operations.Register(version.BumpContractNonceOps, 0, bumpContractNonceOps)
}

func contractCreateOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.DataContractCreate)
	if !ok {
		return errUnexpectedAction
	}
	owner := act.Contract.OwnerID
	if err := b.InsertContract(&act.Contract, owner); err != nil {
		return err
	}
	b.SetIdentityNonce(owner, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func contractUpdateOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.DataContractUpdate)
	if !ok {
		return errUnexpectedAction
	}
	owner := act.Contract.OwnerID
	if err := b.ReplaceContract(act.Old, &act.Contract, owner); err != nil {
		return err
	}
	b.SetContractNonce(owner, act.Contract.ID, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func documentsBatchOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.DocumentsBatch)
	if !ok {
		return errUnexpectedAction
	}
	for i := range act.Ops {
		if err := documentOps(b, act.ContractID, &act.Ops[i]); err != nil {
			return err
		}
	}
	b.SetContractNonce(act.Owner, act.ContractID, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func documentOps(b *drive.Batch, contractID ids.ID, op *action.DocumentOp) error {
	if g := op.Group; g != nil {
		if err := b.PutGroupAction(g.ActionID, g.Previous, &g.Action); err != nil {
			return err
		}
		if !op.Execute {
			return nil
		}
	}
	if p := op.Poll; p != nil {
		if err := b.PutPoll(p.Previous, &p.Poll); err != nil {
			return err
		}
	}
	doc := &op.Document
	for _, r := range op.RemoveIndices {
		if err := b.DeleteUniqueIndex(contractID, doc.Type, r.Index, r.Values, r.Entry); err != nil {
			return err
		}
	}
	switch op.Action {
	case dpp.CreateDocument:
		if op.Contender {
			return nil
		}
		if err := b.InsertDocument(doc, op.Owner); err != nil {
			return err
		}
	case dpp.ReplaceDocument:
		if err := b.ReplaceDocument(op.Old, doc, op.Owner); err != nil {
			return err
		}
	case dpp.DeleteDocument:
		return b.DeleteDocument(op.Old)
	}
	for _, idx := range op.AddIndices {
		if err := b.InsertUniqueIndex(contractID, doc.Type, idx.Index, idx.Values, doc.ID, op.Owner); err != nil {
			return err
		}
	}
	return nil
}

func identityCreateOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.IdentityCreate)
	if !ok {
		return errUnexpectedAction
	}
	id := act.Identity.ID
	if err := b.InsertIdentity(&act.Identity); err != nil {
		return err
	}
	if err := spendLock(b, &act.Lock); err != nil {
		return err
	}
	b.AddBalance(id, act.Lock.Lock.Credits)
	for _, h := range act.KeyHashes {
		b.InsertKeyHash(h, id)
	}
	return nil
}

func identityTopUpOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.IdentityTopUp)
	if !ok {
		return errUnexpectedAction
	}
	if err := spendLock(b, &act.Lock); err != nil {
		return err
	}
	b.AddBalance(act.IdentityID, act.Lock.Lock.Credits)
	return nil
}

// spendLock marks the lock spent and mints its value.
func spendLock(b *drive.Batch, spent *drive.AssetLockRecord) error {
	unspent := *spent
	unspent.Spent = false
	if err := b.PutAssetLock(&unspent, spent); err != nil {
		return err
	}
	b.Mint(spent.Lock.Credits)
	return nil
}

func identityUpdateOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.IdentityUpdate)
	if !ok {
		return errUnexpectedAction
	}
	id := act.Updated.ID
	if err := b.ReplaceIdentity(&act.Old, &act.Updated); err != nil {
		return err
	}
	for _, h := range act.KeyHashes {
		b.InsertKeyHash(h, id)
	}
	b.SetIdentityNonce(id, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func withdrawalOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.IdentityCreditWithdrawal)
	if !ok {
		return errUnexpectedAction
	}
	b.RemoveBalance(act.IdentityID, act.Amount)
	b.Burn(act.Amount)
	if err := b.InsertDocument(&act.Document, act.IdentityID); err != nil {
		return err
	}
	for _, idx := range act.Indices {
		err := b.InsertUniqueIndex(contracts.WithdrawalsID, contracts.WithdrawalType, idx.Index, idx.Values, act.Document.ID, act.IdentityID)
		if err != nil {
			return err
		}
	}
	b.SetWithdrawalIndex(act.Index.Previous, act.Index.Next)
	b.SetIdentityNonce(act.IdentityID, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func transferOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.IdentityCreditTransfer)
	if !ok {
		return errUnexpectedAction
	}
	b.RemoveBalance(act.From, act.Amount)
	b.AddBalance(act.To, act.Amount)
	b.SetIdentityNonce(act.From, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func voteOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.MasternodeVote)
	if !ok {
		return errUnexpectedAction
	}
	if err := b.PutVote(act.PollID, act.ProTxHash, act.Previous, &act.Vote); err != nil {
		return err
	}
	b.SetIdentityNonce(act.Voter, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func bumpIdentityNonceOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.BumpIdentityNonce)
	if !ok {
		return errUnexpectedAction
	}
	b.SetIdentityNonce(act.IdentityID, act.Nonce.Previous, act.Nonce.Next)
	return nil
}

func bumpContractNonceOps(b *drive.Batch, a action.Action) error {
	act, ok := a.(*action.BumpIdentityContractNonce)
	if !ok {
		return errUnexpectedAction
	}
	b.SetContractNonce(act.IdentityID, act.ContractID, act.Nonce.Previous, act.Nonce.Next)
	return nil
}
