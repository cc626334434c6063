// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/version"
)

var (
	ErrCounterUnderflow = errors.New("counter underflow")
	errCounterOverflow  = errors.New("counter overflow")
)

const counterSize = 8

type opKind uint8

const (
	putOp opKind = iota
	deleteOp
	addOp
	subOp
	deltaOp
)

type op struct {
	kind   opKind
	tree   storage.TreeID
	key    []byte
	value  []byte
	amount uint64
	delta  int64
}

// Batch is an ordered list of storage operations built without touching
// state. Counter operations are relative and resolved when the batch is
// applied. The fee operations of the batch are known before it is applied.
type Batch struct {
	fv    *version.FeeVersion
	epoch uint16

	ops  []op
	fees []fee.Operation

	contracts map[ids.ID]cachedContract
}

// NewBatch returns a batch whose owned writes prepay storage at [fv]
// prices from [epoch].
func NewBatch(fv *version.FeeVersion, epoch uint16) *Batch {
	return &Batch{
		fv:        fv,
		epoch:     epoch,
		contracts: make(map[ids.ID]cachedContract),
	}
}

func (b *Batch) Epoch() uint16 { return b.epoch }

// FeeOperations are the metered operations applying the batch costs.
func (b *Batch) FeeOperations() []fee.Operation { return b.fees }

func (b *Batch) Len() int { return len(b.ops) }

func (b *Batch) put(tree storage.TreeID, key, value []byte, feeOp fee.Operation) {
	b.ops = append(b.ops, op{kind: putOp, tree: tree, key: key, value: value})
	b.fees = append(b.fees, feeOp)
}

func (b *Batch) write(tree storage.TreeID, key []byte, record interface{}) error {
	value, err := marshal(record)
	if err != nil {
		return err
	}
	b.put(tree, key, value, fee.Write(uint64(len(key)), uint64(len(value))))
	return nil
}

func (b *Batch) replace(tree storage.TreeID, key []byte, old, record interface{}) error {
	oldValue, err := marshal(old)
	if err != nil {
		return err
	}
	value, err := marshal(record)
	if err != nil {
		return err
	}
	b.put(tree, key, value, fee.Replace(uint64(len(key)), uint64(len(oldValue)), uint64(len(value))))
	return nil
}

// insertOwned writes [record] whose storage [flags] prepay. The paid fee is
// part of the record; the codec encodes it at a fixed width so the size is
// known before the fee is.
func (b *Batch) insertOwned(tree storage.TreeID, key []byte, record interface{}, flags *StorageFlags, owner ids.ID) ([]byte, error) {
	flags.InsertEpoch = b.epoch
	flags.Owner = owner
	flags.PaidFee = 0
	value, err := marshal(record)
	if err != nil {
		return nil, err
	}
	paid, err := fee.StorageCost(b.fv, uint64(len(key)), uint64(len(value)))
	if err != nil {
		return nil, err
	}
	flags.PaidFee = paid
	if value, err = marshal(record); err != nil {
		return nil, err
	}
	b.put(tree, key, value, fee.Write(uint64(len(key)), uint64(len(value))))
	return value, nil
}

func (b *Batch) removeOwned(tree storage.TreeID, key []byte, record interface{}, flags StorageFlags) error {
	value, err := marshal(record)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, op{kind: deleteOp, tree: tree, key: key})
	b.fees = append(b.fees, fee.Remove(uint64(len(key)), uint64(len(value)), flags.Owner, flags.InsertEpoch, flags.PaidFee))
	return nil
}

func (b *Batch) counter(kind opKind, tree storage.TreeID, key []byte, amount uint64, metered bool) {
	b.ops = append(b.ops, op{kind: kind, tree: tree, key: key, amount: amount})
	if metered {
		b.fees = append(b.fees,
			fee.Read(counterSize),
			fee.Replace(uint64(len(key)), counterSize, counterSize),
		)
	}
}

func (b *Batch) storageDelta(epoch uint32, delta int64) {
	if delta == 0 {
		return
	}
	b.ops = append(b.ops, op{kind: deltaOp, tree: storage.Pools, key: StorageDeltaKey(epoch), delta: delta})
}

func (b *Batch) InsertIdentity(identity *dpp.Identity) error {
	return b.write(storage.Identities, IdentityKey(identity.ID), identity)
}

func (b *Batch) ReplaceIdentity(old, updated *dpp.Identity) error {
	return b.replace(storage.Identities, IdentityKey(updated.ID), old, updated)
}

func (b *Batch) setNonce(key []byte, previous, nonce uint64) {
	value := database.PackUInt64(nonce)
	if previous == 0 {
		b.put(storage.Identities, key, value, fee.Write(uint64(len(key)), counterSize))
		return
	}
	b.put(storage.Identities, key, value, fee.Replace(uint64(len(key)), counterSize, counterSize))
}

// SetIdentityNonce moves the nonce of [id] from [previous] to [nonce].
func (b *Batch) SetIdentityNonce(id ids.ID, previous, nonce uint64) {
	b.setNonce(IdentityNonceKey(id), previous, nonce)
}

// SetContractNonce moves the nonce [id] uses with [contractID].
func (b *Batch) SetContractNonce(id, contractID ids.ID, previous, nonce uint64) {
	b.setNonce(ContractNonceKey(id, contractID), previous, nonce)
}

// InsertKeyHash claims unique key material for [id].
func (b *Batch) InsertKeyHash(keyHash []byte, id ids.ID) {
	key := KeyHashKey(keyHash)
	b.put(storage.Identities, key, id[:], fee.Write(uint64(len(key)), uint64(len(id))))
}

func (b *Batch) InsertContract(c *dpp.DataContract, owner ids.ID) error {
	stored := &StoredContract{Contract: *c}
	value, err := b.insertOwned(storage.Contracts, ContractKey(c.ID), stored, &stored.Flags, owner)
	if err != nil {
		return err
	}
	b.contracts[c.ID] = cachedContract{contract: stored, size: len(value)}
	return nil
}

// ReplaceContract removes [old], refunding its unused storage, and writes
// [c] in its place.
func (b *Batch) ReplaceContract(old *StoredContract, c *dpp.DataContract, owner ids.ID) error {
	key := ContractKey(c.ID)
	if err := b.removeOwned(storage.Contracts, key, old, old.Flags); err != nil {
		return err
	}
	return b.InsertContract(c, owner)
}

func (b *Batch) InsertDocument(doc *dpp.Document, owner ids.ID) error {
	stored := &StoredDocument{Document: *doc}
	_, err := b.insertOwned(storage.Documents, DocumentKey(doc.ContractID, doc.Type, doc.ID), stored, &stored.Flags, owner)
	return err
}

func (b *Batch) ReplaceDocument(old *StoredDocument, doc *dpp.Document, owner ids.ID) error {
	key := DocumentKey(doc.ContractID, doc.Type, doc.ID)
	if err := b.removeOwned(storage.Documents, key, old, old.Flags); err != nil {
		return err
	}
	return b.InsertDocument(doc, owner)
}

func (b *Batch) DeleteDocument(old *StoredDocument) error {
	doc := &old.Document
	return b.removeOwned(storage.Documents, DocumentKey(doc.ContractID, doc.Type, doc.ID), old, old.Flags)
}

func (b *Batch) InsertUniqueIndex(contractID ids.ID, documentType, index string, values [][]byte, documentID, owner ids.ID) error {
	entry := &IndexEntry{DocumentID: documentID}
	_, err := b.insertOwned(storage.Documents, UniqueIndexKey(contractID, documentType, index, values), entry, &entry.Flags, owner)
	return err
}

func (b *Batch) DeleteUniqueIndex(contractID ids.ID, documentType, index string, values [][]byte, old *IndexEntry) error {
	return b.removeOwned(storage.Documents, UniqueIndexKey(contractID, documentType, index, values), old, old.Flags)
}

func (b *Batch) PutGroupAction(actionID ids.ID, previous, action *GroupAction) error {
	if previous == nil {
		return b.write(storage.Documents, GroupActionKey(actionID), action)
	}
	return b.replace(storage.Documents, GroupActionKey(actionID), previous, action)
}

func (b *Batch) PutAssetLock(previous, record *AssetLockRecord) error {
	if previous == nil {
		return b.write(storage.Misc, AssetLockKey(record.Lock.OutPoint), record)
	}
	return b.replace(storage.Misc, AssetLockKey(record.Lock.OutPoint), previous, record)
}

func (b *Batch) PutMasternode(previous, mn *Masternode) error {
	if previous == nil {
		return b.write(storage.Misc, MasternodeKey(mn.ProTxHash), mn)
	}
	return b.replace(storage.Misc, MasternodeKey(mn.ProTxHash), previous, mn)
}

func (b *Batch) PutPoll(previous, poll *VotePoll) error {
	if previous == nil {
		return b.write(storage.Votes, PollKey(poll.ID), poll)
	}
	return b.replace(storage.Votes, PollKey(poll.ID), previous, poll)
}

func (b *Batch) PutVote(pollID, proTxHash ids.ID, previous, vote *Vote) error {
	if previous == nil {
		return b.write(storage.Votes, VoteKey(pollID, proTxHash), vote)
	}
	return b.replace(storage.Votes, VoteKey(pollID, proTxHash), previous, vote)
}

// DeleteVote drops a vote of a resolved poll.
func (b *Batch) DeleteVote(pollID, proTxHash ids.ID) {
	key := VoteKey(pollID, proTxHash)
	b.ops = append(b.ops, op{kind: deleteOp, tree: storage.Votes, key: key})
}

func (b *Batch) SetWithdrawalIndex(previous, next uint64) {
	value := database.PackUInt64(next)
	if previous == 0 {
		b.put(storage.Misc, withdrawalIndexKey, value, fee.Write(uint64(len(withdrawalIndexKey)), counterSize))
		return
	}
	b.put(storage.Misc, withdrawalIndexKey, value, fee.Replace(uint64(len(withdrawalIndexKey)), counterSize, counterSize))
}

// AddBalance credits [id].
func (b *Batch) AddBalance(id ids.ID, amount uint64) {
	b.counter(addOp, storage.Balances, BalanceKey(id), amount, true)
}

// RemoveBalance debits [id]. Applying fails when the balance is short.
func (b *Batch) RemoveBalance(id ids.ID, amount uint64) {
	b.counter(subOp, storage.Balances, BalanceKey(id), amount, true)
}

// Mint records credits entering the system.
func (b *Batch) Mint(amount uint64) {
	b.counter(addOp, storage.Misc, totalCreditsKey, amount, false)
}

// Burn records credits leaving the system.
func (b *Batch) Burn(amount uint64) {
	b.counter(subOp, storage.Misc, totalCreditsKey, amount, false)
}

// Charge debits [payer] for [result], credits the refunds to the owners of
// the removed data and deposits the fees into the pools. Charging is not
// metered.
func (b *Batch) Charge(payer ids.ID, result *fee.Result) error {
	total, err := result.Total()
	if err != nil {
		return err
	}
	b.counter(subOp, storage.Balances, BalanceKey(payer), total, false)

	refunds, err := result.RefundsByOwner()
	if err != nil {
		return err
	}
	for _, r := range refunds {
		b.counter(addOp, storage.Balances, BalanceKey(r.Owner), r.Amount, false)
	}
	b.DepositProcessing(result.ProcessingFee)
	b.DepositStorage(result.StorageFee)
	for _, r := range result.Refunds {
		b.WithdrawStorage(r)
	}
	return nil
}

// DepositProcessing adds to the processing pool of the current epoch.
func (b *Batch) DepositProcessing(amount uint64) {
	if amount == 0 {
		return
	}
	b.counter(addOp, storage.Pools, processingPoolKey, amount, false)
}

// DepositStorage spreads [amount] over the PerpetualStorageEpochs starting at
// the batch epoch, the remainder going to the first one.
func (b *Batch) DepositStorage(amount uint64) {
	if amount == 0 {
		return
	}
	a := fee.Allocate(amount)
	start := uint32(b.epoch)
	b.storageDelta(start, int64(a.PerEpoch+a.Remainder))
	b.storageDelta(start+1, -int64(a.Remainder))
	b.storageDelta(fee.WindowEnd(b.epoch), -int64(a.PerEpoch))
}

// WithdrawStorage takes a refund back out of the epochs after the one it
// was made in.
func (b *Batch) WithdrawStorage(r fee.Refund) {
	if r.Amount == 0 {
		return
	}
	per := int64(fee.Allocate(r.OriginalFee).PerEpoch)
	from := r.FromEpoch
	if from < r.InsertEpoch {
		from = r.InsertEpoch
	}
	b.storageDelta(uint32(from)+1, -per)
	b.storageDelta(fee.WindowEnd(r.InsertEpoch), per)
}

// Raw adds an unmetered write. It is used for system bookkeeping.
func (b *Batch) Raw(tree storage.TreeID, key, value []byte) {
	b.ops = append(b.ops, op{kind: putOp, tree: tree, key: key, value: value})
}

// RawDelete adds an unmetered delete.
func (b *Batch) RawDelete(tree storage.TreeID, key []byte) {
	b.ops = append(b.ops, op{kind: deleteOp, tree: tree, key: key})
}

// RawCounter adds an unmetered relative change to a counter.
func (b *Batch) RawCounter(tree storage.TreeID, key []byte, amount uint64, subtract bool) {
	kind := addOp
	if subtract {
		kind = subOp
	}
	b.counter(kind, tree, key, amount, false)
}

func (b *Batch) apply(txn *storage.Txn) error {
	for _, o := range b.ops {
		var err error
		switch o.kind {
		case putOp:
			err = txn.Put(o.tree, o.key, o.value)
		case deleteOp:
			err = txn.Delete(o.tree, o.key)
		case addOp, subOp:
			err = applyCounter(txn, o)
		case deltaOp:
			err = applyDelta(txn, o)
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s write: %w", o.tree, err)
		}
	}
	return nil
}

func readCounter(txn *storage.Txn, tree storage.TreeID, key []byte) (uint64, error) {
	value, err := txn.Get(tree, key)
	switch {
	case err == database.ErrNotFound:
		return 0, nil
	case err != nil:
		return 0, err
	}
	return database.ParseUInt64(value)
}

func applyCounter(txn *storage.Txn, o op) error {
	current, err := readCounter(txn, o.tree, o.key)
	if err != nil {
		return err
	}
	var next uint64
	if o.kind == addOp {
		if next, err = safemath.Add64(current, o.amount); err != nil {
			return errCounterOverflow
		}
	} else {
		if next, err = safemath.Sub(current, o.amount); err != nil {
			return fmt.Errorf("%w: %d < %d", ErrCounterUnderflow, current, o.amount)
		}
	}
	return txn.Put(o.tree, o.key, database.PackUInt64(next))
}

func applyDelta(txn *storage.Txn, o op) error {
	current, err := readDelta(txn, o.key)
	if err != nil {
		return err
	}
	next, err := addSigned(current, o.delta)
	if err != nil {
		return err
	}
	if next == 0 {
		return txn.Delete(o.tree, o.key)
	}
	return txn.Put(o.tree, o.key, encodeSigned(next))
}

func readDelta(r Reader, key []byte) (int64, error) {
	value, err := r.Get(storage.Pools, key)
	switch {
	case err == database.ErrNotFound:
		return 0, nil
	case err != nil:
		return 0, err
	}
	return decodeSigned(value)
}

// HandOverDocument removes [old] and stores [doc] owned by [owner] in its
// place. The new document carries the storage [old] prepaid, so no fee is
// involved.
func (b *Batch) HandOverDocument(old *StoredDocument, doc *dpp.Document, owner ids.ID) error {
	prev := &old.Document
	b.ops = append(b.ops, op{kind: deleteOp, tree: storage.Documents, key: DocumentKey(prev.ContractID, prev.Type, prev.ID)})
	flags := old.Flags
	flags.Owner = owner
	value, err := marshal(&StoredDocument{Document: *doc, Flags: flags})
	if err != nil {
		return err
	}
	b.ops = append(b.ops, op{kind: putOp, tree: storage.Documents, key: DocumentKey(doc.ContractID, doc.Type, doc.ID), value: value})
	return nil
}

// ReassignUniqueIndex points a claimed index value at [documentID]. The
// claim keeps its prepaid storage.
func (b *Batch) ReassignUniqueIndex(contractID ids.ID, documentType, index string, values [][]byte, old *IndexEntry, documentID ids.ID) error {
	value, err := marshal(&IndexEntry{DocumentID: documentID, Flags: old.Flags})
	if err != nil {
		return err
	}
	b.ops = append(b.ops, op{kind: putOp, tree: storage.Documents, key: UniqueIndexKey(contractID, documentType, index, values), value: value})
	return nil
}

// ReleaseDocument deletes [old] outside of any transition and credits its
// owner the storage allocated to the epochs after [epoch]. It returns the
// refunded amount.
func (b *Batch) ReleaseDocument(old *StoredDocument, epoch uint16) (uint64, error) {
	doc := &old.Document
	b.ops = append(b.ops, op{kind: deleteOp, tree: storage.Documents, key: DocumentKey(doc.ContractID, doc.Type, doc.ID)})
	amount, err := fee.RefundAmount(old.Flags.PaidFee, old.Flags.InsertEpoch, epoch)
	if err != nil || amount == 0 {
		return 0, err
	}
	b.counter(addOp, storage.Balances, BalanceKey(old.Flags.Owner), amount, false)
	b.WithdrawStorage(fee.Refund{
		Owner:       old.Flags.Owner,
		InsertEpoch: old.Flags.InsertEpoch,
		OriginalFee: old.Flags.PaidFee,
		FromEpoch:   epoch,
		Amount:      amount,
	})
	return amount, nil
}
