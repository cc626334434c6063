// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/storage"
)

// View is metered, typed read access to one state. Every read is metered by
// the size of the stored value, found or not.
type View struct {
	r         Reader
	meter     *fee.ExecutionContext
	contracts *ContractCache
	// block views see the block layer of the contract cache
	block bool
}

// Meter returns the execution context reads are metered into.
func (v *View) Meter() *fee.ExecutionContext { return v.meter }

func (v *View) charge(size int) {
	if v.meter != nil {
		v.meter.Add(fee.Read(uint64(size)))
	}
}

// get returns nil without error when [key] is absent.
func (v *View) get(tree storage.TreeID, key []byte) ([]byte, error) {
	value, err := v.r.Get(tree, key)
	switch {
	case err == database.ErrNotFound:
		v.charge(0)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", tree, err)
	}
	v.charge(len(value))
	return value, nil
}

func (v *View) getRecord(tree storage.TreeID, key []byte, record interface{}) (bool, error) {
	value, err := v.get(tree, key)
	if err != nil || value == nil {
		return false, err
	}
	return true, unmarshal(value, record)
}

func (v *View) getUint64(tree storage.TreeID, key []byte) (uint64, bool, error) {
	value, err := v.get(tree, key)
	if err != nil || value == nil {
		return 0, false, err
	}
	n, err := database.ParseUInt64(value)
	return n, true, err
}

// Identity returns the identity [id] with its balance.
func (v *View) Identity(id ids.ID) (*dpp.Identity, bool, error) {
	identity := &dpp.Identity{}
	found, err := v.getRecord(storage.Identities, IdentityKey(id), identity)
	if err != nil || !found {
		return nil, false, err
	}
	balance, _, err := v.Balance(id)
	if err != nil {
		return nil, false, err
	}
	identity.Balance = balance
	return identity, true, nil
}

// IdentityExists checks for [id] without decoding it.
func (v *View) IdentityExists(id ids.ID) (bool, error) {
	value, err := v.get(storage.Identities, IdentityKey(id))
	return value != nil, err
}

func (v *View) Balance(id ids.ID) (uint64, bool, error) {
	return v.getUint64(storage.Balances, BalanceKey(id))
}

// IdentityNonce is zero for identities that never used a nonce.
func (v *View) IdentityNonce(id ids.ID) (uint64, error) {
	n, _, err := v.getUint64(storage.Identities, IdentityNonceKey(id))
	return n, err
}

// ContractNonce is zero for pairs that never used a nonce.
func (v *View) ContractNonce(id, contractID ids.ID) (uint64, error) {
	n, _, err := v.getUint64(storage.Identities, ContractNonceKey(id, contractID))
	return n, err
}

// IdentityByKeyHash resolves unique key material to its identity.
func (v *View) IdentityByKeyHash(keyHash []byte) (ids.ID, bool, error) {
	value, err := v.get(storage.Identities, KeyHashKey(keyHash))
	if err != nil || value == nil {
		return ids.Empty, false, err
	}
	id, err := ids.ToID(value)
	return id, err == nil, err
}

// Contract returns the contract [id] through the contract cache.
func (v *View) Contract(id ids.ID) (*StoredContract, bool, error) {
	if entry, ok := v.contracts.get(id, v.block); ok {
		v.charge(entry.size)
		return entry.contract, true, nil
	}
	value, err := v.get(storage.Contracts, ContractKey(id))
	if err != nil || value == nil {
		return nil, false, err
	}
	stored := &StoredContract{}
	if err := unmarshal(value, stored); err != nil {
		return nil, false, err
	}
	v.contracts.warm(id, cachedContract{contract: stored, size: len(value)})
	return stored, true, nil
}

func (v *View) Document(contractID ids.ID, documentType string, id ids.ID) (*StoredDocument, bool, error) {
	stored := &StoredDocument{}
	found, err := v.getRecord(storage.Documents, DocumentKey(contractID, documentType, id), stored)
	if err != nil || !found {
		return nil, false, err
	}
	return stored, true, nil
}

// Documents returns up to [limit] documents of one type in ID order,
// starting after [after] when it is not empty. It is used by queries and is
// not metered.
func (v *View) Documents(contractID ids.ID, documentType string, after ids.ID, limit int) ([]*dpp.Document, error) {
	var docs []*dpp.Document
	err := v.r.Iterate(storage.Documents, DocumentTypePrefix(contractID, documentType), func(key, value []byte) (bool, error) {
		stored := &StoredDocument{}
		if err := unmarshal(value, stored); err != nil {
			return false, err
		}
		if after != ids.Empty && string(stored.Document.ID[:]) <= string(after[:]) {
			return true, nil
		}
		docs = append(docs, &stored.Document)
		return len(docs) < limit, nil
	})
	return docs, err
}

func (v *View) UniqueIndex(contractID ids.ID, documentType, index string, values [][]byte) (*IndexEntry, bool, error) {
	entry := &IndexEntry{}
	found, err := v.getRecord(storage.Documents, UniqueIndexKey(contractID, documentType, index, values), entry)
	if err != nil || !found {
		return nil, false, err
	}
	return entry, true, nil
}

func (v *View) GroupAction(actionID ids.ID) (*GroupAction, bool, error) {
	action := &GroupAction{}
	found, err := v.getRecord(storage.Documents, GroupActionKey(actionID), action)
	if err != nil || !found {
		return nil, false, err
	}
	return action, true, nil
}

func (v *View) AssetLock(o dpp.OutPoint) (*AssetLockRecord, bool, error) {
	record := &AssetLockRecord{}
	found, err := v.getRecord(storage.Misc, AssetLockKey(o), record)
	if err != nil || !found {
		return nil, false, err
	}
	return record, true, nil
}

func (v *View) Masternode(proTxHash ids.ID) (*Masternode, bool, error) {
	mn := &Masternode{}
	found, err := v.getRecord(storage.Misc, MasternodeKey(proTxHash), mn)
	if err != nil || !found {
		return nil, false, err
	}
	return mn, true, nil
}

// Masternodes returns every known masternode in proTxHash order.
func (v *View) Masternodes() ([]*Masternode, error) {
	var mns []*Masternode
	err := v.r.Iterate(storage.Misc, []byte{masternodePrefix}, func(_, value []byte) (bool, error) {
		mn := &Masternode{}
		if err := unmarshal(value, mn); err != nil {
			return false, err
		}
		mns = append(mns, mn)
		return true, nil
	})
	return mns, err
}

func (v *View) Poll(pollID ids.ID) (*VotePoll, bool, error) {
	poll := &VotePoll{}
	found, err := v.getRecord(storage.Votes, PollKey(pollID), poll)
	if err != nil || !found {
		return nil, false, err
	}
	return poll, true, nil
}

// OpenPolls returns the unresolved polls in ID order.
func (v *View) OpenPolls() ([]*VotePoll, error) {
	var polls []*VotePoll
	err := v.r.Iterate(storage.Votes, []byte{pollPrefix}, func(_, value []byte) (bool, error) {
		poll := &VotePoll{}
		if err := unmarshal(value, poll); err != nil {
			return false, err
		}
		if !poll.Resolved {
			polls = append(polls, poll)
		}
		return true, nil
	})
	return polls, err
}

// PollVoters returns the masternodes that voted in [pollID].
func (v *View) PollVoters(pollID ids.ID) ([]ids.ID, error) {
	prefix := PollVotesPrefix(pollID)
	var voters []ids.ID
	err := v.r.Iterate(storage.Votes, prefix, func(key, _ []byte) (bool, error) {
		proTxHash, err := ids.ToID(key[len(prefix):])
		if err != nil {
			return false, err
		}
		voters = append(voters, proTxHash)
		return true, nil
	})
	return voters, err
}

func (v *View) Vote(pollID, proTxHash ids.ID) (*Vote, bool, error) {
	vote := &Vote{}
	found, err := v.getRecord(storage.Votes, VoteKey(pollID, proTxHash), vote)
	if err != nil || !found {
		return nil, false, err
	}
	return vote, true, nil
}

// Tally counts the current votes of a poll.
type Tally struct {
	Towards map[ids.ID]uint64
	Abstain uint64
	Lock    uint64
}

func (v *View) Tally(pollID ids.ID) (*Tally, error) {
	t := &Tally{Towards: make(map[ids.ID]uint64)}
	err := v.r.Iterate(storage.Votes, PollVotesPrefix(pollID), func(_, value []byte) (bool, error) {
		vote := &Vote{}
		if err := unmarshal(value, vote); err != nil {
			return false, err
		}
		switch vote.Choice {
		case dpp.TowardsIdentity:
			t.Towards[vote.TowardsIdentity]++
		case dpp.Abstain:
			t.Abstain++
		case dpp.Lock:
			t.Lock++
		}
		return true, nil
	})
	return t, err
}

// TotalCredits is the amount minted minus the amount burnt.
func (v *View) TotalCredits() (uint64, error) {
	n, _, err := v.getUint64(storage.Misc, totalCreditsKey)
	return n, err
}

// WithdrawalIndex is the index the next withdrawal is queued with.
func (v *View) WithdrawalIndex() (uint64, error) {
	n, _, err := v.getUint64(storage.Misc, withdrawalIndexKey)
	return n, err
}
