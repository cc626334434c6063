// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package action

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

type DataContractCreate struct {
	Base
	Contract dpp.DataContract
	Nonce    NonceBump
}

func (*DataContractCreate) Name() string   { return version.KindDataContractCreate }
func (a *DataContractCreate) Payer() ids.ID { return a.Contract.OwnerID }

type DataContractUpdate struct {
	Base
	Old      *drive.StoredContract
	Contract dpp.DataContract
	Nonce    NonceBump
}

func (*DataContractUpdate) Name() string   { return version.KindDataContractUpdate }
func (a *DataContractUpdate) Payer() ids.ID { return a.Contract.OwnerID }

// IndexValues names one set of unique index values.
type IndexValues struct {
	Index  string
	Values [][]byte
}

// IndexRemoval releases a unique index entry.
type IndexRemoval struct {
	IndexValues
	Entry *drive.IndexEntry
}

// PollUpdate writes a contested resource poll.
type PollUpdate struct {
	Previous *drive.VotePoll
	Poll     drive.VotePoll
}

// GroupApproval records one member's approval of a group action.
type GroupApproval struct {
	ActionID ids.ID
	Previous *drive.GroupAction
	Action   drive.GroupAction
}

// DocumentOp is one validated document transition.
type DocumentOp struct {
	Action dpp.DocumentAction
	// Document is the new state for creates and replaces.
	Document dpp.Document
	// Old is the stored document for replaces and deletes.
	Old *drive.StoredDocument
	// Owner pays for and owns what the operation stores.
	Owner ids.ID

	AddIndices    []IndexValues
	RemoveIndices []IndexRemoval

	// Poll is set when a create claims a contested index value.
	Poll *PollUpdate
	// Contender is set when the document only joins a poll and is not
	// stored until the poll is won.
	Contender bool

	// Group is set for group controlled types. The document operation runs
	// only when Execute is true.
	Group   *GroupApproval
	Execute bool
}

type DocumentsBatch struct {
	Base
	Owner      ids.ID
	ContractID ids.ID
	Nonce      NonceBump
	Ops        []DocumentOp
}

func (*DocumentsBatch) Name() string   { return version.KindDocumentsBatch }
func (a *DocumentsBatch) Payer() ids.ID { return a.Owner }

// IdentityCreate registers an identity. Its balance starts at the asset
// lock value and the fee is taken from it.
type IdentityCreate struct {
	Base
	Identity  dpp.Identity
	Lock      drive.AssetLockRecord
	KeyHashes [][]byte
}

func (*IdentityCreate) Name() string   { return version.KindIdentityCreate }
func (a *IdentityCreate) Payer() ids.ID { return a.Identity.ID }

type IdentityTopUp struct {
	Base
	IdentityID ids.ID
	Lock       drive.AssetLockRecord
}

func (*IdentityTopUp) Name() string   { return version.KindIdentityTopUp }
func (a *IdentityTopUp) Payer() ids.ID { return a.IdentityID }

type IdentityUpdate struct {
	Base
	Old       dpp.Identity
	Updated   dpp.Identity
	KeyHashes [][]byte
	Nonce     NonceBump
}

func (*IdentityUpdate) Name() string   { return version.KindIdentityUpdate }
func (a *IdentityUpdate) Payer() ids.ID { return a.Updated.ID }

// IdentityCreditWithdrawal burns credits and queues the withdrawal document.
type IdentityCreditWithdrawal struct {
	Base
	IdentityID ids.ID
	Amount     uint64
	Document   dpp.Document
	Indices    []IndexValues
	Index      NonceBump
	Nonce      NonceBump
}

func (*IdentityCreditWithdrawal) Name() string   { return version.KindIdentityCreditWithdrawal }
func (a *IdentityCreditWithdrawal) Payer() ids.ID { return a.IdentityID }

type IdentityCreditTransfer struct {
	Base
	From   ids.ID
	To     ids.ID
	Amount uint64
	Nonce  NonceBump
}

func (*IdentityCreditTransfer) Name() string   { return version.KindIdentityCreditTransfer }
func (a *IdentityCreditTransfer) Payer() ids.ID { return a.From }

// MasternodeVote replaces the vote of a masternode in a poll. Votes are
// metered but free.
type MasternodeVote struct {
	Base
	ProTxHash ids.ID
	Voter     ids.ID
	PollID    ids.ID
	Previous  *drive.Vote
	Vote      drive.Vote
	Nonce     NonceBump
}

func (*MasternodeVote) Name() string   { return version.KindMasternodeVote }
func (a *MasternodeVote) Payer() ids.ID { return a.Voter }

// BumpIdentityNonce consumes the nonce of a transition that failed state
// validation, charging its validation cost.
type BumpIdentityNonce struct {
	Base
	IdentityID ids.ID
	Nonce      NonceBump
}

func (*BumpIdentityNonce) Name() string   { return version.KindBumpIdentityNonce }
func (a *BumpIdentityNonce) Payer() ids.ID { return a.IdentityID }

// BumpIdentityContractNonce is BumpIdentityNonce for contract scoped nonces.
type BumpIdentityContractNonce struct {
	Base
	IdentityID ids.ID
	ContractID ids.ID
	Nonce      NonceBump
}

func (*BumpIdentityContractNonce) Name() string   { return version.KindBumpIdentityContractNonce }
func (a *BumpIdentityContractNonce) Payer() ids.ID { return a.IdentityID }
