// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

var (
	_ UnsignedTransition = &DataContractCreate{}
	_ UnsignedTransition = &DataContractUpdate{}
	_ UnsignedTransition = &DocumentsBatch{}
	_ UnsignedTransition = &IdentityCreate{}
	_ UnsignedTransition = &IdentityTopUp{}
	_ UnsignedTransition = &IdentityUpdate{}
	_ UnsignedTransition = &IdentityCreditWithdrawal{}
	_ UnsignedTransition = &IdentityCreditTransfer{}
	_ UnsignedTransition = &MasternodeVote{}
)

// DataContractCreate registers a new contract. The contract ID must be
// derived from the owner and the identity nonce.
type DataContractCreate struct {
	BaseTransition `serialize:"true"`
	Contract       DataContract `serialize:"true" json:"dataContract"`
	IdentityNonce  uint64       `serialize:"true" json:"identityNonce"`
}

func (*DataContractCreate) Kind() Kind         { return DataContractCreateKind }
func (t *DataContractCreate) OwnerID() ids.ID { return t.Contract.OwnerID }

// DataContractUpdate replaces a contract with its next version.
type DataContractUpdate struct {
	BaseTransition        `serialize:"true"`
	Contract              DataContract `serialize:"true" json:"dataContract"`
	IdentityContractNonce uint64       `serialize:"true" json:"identityContractNonce"`
}

func (*DataContractUpdate) Kind() Kind         { return DataContractUpdateKind }
func (t *DataContractUpdate) OwnerID() ids.ID { return t.Contract.OwnerID }

// DocumentAction is what a document transition does.
type DocumentAction uint8

const (
	CreateDocument DocumentAction = iota
	ReplaceDocument
	DeleteDocument
)

func (a DocumentAction) String() string {
	switch a {
	case CreateDocument:
		return "create"
	case ReplaceDocument:
		return "replace"
	case DeleteDocument:
		return "delete"
	default:
		return "unknown"
	}
}

// DocumentTransition is one document operation of a batch.
type DocumentTransition struct {
	Action       DocumentAction `serialize:"true" json:"$action"`
	DocumentType string         `serialize:"true" json:"$type"`
	DocumentID   ids.ID         `serialize:"true" json:"$id"`
	// Entropy seeds the ID of created documents.
	Entropy [32]byte `serialize:"true" json:"$entropy"`
	// Revision is 1 for creates and the new revision for replaces.
	Revision uint64 `serialize:"true" json:"$revision"`
	Data     []byte `serialize:"true" json:"data"`
}

// DocumentsBatch applies document operations to one contract.
type DocumentsBatch struct {
	BaseTransition        `serialize:"true"`
	Owner                 ids.ID               `serialize:"true" json:"ownerId"`
	ContractID            ids.ID               `serialize:"true" json:"dataContractId"`
	IdentityContractNonce uint64               `serialize:"true" json:"identityContractNonce"`
	Transitions           []DocumentTransition `serialize:"true" json:"transitions"`
}

func (*DocumentsBatch) Kind() Kind         { return DocumentsBatchKind }
func (t *DocumentsBatch) OwnerID() ids.ID { return t.Owner }

// IdentityCreate registers an identity funded by an asset lock. It is signed
// by the asset lock key.
type IdentityCreate struct {
	BaseTransition `serialize:"true"`
	AssetLock      OutPoint            `serialize:"true" json:"assetLockProof"`
	PublicKeys     []IdentityPublicKey `serialize:"true" json:"publicKeys"`
}

func (*IdentityCreate) Kind() Kind         { return IdentityCreateKind }
func (t *IdentityCreate) OwnerID() ids.ID { return IdentityIDFromOutPoint(t.AssetLock) }

// IdentityTopUp adds the value of an asset lock to an identity.
type IdentityTopUp struct {
	BaseTransition `serialize:"true"`
	IdentityID     ids.ID   `serialize:"true" json:"identityId"`
	AssetLock      OutPoint `serialize:"true" json:"assetLockProof"`
}

func (*IdentityTopUp) Kind() Kind         { return IdentityTopUpKind }
func (t *IdentityTopUp) OwnerID() ids.ID { return t.IdentityID }

// IdentityUpdate adds and disables identity keys.
type IdentityUpdate struct {
	BaseTransition    `serialize:"true"`
	IdentityID        ids.ID              `serialize:"true" json:"identityId"`
	Revision          uint64              `serialize:"true" json:"revision"`
	IdentityNonce     uint64              `serialize:"true" json:"nonce"`
	AddPublicKeys     []IdentityPublicKey `serialize:"true" json:"addPublicKeys"`
	DisablePublicKeys []uint32            `serialize:"true" json:"disablePublicKeys"`
}

func (*IdentityUpdate) Kind() Kind         { return IdentityUpdateKind }
func (t *IdentityUpdate) OwnerID() ids.ID { return t.IdentityID }

// IdentityCreditWithdrawal burns credits and queues a core chain payout.
type IdentityCreditWithdrawal struct {
	BaseTransition `serialize:"true"`
	IdentityID     ids.ID `serialize:"true" json:"identityId"`
	Amount         uint64 `serialize:"true" json:"amount"`
	CoreFeePerByte uint32 `serialize:"true" json:"coreFeePerByte"`
	OutputScript   []byte `serialize:"true" json:"outputScript"`
	IdentityNonce  uint64 `serialize:"true" json:"nonce"`
}

func (*IdentityCreditWithdrawal) Kind() Kind         { return IdentityCreditWithdrawalKind }
func (t *IdentityCreditWithdrawal) OwnerID() ids.ID { return t.IdentityID }

// IdentityCreditTransfer moves credits between identities.
type IdentityCreditTransfer struct {
	BaseTransition `serialize:"true"`
	IdentityID     ids.ID `serialize:"true" json:"identityId"`
	RecipientID    ids.ID `serialize:"true" json:"recipientId"`
	Amount         uint64 `serialize:"true" json:"amount"`
	IdentityNonce  uint64 `serialize:"true" json:"nonce"`
}

func (*IdentityCreditTransfer) Kind() Kind         { return IdentityCreditTransferKind }
func (t *IdentityCreditTransfer) OwnerID() ids.ID { return t.IdentityID }

// VoteChoice is how a masternode votes on a contested resource.
type VoteChoice uint8

const (
	TowardsIdentity VoteChoice = iota
	Abstain
	Lock
)

// MasternodeVote casts the vote of a masternode on a contested index value.
type MasternodeVote struct {
	BaseTransition  `serialize:"true"`
	ProTxHash       ids.ID     `serialize:"true" json:"proTxHash"`
	VoterIdentityID ids.ID     `serialize:"true" json:"voterIdentityId"`
	ContractID      ids.ID     `serialize:"true" json:"contractId"`
	DocumentType    string     `serialize:"true" json:"documentTypeName"`
	IndexName       string     `serialize:"true" json:"indexName"`
	IndexValues     [][]byte   `serialize:"true" json:"indexValues"`
	Choice          VoteChoice `serialize:"true" json:"choice"`
	TowardsIdentity ids.ID     `serialize:"true" json:"towardsIdentity"`
	IdentityNonce   uint64     `serialize:"true" json:"nonce"`
}

func (*MasternodeVote) Kind() Kind         { return MasternodeVoteKind }
func (t *MasternodeVote) OwnerID() ids.ID { return t.VoterIdentityID }

// PollID identifies the poll on one contested index value.
func (t *MasternodeVote) PollID() ids.ID {
	return VotePollID(t.ContractID, t.DocumentType, t.IndexName, t.IndexValues)
}

// VotePollID identifies the poll on the values of a contested index.
func VotePollID(contractID ids.ID, documentType, indexName string, values [][]byte) ids.ID {
	size := 32 + 2 + len(documentType) + 2 + len(indexName) + 4
	for _, v := range values {
		size += 4 + len(v)
	}
	p := wrappers.Packer{MaxSize: size}
	p.PackFixedBytes(contractID[:])
	p.PackStr(documentType)
	p.PackStr(indexName)
	p.PackInt(uint32(len(values)))
	for _, v := range values {
		p.PackBytes(v)
	}
	return hashing.ComputeHash256Array(p.Bytes)
}

// VoterIdentityID is the identity a masternode votes with.
func VoterIdentityID(proTxHash ids.ID, votingKeyHash []byte) ids.ID {
	b := make([]byte, 0, 32+len(votingKeyHash))
	b = append(b, proTxHash[:]...)
	b = append(b, votingKeyHash...)
	return hashing.ComputeHash256Array(b)
}
