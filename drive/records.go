// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
)

var errWrongVersion = errors.New("wrong codec version")

// StorageFlags record who prepaid the storage of a value and when, so the
// unused part can be refunded when the value is removed.
type StorageFlags struct {
	InsertEpoch uint16 `serialize:"true" json:"insertEpoch"`
	Owner       ids.ID `serialize:"true" json:"owner"`
	PaidFee     uint64 `serialize:"true" json:"paidFee"`
}

type StoredContract struct {
	Contract dpp.DataContract `serialize:"true" json:"contract"`
	Flags    StorageFlags     `serialize:"true" json:"flags"`
}

type StoredDocument struct {
	Document dpp.Document `serialize:"true" json:"document"`
	Flags    StorageFlags `serialize:"true" json:"flags"`
}

// IndexEntry claims one set of unique index values for a document.
type IndexEntry struct {
	DocumentID ids.ID       `serialize:"true" json:"documentId"`
	Flags      StorageFlags `serialize:"true" json:"flags"`
}

// AssetLockRecord is an asset lock delivered by the consensus driver.
type AssetLockRecord struct {
	Lock  dpp.AssetLock `serialize:"true" json:"lock"`
	Spent bool          `serialize:"true" json:"spent"`
}

// Masternode is an entry of the active masternode list.
type Masternode struct {
	ProTxHash      ids.ID `serialize:"true" json:"proTxHash"`
	OwnerKeyHash   []byte `serialize:"true" json:"ownerKeyHash"`
	VotingKeyHash  []byte `serialize:"true" json:"votingKeyHash"`
	PayoutIdentity ids.ID `serialize:"true" json:"payoutIdentity"`
	VoterIdentity  ids.ID `serialize:"true" json:"voterIdentity"`
	Enabled        bool   `serialize:"true" json:"enabled"`
}

// Contender is an identity competing for a contested index value.
type Contender struct {
	IdentityID ids.ID       `serialize:"true" json:"identityId"`
	Document   dpp.Document `serialize:"true" json:"document"`
}

// VotePoll decides who owns a contested unique index value.
type VotePoll struct {
	ID           ids.ID      `serialize:"true" json:"id"`
	ContractID   ids.ID      `serialize:"true" json:"contractId"`
	DocumentType string      `serialize:"true" json:"documentType"`
	IndexName    string      `serialize:"true" json:"indexName"`
	IndexValues  [][]byte    `serialize:"true" json:"indexValues"`
	Contenders   []Contender `serialize:"true" json:"contenders"`
	OpenedEpoch  uint16      `serialize:"true" json:"openedEpoch"`
	Resolved     bool        `serialize:"true" json:"resolved"`
	Locked       bool        `serialize:"true" json:"locked"`
	Winner       ids.ID      `serialize:"true" json:"winner"`
}

// Contender returns the contender [id].
func (p *VotePoll) Contender(id ids.ID) (*Contender, bool) {
	for i := range p.Contenders {
		if p.Contenders[i].IdentityID == id {
			return &p.Contenders[i], true
		}
	}
	return nil, false
}

// Vote is the current vote of one masternode in a poll.
type Vote struct {
	Choice          dpp.VoteChoice `serialize:"true" json:"choice"`
	TowardsIdentity ids.ID         `serialize:"true" json:"towardsIdentity"`
}

// Approval is one member's approval of a group action.
type Approval struct {
	Signer ids.ID `serialize:"true" json:"signer"`
	Power  uint32 `serialize:"true" json:"power"`
}

// GroupAction collects approvals until the group's required power is met.
type GroupAction struct {
	ContractID ids.ID `serialize:"true" json:"contractId"`
	Group      uint16 `serialize:"true" json:"group"`
	// Proposer owns the document once the action executes.
	Proposer  ids.ID       `serialize:"true" json:"proposer"`
	Approvals []Approval   `serialize:"true" json:"approvals"`
	Executed  bool         `serialize:"true" json:"executed"`
	Flags     StorageFlags `serialize:"true" json:"flags"`
}

// Power sums the approvals.
func (g *GroupAction) Power() uint64 {
	var total uint64
	for _, a := range g.Approvals {
		total += uint64(a.Power)
	}
	return total
}

// Approved reports whether [signer] already approved.
func (g *GroupAction) Approved(signer ids.ID) bool {
	for _, a := range g.Approvals {
		if a.Signer == signer {
			return true
		}
	}
	return false
}

// EpochInfo is the record of a started epoch.
type EpochInfo struct {
	Index       uint16 `serialize:"true" json:"index"`
	StartHeight uint64 `serialize:"true" json:"startHeight"`
	StartTime   uint64 `serialize:"true" json:"startTime"`
	Protocol    uint32 `serialize:"true" json:"protocolVersion"`
	// the rest is filled in when the epoch is paid out
	Finalized      bool   `serialize:"true" json:"finalized"`
	ProcessingPaid uint64 `serialize:"true" json:"processingFees"`
	StoragePaid    uint64 `serialize:"true" json:"storageFees"`
	Blocks         uint64 `serialize:"true" json:"blocks"`
	Leftovers      uint64 `serialize:"true" json:"leftovers"`
}

func marshal(v interface{}) ([]byte, error) {
	return dpp.Codec.Marshal(dpp.CodecVersion, v)
}

func unmarshal(b []byte, v interface{}) error {
	parsedVersion, err := dpp.Codec.Unmarshal(b, v)
	if err != nil {
		return fmt.Errorf("failed to decode stored %T: %w", v, err)
	}
	if parsedVersion != dpp.CodecVersion {
		return errWrongVersion
	}
	return nil
}
