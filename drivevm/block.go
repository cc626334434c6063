// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"time"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/execution"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/version"
)

// GenesisIdentity is an identity funded at genesis.
type GenesisIdentity struct {
	Identity dpp.Identity `json:"identity"`
	Balance  uint64       `json:"balance"`
}

type InitChainRequest struct {
	ChainID string `json:"chainId"`
	// GenesisTime is in milliseconds.
	GenesisTime   uint64 `json:"genesisTime"`
	InitialHeight uint64 `json:"initialHeight"`
	// InitialProtocol defaults to the latest supported version.
	InitialProtocol       uint32            `json:"initialProtocolVersion"`
	CoreChainLockedHeight uint32            `json:"coreChainLockedHeight"`
	FeatureFlagsOwner     ids.ID            `json:"featureFlagsOwner"`
	Masternodes           []MasternodeEntry `json:"masternodes"`
	Identities            []GenesisIdentity `json:"identities"`
}

type InitChainResponse struct {
	AppHash       ids.ID `json:"appHash"`
	Protocol      uint32 `json:"protocolVersion"`
	InitialHeight uint64 `json:"initialHeight"`
}

type BeginBlockRequest struct {
	Height uint64 `json:"height"`
	// Time is in milliseconds.
	Time              uint64 `json:"time"`
	ProposerProTxHash ids.ID `json:"proposerProTxHash"`
	// ProposedProtocol is the version the proposer signals support for,
	// zero for none.
	ProposedProtocol      uint32          `json:"proposedProtocolVersion"`
	CoreChainLockedHeight uint32          `json:"coreChainLockedHeight"`
	AssetLocks            []dpp.AssetLock `json:"assetLocks"`
}

type BeginBlockResponse struct {
	Epoch        uint16 `json:"epoch"`
	EpochChanged bool   `json:"epochChanged"`
	Protocol     uint32 `json:"protocolVersion"`
}

type EndBlockRequest struct {
	Masternodes *MasternodeDiff `json:"masternodes"`
}

type EndBlockResponse struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

type CommitResponse struct {
	Height  uint64 `json:"height"`
	AppHash ids.ID `json:"appHash"`
}

// openBlock is the block between BeginBlock and Commit.
type openBlock struct {
	txn      *storage.Txn
	state    *PlatformState
	platform *version.PlatformVersion
	info     execution.BlockInfo

	proposer ids.ID
	proposed uint32
	results  []resultlog.TransitionResult
	ended    bool
	started  time.Time
}

func (b *openBlock) counts() (valid, invalid int) {
	for _, r := range b.results {
		if r.Valid {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

func transitionResult(r *execution.Result) resultlog.TransitionResult {
	tr := resultlog.TransitionResult{
		TransitionID:  r.TransitionID,
		Kind:          r.Kind,
		Valid:         r.Valid(),
		StorageFee:    r.Fee.StorageFee,
		ProcessingFee: r.Fee.ProcessingFee,
		Charged:       r.Charged,
	}
	for _, refund := range r.Fee.Refunds {
		tr.Refunded += refund.Amount
	}
	for _, e := range r.Errors {
		tr.Errors = append(tr.Errors, resultlog.Error{Code: e.Code(), Message: e.Error()})
	}
	return tr
}
