// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package action holds the execution ready forms of validated transitions.
// An action carries everything execution needs so that turning it into
// storage operations performs no reads.
package action

import (
	"github.com/ava-labs/avalanchego/ids"
)

var (
	_ Action = &DataContractCreate{}
	_ Action = &DataContractUpdate{}
	_ Action = &DocumentsBatch{}
	_ Action = &IdentityCreate{}
	_ Action = &IdentityTopUp{}
	_ Action = &IdentityUpdate{}
	_ Action = &IdentityCreditWithdrawal{}
	_ Action = &IdentityCreditTransfer{}
	_ Action = &MasternodeVote{}
	_ Action = &BumpIdentityNonce{}
	_ Action = &BumpIdentityContractNonce{}
)

// Action is a validated state transition.
type Action interface {
	// Name keys the operations rule of the action.
	Name() string
	// Payer is the identity whose balance pays the fee.
	Payer() ids.ID
	UserFeeIncrease() uint16
}

// Base is embedded by every action.
type Base struct {
	FeeIncrease uint16
}

func (b *Base) UserFeeIncrease() uint16 { return b.FeeIncrease }

// NonceBump moves a nonce forward by one.
type NonceBump struct {
	Previous uint64
	Next     uint64
}

// Bump returns the bump from [previous].
func Bump(previous uint64) NonceBump {
	return NonceBump{Previous: previous, Next: previous + 1}
}
