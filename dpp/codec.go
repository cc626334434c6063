// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	// CodecVersion is the current default codec version
	CodecVersion = 0
)

// Codec serializes transitions and every stored entity. Registration order
// fixes the type IDs on the wire and must never change.
var Codec codec.Manager

func init() {
	c := linearcodec.NewDefault()
	Codec = codec.NewDefaultManager()

	errs := wrappers.Errs{}
	errs.Add(
		c.RegisterType(&DataContractCreate{}),
		c.RegisterType(&DataContractUpdate{}),
		c.RegisterType(&DocumentsBatch{}),
		c.RegisterType(&IdentityCreate{}),
		c.RegisterType(&IdentityTopUp{}),
		c.RegisterType(&IdentityUpdate{}),
		c.RegisterType(&IdentityCreditWithdrawal{}),
		c.RegisterType(&IdentityCreditTransfer{}),
		c.RegisterType(&MasternodeVote{}),
	)
	errs.Add(
		Codec.RegisterCodec(CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}
