// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"encoding/binary"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/drivevm/dpp"
)

// Sub key prefixes inside the root trees.
const (
	// Identities tree
	identityPrefix      byte = 0x00
	identityNoncePrefix byte = 0x01
	contractNoncePrefix byte = 0x02
	keyHashPrefix       byte = 0x03

	// Documents tree
	documentPrefix    byte = 0x00
	uniqueIndexPrefix byte = 0x01
	groupActionPrefix byte = 0x02

	// Pools tree
	epochPrefix        byte = 0x00
	storageDeltaPrefix byte = 0x01
	proposerPrefix     byte = 0x02

	// Votes tree
	pollPrefix         byte = 0x00
	votePrefix         byte = 0x01
	upgradeCountPrefix byte = 0x02

	// Misc tree
	assetLockPrefix  byte = 0x10
	masternodePrefix byte = 0x11
)

var (
	storageRateKey    = []byte{0x10}
	processingPoolKey = []byte{0x11}

	totalCreditsKey    = []byte("total_credits")
	withdrawalIndexKey = []byte("withdrawal_index")
)

func prefixed(prefix byte, parts ...[]byte) []byte {
	size := 1
	for _, p := range parts {
		size += len(p)
	}
	k := make([]byte, 0, size)
	k = append(k, prefix)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func uint16Bytes(v uint16) []byte {
	b := make([]byte, wrappers.ShortLen)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, wrappers.IntLen)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func strBytes(s string) []byte {
	b := make([]byte, wrappers.ShortLen+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[wrappers.ShortLen:], s)
	return b
}

// BalanceKey is the key of an identity balance in the Balances tree.
func BalanceKey(id ids.ID) []byte { return id[:] }

// IdentityKey is the key of an identity record in the Identities tree.
func IdentityKey(id ids.ID) []byte { return prefixed(identityPrefix, id[:]) }

// IdentityNonceKey is the key of an identity nonce.
func IdentityNonceKey(id ids.ID) []byte { return prefixed(identityNoncePrefix, id[:]) }

// ContractNonceKey is the key of the nonce an identity uses with a contract.
func ContractNonceKey(id, contractID ids.ID) []byte {
	return prefixed(contractNoncePrefix, id[:], contractID[:])
}

// KeyHashKey maps the hash of unique key material to its identity.
func KeyHashKey(keyHash []byte) []byte { return prefixed(keyHashPrefix, keyHash) }

// ContractKey is the key of a contract in the Contracts tree.
func ContractKey(id ids.ID) []byte { return id[:] }

// DocumentKey is the key of a document in the Documents tree.
func DocumentKey(contractID ids.ID, documentType string, id ids.ID) []byte {
	return prefixed(documentPrefix, contractID[:], strBytes(documentType), id[:])
}

// DocumentTypePrefix prefixes every document of one type.
func DocumentTypePrefix(contractID ids.ID, documentType string) []byte {
	return prefixed(documentPrefix, contractID[:], strBytes(documentType))
}

// UniqueIndexKey is the key of a unique index entry.
func UniqueIndexKey(contractID ids.ID, documentType, index string, values [][]byte) []byte {
	parts := [][]byte{contractID[:], strBytes(documentType), strBytes(index)}
	for _, v := range values {
		parts = append(parts, uint32Bytes(uint32(len(v))), v)
	}
	return prefixed(uniqueIndexPrefix, parts...)
}

// GroupActionKey is the key of the approvals of a group action.
func GroupActionKey(actionID ids.ID) []byte { return prefixed(groupActionPrefix, actionID[:]) }

// EpochKey is the key of an epoch record in the Pools tree.
func EpochKey(index uint16) []byte { return prefixed(epochPrefix, uint16Bytes(index)) }

// StorageDeltaKey is the key of the storage pool change starting at [epoch].
// Epochs beyond the uint16 range are addressable since deposits reach
// PerpetualStorageEpochs into the future.
func StorageDeltaKey(epoch uint32) []byte { return prefixed(storageDeltaPrefix, uint32Bytes(epoch)) }

// ProposerKey is the key of the block count of a proposer in an epoch.
func ProposerKey(epoch uint16, proTxHash ids.ID) []byte {
	return prefixed(proposerPrefix, uint16Bytes(epoch), proTxHash[:])
}

// ProposerPrefix prefixes the proposer counts of one epoch.
func ProposerPrefix(epoch uint16) []byte { return prefixed(proposerPrefix, uint16Bytes(epoch)) }

// PollKey is the key of a vote poll in the Votes tree.
func PollKey(pollID ids.ID) []byte { return prefixed(pollPrefix, pollID[:]) }

// VoteKey is the key of the vote of one masternode in a poll.
func VoteKey(pollID, proTxHash ids.ID) []byte { return prefixed(votePrefix, pollID[:], proTxHash[:]) }

// PollVotesPrefix prefixes every vote of a poll.
func PollVotesPrefix(pollID ids.ID) []byte { return prefixed(votePrefix, pollID[:]) }

// UpgradeCountKey is the key of the number of blocks of the current epoch
// signalling [v].
func UpgradeCountKey(v uint32) []byte { return prefixed(upgradeCountPrefix, uint32Bytes(v)) }

// UpgradeCountPrefix prefixes every upgrade count.
func UpgradeCountPrefix() []byte { return []byte{upgradeCountPrefix} }

// AssetLockKey is the key of an asset lock in the Misc tree.
func AssetLockKey(o dpp.OutPoint) []byte { return prefixed(assetLockPrefix, o.Bytes()) }

// MasternodeKey is the key of a masternode entry in the Misc tree.
func MasternodeKey(proTxHash ids.ID) []byte { return prefixed(masternodePrefix, proTxHash[:]) }
