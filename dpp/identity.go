// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/drivevm/crypto"
)

// Purpose restricts what a key may sign.
type Purpose uint8

const (
	Authentication Purpose = iota
	Encryption
	Decryption
	Transfer
	System
	Voting
	Owner
)

func (p Purpose) String() string {
	switch p {
	case Authentication:
		return "AUTHENTICATION"
	case Encryption:
		return "ENCRYPTION"
	case Decryption:
		return "DECRYPTION"
	case Transfer:
		return "TRANSFER"
	case System:
		return "SYSTEM"
	case Voting:
		return "VOTING"
	case Owner:
		return "OWNER"
	default:
		return fmt.Sprintf("Purpose(%d)", uint8(p))
	}
}

// SecurityLevel orders keys by strength. Lower values are stronger.
type SecurityLevel uint8

const (
	Master SecurityLevel = iota
	Critical
	High
	Medium
)

func (l SecurityLevel) String() string {
	switch l {
	case Master:
		return "MASTER"
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return fmt.Sprintf("SecurityLevel(%d)", uint8(l))
	}
}

// IdentityPublicKey is one key of an identity.
type IdentityPublicKey struct {
	ID            uint32         `serialize:"true" json:"id"`
	Purpose       Purpose        `serialize:"true" json:"purpose"`
	SecurityLevel SecurityLevel  `serialize:"true" json:"securityLevel"`
	Type          crypto.KeyType `serialize:"true" json:"type"`
	ReadOnly      bool           `serialize:"true" json:"readOnly"`
	Data          []byte         `serialize:"true" json:"data"`
	// DisabledAt is the block time in milliseconds the key was disabled at,
	// zero while the key is enabled.
	DisabledAt uint64 `serialize:"true" json:"disabledAt,omitempty"`
}

func (k *IdentityPublicKey) Disabled() bool { return k.DisabledAt != 0 }

// Identity is a registered participant. The balance is kept in its own tree
// and is filled in when the identity is fetched.
type Identity struct {
	ID         ids.ID              `serialize:"true" json:"id"`
	Revision   uint64              `serialize:"true" json:"revision"`
	PublicKeys []IdentityPublicKey `serialize:"true" json:"publicKeys"`

	Balance uint64 `json:"balance"`
}

// Key returns the key with [id].
func (i *Identity) Key(id uint32) (*IdentityPublicKey, bool) {
	for idx := range i.PublicKeys {
		if i.PublicKeys[idx].ID == id {
			return &i.PublicKeys[idx], true
		}
	}
	return nil, false
}

// SortKeys orders keys by ID, the canonical stored order.
func (i *Identity) SortKeys() {
	sort.Slice(i.PublicKeys, func(a, b int) bool {
		return i.PublicKeys[a].ID < i.PublicKeys[b].ID
	})
}

// MaxKeyID is the highest key ID in use.
func (i *Identity) MaxKeyID() uint32 {
	var max uint32
	for _, k := range i.PublicKeys {
		if k.ID > max {
			max = k.ID
		}
	}
	return max
}

// HasEnabledMasterKey reports whether an enabled master authentication key
// remains.
func (i *Identity) HasEnabledMasterKey() bool {
	for _, k := range i.PublicKeys {
		if !k.Disabled() && k.Purpose == Authentication && k.SecurityLevel == Master {
			return true
		}
	}
	return false
}

// OutPoint references a core chain transaction output.
type OutPoint struct {
	TxID  ids.ID `serialize:"true" json:"txId"`
	Index uint32 `serialize:"true" json:"index"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// Bytes is the 36 byte canonical encoding.
func (o OutPoint) Bytes() []byte {
	b := make([]byte, 36)
	copy(b, o.TxID[:])
	binary.BigEndian.PutUint32(b[32:], o.Index)
	return b
}

// IdentityIDFromOutPoint derives the ID of an identity funded by [o].
func IdentityIDFromOutPoint(o OutPoint) ids.ID {
	return hashing.ComputeHash256Array(hashing.ComputeHash256(o.Bytes()))
}

// AssetLock is core chain collateral made available to the platform by the
// consensus driver. It funds identity creation and top ups once.
type AssetLock struct {
	OutPoint OutPoint `serialize:"true" json:"outPoint"`
	// Credits is the locked value converted to credits.
	Credits uint64 `serialize:"true" json:"credits"`
	// PubKeyHash is the hash160 of the key that must sign the transition.
	PubKeyHash []byte `serialize:"true" json:"pubKeyHash"`
}
