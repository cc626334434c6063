// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/drivevm/version"
)

var errTransitionNotSigned = errors.New("transition has no signature")

// Kind tags the variants of a state transition.
type Kind uint8

const (
	DataContractCreateKind Kind = iota
	DataContractUpdateKind
	DocumentsBatchKind
	IdentityCreateKind
	IdentityTopUpKind
	IdentityUpdateKind
	IdentityCreditWithdrawalKind
	IdentityCreditTransferKind
	MasternodeVoteKind
)

// String is the name the version tables use for the kind.
func (k Kind) String() string {
	if int(k) < len(version.TransitionKinds) {
		return version.TransitionKinds[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// UnsignedTransition is the signed payload of a state transition.
type UnsignedTransition interface {
	Kind() Kind
	// FeatureVersion is the wire version of the variant.
	FeatureVersion() version.FeatureVersion
	// UserFeeIncrease is an extra percentage of the fee the signer offers.
	UserFeeIncrease() uint16
	// OwnerID is the identity that signs and pays for the transition.
	OwnerID() ids.ID
}

// BaseTransition carries the fields every variant shares.
type BaseTransition struct {
	Version     uint16 `serialize:"true" json:"$version"`
	FeeIncrease uint16 `serialize:"true" json:"userFeeIncrease"`
}

func (b *BaseTransition) FeatureVersion() version.FeatureVersion {
	return version.FeatureVersion(b.Version)
}

func (b *BaseTransition) UserFeeIncrease() uint16 { return b.FeeIncrease }

// StateTransition is a signed client request to mutate chain state.
type StateTransition struct {
	Unsigned             UnsignedTransition `serialize:"true" json:"transition"`
	SignaturePublicKeyID uint32             `serialize:"true" json:"signaturePublicKeyId"`
	Signature            []byte             `serialize:"true" json:"signature"`

	id    ids.ID
	bytes []byte
}

// SignableBytes is the canonical encoding of the unsigned payload.
func (st *StateTransition) SignableBytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, &st.Unsigned)
}

// Sign signs the transition with [sign] and caches its encoding.
func (st *StateTransition) Sign(keyID uint32, sign func(msg []byte) ([]byte, error)) error {
	msg, err := st.SignableBytes()
	if err != nil {
		return fmt.Errorf("failed to encode unsigned transition: %w", err)
	}
	sig, err := sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign transition: %w", err)
	}
	st.SignaturePublicKeyID = keyID
	st.Signature = sig
	return st.initialize()
}

func (st *StateTransition) initialize() error {
	if len(st.Signature) == 0 {
		return errTransitionNotSigned
	}
	b, err := Codec.Marshal(CodecVersion, st)
	if err != nil {
		return fmt.Errorf("failed to encode transition: %w", err)
	}
	st.bytes = b
	st.id = hashing.ComputeHash256Array(b)
	return nil
}

// ID is the hash of the transition bytes.
func (st *StateTransition) ID() ids.ID { return st.id }

// Bytes is the wire encoding of the transition.
func (st *StateTransition) Bytes() []byte { return st.bytes }

// ParseTransition decodes wire bytes. Decoding failures are consensus errors
// of the structure phase.
func ParseTransition(b []byte) (*StateTransition, ConsensusError) {
	st := &StateTransition{}
	parsedVersion, err := Codec.Unmarshal(b, st)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	if parsedVersion != CodecVersion {
		return nil, &SerializationError{Reason: fmt.Sprintf("unknown codec version %d", parsedVersion)}
	}
	if st.Unsigned == nil {
		return nil, &SerializationError{Reason: "missing transition payload"}
	}
	st.bytes = b
	st.id = hashing.ComputeHash256Array(b)
	return st, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
