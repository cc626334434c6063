// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/version"
)

// ConsensusError is a deterministic, user caused rejection of a transition.
// It is reported in the block results and never aborts a block.
type ConsensusError interface {
	error
	Code() uint32
}

// Error code ranges.
const (
	structureCodes = 1000
	signatureCodes = 2000
	feeCodes       = 3000
	stateCodes     = 4000
)

// Class groups consensus errors by the stage that produced them.
type Class uint8

const (
	StructureClass Class = iota + 1
	SignatureClass
	FeeClass
	StateClass
)

// ClassOf returns the class of [err] derived from its code.
func ClassOf(err ConsensusError) Class {
	switch code := err.Code(); {
	case code >= stateCodes:
		return StateClass
	case code >= feeCodes:
		return FeeClass
	case code >= signatureCodes:
		return SignatureClass
	default:
		return StructureClass
	}
}

// Structure errors.

type SerializationError struct{ Reason string }

func (e *SerializationError) Code() uint32 { return structureCodes }
func (e *SerializationError) Error() string {
	return "serialization error: " + e.Reason
}

type UnsupportedFeatureVersionError struct {
	Kind    string
	Version version.FeatureVersion
	Bounds  version.Bounds
}

func (e *UnsupportedFeatureVersionError) Code() uint32 { return structureCodes + 1 }
func (e *UnsupportedFeatureVersionError) Error() string {
	return fmt.Sprintf("%s version %d is not in [%d, %d]", e.Kind, e.Version, e.Bounds.Min, e.Bounds.Max)
}

type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Code() uint32 { return structureCodes + 2 }
func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type TransitionTooLargeError struct {
	Size uint32
	Max  uint32
}

func (e *TransitionTooLargeError) Code() uint32 { return structureCodes + 3 }
func (e *TransitionTooLargeError) Error() string {
	return fmt.Sprintf("transition of %d bytes exceeds %d", e.Size, e.Max)
}

type DocumentSchemaError struct {
	DocumentType string
	Property     string
	Reason       string
}

func (e *DocumentSchemaError) Code() uint32 { return structureCodes + 4 }
func (e *DocumentSchemaError) Error() string {
	return fmt.Sprintf("document type %q property %q: %s", e.DocumentType, e.Property, e.Reason)
}

type InvalidIdentifierError struct {
	Field    string
	Expected ids.ID
	Got      ids.ID
}

func (e *InvalidIdentifierError) Code() uint32 { return structureCodes + 5 }
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("%s is %s, expected %s", e.Field, e.Got, e.Expected)
}

type DuplicateItemError struct {
	Field string
	Item  string
}

func (e *DuplicateItemError) Code() uint32 { return structureCodes + 6 }
func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("duplicate %s %s", e.Field, e.Item)
}

// Signature errors.

type IdentityNotFoundError struct{ IdentityID ids.ID }

func (e *IdentityNotFoundError) Code() uint32 { return signatureCodes }
func (e *IdentityNotFoundError) Error() string {
	return fmt.Sprintf("identity %s not found", e.IdentityID)
}

type MissingPublicKeyError struct{ KeyID uint32 }

func (e *MissingPublicKeyError) Code() uint32 { return signatureCodes + 1 }
func (e *MissingPublicKeyError) Error() string {
	return fmt.Sprintf("public key %d not found", e.KeyID)
}

type InvalidSignaturePublicKeyError struct {
	KeyID   uint32
	KeyType crypto.KeyType
}

func (e *InvalidSignaturePublicKeyError) Code() uint32 { return signatureCodes + 2 }
func (e *InvalidSignaturePublicKeyError) Error() string {
	return fmt.Sprintf("public key %d of type %s cannot sign transitions", e.KeyID, e.KeyType)
}

type PublicKeyIsDisabledError struct{ KeyID uint32 }

func (e *PublicKeyIsDisabledError) Code() uint32 { return signatureCodes + 3 }
func (e *PublicKeyIsDisabledError) Error() string {
	return fmt.Sprintf("public key %d is disabled", e.KeyID)
}

type WrongPublicKeyPurposeError struct {
	KeyID   uint32
	Purpose Purpose
	Allowed []Purpose
}

func (e *WrongPublicKeyPurposeError) Code() uint32 { return signatureCodes + 4 }
func (e *WrongPublicKeyPurposeError) Error() string {
	return fmt.Sprintf("public key %d has purpose %s, allowed %v", e.KeyID, e.Purpose, e.Allowed)
}

type PublicKeySecurityLevelNotMetError struct {
	KeyID   uint32
	Level   SecurityLevel
	Allowed []SecurityLevel
}

func (e *PublicKeySecurityLevelNotMetError) Code() uint32 { return signatureCodes + 5 }
func (e *PublicKeySecurityLevelNotMetError) Error() string {
	return fmt.Sprintf("public key %d has security level %s, allowed %v", e.KeyID, e.Level, e.Allowed)
}

type InvalidStateTransitionSignatureError struct{}

func (e *InvalidStateTransitionSignatureError) Code() uint32 { return signatureCodes + 6 }
func (e *InvalidStateTransitionSignatureError) Error() string {
	return "invalid state transition signature"
}

// Fee errors.

type IdentityInsufficientBalanceError struct {
	IdentityID ids.ID
	Balance    uint64
	Required   uint64
}

func (e *IdentityInsufficientBalanceError) Code() uint32 { return feeCodes }
func (e *IdentityInsufficientBalanceError) Error() string {
	return fmt.Sprintf("identity %s balance %d is below required %d", e.IdentityID, e.Balance, e.Required)
}

type InsufficientAssetLockValueError struct {
	Value    uint64
	Required uint64
}

func (e *InsufficientAssetLockValueError) Code() uint32 { return feeCodes + 1 }
func (e *InsufficientAssetLockValueError) Error() string {
	return fmt.Sprintf("asset lock value %d is below required %d", e.Value, e.Required)
}

// State errors.

type InvalidIdentityNonceError struct {
	IdentityID ids.ID
	ContractID ids.ID
	Current    uint64
	Got        uint64
}

func (e *InvalidIdentityNonceError) Code() uint32 { return stateCodes }
func (e *InvalidIdentityNonceError) Error() string {
	return fmt.Sprintf("identity %s nonce %d, expected %d", e.IdentityID, e.Got, e.Current+1)
}

type InvalidIdentityRevisionError struct {
	IdentityID ids.ID
	Current    uint64
	Got        uint64
}

func (e *InvalidIdentityRevisionError) Code() uint32 { return stateCodes + 1 }
func (e *InvalidIdentityRevisionError) Error() string {
	return fmt.Sprintf("identity %s revision %d, expected %d", e.IdentityID, e.Got, e.Current+1)
}

type DataContractNotFoundError struct{ ContractID ids.ID }

func (e *DataContractNotFoundError) Code() uint32 { return stateCodes + 2 }
func (e *DataContractNotFoundError) Error() string {
	return fmt.Sprintf("data contract %s not found", e.ContractID)
}

type DataContractAlreadyPresentError struct{ ContractID ids.ID }

func (e *DataContractAlreadyPresentError) Code() uint32 { return stateCodes + 3 }
func (e *DataContractAlreadyPresentError) Error() string {
	return fmt.Sprintf("data contract %s already exists", e.ContractID)
}

type InvalidDataContractVersionError struct {
	Expected uint32
	Got      uint32
}

func (e *InvalidDataContractVersionError) Code() uint32 { return stateCodes + 4 }
func (e *InvalidDataContractVersionError) Error() string {
	return fmt.Sprintf("data contract version %d, expected %d", e.Got, e.Expected)
}

type DataContractUpdateNotAllowedError struct{ Reason string }

func (e *DataContractUpdateNotAllowedError) Code() uint32 { return stateCodes + 5 }
func (e *DataContractUpdateNotAllowedError) Error() string {
	return "data contract update not allowed: " + e.Reason
}

type DocumentNotFoundError struct{ DocumentID ids.ID }

func (e *DocumentNotFoundError) Code() uint32 { return stateCodes + 6 }
func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.DocumentID)
}

type DocumentAlreadyPresentError struct{ DocumentID ids.ID }

func (e *DocumentAlreadyPresentError) Code() uint32 { return stateCodes + 7 }
func (e *DocumentAlreadyPresentError) Error() string {
	return fmt.Sprintf("document %s already exists", e.DocumentID)
}

type DuplicateUniqueIndexError struct {
	DocumentID ids.ID
	Index      string
}

func (e *DuplicateUniqueIndexError) Code() uint32 { return stateCodes + 8 }
func (e *DuplicateUniqueIndexError) Error() string {
	return fmt.Sprintf("document %s violates unique index %q", e.DocumentID, e.Index)
}

type InvalidDocumentRevisionError struct {
	DocumentID ids.ID
	Current    uint64
	Got        uint64
}

func (e *InvalidDocumentRevisionError) Code() uint32 { return stateCodes + 9 }
func (e *InvalidDocumentRevisionError) Error() string {
	return fmt.Sprintf("document %s revision %d, expected %d", e.DocumentID, e.Got, e.Current+1)
}

type DocumentOwnerIDMismatchError struct {
	DocumentID ids.ID
	Owner      ids.ID
}

func (e *DocumentOwnerIDMismatchError) Code() uint32 { return stateCodes + 10 }
func (e *DocumentOwnerIDMismatchError) Error() string {
	return fmt.Sprintf("document %s is owned by %s", e.DocumentID, e.Owner)
}

type DocumentTypeNotFoundError struct {
	ContractID   ids.ID
	DocumentType string
}

func (e *DocumentTypeNotFoundError) Code() uint32 { return stateCodes + 11 }
func (e *DocumentTypeNotFoundError) Error() string {
	return fmt.Sprintf("data contract %s has no document type %q", e.ContractID, e.DocumentType)
}

type DocumentNotMutableError struct {
	DocumentType string
	Action       string
}

func (e *DocumentNotMutableError) Code() uint32 { return stateCodes + 12 }
func (e *DocumentNotMutableError) Error() string {
	return fmt.Sprintf("documents of type %q do not allow %s", e.DocumentType, e.Action)
}

type AssetLockNotFoundError struct{ OutPoint OutPoint }

func (e *AssetLockNotFoundError) Code() uint32 { return stateCodes + 13 }
func (e *AssetLockNotFoundError) Error() string {
	return fmt.Sprintf("asset lock %s not found", e.OutPoint)
}

type AssetLockAlreadySpentError struct{ OutPoint OutPoint }

func (e *AssetLockAlreadySpentError) Code() uint32 { return stateCodes + 14 }
func (e *AssetLockAlreadySpentError) Error() string {
	return fmt.Sprintf("asset lock %s already spent", e.OutPoint)
}

type IdentityAlreadyExistsError struct{ IdentityID ids.ID }

func (e *IdentityAlreadyExistsError) Code() uint32 { return stateCodes + 15 }
func (e *IdentityAlreadyExistsError) Error() string {
	return fmt.Sprintf("identity %s already exists", e.IdentityID)
}

type RecipientIdentityNotFoundError struct{ IdentityID ids.ID }

func (e *RecipientIdentityNotFoundError) Code() uint32 { return stateCodes + 16 }
func (e *RecipientIdentityNotFoundError) Error() string {
	return fmt.Sprintf("recipient identity %s not found", e.IdentityID)
}

type DataTriggerError struct {
	ContractID   ids.ID
	DocumentType string
	DocumentID   ids.ID
	Message      string
}

func (e *DataTriggerError) Code() uint32 { return stateCodes + 17 }
func (e *DataTriggerError) Error() string {
	return fmt.Sprintf("data trigger %s/%s rejected document %s: %s", e.ContractID, e.DocumentType, e.DocumentID, e.Message)
}

type MasternodeNotFoundError struct{ ProTxHash ids.ID }

func (e *MasternodeNotFoundError) Code() uint32 { return stateCodes + 18 }
func (e *MasternodeNotFoundError) Error() string {
	return fmt.Sprintf("masternode %s not found", e.ProTxHash)
}

type VotePollNotFoundError struct{ PollID ids.ID }

func (e *VotePollNotFoundError) Code() uint32 { return stateCodes + 19 }
func (e *VotePollNotFoundError) Error() string {
	return fmt.Sprintf("vote poll %s not found", e.PollID)
}

type GroupMemberNotFoundError struct {
	Group    uint16
	Identity ids.ID
}

func (e *GroupMemberNotFoundError) Code() uint32 { return stateCodes + 20 }
func (e *GroupMemberNotFoundError) Error() string {
	return fmt.Sprintf("identity %s is not a member of group %d", e.Identity, e.Group)
}

type DuplicateGroupSignerError struct {
	ActionID ids.ID
	Identity ids.ID
}

func (e *DuplicateGroupSignerError) Code() uint32 { return stateCodes + 21 }
func (e *DuplicateGroupSignerError) Error() string {
	return fmt.Sprintf("identity %s already signed group action %s", e.Identity, e.ActionID)
}

type DuplicatedIdentityPublicKeyIDError struct{ KeyID uint32 }

func (e *DuplicatedIdentityPublicKeyIDError) Code() uint32 { return stateCodes + 22 }
func (e *DuplicatedIdentityPublicKeyIDError) Error() string {
	return fmt.Sprintf("identity already has a key with id %d", e.KeyID)
}

type MissingMasterKeyError struct{}

func (e *MissingMasterKeyError) Code() uint32 { return stateCodes + 23 }
func (e *MissingMasterKeyError) Error() string {
	return "identity must keep an enabled master authentication key"
}

type UnknownPublicKeyToDisableError struct{ KeyID uint32 }

func (e *UnknownPublicKeyToDisableError) Code() uint32 { return stateCodes + 24 }
func (e *UnknownPublicKeyToDisableError) Error() string {
	return fmt.Sprintf("cannot disable unknown or disabled key %d", e.KeyID)
}

type GroupNotFoundError struct {
	ContractID ids.ID
	Group      uint16
}

func (e *GroupNotFoundError) Code() uint32 { return stateCodes + 25 }
func (e *GroupNotFoundError) Error() string {
	return fmt.Sprintf("data contract %s has no group %d", e.ContractID, e.Group)
}
