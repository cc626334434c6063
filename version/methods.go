// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

// Transition kind names. They key the compatibility map and the per kind
// validation methods.
const (
	KindDataContractCreate        = "data_contract_create"
	KindDataContractUpdate        = "data_contract_update"
	KindDocumentsBatch            = "documents_batch"
	KindIdentityCreate            = "identity_create"
	KindIdentityTopUp             = "identity_top_up"
	KindIdentityUpdate            = "identity_update"
	KindIdentityCreditWithdrawal  = "identity_credit_withdrawal"
	KindIdentityCreditTransfer    = "identity_credit_transfer"
	KindMasternodeVote            = "masternode_vote"
	KindBumpIdentityNonce         = "bump_identity_nonce"
	KindBumpIdentityContractNonce = "bump_identity_contract_nonce"
)

// TransitionKinds lists every client submittable kind in wire order.
var TransitionKinds = []string{
	KindDataContractCreate,
	KindDataContractUpdate,
	KindDocumentsBatch,
	KindIdentityCreate,
	KindIdentityTopUp,
	KindIdentityUpdate,
	KindIdentityCreditWithdrawal,
	KindIdentityCreditTransfer,
	KindMasternodeVote,
}

var (
	ContractToJSON         = Method{DPP, "contract.to_json"}
	ContractValidateFormat = Method{DPP, "contract.validate_structure"}
	FeeCalculate           = Method{Fee, "calculate"}
	DriveSpreadStorageFees = Method{Drive, "epoch.spread_storage_fees"}
	EpochDistribute        = Method{DriveABCI, "epoch.distribute"}
	ProtocolUpgradeCheck   = Method{DriveABCI, "protocol_upgrade.check"}
	VotePollResolve        = Method{DriveABCI, "voting.resolve_polls"}
	MasternodeUpdate       = Method{DriveABCI, "masternode.update_identities"}
	BumpIdentityNonceOps   = OperationsMethod(KindBumpIdentityNonce)
	BumpContractNonceOps   = OperationsMethod(KindBumpIdentityContractNonce)
)

// StructureMethod is the structure phase rule of [kind].
func StructureMethod(kind string) Method {
	return Method{DPP, "transition." + kind + ".structure"}
}

// IdentitySignedMethod is the identity and signature phase rule of [kind].
func IdentitySignedMethod(kind string) Method {
	return Method{DriveABCI, "validation." + kind + ".identity_signed"}
}

// StateMethod is the state phase rule of [kind].
func StateMethod(kind string) Method {
	return Method{DriveABCI, "validation." + kind + ".state"}
}

// OperationsMethod is the rule converting the action of [kind] into
// storage operations.
func OperationsMethod(kind string) Method {
	return Method{Drive, "action." + kind + ".operations"}
}
