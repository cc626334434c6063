// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

var (
	feeVersion1 = FeeVersion{
		Version: 1,
		Storage: StorageFees{
			DiskUsageCreditPerByte:      20,
			ProcessingCreditPerByte:     2,
			LoadCreditPerByte:           1,
			NonStorageLoadCreditPerByte: 1,
			SeekCost:                    40,
		},
		Signature: SignatureFees{
			VerifyECDSASecp256k1:    300,
			VerifyBLS12381:          600,
			VerifyECDSAHash160:      400,
			VerifyEdDSA25519Hash160: 300,
		},
		Hashing: HashingFees{
			SingleSHA256Base: 10,
			SHA256PerBlock:   5,
		},
		Processing: ProcessingFees{
			StructureCheck:      100,
			PerTransitionBase:   200,
			FetchIdentityKeys:   120,
			FetchIdentityNonce:  60,
			FetchIdentityBal:    60,
			FetchContract:       150,
			ValidateKey:         50,
			DocumentTransition:  80,
			ValidateIndexLookup: 70,
		},
	}

	// feeVersion2 raises the price of persisted bytes.
	feeVersion2 = func() FeeVersion {
		f := feeVersion1
		f.Version = 2
		f.Storage.DiskUsageCreditPerByte = 25
		f.Storage.SeekCost = 50
		return f
	}()
)

func platformVersion1() *PlatformVersion {
	pv := &PlatformVersion{
		Protocol:    1,
		Methods:     make(map[Method]FeatureVersion),
		Transitions: make(map[string]Bounds),
		Limits: Limits{
			MaxTransitionSize:        20 * 1024,
			MaxDocumentsPerBatch:     1,
			MaxDocumentTypes:         16,
			MaxPropertiesPerType:     32,
			MaxIndicesPerType:        8,
			MaxKeysPerIdentity:       16,
			MaxKeysAddedPerUpdate:    6,
			MaxDocumentSize:          4 * 1024,
			MaxStringLength:          1024,
			MinTransferAmount:        1,
			MinWithdrawalAmount:      1000,
			MinIdentityFundingAmount: 10000,
			UpgradeThresholdPercent:  75,
		},
		Fee: feeVersion1,
		Tuning: Tuning{
			DefaultQueryLimit: 100,
			MaxQueryLimit:     100,
			ContractCacheSize: 512,
		},
	}
	for _, kind := range TransitionKinds {
		pv.Transitions[kind] = Bounds{}
		pv.Methods[StructureMethod(kind)] = 0
		pv.Methods[StateMethod(kind)] = 0
		pv.Methods[OperationsMethod(kind)] = 0
		switch kind {
		case KindIdentityCreate, KindIdentityTopUp:
			// signed by the asset lock key, checked in the state phase
		default:
			pv.Methods[IdentitySignedMethod(kind)] = 0
		}
	}
	for _, m := range []Method{
		ContractToJSON,
		ContractValidateFormat,
		FeeCalculate,
		DriveSpreadStorageFees,
		EpochDistribute,
		ProtocolUpgradeCheck,
		VotePollResolve,
		MasternodeUpdate,
		BumpIdentityNonceOps,
		BumpContractNonceOps,
	} {
		pv.Methods[m] = 0
	}
	return pv
}

// platformVersion2 allows larger document batches, accepts wire version 1
// of credit transfers and lets document types be controlled by groups.
func platformVersion2(prev *PlatformVersion) *PlatformVersion {
	pv := prev.clone()
	pv.Protocol = 2
	pv.Limits.MaxDocumentsPerBatch = 10
	pv.Transitions[KindIdentityCreditTransfer] = Bounds{Min: 0, Max: 1, Default: 1}
	pv.Methods[StructureMethod(KindIdentityCreditTransfer)] = 1
	pv.Methods[StateMethod(KindDocumentsBatch)] = 1
	return pv
}

// platformVersion3 switches to the second fee table.
func platformVersion3(prev *PlatformVersion) *PlatformVersion {
	pv := prev.clone()
	pv.Protocol = 3
	pv.Fee = feeVersion2
	pv.Limits.MinTransferAmount = 100
	return pv
}

// platformVersion4 adds contract keywords and description.
func platformVersion4(prev *PlatformVersion) *PlatformVersion {
	pv := prev.clone()
	pv.Protocol = 4
	pv.Methods[ContractToJSON] = 1
	pv.Methods[ContractValidateFormat] = 1
	pv.Tuning.MaxQueryLimit = 200
	return pv
}

func builtinVersions() []*PlatformVersion {
	v1 := platformVersion1()
	v2 := platformVersion2(v1)
	v3 := platformVersion3(v2)
	v4 := platformVersion4(v3)
	return []*PlatformVersion{v1, v2, v3, v4}
}
