// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import "fmt"

// ProtocolVersion selects the chain-wide rule set. It never decreases over
// the lifetime of a chain.
type ProtocolVersion uint32

// FeatureVersion is the version of a single versionable rule inside a
// protocol version's table.
type FeatureVersion uint16

const (
	FirstVersion  ProtocolVersion = 1
	LatestVersion ProtocolVersion = 4
)

// Subsystem groups methods the way the tables are organised.
type Subsystem string

const (
	DPP       Subsystem = "dpp"
	Drive     Subsystem = "drive"
	DriveABCI Subsystem = "drive_abci"
	Fee       Subsystem = "fee"
)

// Method identifies one versionable rule.
type Method struct {
	Subsystem Subsystem
	Name      string
}

func (m Method) String() string {
	return fmt.Sprintf("%s.%s", m.Subsystem, m.Name)
}

// Bounds is the range of wire feature versions a protocol version accepts
// for one transition kind, plus the version clients should produce.
type Bounds struct {
	Min     FeatureVersion
	Max     FeatureVersion
	Default FeatureVersion
}

// Contains reports whether [v] lies within the bounds.
func (b Bounds) Contains(v FeatureVersion) bool {
	return v >= b.Min && v <= b.Max
}

// Limits are consensus-critical size and count limits.
type Limits struct {
	MaxTransitionSize        uint32
	MaxDocumentsPerBatch     uint16
	MaxDocumentTypes         uint16
	MaxPropertiesPerType     uint16
	MaxIndicesPerType        uint16
	MaxKeysPerIdentity       uint16
	MaxKeysAddedPerUpdate    uint16
	MaxDocumentSize          uint32
	MaxStringLength          uint32
	MinTransferAmount        uint64
	MinWithdrawalAmount      uint64
	MinIdentityFundingAmount uint64
	UpgradeThresholdPercent  uint64
}

// Tuning holds knobs that do not influence consensus. They are the only
// fields a runtime patch may change.
type Tuning struct {
	DefaultQueryLimit uint32
	MaxQueryLimit     uint32
	ContractCacheSize int
}

// StorageFees are per-byte storage and load costs.
type StorageFees struct {
	DiskUsageCreditPerByte      uint64
	ProcessingCreditPerByte     uint64
	LoadCreditPerByte           uint64
	NonStorageLoadCreditPerByte uint64
	SeekCost                    uint64
}

// SignatureFees are per-verification costs by key type.
type SignatureFees struct {
	VerifyECDSASecp256k1    uint64
	VerifyBLS12381          uint64
	VerifyECDSAHash160      uint64
	VerifyEdDSA25519Hash160 uint64
}

// HashingFees are costs of hashing, priced per 64 byte block.
type HashingFees struct {
	SingleSHA256Base uint64
	SHA256PerBlock   uint64
}

// ProcessingFees are flat costs of non-storage work.
type ProcessingFees struct {
	StructureCheck      uint64
	PerTransitionBase   uint64
	FetchIdentityKeys   uint64
	FetchIdentityNonce  uint64
	FetchIdentityBal    uint64
	FetchContract       uint64
	ValidateKey         uint64
	DocumentTransition  uint64
	ValidateIndexLookup uint64
}

// FeeVersion is the cost table a protocol version prices operations with.
type FeeVersion struct {
	Version    FeatureVersion
	Storage    StorageFees
	Signature  SignatureFees
	Hashing    HashingFees
	Processing ProcessingFees
}

// PlatformVersion is the immutable table of every versionable rule of one
// protocol version.
type PlatformVersion struct {
	Protocol    ProtocolVersion
	Methods     map[Method]FeatureVersion
	Transitions map[string]Bounds
	Limits      Limits
	Fee         FeeVersion
	Tuning      Tuning
}

// MethodVersion returns the feature version of [m] in this table.
func (pv *PlatformVersion) MethodVersion(m Method) (FeatureVersion, error) {
	fv, ok := pv.Methods[m]
	if !ok {
		return 0, &MissingMethodError{Method: m, Version: pv.Protocol}
	}
	return fv, nil
}

// TransitionBounds returns the accepted wire versions for [kind].
func (pv *PlatformVersion) TransitionBounds(kind string) (Bounds, error) {
	b, ok := pv.Transitions[kind]
	if !ok {
		return Bounds{}, &MissingMethodError{
			Method:  Method{Subsystem: DPP, Name: "transition." + kind},
			Version: pv.Protocol,
		}
	}
	return b, nil
}

func (pv *PlatformVersion) clone() *PlatformVersion {
	c := *pv
	c.Methods = make(map[Method]FeatureVersion, len(pv.Methods))
	for m, fv := range pv.Methods {
		c.Methods[m] = fv
	}
	c.Transitions = make(map[string]Bounds, len(pv.Transitions))
	for k, b := range pv.Transitions {
		c.Transitions[k] = b
	}
	return &c
}
