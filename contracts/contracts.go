// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contracts defines the system data contracts installed at genesis.
package contracts

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/drivevm/dpp"
)

// Document types of the system contracts.
const (
	WithdrawalType   = "withdrawal"
	DomainType       = "domain"
	FeatureFlagsType = "updateConsensusParams"

	// TopLevelDomain is the only parent domain names are registered under.
	TopLevelDomain = "dash"
)

// Withdrawal statuses.
const (
	WithdrawalQueued uint64 = iota
	WithdrawalPooled
	WithdrawalBroadcasted
	WithdrawalComplete
)

var (
	WithdrawalsID  = systemID("withdrawals")
	DPNSID         = systemID("dpns")
	FeatureFlagsID = systemID("feature_flags")
)

func systemID(name string) ids.ID {
	return hashing.ComputeHash256Array([]byte("system_contract/" + name))
}

// IsSystem reports whether [id] is a system contract. System contracts
// cannot be updated by transitions.
func IsSystem(id ids.ID) bool {
	return id == WithdrawalsID || id == DPNSID || id == FeatureFlagsID
}

// Withdrawals holds the queued credit withdrawals. Only the platform writes
// to it.
func Withdrawals() *dpp.DataContract {
	return &dpp.DataContract{
		ID:      WithdrawalsID,
		Version: 1,
		DocumentTypes: []dpp.DocumentType{{
			Name: WithdrawalType,
			Properties: []dpp.Property{
				{Name: "index", Type: dpp.IntegerProperty},
				{Name: "amount", Type: dpp.IntegerProperty},
				{Name: "coreFeePerByte", Type: dpp.IntegerProperty},
				{Name: "outputScript", Type: dpp.StringProperty, MaxLength: 50, Pattern: "^[0-9a-f]*$"},
				{Name: "status", Type: dpp.IntegerProperty},
			},
			Required: []string{"index", "amount", "coreFeePerByte", "outputScript", "status"},
			Indices: []dpp.Index{
				{Name: "byIndex", Properties: []string{"index"}, Unique: true},
			},
			SecurityLevel: dpp.High,
		}},
	}
}

// DPNS is the name service. Names under the top level domain are contested.
func DPNS() *dpp.DataContract {
	return &dpp.DataContract{
		ID:      DPNSID,
		Version: 1,
		DocumentTypes: []dpp.DocumentType{{
			Name: DomainType,
			Properties: []dpp.Property{
				{Name: "label", Type: dpp.StringProperty, MaxLength: 63, Pattern: "^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]$"},
				{Name: "normalizedLabel", Type: dpp.StringProperty, MaxLength: 63, Pattern: "^[a-z0-9][a-z0-9-]{0,61}[a-z0-9]$"},
				{Name: "parentDomainName", Type: dpp.StringProperty, MaxLength: 63},
			},
			Required: []string{"label", "normalizedLabel", "parentDomainName"},
			Indices: []dpp.Index{{
				Name:       "parentNameAndLabel",
				Properties: []string{"parentDomainName", "normalizedLabel"},
				Unique:     true,
				Contested:  true,
			}},
			CanBeDeleted:  false,
			SecurityLevel: dpp.High,
		}},
	}
}

// FeatureFlags carries consensus parameter updates published by [owner].
func FeatureFlags(owner ids.ID) *dpp.DataContract {
	return &dpp.DataContract{
		ID:      FeatureFlagsID,
		OwnerID: owner,
		Version: 1,
		DocumentTypes: []dpp.DocumentType{{
			Name: FeatureFlagsType,
			Properties: []dpp.Property{
				{Name: "enableAtHeight", Type: dpp.IntegerProperty},
				{Name: "maxTransitionSize", Type: dpp.IntegerProperty},
			},
			Required: []string{"enableAtHeight"},
			Indices: []dpp.Index{
				{Name: "byEnableAtHeight", Properties: []string{"enableAtHeight"}, Unique: true},
			},
			Mutable:       true,
			CanBeDeleted:  true,
			SecurityLevel: dpp.Critical,
		}},
	}
}

// Genesis returns every system contract.
func Genesis(featureFlagsOwner ids.ID) []*dpp.DataContract {
	return []*dpp.DataContract{Withdrawals(), DPNS(), FeatureFlags(featureFlagsOwner)}
}
