// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/version"
)

// Output scripts are P2PKH (25 bytes) or P2SH (23 bytes).
const (
	p2pkhScriptSize = 25
	p2shScriptSize  = 23
)

func init() {
	Structures.Register(version.StructureMethod(version.KindDataContractCreate), 0, structureContractCreate)
	Structures.Register(version.StructureMethod(version.KindDataContractUpdate), 0, structureContractUpdate)
	Structures.Register(version.StructureMethod(version.KindDocumentsBatch), 0, structureDocumentsBatch)
	Structures.Register(version.StructureMethod(version.KindIdentityCreate), 0, structureIdentityCreate)
	Structures.Register(version.StructureMethod(version.KindIdentityTopUp), 0, structureIdentityTopUp)
	Structures.Register(version.StructureMethod(version.KindIdentityUpdate), 0, structureIdentityUpdate)
	Structures.Register(version.StructureMethod(version.KindIdentityCreditWithdrawal), 0, structureWithdrawal)
	Structures.Register(version.StructureMethod(version.KindIdentityCreditTransfer), 0, structureTransferV0)
	Structures.Register(version.StructureMethod(version.KindIdentityCreditTransfer), 1, structureTransferV1)
	Structures.Register(version.StructureMethod(version.KindMasternodeVote), 0, structureVote)
}

func invalidField(field, format string, args ...interface{}) dpp.ConsensusError {
	return &dpp.InvalidFieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func structureContractCreate(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractCreate)
	if !ok {
		return nil, errUnexpectedTransition
	}
	errs, err := dpp.ValidateContract(ctx.Platform, &t.Contract)
	if err != nil || len(errs) > 0 {
		return errs, err
	}
	if expected := dpp.ContractID(t.Contract.OwnerID, t.IdentityNonce); t.Contract.ID != expected {
		return []dpp.ConsensusError{&dpp.InvalidIdentifierError{
			Field:    "dataContract.id",
			Expected: expected,
			Got:      t.Contract.ID,
		}}, nil
	}
	return nil, nil
}

func structureContractUpdate(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DataContractUpdate)
	if !ok {
		return nil, errUnexpectedTransition
	}
	return dpp.ValidateContract(ctx.Platform, &t.Contract)
}

func structureDocumentsBatch(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DocumentsBatch)
	if !ok {
		return nil, errUnexpectedTransition
	}
	limits := &ctx.Platform.Limits
	if n := len(t.Transitions); n == 0 || n > int(limits.MaxDocumentsPerBatch) {
		return []dpp.ConsensusError{invalidField("transitions", "batch has %d transitions, must be 1 to %d", n, limits.MaxDocumentsPerBatch)}, nil
	}

	var errs []dpp.ConsensusError
	seen := make(map[ids.ID]struct{}, len(t.Transitions))
	for i, dt := range t.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		if _, dup := seen[dt.DocumentID]; dup {
			errs = append(errs, &dpp.DuplicateItemError{Field: "transitions", Item: dt.DocumentID.String()})
			continue
		}
		seen[dt.DocumentID] = struct{}{}

		if len(dt.Data) > int(limits.MaxDocumentSize) {
			errs = append(errs, invalidField(field+".data", "%d bytes exceeds %d", len(dt.Data), limits.MaxDocumentSize))
		}
		switch dt.Action {
		case dpp.CreateDocument:
			if dt.Revision != 1 {
				errs = append(errs, invalidField(field+".$revision", "created documents start at revision 1, got %d", dt.Revision))
			}
		case dpp.ReplaceDocument:
			if dt.Revision < 2 {
				errs = append(errs, invalidField(field+".$revision", "replaced documents must have a revision above 1, got %d", dt.Revision))
			}
		case dpp.DeleteDocument:
			if len(dt.Data) != 0 {
				errs = append(errs, invalidField(field+".data", "delete carries no data"))
			}
		default:
			errs = append(errs, invalidField(field+".$action", "unknown action %d", dt.Action))
		}
	}
	return errs, nil
}

// validateNewKeys checks keys an identity is created with or gains.
func validateNewKeys(field string, keys []dpp.IdentityPublicKey) []dpp.ConsensusError {
	var errs []dpp.ConsensusError
	seenIDs := make(map[uint32]struct{}, len(keys))
	seenData := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		keyField := fmt.Sprintf("%s[%d]", field, i)
		if _, dup := seenIDs[k.ID]; dup {
			errs = append(errs, &dpp.DuplicateItemError{Field: field + ".id", Item: fmt.Sprint(k.ID)})
		}
		seenIDs[k.ID] = struct{}{}
		if _, dup := seenData[string(k.Data)]; dup {
			errs = append(errs, &dpp.DuplicateItemError{Field: field + ".data", Item: fmt.Sprintf("%x", k.Data)})
		}
		seenData[string(k.Data)] = struct{}{}

		if !k.Type.Valid() {
			errs = append(errs, invalidField(keyField+".type", "unknown key type %d", k.Type))
			continue
		}
		if len(k.Data) != k.Type.DataSize() {
			errs = append(errs, invalidField(keyField+".data", "%s keys are %d bytes, got %d", k.Type, k.Type.DataSize(), len(k.Data)))
		}
		if k.Purpose > dpp.Owner {
			errs = append(errs, invalidField(keyField+".purpose", "unknown purpose %d", k.Purpose))
		}
		if k.SecurityLevel > dpp.Medium {
			errs = append(errs, invalidField(keyField+".securityLevel", "unknown security level %d", k.SecurityLevel))
		}
		if k.Disabled() {
			errs = append(errs, invalidField(keyField+".disabledAt", "new keys must be enabled"))
		}
	}
	return errs
}

func structureIdentityCreate(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreate)
	if !ok {
		return nil, errUnexpectedTransition
	}
	max := ctx.Platform.Limits.MaxKeysPerIdentity
	if n := len(t.PublicKeys); n == 0 || n > int(max) {
		return []dpp.ConsensusError{invalidField("publicKeys", "identity has %d keys, must be 1 to %d", n, max)}, nil
	}
	errs := validateNewKeys("publicKeys", t.PublicKeys)
	identity := dpp.Identity{PublicKeys: t.PublicKeys}
	if !identity.HasEnabledMasterKey() {
		errs = append(errs, &dpp.MissingMasterKeyError{})
	}
	return errs, nil
}

func structureIdentityTopUp(_ *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityTopUp)
	if !ok {
		return nil, errUnexpectedTransition
	}
	if t.IdentityID == ids.Empty {
		return []dpp.ConsensusError{invalidField("identityId", "must be set")}, nil
	}
	return nil, nil
}

func structureIdentityUpdate(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityUpdate)
	if !ok {
		return nil, errUnexpectedTransition
	}
	max := ctx.Platform.Limits.MaxKeysAddedPerUpdate
	if len(t.AddPublicKeys) == 0 && len(t.DisablePublicKeys) == 0 {
		return []dpp.ConsensusError{invalidField("addPublicKeys", "update neither adds nor disables keys")}, nil
	}
	if n := len(t.AddPublicKeys); n > int(max) {
		return []dpp.ConsensusError{invalidField("addPublicKeys", "%d keys exceeds %d", n, max)}, nil
	}
	errs := validateNewKeys("addPublicKeys", t.AddPublicKeys)
	seen := make(map[uint32]struct{}, len(t.DisablePublicKeys))
	for _, id := range t.DisablePublicKeys {
		if _, dup := seen[id]; dup {
			errs = append(errs, &dpp.DuplicateItemError{Field: "disablePublicKeys", Item: fmt.Sprint(id)})
		}
		seen[id] = struct{}{}
	}
	for _, k := range t.AddPublicKeys {
		if _, both := seen[k.ID]; both {
			errs = append(errs, &dpp.DuplicateItemError{Field: "addPublicKeys", Item: fmt.Sprint(k.ID)})
		}
	}
	return errs, nil
}

func structureWithdrawal(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditWithdrawal)
	if !ok {
		return nil, errUnexpectedTransition
	}
	var errs []dpp.ConsensusError
	if min := ctx.Platform.Limits.MinWithdrawalAmount; t.Amount < min {
		errs = append(errs, invalidField("amount", "%d is below the minimum of %d", t.Amount, min))
	}
	if t.CoreFeePerByte == 0 {
		errs = append(errs, invalidField("coreFeePerByte", "must be positive"))
	}
	if n := len(t.OutputScript); n != p2pkhScriptSize && n != p2shScriptSize {
		errs = append(errs, invalidField("outputScript", "script of %d bytes is neither P2PKH nor P2SH", n))
	}
	return errs, nil
}

func structureTransferV0(_ *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.IdentityCreditTransfer)
	if !ok {
		return nil, errUnexpectedTransition
	}
	var errs []dpp.ConsensusError
	if t.Amount == 0 {
		errs = append(errs, invalidField("amount", "must be positive"))
	}
	if t.RecipientID == t.IdentityID {
		errs = append(errs, invalidField("recipientId", "identity cannot transfer to itself"))
	}
	return errs, nil
}

// structureTransferV1 also enforces the minimum transfer amount.
func structureTransferV1(ctx *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	errs, err := structureTransferV0(ctx, st)
	if err != nil || len(errs) > 0 {
		return errs, err
	}
	t := st.Unsigned.(*dpp.IdentityCreditTransfer)
	if min := ctx.Platform.Limits.MinTransferAmount; t.Amount < min {
		errs = append(errs, invalidField("amount", "%d is below the minimum of %d", t.Amount, min))
	}
	return errs, nil
}

func structureVote(_ *Context, st *dpp.StateTransition) ([]dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.MasternodeVote)
	if !ok {
		return nil, errUnexpectedTransition
	}
	var errs []dpp.ConsensusError
	switch t.Choice {
	case dpp.TowardsIdentity:
		if t.TowardsIdentity == ids.Empty {
			errs = append(errs, invalidField("towardsIdentity", "must be set when voting towards an identity"))
		}
	case dpp.Abstain, dpp.Lock:
		if t.TowardsIdentity != ids.Empty {
			errs = append(errs, invalidField("towardsIdentity", "only set when voting towards an identity"))
		}
	default:
		errs = append(errs, invalidField("choice", "unknown vote choice %d", t.Choice))
	}
	if len(t.IndexValues) == 0 {
		errs = append(errs, invalidField("indexValues", "must not be empty"))
	}
	return errs, nil
}
