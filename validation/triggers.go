// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"strings"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/dpp"
)

// TriggerInput is a document transition that passed its own checks.
type TriggerInput struct {
	Contract *dpp.DataContract
	Action   dpp.DocumentAction
	// Document is the new document, or the stored one for deletes.
	Document *dpp.Document
	Signer   ids.ID
}

func (in *TriggerInput) reject(message string) dpp.ConsensusError {
	return &dpp.DataTriggerError{
		ContractID:   in.Contract.ID,
		DocumentType: in.Document.Type,
		DocumentID:   in.Document.ID,
		Message:      message,
	}
}

// TriggerFunc is contract specific validation of one document transition.
type TriggerFunc func(ctx *Context, in *TriggerInput) ([]dpp.ConsensusError, error)

type triggerKey struct {
	contract     ids.ID
	documentType string
	action       dpp.DocumentAction
}

// Triggers maps document transitions to the triggers that check them.
type Triggers struct {
	triggers map[triggerKey][]TriggerFunc
}

func NewTriggers() *Triggers {
	return &Triggers{triggers: make(map[triggerKey][]TriggerFunc)}
}

// Register adds [fn] for [action] on [documentType] of [contract].
func (t *Triggers) Register(contract ids.ID, documentType string, action dpp.DocumentAction, fn TriggerFunc) {
	k := triggerKey{contract: contract, documentType: documentType, action: action}
	t.triggers[k] = append(t.triggers[k], fn)
}

// Run executes every trigger registered for [in].
func (t *Triggers) Run(ctx *Context, in *TriggerInput) ([]dpp.ConsensusError, error) {
	if t == nil {
		return nil, nil
	}
	var errs []dpp.ConsensusError
	for _, fn := range t.triggers[triggerKey{contract: in.Contract.ID, documentType: in.Document.Type, action: in.Action}] {
		terrs, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		errs = append(errs, terrs...)
	}
	return errs, nil
}

// SystemTriggers guards the system contracts.
func SystemTriggers() *Triggers {
	t := NewTriggers()
	t.Register(contracts.DPNSID, contracts.DomainType, dpp.CreateDocument, domainCreate)
	for _, a := range []dpp.DocumentAction{dpp.CreateDocument, dpp.ReplaceDocument, dpp.DeleteDocument} {
		t.Register(contracts.WithdrawalsID, contracts.WithdrawalType, a, rejectAll)
		t.Register(contracts.FeatureFlagsID, contracts.FeatureFlagsType, a, ownerOnly)
	}
	return t
}

// NormalizeLabel lowercases [label] and folds the characters that are easily
// confused with digits.
func NormalizeLabel(label string) string {
	return homographs.Replace(strings.ToLower(label))
}

var homographs = strings.NewReplacer("o", "0", "i", "1", "l", "1")

func domainCreate(_ *Context, in *TriggerInput) ([]dpp.ConsensusError, error) {
	fields, err := in.Document.Fields()
	if err != nil {
		return nil, err
	}
	label, _ := fields["label"].(string)
	normalized, _ := fields["normalizedLabel"].(string)
	parent, _ := fields["parentDomainName"].(string)

	var errs []dpp.ConsensusError
	if normalized != NormalizeLabel(label) {
		errs = append(errs, in.reject("normalizedLabel must be the normalized form of label"))
	}
	if parent != contracts.TopLevelDomain {
		errs = append(errs, in.reject("names can only be registered under "+contracts.TopLevelDomain))
	}
	return errs, nil
}

func rejectAll(_ *Context, in *TriggerInput) ([]dpp.ConsensusError, error) {
	return []dpp.ConsensusError{in.reject(in.Action.String() + " is reserved to the platform")}, nil
}

func ownerOnly(_ *Context, in *TriggerInput) ([]dpp.ConsensusError, error) {
	if in.Signer != in.Contract.OwnerID {
		return []dpp.ConsensusError{in.reject("only the contract owner may publish feature flags")}, nil
	}
	return nil, nil
}
