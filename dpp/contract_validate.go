// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"fmt"
	"regexp"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/version"
)

const (
	maxNameLength        = 64
	maxKeywords          = 20
	minKeywordLength     = 3
	maxKeywordLength     = 50
	maxDescriptionLength = 100
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ContractFormatFunc checks the structure of a contract against [limits].
type ContractFormatFunc func(c *DataContract, limits *version.Limits) []ConsensusError

// ContractValidators is the dispatch table of contract structure rules.
var ContractValidators = version.NewDispatcher[ContractFormatFunc]("dpp.contract.validate")

func init() {
	ContractValidators.Register(version.ContractValidateFormat, 0, validateContractV0)
	ContractValidators.Register(version.ContractValidateFormat, 1, validateContractV1)
}

// ValidateContract checks the structure of [c] with the rules of [pv].
func ValidateContract(pv *version.PlatformVersion, c *DataContract) ([]ConsensusError, error) {
	fn, err := ContractValidators.Lookup(pv, version.ContractValidateFormat)
	if err != nil {
		return nil, err
	}
	return fn(c, &pv.Limits), nil
}

func validateContractV0(c *DataContract, limits *version.Limits) []ConsensusError {
	errs := validateContractBase(c, limits)
	if len(c.Keywords) != 0 {
		errs = append(errs, &InvalidFieldError{Field: "keywords", Reason: "not supported by this protocol version"})
	}
	if c.Description != "" {
		errs = append(errs, &InvalidFieldError{Field: "description", Reason: "not supported by this protocol version"})
	}
	return errs
}

func validateContractV1(c *DataContract, limits *version.Limits) []ConsensusError {
	errs := validateContractBase(c, limits)
	if len(c.Keywords) > maxKeywords {
		errs = append(errs, &InvalidFieldError{Field: "keywords", Reason: fmt.Sprintf("more than %d keywords", maxKeywords)})
	}
	seen := make(map[string]struct{}, len(c.Keywords))
	for _, kw := range c.Keywords {
		if len(kw) < minKeywordLength || len(kw) > maxKeywordLength {
			errs = append(errs, &InvalidFieldError{Field: "keywords", Reason: fmt.Sprintf("keyword %q length out of range", kw)})
		}
		if _, dup := seen[kw]; dup {
			errs = append(errs, &DuplicateItemError{Field: "keyword", Item: kw})
		}
		seen[kw] = struct{}{}
	}
	if len(c.Description) > maxDescriptionLength {
		errs = append(errs, &InvalidFieldError{Field: "description", Reason: fmt.Sprintf("longer than %d bytes", maxDescriptionLength)})
	}
	return errs
}

func validateContractBase(c *DataContract, limits *version.Limits) []ConsensusError {
	var errs []ConsensusError
	if c.Version == 0 {
		errs = append(errs, &InvalidFieldError{Field: "version", Reason: "must be positive"})
	}
	if len(c.DocumentTypes) == 0 {
		errs = append(errs, &InvalidFieldError{Field: "documentTypes", Reason: "at least one document type is required"})
	}
	if len(c.DocumentTypes) > int(limits.MaxDocumentTypes) {
		errs = append(errs, &InvalidFieldError{Field: "documentTypes", Reason: fmt.Sprintf("more than %d document types", limits.MaxDocumentTypes)})
	}

	groups := make(map[uint16]struct{}, len(c.Groups))
	for i := range c.Groups {
		g := &c.Groups[i]
		if _, dup := groups[g.Position]; dup {
			errs = append(errs, &DuplicateItemError{Field: "group", Item: fmt.Sprint(g.Position)})
		}
		groups[g.Position] = struct{}{}
		errs = append(errs, validateGroup(g)...)
	}

	typeNames := make(map[string]struct{}, len(c.DocumentTypes))
	for i := range c.DocumentTypes {
		dt := &c.DocumentTypes[i]
		if _, dup := typeNames[dt.Name]; dup {
			errs = append(errs, &DuplicateItemError{Field: "document type", Item: dt.Name})
		}
		typeNames[dt.Name] = struct{}{}
		errs = append(errs, validateDocumentType(dt, limits)...)
		if dt.GroupControlled {
			if _, ok := groups[dt.ControlGroup]; !ok {
				errs = append(errs, &InvalidFieldError{
					Field:  dt.Name + ".controlGroup",
					Reason: fmt.Sprintf("group %d is not defined", dt.ControlGroup),
				})
			}
		}
	}
	return errs
}

func validateName(field, name string) ConsensusError {
	if len(name) == 0 || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return &InvalidFieldError{Field: field, Reason: fmt.Sprintf("invalid name %q", name)}
	}
	return nil
}

func validateDocumentType(dt *DocumentType, limits *version.Limits) []ConsensusError {
	var errs []ConsensusError
	if err := validateName("documentType", dt.Name); err != nil {
		errs = append(errs, err)
	}
	if len(dt.Properties) == 0 || len(dt.Properties) > int(limits.MaxPropertiesPerType) {
		errs = append(errs, &InvalidFieldError{
			Field:  dt.Name + ".properties",
			Reason: fmt.Sprintf("must declare 1 to %d properties", limits.MaxPropertiesPerType),
		})
	}
	if dt.SecurityLevel == Master || dt.SecurityLevel > Medium {
		errs = append(errs, &InvalidFieldError{Field: dt.Name + ".securityLevel", Reason: dt.SecurityLevel.String() + " is not allowed"})
	}

	props := make(map[string]struct{}, len(dt.Properties))
	for _, p := range dt.Properties {
		if err := validateName(dt.Name+".property", p.Name); err != nil {
			errs = append(errs, err)
		}
		if _, dup := props[p.Name]; dup {
			errs = append(errs, &DuplicateItemError{Field: dt.Name + " property", Item: p.Name})
		}
		props[p.Name] = struct{}{}
		switch p.Type {
		case StringProperty:
			if p.MaxLength > limits.MaxStringLength {
				errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + p.Name, Reason: "maxLength exceeds the string limit"})
			}
			if p.Pattern != "" {
				if _, err := regexp.Compile(p.Pattern); err != nil {
					errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + p.Name, Reason: "invalid pattern"})
				}
			}
		case IntegerProperty, BooleanProperty, NumberProperty:
		default:
			errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + p.Name, Reason: fmt.Sprintf("unknown type %q", p.Type)})
		}
	}
	for _, r := range dt.Required {
		if _, ok := props[r]; !ok {
			errs = append(errs, &InvalidFieldError{Field: dt.Name + ".required", Reason: fmt.Sprintf("unknown property %q", r)})
		}
	}

	if len(dt.Indices) > int(limits.MaxIndicesPerType) {
		errs = append(errs, &InvalidFieldError{Field: dt.Name + ".indices", Reason: fmt.Sprintf("more than %d indices", limits.MaxIndicesPerType)})
	}
	indexNames := make(map[string]struct{}, len(dt.Indices))
	var contested, unique int
	for _, idx := range dt.Indices {
		if err := validateName(dt.Name+".index", idx.Name); err != nil {
			errs = append(errs, err)
		}
		if _, dup := indexNames[idx.Name]; dup {
			errs = append(errs, &DuplicateItemError{Field: dt.Name + " index", Item: idx.Name})
		}
		indexNames[idx.Name] = struct{}{}
		if len(idx.Properties) == 0 {
			errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + idx.Name, Reason: "index has no properties"})
		}
		for _, p := range idx.Properties {
			if _, ok := props[p]; !ok {
				errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + idx.Name, Reason: fmt.Sprintf("unknown property %q", p)})
			}
		}
		if idx.Contested && !idx.Unique {
			errs = append(errs, &InvalidFieldError{Field: dt.Name + "." + idx.Name, Reason: "contested indices must be unique"})
		}
		if idx.Contested {
			contested++
		}
		if idx.Unique {
			unique++
		}
	}
	// a poll moves exactly one index entry to its winner
	if contested > 0 && (unique > 1 || dt.Mutable || dt.CanBeDeleted || dt.GroupControlled) {
		errs = append(errs, &InvalidFieldError{
			Field:  dt.Name + ".indices",
			Reason: "a contested index must be the only unique index of an immutable, permanent type",
		})
	}
	return errs
}

func validateGroup(g *Group) []ConsensusError {
	var (
		errs  []ConsensusError
		total uint64
	)
	if len(g.Members) == 0 {
		errs = append(errs, &InvalidFieldError{Field: fmt.Sprintf("group %d", g.Position), Reason: "group has no members"})
	}
	seen := make(map[ids.ID]struct{}, len(g.Members))
	for _, m := range g.Members {
		if _, dup := seen[m.IdentityID]; dup {
			errs = append(errs, &DuplicateItemError{Field: "group member", Item: m.IdentityID.String()})
		}
		seen[m.IdentityID] = struct{}{}
		if m.Power == 0 {
			errs = append(errs, &InvalidFieldError{Field: fmt.Sprintf("group %d", g.Position), Reason: "member power must be positive"})
		}
		total += uint64(m.Power)
	}
	if g.RequiredPower == 0 || uint64(g.RequiredPower) > total {
		errs = append(errs, &InvalidFieldError{
			Field:  fmt.Sprintf("group %d", g.Position),
			Reason: "required power must be positive and reachable",
		})
	}
	return errs
}
