// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// Property types a document type may declare.
const (
	StringProperty  = "string"
	IntegerProperty = "integer"
	BooleanProperty = "boolean"
	NumberProperty  = "number"
)

// Property describes one field of a document type.
type Property struct {
	Name      string `serialize:"true" json:"name"`
	Type      string `serialize:"true" json:"type"`
	MaxLength uint32 `serialize:"true" json:"maxLength,omitempty"`
	Pattern   string `serialize:"true" json:"pattern,omitempty"`
}

// Index is an ordered list of properties documents are looked up by.
type Index struct {
	Name       string   `serialize:"true" json:"name"`
	Properties []string `serialize:"true" json:"properties"`
	Unique     bool     `serialize:"true" json:"unique"`
	// Contested unique indices are resolved by masternode votes.
	Contested bool `serialize:"true" json:"contested,omitempty"`
}

// DocumentType is the schema of one kind of document.
type DocumentType struct {
	Name         string     `serialize:"true" json:"name"`
	Properties   []Property `serialize:"true" json:"properties"`
	Required     []string   `serialize:"true" json:"required"`
	Indices      []Index    `serialize:"true" json:"indices"`
	Mutable      bool       `serialize:"true" json:"documentsMutable"`
	CanBeDeleted bool       `serialize:"true" json:"canBeDeleted"`
	// SecurityLevel is the weakest key level allowed to sign transitions
	// touching documents of this type.
	SecurityLevel SecurityLevel `serialize:"true" json:"signatureSecurityLevelRequirement"`
	// Documents of a group controlled type are only written once the members
	// of ControlGroup have approved with enough power.
	GroupControlled bool   `serialize:"true" json:"groupControlled,omitempty"`
	ControlGroup    uint16 `serialize:"true" json:"controlGroup,omitempty"`
}

// Property returns the property named [name].
func (d *DocumentType) Property(name string) (*Property, bool) {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			return &d.Properties[i], true
		}
	}
	return nil, false
}

// GroupMember is an identity with voting power in a group.
type GroupMember struct {
	IdentityID ids.ID `serialize:"true" json:"identityId"`
	Power      uint32 `serialize:"true" json:"power"`
}

// Group is a set of identities that jointly authorise actions.
type Group struct {
	Position      uint16        `serialize:"true" json:"position"`
	Members       []GroupMember `serialize:"true" json:"members"`
	RequiredPower uint32        `serialize:"true" json:"requiredPower"`
}

// Member returns the membership of [id].
func (g *Group) Member(id ids.ID) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.IdentityID == id {
			return m, true
		}
	}
	return GroupMember{}, false
}

// DataContract declares the document types applications store.
type DataContract struct {
	ID            ids.ID         `serialize:"true" json:"id"`
	OwnerID       ids.ID         `serialize:"true" json:"ownerId"`
	Version       uint32         `serialize:"true" json:"version"`
	DocumentTypes []DocumentType `serialize:"true" json:"documentTypes"`
	Groups        []Group        `serialize:"true" json:"groups"`
	Keywords      []string       `serialize:"true" json:"keywords"`
	Description   string         `serialize:"true" json:"description"`
}

// DocumentType returns the type named [name].
func (c *DataContract) DocumentType(name string) (*DocumentType, bool) {
	for i := range c.DocumentTypes {
		if c.DocumentTypes[i].Name == name {
			return &c.DocumentTypes[i], true
		}
	}
	return nil, false
}

// Group returns the group at [position].
func (c *DataContract) Group(position uint16) (*Group, bool) {
	for i := range c.Groups {
		if c.Groups[i].Position == position {
			return &c.Groups[i], true
		}
	}
	return nil, false
}

// ContractID derives the ID of a contract created by [owner] with
// [identityNonce].
func ContractID(owner ids.ID, identityNonce uint64) ids.ID {
	p := wrappers.Packer{Bytes: make([]byte, 0, 40), MaxSize: 40}
	p.PackFixedBytes(owner[:])
	p.PackLong(identityNonce)
	return hashing.ComputeHash256Array(p.Bytes)
}

// DocumentID derives the ID of a document created in [contractID] by [owner].
func DocumentID(contractID, owner ids.ID, documentType string, entropy [32]byte) ids.ID {
	p := wrappers.Packer{MaxSize: 32*3 + 2 + len(documentType)}
	p.PackFixedBytes(contractID[:])
	p.PackFixedBytes(owner[:])
	p.PackStr(documentType)
	p.PackFixedBytes(entropy[:])
	return hashing.ComputeHash256Array(p.Bytes)
}
