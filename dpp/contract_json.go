// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"encoding/json"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/version"
)

// ContractJSONFunc renders a contract as JSON.
type ContractJSONFunc func(c *DataContract) ([]byte, error)

// ContractSerializers is the dispatch table of contract JSON renderings.
var ContractSerializers = version.NewDispatcher[ContractJSONFunc]("dpp.contract.json")

func init() {
	ContractSerializers.Register(version.ContractToJSON, 0, contractToJSONV0)
	ContractSerializers.Register(version.ContractToJSON, 1, contractToJSONV1)
}

// ContractToJSON renders [c] the way protocol version [pv] does.
func ContractToJSON(pv *version.PlatformVersion, c *DataContract) ([]byte, error) {
	fn, err := ContractSerializers.Lookup(pv, version.ContractToJSON)
	if err != nil {
		return nil, err
	}
	return fn(c)
}

type propertyJSON struct {
	Type      string `json:"type"`
	MaxLength uint32 `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

type indexJSON struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
	Unique     bool     `json:"unique,omitempty"`
	Contested  bool     `json:"contested,omitempty"`
}

type documentSchemaJSON struct {
	Type                 string                  `json:"type"`
	Properties           map[string]propertyJSON `json:"properties"`
	Required             []string                `json:"required,omitempty"`
	Indices              []indexJSON             `json:"indices,omitempty"`
	AdditionalProperties bool                    `json:"additionalProperties"`
	Mutable              bool                    `json:"documentsMutable"`
	CanBeDeleted         bool                    `json:"canBeDeleted"`
	SecurityLevel        SecurityLevel           `json:"signatureSecurityLevelRequirement"`
	ControlGroup         *uint16                 `json:"controlGroup,omitempty"`
}

type contractJSONV0 struct {
	ID              ids.ID                        `json:"id"`
	OwnerID         ids.ID                        `json:"ownerId"`
	Version         uint32                        `json:"version"`
	DocumentSchemas map[string]documentSchemaJSON `json:"documentSchemas"`
	Groups          []Group                       `json:"groups,omitempty"`
}

type contractJSONV1 struct {
	contractJSONV0
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
}

func newContractJSONV0(c *DataContract) contractJSONV0 {
	out := contractJSONV0{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		Version:         c.Version,
		DocumentSchemas: make(map[string]documentSchemaJSON, len(c.DocumentTypes)),
		Groups:          c.Groups,
	}
	for _, dt := range c.DocumentTypes {
		schema := documentSchemaJSON{
			Type:          "object",
			Properties:    make(map[string]propertyJSON, len(dt.Properties)),
			Required:      dt.Required,
			Mutable:       dt.Mutable,
			CanBeDeleted:  dt.CanBeDeleted,
			SecurityLevel: dt.SecurityLevel,
		}
		for _, p := range dt.Properties {
			schema.Properties[p.Name] = propertyJSON{
				Type:      p.Type,
				MaxLength: p.MaxLength,
				Pattern:   p.Pattern,
			}
		}
		for _, idx := range dt.Indices {
			schema.Indices = append(schema.Indices, indexJSON{
				Name:       idx.Name,
				Properties: idx.Properties,
				Unique:     idx.Unique,
				Contested:  idx.Contested,
			})
		}
		if dt.GroupControlled {
			group := dt.ControlGroup
			schema.ControlGroup = &group
		}
		out.DocumentSchemas[dt.Name] = schema
	}
	return out
}

func contractToJSONV0(c *DataContract) ([]byte, error) {
	return json.Marshal(newContractJSONV0(c))
}

func contractToJSONV1(c *DataContract) ([]byte, error) {
	return json.Marshal(contractJSONV1{
		contractJSONV0: newContractJSONV0(c),
		Keywords:       c.Keywords,
		Description:    c.Description,
	})
}
