// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/ava-labs/avalanchego/ids"
)

var errNotAnObject = errors.New("document data is not a JSON object")

// Document is an instance of a document type.
type Document struct {
	ID         ids.ID `serialize:"true" json:"$id"`
	ContractID ids.ID `serialize:"true" json:"$dataContractId"`
	Type       string `serialize:"true" json:"$type"`
	OwnerID    ids.ID `serialize:"true" json:"$ownerId"`
	Revision   uint64 `serialize:"true" json:"$revision"`
	CreatedAt  uint64 `serialize:"true" json:"$createdAt"`
	UpdatedAt  uint64 `serialize:"true" json:"$updatedAt"`
	// Data is the JSON object of user properties.
	Data []byte `serialize:"true" json:"data"`
}

// Fields decodes the user properties of the document.
func (d *Document) Fields() (map[string]interface{}, error) {
	return ParseDocumentData(d.Data)
}

// ParseDocumentData decodes a JSON object keeping numbers exact.
func ParseDocumentData(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotAnObject
	}
	if dec.More() {
		return nil, errors.New("trailing data after document object")
	}
	return fields, nil
}

// SchemaValidator validates document data against its document type.
type SchemaValidator interface {
	ValidateDocument(dt *DocumentType, data []byte) []ConsensusError
}

// DefaultSchemaValidator checks property types, lengths, patterns, required
// properties and rejects undeclared properties.
type DefaultSchemaValidator struct {
	MaxDocumentSize uint32
}

func (v DefaultSchemaValidator) ValidateDocument(dt *DocumentType, data []byte) []ConsensusError {
	if v.MaxDocumentSize != 0 && len(data) > int(v.MaxDocumentSize) {
		return []ConsensusError{&DocumentSchemaError{
			DocumentType: dt.Name,
			Reason:       fmt.Sprintf("document of %d bytes exceeds %d", len(data), v.MaxDocumentSize),
		}}
	}
	fields, err := ParseDocumentData(data)
	if err != nil {
		return []ConsensusError{&DocumentSchemaError{DocumentType: dt.Name, Reason: err.Error()}}
	}

	var errs []ConsensusError
	for _, r := range dt.Required {
		if _, ok := fields[r]; !ok {
			errs = append(errs, &DocumentSchemaError{DocumentType: dt.Name, Property: r, Reason: "required property is missing"})
		}
	}
	for _, name := range sortedKeys(fields) {
		p, ok := dt.Property(name)
		if !ok {
			errs = append(errs, &DocumentSchemaError{DocumentType: dt.Name, Property: name, Reason: "property is not declared"})
			continue
		}
		if reason := checkProperty(p, fields[name]); reason != "" {
			errs = append(errs, &DocumentSchemaError{DocumentType: dt.Name, Property: name, Reason: reason})
		}
	}
	return errs
}

func checkProperty(p *Property, value interface{}) string {
	switch p.Type {
	case StringProperty:
		s, ok := value.(string)
		if !ok {
			return "expected a string"
		}
		if p.MaxLength != 0 && utf8.RuneCountInString(s) > int(p.MaxLength) {
			return fmt.Sprintf("longer than %d characters", p.MaxLength)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil || !re.MatchString(s) {
				return "does not match pattern"
			}
		}
	case IntegerProperty:
		n, ok := value.(json.Number)
		if !ok {
			return "expected an integer"
		}
		if _, err := n.Int64(); err != nil {
			return "expected an integer"
		}
	case NumberProperty:
		n, ok := value.(json.Number)
		if !ok {
			return "expected a number"
		}
		if _, err := n.Float64(); err != nil {
			return "expected a number"
		}
	case BooleanProperty:
		if _, ok := value.(bool); !ok {
			return "expected a boolean"
		}
	default:
		return "unknown property type"
	}
	return ""
}

// IndexValues encodes the values of [idx] for [fields]. It reports false when
// any indexed property is absent, in which case the index does not constrain
// the document.
func IndexValues(dt *DocumentType, idx *Index, fields map[string]interface{}) ([][]byte, bool) {
	values := make([][]byte, 0, len(idx.Properties))
	for _, name := range idx.Properties {
		v, ok := fields[name]
		if !ok {
			return nil, false
		}
		p, ok := dt.Property(name)
		if !ok {
			return nil, false
		}
		encoded, ok := encodeIndexValue(p, v)
		if !ok {
			return nil, false
		}
		values = append(values, encoded)
	}
	return values, true
}

// encodeIndexValue produces an order preserving encoding of [v].
func encodeIndexValue(p *Property, v interface{}) ([]byte, bool) {
	switch p.Type {
	case StringProperty:
		s, ok := v.(string)
		return []byte(s), ok
	case IntegerProperty:
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		i, err := n.Int64()
		if err != nil {
			return nil, false
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(i)^(1<<63))
		return b, true
	case NumberProperty:
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		bits := math.Float64bits(f)
		if f >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, bits)
		return b, true
	case BooleanProperty:
		bv, ok := v.(bool)
		if !ok {
			return nil, false
		}
		if bv {
			return []byte{1}, true
		}
		return []byte{0}, true
	default:
		return nil, false
	}
}
