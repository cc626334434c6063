// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dpp

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
	avacrypto "github.com/ava-labs/avalanchego/utils/crypto"

	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/version"
)

func noteContract(owner ids.ID) DataContract {
	return DataContract{
		ID:      ContractID(owner, 1),
		OwnerID: owner,
		Version: 1,
		DocumentTypes: []DocumentType{{
			Name: "note",
			Properties: []Property{
				{Name: "message", Type: StringProperty, MaxLength: 64},
				{Name: "priority", Type: IntegerProperty},
			},
			Required: []string{"message"},
			Indices: []Index{
				{Name: "byMessage", Properties: []string{"message"}, Unique: true},
			},
			Mutable:       true,
			CanBeDeleted:  true,
			SecurityLevel: High,
		}},
	}
}

func resolve(t *testing.T, v version.ProtocolVersion) *version.PlatformVersion {
	pv, err := version.NewRegistry().Resolve(v)
	require.NoError(t, err)
	return pv
}

func TestSignAndParseTransition(t *testing.T) {
	factory := avacrypto.FactorySECP256K1R{}
	sk, err := factory.NewPrivateKey()
	require.NoError(t, err)

	owner := ids.GenerateTestID()
	st := &StateTransition{Unsigned: &DocumentsBatch{
		BaseTransition:        BaseTransition{FeeIncrease: 5},
		Owner:                 owner,
		ContractID:            ids.GenerateTestID(),
		IdentityContractNonce: 6,
		Transitions: []DocumentTransition{{
			Action:       CreateDocument,
			DocumentType: "note",
			Revision:     1,
			Data:         []byte(`{"message":"hi"}`),
		}},
	}}
	require.NoError(t, st.Sign(2, sk.Sign))

	parsed, cerr := ParseTransition(st.Bytes())
	require.Nil(t, cerr)
	assert.Equal(t, st.ID(), parsed.ID())
	assert.Equal(t, uint32(2), parsed.SignaturePublicKeyID)
	assert.Equal(t, DocumentsBatchKind, parsed.Unsigned.Kind())
	assert.Equal(t, owner, parsed.Unsigned.OwnerID())
	assert.Equal(t, uint16(5), parsed.Unsigned.UserFeeIncrease())

	msg, err := parsed.SignableBytes()
	require.NoError(t, err)
	ok, err := crypto.NewVerifier().VerifySignature(parsed.Signature, msg, sk.PublicKey().Bytes(), crypto.ECDSASecp256k1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, cerr = ParseTransition(append(st.Bytes(), 0))
	var serr *SerializationError
	require.ErrorAs(t, cerr, &serr)
	assert.Equal(t, StructureClass, ClassOf(cerr))
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, version.KindDocumentsBatch, DocumentsBatchKind.String())
	assert.Equal(t, version.KindMasternodeVote, MasternodeVoteKind.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}

// A contract without the fields added later renders identically under
// every protocol version.
func TestContractJSONStableAcrossVersions(t *testing.T) {
	c := noteContract(ids.GenerateTestID())

	v1, err := ContractToJSON(resolve(t, 1), &c)
	require.NoError(t, err)
	v4, err := ContractToJSON(resolve(t, 4), &c)
	require.NoError(t, err)
	assert.Equal(t, v1, v4)

	c.Keywords = []string{"notes"}
	c.Description = "simple notes"
	v4, err = ContractToJSON(resolve(t, 4), &c)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v4)
	assert.True(t, bytes.HasPrefix(v4, v1[:len(v1)-1]))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(v4, &decoded))
	assert.Equal(t, "simple notes", decoded["description"])
}

func TestValidateContractVersions(t *testing.T) {
	c := noteContract(ids.GenerateTestID())
	errs, err := ValidateContract(resolve(t, 1), &c)
	require.NoError(t, err)
	assert.Empty(t, errs)

	c.Keywords = []string{"notes"}
	errs, err = ValidateContract(resolve(t, 3), &c)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.IsType(t, &InvalidFieldError{}, errs[0])

	errs, err = ValidateContract(resolve(t, 4), &c)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestValidateContractStructure(t *testing.T) {
	c := noteContract(ids.GenerateTestID())
	c.DocumentTypes[0].Indices = append(c.DocumentTypes[0].Indices, Index{
		Name:       "byMissing",
		Properties: []string{"missing"},
		Contested:  true,
	})
	c.DocumentTypes[0].SecurityLevel = Master
	c.DocumentTypes = append(c.DocumentTypes, c.DocumentTypes[0])
	c.Groups = []Group{{Position: 0, RequiredPower: 10, Members: []GroupMember{{IdentityID: ids.GenerateTestID(), Power: 5}}}}

	errs, err := ValidateContract(resolve(t, 1), &c)
	require.NoError(t, err)

	var fields, dups int
	for _, e := range errs {
		switch e.(type) {
		case *InvalidFieldError:
			fields++
		case *DuplicateItemError:
			dups++
		}
	}
	assert.Positive(t, fields)
	assert.Positive(t, dups)
}

func TestSchemaValidator(t *testing.T) {
	c := noteContract(ids.GenerateTestID())
	dt := &c.DocumentTypes[0]
	v := DefaultSchemaValidator{MaxDocumentSize: 256}

	assert.Empty(t, v.ValidateDocument(dt, []byte(`{"message":"hello","priority":3}`)))

	tests := []struct {
		name string
		data string
	}{
		{"missing required", `{"priority":3}`},
		{"wrong type", `{"message":5}`},
		{"not integer", `{"message":"a","priority":1.5}`},
		{"undeclared", `{"message":"a","extra":true}`},
		{"too long", `{"message":"` + string(bytes.Repeat([]byte("x"), 65)) + `"}`},
		{"not object", `[1,2]`},
		{"null", `null`},
		{"trailing", `{"message":"a"}{}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			errs := v.ValidateDocument(dt, []byte(test.data))
			require.NotEmpty(t, errs)
			assert.IsType(t, &DocumentSchemaError{}, errs[0])
		})
	}
}

func TestIndexValuesOrdering(t *testing.T) {
	dt := &DocumentType{
		Name:       "score",
		Properties: []Property{{Name: "n", Type: IntegerProperty}, {Name: "f", Type: NumberProperty}},
	}
	idxInt := &Index{Name: "n", Properties: []string{"n"}}
	idxNum := &Index{Name: "f", Properties: []string{"f"}}

	encode := func(idx *Index, data string) []byte {
		fields, err := ParseDocumentData([]byte(data))
		require.NoError(t, err)
		values, ok := IndexValues(dt, idx, fields)
		require.True(t, ok)
		return values[0]
	}
	assert.Equal(t, -1, bytes.Compare(encode(idxInt, `{"n":-5}`), encode(idxInt, `{"n":3}`)))
	assert.Equal(t, -1, bytes.Compare(encode(idxNum, `{"f":-2.5}`), encode(idxNum, `{"f":-1}`)))
	assert.Equal(t, -1, bytes.Compare(encode(idxNum, `{"f":-1}`), encode(idxNum, `{"f":0.5}`)))

	fields, err := ParseDocumentData([]byte(`{}`))
	require.NoError(t, err)
	_, ok := IndexValues(dt, idxInt, fields)
	assert.False(t, ok)
}

func TestIdentifiers(t *testing.T) {
	owner := ids.GenerateTestID()
	assert.NotEqual(t, ContractID(owner, 1), ContractID(owner, 2))

	var entropy [32]byte
	entropy[0] = 1
	c := ContractID(owner, 1)
	assert.Equal(t, DocumentID(c, owner, "note", entropy), DocumentID(c, owner, "note", entropy))
	assert.NotEqual(t, DocumentID(c, owner, "note", entropy), DocumentID(c, owner, "other", entropy))

	op := OutPoint{TxID: ids.GenerateTestID(), Index: 1}
	assert.Equal(t, IdentityIDFromOutPoint(op), (&IdentityCreate{AssetLock: op}).OwnerID())
	assert.Len(t, op.Bytes(), 36)
}

func TestIdentityKeys(t *testing.T) {
	i := Identity{PublicKeys: []IdentityPublicKey{
		{ID: 2, Purpose: Authentication, SecurityLevel: High},
		{ID: 0, Purpose: Authentication, SecurityLevel: Master},
	}}
	i.SortKeys()
	assert.Equal(t, uint32(0), i.PublicKeys[0].ID)
	assert.Equal(t, uint32(2), i.MaxKeyID())
	assert.True(t, i.HasEnabledMasterKey())

	k, ok := i.Key(0)
	require.True(t, ok)
	k.DisabledAt = 10
	assert.False(t, i.HasEnabledMasterKey())

	_, ok = i.Key(7)
	assert.False(t, ok)
}
