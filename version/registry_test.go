// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package version

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []ProtocolVersion{1, 2, 3, 4}, r.Versions())

	for _, v := range r.Versions() {
		pv, err := r.Resolve(v)
		require.NoError(t, err)
		assert.Equal(t, v, pv.Protocol)
	}

	_, err := r.Resolve(LatestVersion + 1)
	var unknown *UnknownVersionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, LatestVersion+1, unknown.Version)
	assert.True(t, IsFatal(err))
}

func TestVersionDifferences(t *testing.T) {
	r := NewRegistry()

	fv, err := r.MethodVersion(ContractToJSON, 3)
	require.NoError(t, err)
	assert.Equal(t, FeatureVersion(0), fv)
	fv, err = r.MethodVersion(ContractToJSON, 4)
	require.NoError(t, err)
	assert.Equal(t, FeatureVersion(1), fv)

	v1, _ := r.Resolve(1)
	v2, _ := r.Resolve(2)
	v3, _ := r.Resolve(3)
	assert.Less(t, v1.Limits.MaxDocumentsPerBatch, v2.Limits.MaxDocumentsPerBatch)
	assert.False(t, v1.Transitions[KindIdentityCreditTransfer].Contains(1))
	assert.True(t, v2.Transitions[KindIdentityCreditTransfer].Contains(1))
	assert.Equal(t, FeatureVersion(1), v2.Fee.Version)
	assert.Equal(t, FeatureVersion(2), v3.Fee.Version)
	assert.Greater(t, v3.Fee.Storage.DiskUsageCreditPerByte, v2.Fee.Storage.DiskUsageCreditPerByte)

	// earlier tables are not mutated by later ones
	assert.Equal(t, FeatureVersion(0), v1.Methods[StateMethod(KindDocumentsBatch)])
	assert.Equal(t, FeatureVersion(1), v2.Methods[StateMethod(KindDocumentsBatch)])
}

func TestMissingMethod(t *testing.T) {
	r := NewRegistry()
	_, err := r.MethodVersion(Method{Subsystem: Drive, Name: "nope"}, 1)
	var missing *MissingMethodError
	require.True(t, errors.As(err, &missing))
	assert.True(t, IsFatal(err))
}

func TestPatchesForwardOnly(t *testing.T) {
	r := NewRegistry()
	r.SetFinalizedHeight(100)

	err := r.RegisterPatch(Patch{
		Protocol:         1,
		ActivationHeight: 100,
		Apply:            func(t Tuning) Tuning { return t },
	})
	assert.ErrorIs(t, err, errPatchNotForward)

	require.NoError(t, r.RegisterPatch(Patch{
		Protocol:         1,
		ActivationHeight: 150,
		Apply: func(t Tuning) Tuning {
			t.DefaultQueryLimit = 10
			return t
		},
	}))
	require.NoError(t, r.RegisterPatch(Patch{
		Protocol:         1,
		ActivationHeight: 120,
		Apply: func(t Tuning) Tuning {
			t.DefaultQueryLimit = 50
			t.MaxQueryLimit = 60
			return t
		},
	}))
	assert.ErrorIs(t, r.RegisterPatch(Patch{
		Protocol:         1,
		ActivationHeight: 120,
		Apply:            func(t Tuning) Tuning { return t },
	}), errDuplicatePatch)

	before, err := r.ResolveAt(1, 119)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), before.Tuning.DefaultQueryLimit)

	mid, err := r.ResolveAt(1, 130)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), mid.Tuning.DefaultQueryLimit)
	assert.Equal(t, uint32(60), mid.Tuning.MaxQueryLimit)

	after, err := r.ResolveAt(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), after.Tuning.DefaultQueryLimit)
	assert.Equal(t, uint32(60), after.Tuning.MaxQueryLimit)

	again, err := r.ResolveAt(1, 2000)
	require.NoError(t, err)
	assert.Same(t, after, again)

	// consensus fields are untouched
	assert.Equal(t, before.Fee, after.Fee)
	assert.Equal(t, before.Limits, after.Limits)

	other, err := r.ResolveAt(2, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), other.Tuning.DefaultQueryLimit)
}

func TestCheckCoverage(t *testing.T) {
	r := NewRegistry()

	full := NewDispatcher[func() int]("full")
	for _, v := range r.Versions() {
		pv, _ := r.Resolve(v)
		for m, fv := range pv.Methods {
			if !full.Covers(m, fv) {
				full.Register(m, fv, func() int { return 1 })
			}
		}
	}
	require.NoError(t, r.CheckCoverage(full))

	partial := NewDispatcher[func() int]("partial")
	partial.Register(ContractToJSON, 0, func() int { return 0 })
	rest := NewDispatcher[func() int]("rest")
	for _, v := range r.Versions() {
		pv, _ := r.Resolve(v)
		for m, fv := range pv.Methods {
			if m != ContractToJSON && !rest.Covers(m, fv) {
				rest.Register(m, fv, func() int { return 1 })
			}
		}
	}
	err := r.CheckCoverage(partial, rest)
	var mismatch *UnknownVersionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, ContractToJSON, mismatch.Method)
	assert.Equal(t, FeatureVersion(1), mismatch.Received)

	var missing *MissingMethodError
	require.True(t, errors.As(r.CheckCoverage(partial), &missing))
}

func TestDispatcher(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher[func() string]("json")
	d.Register(ContractToJSON, 0, func() string { return "v0" })
	d.Register(ContractToJSON, 1, func() string { return "v1" })

	assert.Panics(t, func() {
		d.Register(ContractToJSON, 1, func() string { return "dup" })
	})

	v3, _ := r.Resolve(3)
	fn, err := d.Lookup(v3, ContractToJSON)
	require.NoError(t, err)
	assert.Equal(t, "v0", fn())

	v4, _ := r.Resolve(4)
	fn, err = d.Lookup(v4, ContractToJSON)
	require.NoError(t, err)
	assert.Equal(t, "v1", fn())

	_, err = d.Arm(ContractToJSON, 7)
	var mismatch *UnknownVersionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []FeatureVersion{0, 1}, mismatch.Known)
}
