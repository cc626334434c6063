// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/version"
)

func newTestDrive(t *testing.T) (*Drive, *version.PlatformVersion) {
	cache, err := NewContractCache(16, prometheus.NewRegistry())
	require.NoError(t, err)
	pv, err := version.NewRegistry().Resolve(version.LatestVersion)
	require.NoError(t, err)
	return New(storage.NewMemory(), cache), pv
}

func commitBatch(t *testing.T, d *Drive, b *Batch) {
	txn, err := d.Store().OpenTransaction()
	require.NoError(t, err)
	require.NoError(t, d.Apply(txn, b))
	require.NoError(t, d.Store().Commit(txn))
	d.Contracts().Merge()
}

func fund(t *testing.T, d *Drive, pv *version.PlatformVersion, id ids.ID, amount uint64) {
	b := NewBatch(&pv.Fee, 0)
	b.AddBalance(id, amount)
	b.Mint(amount)
	commitBatch(t, d, b)
}

func TestApplyIsAtomic(t *testing.T) {
	d, pv := newTestDrive(t)
	alice := ids.ID{0xa}
	fund(t, d, pv, alice, 100)

	txn, err := d.Store().OpenTransaction()
	require.NoError(t, err)

	b := NewBatch(&pv.Fee, 0)
	require.NoError(t, b.InsertIdentity(&dpp.Identity{ID: alice, Revision: 1}))
	b.RemoveBalance(alice, 101)
	assert.ErrorIs(t, d.Apply(txn, b), ErrCounterUnderflow)

	v := d.View(txn, nil)
	exists, err := v.IdentityExists(alice)
	require.NoError(t, err)
	assert.False(t, exists)
	balance, _, err := v.Balance(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestMeteredReadsCostTheSameOnCacheHits(t *testing.T) {
	d, pv := newTestDrive(t)
	owner := ids.ID{1}
	c := &dpp.DataContract{ID: ids.ID{2}, OwnerID: owner, Version: 1}

	b := NewBatch(&pv.Fee, 0)
	require.NoError(t, b.InsertContract(c, owner))
	commitBatch(t, d, b)

	read := func() []fee.Operation {
		txn, err := d.Store().OpenTransaction()
		require.NoError(t, err)
		defer d.Store().Rollback()

		meter := fee.NewExecutionContext(false)
		stored, found, err := d.View(txn, meter).Contract(c.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, owner, stored.Flags.Owner)
		return meter.Operations()
	}
	cold := read()
	d.Contracts().Flush()
	_, _, err := d.Committed().Contract(c.ID)
	require.NoError(t, err)
	warm := read()
	assert.Equal(t, cold, warm)
	require.Len(t, warm, 1)
	assert.Equal(t, fee.ReadOp, warm[0].Kind)
}

func TestContractCacheLayers(t *testing.T) {
	d, pv := newTestDrive(t)
	owner := ids.ID{1}
	c := &dpp.DataContract{ID: ids.ID{3}, OwnerID: owner, Version: 1}

	txn, err := d.Store().OpenTransaction()
	require.NoError(t, err)
	b := NewBatch(&pv.Fee, 0)
	require.NoError(t, b.InsertContract(c, owner))
	require.NoError(t, d.Apply(txn, b))

	_, found, err := d.View(txn, nil).Contract(c.ID)
	require.NoError(t, err)
	assert.True(t, found)

	// committed readers do not see the block layer
	_, found, err = d.Committed().Contract(c.ID)
	require.NoError(t, err)
	assert.False(t, found)

	d.Store().Rollback()
	d.Contracts().Discard()

	txn, err = d.Store().OpenTransaction()
	require.NoError(t, err)
	_, found, err = d.View(txn, nil).Contract(c.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemovalRefundsUnusedStorage(t *testing.T) {
	d, pv := newTestDrive(t)
	alice := ids.ID{0xa}
	fund(t, d, pv, alice, 1_000_000)

	doc := &dpp.Document{
		ID:         ids.ID{9},
		ContractID: ids.ID{8},
		Type:       "note",
		OwnerID:    alice,
		Revision:   1,
		Data:       []byte(`{"message":"hello"}`),
	}

	// epoch 2: insert and pay
	b := NewBatch(&pv.Fee, 2)
	require.NoError(t, b.InsertDocument(doc, alice))
	res, err := fee.Calculate(pv, b.FeeOperations(), 2)
	require.NoError(t, err)
	require.NoError(t, b.Charge(alice, &res))
	commitBatch(t, d, b)
	require.NoError(t, d.Committed().VerifyTotalCredits(2))

	stored, found, err := d.Committed().Document(doc.ContractID, doc.Type, doc.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, res.StorageFee, stored.Flags.PaidFee)
	assert.Equal(t, uint16(2), stored.Flags.InsertEpoch)

	// epoch 2 still: the delete refunds every later epoch
	b = NewBatch(&pv.Fee, 2)
	require.NoError(t, b.DeleteDocument(stored))
	res, err = fee.Calculate(pv, b.FeeOperations(), 2)
	require.NoError(t, err)
	require.Len(t, res.Refunds, 1)
	expected, err := fee.RefundAmount(stored.Flags.PaidFee, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, expected, res.Refunds[0].Amount)

	before, _, err := d.Committed().Balance(alice)
	require.NoError(t, err)
	require.NoError(t, b.Charge(alice, &res))
	commitBatch(t, d, b)
	require.NoError(t, d.Committed().VerifyTotalCredits(2))

	after, _, err := d.Committed().Balance(alice)
	require.NoError(t, err)
	total, err := res.Total()
	require.NoError(t, err)
	assert.Equal(t, before-total+expected, after)
}

func TestDepositSpreadsOverWindow(t *testing.T) {
	d, pv := newTestDrive(t)
	const paid = 10_007

	b := NewBatch(&pv.Fee, 5)
	b.DepositStorage(paid)
	b.RawCounter(storage.Misc, totalCreditsKey, paid, false)
	commitBatch(t, d, b)

	v := d.Committed()
	first, err := v.StorageDelta(5)
	require.NoError(t, err)
	assert.Equal(t, int64(fee.EpochShare(paid, 5, 5)), first)

	outstanding, err := v.OutstandingStorage(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(paid), outstanding)
	require.NoError(t, v.VerifyTotalCredits(5))
}

func TestKeysAreDisjoint(t *testing.T) {
	contract := ids.ID{1}
	a := UniqueIndexKey(contract, "ab", "i", [][]byte{[]byte("c")})
	b := UniqueIndexKey(contract, "a", "bi", [][]byte{[]byte("c")})
	assert.NotEqual(t, a, b)

	x := UniqueIndexKey(contract, "t", "i", [][]byte{[]byte("ab"), []byte("c")})
	y := UniqueIndexKey(contract, "t", "i", [][]byte{[]byte("a"), []byte("bc")})
	assert.NotEqual(t, x, y)
}
