// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
)

func testBlock(height uint64) *Block {
	return &Block{
		Height:   height,
		Time:     height * 1_000,
		AppHash:  ids.GenerateTestID(),
		Protocol: 1,
		Results: []TransitionResult{
			{TransitionID: ids.GenerateTestID(), Kind: "identity_credit_transfer", Valid: true, ProcessingFee: 120, Charged: true},
			{
				TransitionID:  ids.GenerateTestID(),
				Kind:          "documents_batch",
				Errors:        []Error{{Code: 4001, Message: "invalid nonce"}},
				ProcessingFee: 40,
			},
		},
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 4)
	require.NoError(t, err)

	first, second := testBlock(1), testBlock(2)
	require.NoError(t, l.Put(first))
	require.NoError(t, l.Put(second))
	require.NoError(t, l.Close())

	l, err = Open(dir, 4)
	require.NoError(t, err)
	defer l.Close()

	last, found, err := l.Last()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), last)

	got, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, first.AppHash, got.AppHash)
	require.Len(t, got.Results, 2)
	assert.Equal(t, first.Results[0].TransitionID, got.Results[0].TransitionID)
	assert.True(t, got.Results[0].Charged)
	assert.Equal(t, first.Results[1].Errors, got.Results[1].Errors)
}

func TestGetMissingHeight(t *testing.T) {
	l, err := OpenMemory(4)
	require.NoError(t, err)
	defer l.Close()

	_, found, err := l.Last()
	require.NoError(t, err)
	assert.False(t, found)

	_, err = l.Get(7)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHeightsOnlyMoveForward(t *testing.T) {
	l, err := OpenMemory(4)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Put(testBlock(5)))
	// the last height can be written again
	again := testBlock(5)
	require.NoError(t, l.Put(again))
	got, err := l.Get(5)
	require.NoError(t, err)
	assert.Equal(t, again.AppHash, got.AppHash)

	err = l.Put(testBlock(4))
	assert.True(t, errors.Is(err, errHeightNotAfter))
}
