// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/validation"
	"github.com/ava-labs/drivevm/version"
)

type testEnv struct {
	t     *testing.T
	pv    *version.PlatformVersion
	drive *drive.Drive
	txn   *storage.Txn
	m     *Manager
}

func newTestEnv(t *testing.T, protocol version.ProtocolVersion) *testEnv {
	cache, err := drive.NewContractCache(8, prometheus.NewRegistry())
	require.NoError(t, err)
	pv, err := version.NewRegistry().Resolve(protocol)
	require.NoError(t, err)
	d := drive.New(storage.NewMemory(), cache)
	txn, err := d.Store().OpenTransaction()
	require.NoError(t, err)
	e := &testEnv{t: t, pv: pv, drive: d, txn: txn, m: NewManager(d)}
	require.NoError(t, e.m.Start(txn, pv, Block{Height: 1, Time: 0}))
	return e
}

func (e *testEnv) apply(build func(b *drive.Batch)) {
	b := drive.NewBatch(&e.pv.Fee, 0)
	build(b)
	require.NoError(e.t, e.drive.Apply(e.txn, b))
}

func (e *testEnv) view() *drive.View { return e.drive.View(e.txn, nil) }

func (e *testEnv) balance(id ids.ID) uint64 {
	n, _, err := e.view().Balance(id)
	require.NoError(e.t, err)
	return n
}

// proposers registers masternodes that produced [blocks] in epoch 0 and
// returns their payout identities.
func (e *testEnv) proposers(blocks ...uint64) []ids.ID {
	payees := make([]ids.ID, len(blocks))
	e.apply(func(b *drive.Batch) {
		for i, n := range blocks {
			proTxHash := ids.ID{byte(i + 1)}
			payees[i] = ids.GenerateTestID()
			require.NoError(e.t, b.PutMasternode(nil, &drive.Masternode{
				ProTxHash:      proTxHash,
				PayoutIdentity: payees[i],
				Enabled:        true,
			}))
			b.RawCounter(storage.Pools, drive.ProposerKey(0, proTxHash), n, false)
		}
	})
	return payees
}

func (e *testEnv) fundProcessing(amount uint64) {
	e.apply(func(b *drive.Batch) {
		b.DepositProcessing(amount)
		b.Mint(amount)
	})
}

func (e *testEnv) verifyCredits(epoch uint16) {
	require.NoError(e.t, e.view().VerifyTotalCredits(epoch))
}

func TestIndex(t *testing.T) {
	tests := []struct {
		name     string
		genesis  uint64
		block    uint64
		expected uint16
	}{
		{"before genesis", 1_000, 500, 0},
		{"first epoch", 0, TestnetDuration - 1, 0},
		{"boundary", 0, TestnetDuration, 1},
		{"later", 1_000, 1_000 + 5*TestnetDuration + 7, 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n, err := Index(test.genesis, test.block, TestnetDuration)
			require.NoError(t, err)
			assert.Equal(t, test.expected, n)
		})
	}

	_, err := Index(0, 70_000*MainnetDuration, MainnetDuration)
	assert.ErrorIs(t, err, errEpochOverflow)

	d, err := Duration("mainnet")
	require.NoError(t, err)
	assert.Equal(t, MainnetDuration, d)
	_, err = Duration("regtest")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestDistributeProportionally(t *testing.T) {
	tests := []struct {
		name      string
		pool      uint64
		blocks    []uint64
		expected  []uint64
		leftovers uint64
	}{
		{"5:3:2", 1_000, []uint64{5, 3, 2}, []uint64{500, 300, 200}, 0},
		{"7:2:1", 1_000, []uint64{7, 2, 1}, []uint64{700, 200, 100}, 0},
		{"7:2:1 with remainder", 1_001, []uint64{7, 2, 1}, []uint64{700, 200, 100}, 1},
		{"thirds", 100, []uint64{1, 1, 1}, []uint64{33, 33, 33}, 1},
		{"large pool", 10_000_000_000_000_000, []uint64{15_000, 5_000}, []uint64{7_500_000_000_000_000, 2_500_000_000_000_000}, 0},
		{"large pool with remainder", 9_223_372_036_854_775_807, []uint64{20_000, 1}, []uint64{9_222_910_891_310_210_296, 461_145_544_565_510}, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newTestEnv(t, version.LatestVersion)
			payees := e.proposers(test.blocks...)
			e.fundProcessing(test.pool)

			report, err := e.m.Rollover(e.txn, e.pv, 0, 1, Block{Height: 11, Time: TestnetDuration})
			require.NoError(t, err)

			for i, payee := range payees {
				assert.Equal(t, test.expected[i], e.balance(payee))
			}
			assert.Len(t, report.Payouts, len(payees))
			assert.Equal(t, test.leftovers, report.Closed.Leftovers)
			assert.True(t, report.Closed.Finalized)
			assert.Equal(t, test.pool, report.Closed.ProcessingPaid)

			pool, err := e.view().ProcessingPool()
			require.NoError(t, err)
			assert.Equal(t, test.leftovers, pool)
			counts, err := e.view().ProposerCounts(0)
			require.NoError(t, err)
			assert.Empty(t, counts)

			started, found, err := e.view().Epoch(1)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, uint64(11), started.StartHeight)
			assert.False(t, started.Finalized)
			e.verifyCredits(1)
		})
	}
}

func TestStorageShares(t *testing.T) {
	e := newTestEnv(t, version.LatestVersion)
	payees := e.proposers(1)
	e.apply(func(b *drive.Batch) {
		// 2 per epoch with 500 left for the first
		b.DepositStorage(2_500)
		b.Mint(2_500)
	})
	e.verifyCredits(0)

	report, err := e.m.Rollover(e.txn, e.pv, 0, 1, Block{Height: 2, Time: TestnetDuration})
	require.NoError(t, err)
	assert.Equal(t, uint64(502), report.Closed.StoragePaid)
	assert.Equal(t, uint64(502), e.balance(payees[0]))

	outstanding, err := e.view().OutstandingStorage(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*999), outstanding)
	e.verifyCredits(1)

	// epochs 2 and 3 have no blocks, their shares join the pool of 4
	report, err = e.m.Rollover(e.txn, e.pv, 1, 4, Block{Height: 3, Time: 4 * TestnetDuration})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Closed.StoragePaid)
	assert.Equal(t, uint64(0), report.Closed.Blocks)
	assert.Equal(t, uint64(6), report.Closed.Leftovers)
	pool, err := e.view().ProcessingPool()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), pool)
	e.verifyCredits(4)
}

func TestRolloverRejectsBackwards(t *testing.T) {
	e := newTestEnv(t, version.LatestVersion)
	_, err := e.m.Rollover(e.txn, e.pv, 3, 3, Block{})
	assert.ErrorIs(t, err, errEpochBackwards)
}

func TestProtocolUpgrade(t *testing.T) {
	tests := []struct {
		name      string
		signals   uint64
		expected  version.ProtocolVersion
		stayingOn uint32
	}{
		{"below threshold", 7, 0, 1},
		{"at threshold", 8, 2, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newTestEnv(t, version.FirstVersion)
			e.proposers(10)
			e.apply(func(b *drive.Batch) {
				for i := uint64(0); i < test.signals; i++ {
					b.SignalUpgrade(2)
				}
				for i := test.signals; i < 10; i++ {
					b.SignalUpgrade(1)
				}
			})

			report, err := e.m.Rollover(e.txn, e.pv, 0, 1, Block{Height: 11, Time: TestnetDuration})
			require.NoError(t, err)
			assert.Equal(t, test.expected, report.Upgrade)
			assert.Equal(t, test.stayingOn, report.Started.Protocol)

			counts, err := e.view().UpgradeCounts()
			require.NoError(t, err)
			assert.Empty(t, counts)
		})
	}
}

type pollFixture struct {
	poll     *drive.VotePoll
	holder   ids.ID
	rival    ids.ID
	heldDoc  dpp.Document
	rivalDoc dpp.Document
}

func domain(owner ids.ID, entropy byte) dpp.Document {
	return dpp.Document{
		ID:         dpp.DocumentID(contracts.DPNSID, owner, contracts.DomainType, [32]byte{entropy}),
		ContractID: contracts.DPNSID,
		Type:       contracts.DomainType,
		OwnerID:    owner,
		Revision:   1,
		Data:       []byte(`{"label":"Alice","normalizedLabel":"a11ce","parentDomainName":"dash"}`),
	}
}

// contested sets up a poll over "a11ce.dash" held by one identity and
// contested by another, with a paid for holder document.
func (e *testEnv) contested() *pollFixture {
	f := &pollFixture{holder: ids.GenerateTestID(), rival: ids.GenerateTestID()}
	f.heldDoc = domain(f.holder, 1)
	f.rivalDoc = domain(f.rival, 2)
	values := [][]byte{[]byte(contracts.TopLevelDomain), []byte(validation.NormalizeLabel("Alice"))}
	f.poll = &drive.VotePoll{
		ID:           dpp.VotePollID(contracts.DPNSID, contracts.DomainType, "parentNameAndLabel", values),
		ContractID:   contracts.DPNSID,
		DocumentType: contracts.DomainType,
		IndexName:    "parentNameAndLabel",
		IndexValues:  values,
		Contenders: []drive.Contender{
			{IdentityID: f.holder, Document: f.heldDoc},
			{IdentityID: f.rival, Document: f.rivalDoc},
		},
	}
	e.apply(func(b *drive.Batch) {
		require.NoError(e.t, b.InsertDocument(&f.heldDoc, f.holder))
		require.NoError(e.t, b.InsertUniqueIndex(contracts.DPNSID, contracts.DomainType, "parentNameAndLabel", values, f.heldDoc.ID, f.holder))
		require.NoError(e.t, b.PutPoll(nil, f.poll))
	})
	stored, found, err := e.view().Document(contracts.DPNSID, contracts.DomainType, f.heldDoc.ID)
	require.NoError(e.t, err)
	require.True(e.t, found)
	e.apply(func(b *drive.Batch) {
		b.DepositStorage(stored.Flags.PaidFee)
		b.Mint(stored.Flags.PaidFee)
	})
	return f
}

func (e *testEnv) vote(poll ids.ID, voter byte, vote drive.Vote) {
	e.apply(func(b *drive.Batch) {
		require.NoError(e.t, b.PutVote(poll, ids.ID{0xee, voter}, nil, &vote))
	})
}

func TestPollAwardsRival(t *testing.T) {
	e := newTestEnv(t, version.LatestVersion)
	f := e.contested()
	e.vote(f.poll.ID, 1, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.rival})
	e.vote(f.poll.ID, 2, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.rival})
	e.vote(f.poll.ID, 3, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.holder})
	e.vote(f.poll.ID, 4, drive.Vote{Choice: dpp.Lock})

	// not due before a full epoch of voting
	report, err := e.m.Rollover(e.txn, e.pv, 0, 1, Block{Height: 2, Time: TestnetDuration})
	require.NoError(t, err)
	assert.Empty(t, report.Resolved)

	report, err = e.m.Rollover(e.txn, e.pv, 1, 2, Block{Height: 3, Time: 2 * TestnetDuration})
	require.NoError(t, err)
	require.Len(t, report.Resolved, 1)
	r := report.Resolved[0]
	assert.Equal(t, f.rival, r.Winner)
	assert.Equal(t, uint64(2), r.Votes)
	assert.False(t, r.Locked)

	view := e.view()
	_, found, err := view.Document(contracts.DPNSID, contracts.DomainType, f.heldDoc.ID)
	require.NoError(t, err)
	assert.False(t, found)
	won, found, err := view.Document(contracts.DPNSID, contracts.DomainType, f.rivalDoc.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, f.rival, won.Flags.Owner)

	entry, found, err := view.UniqueIndex(contracts.DPNSID, contracts.DomainType, f.poll.IndexName, f.poll.IndexValues)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, f.rivalDoc.ID, entry.DocumentID)

	poll, _, err := view.Poll(f.poll.ID)
	require.NoError(t, err)
	assert.True(t, poll.Resolved)
	assert.Equal(t, f.rival, poll.Winner)
	voters, err := view.PollVoters(f.poll.ID)
	require.NoError(t, err)
	assert.Empty(t, voters)
	e.verifyCredits(2)
}

func TestPollTieKeepsHolder(t *testing.T) {
	e := newTestEnv(t, version.LatestVersion)
	f := e.contested()
	e.vote(f.poll.ID, 1, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.rival})
	e.vote(f.poll.ID, 2, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.holder})

	report, err := e.m.Rollover(e.txn, e.pv, 0, 2, Block{Height: 2, Time: 2 * TestnetDuration})
	require.NoError(t, err)
	require.Len(t, report.Resolved, 1)
	assert.Equal(t, f.holder, report.Resolved[0].Winner)

	_, found, err := e.view().Document(contracts.DPNSID, contracts.DomainType, f.heldDoc.ID)
	require.NoError(t, err)
	assert.True(t, found)
	e.verifyCredits(2)
}

func TestPollLock(t *testing.T) {
	e := newTestEnv(t, version.LatestVersion)
	f := e.contested()
	e.vote(f.poll.ID, 1, drive.Vote{Choice: dpp.Lock})
	e.vote(f.poll.ID, 2, drive.Vote{Choice: dpp.Lock})
	e.vote(f.poll.ID, 3, drive.Vote{Choice: dpp.TowardsIdentity, TowardsIdentity: f.holder})

	report, err := e.m.Rollover(e.txn, e.pv, 0, 2, Block{Height: 2, Time: 2 * TestnetDuration})
	require.NoError(t, err)
	require.Len(t, report.Resolved, 1)
	r := report.Resolved[0]
	assert.True(t, r.Locked)
	assert.Equal(t, ids.Empty, r.Winner)
	assert.Positive(t, r.Refund)
	assert.Equal(t, r.Refund, e.balance(f.holder))

	view := e.view()
	_, found, err := view.Document(contracts.DPNSID, contracts.DomainType, f.heldDoc.ID)
	require.NoError(t, err)
	assert.False(t, found)
	entry, found, err := view.UniqueIndex(contracts.DPNSID, contracts.DomainType, f.poll.IndexName, f.poll.IndexValues)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ids.Empty, entry.DocumentID)
	e.verifyCredits(2)
}
