// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
	avacrypto "github.com/ava-labs/avalanchego/utils/crypto"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/epoch"
	"github.com/ava-labs/drivevm/execution"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/validation"
	"github.com/ava-labs/drivevm/version"
)

const (
	genesisTime uint64 = 1_700_000_000_000

	masterKey uint32 = iota
	transferKey
)

type account struct {
	id   ids.ID
	keys map[uint32]avacrypto.PrivateKey
}

func newAccount(t *testing.T) *account {
	factory := avacrypto.FactorySECP256K1R{}
	a := &account{id: ids.GenerateTestID(), keys: make(map[uint32]avacrypto.PrivateKey)}
	for _, id := range []uint32{masterKey, transferKey} {
		sk, err := factory.NewPrivateKey()
		require.NoError(t, err)
		a.keys[id] = sk
	}
	return a
}

func (a *account) identity() dpp.Identity {
	return dpp.Identity{
		ID: a.id,
		PublicKeys: []dpp.IdentityPublicKey{
			{
				ID:            masterKey,
				Purpose:       dpp.Authentication,
				SecurityLevel: dpp.Master,
				Type:          crypto.ECDSASecp256k1,
				Data:          a.keys[masterKey].PublicKey().Bytes(),
			},
			{
				ID:            transferKey,
				Purpose:       dpp.Transfer,
				SecurityLevel: dpp.Critical,
				Type:          crypto.ECDSASecp256k1,
				Data:          a.keys[transferKey].PublicKey().Bytes(),
			},
		},
	}
}

func (a *account) transfer(t *testing.T, to ids.ID, amount, nonce uint64) []byte {
	st := &dpp.StateTransition{Unsigned: &dpp.IdentityCreditTransfer{
		IdentityID:    a.id,
		RecipientID:   to,
		Amount:        amount,
		IdentityNonce: nonce,
	}}
	require.NoError(t, st.Sign(transferKey, a.keys[transferKey].Sign))
	return st.Bytes()
}

func keyHash(b byte) []byte {
	h := make([]byte, 20)
	h[0] = b
	return h
}

type fixture struct {
	alice, bob  *account
	masternodes []MasternodeEntry
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{alice: newAccount(t), bob: newAccount(t)}
	for i := byte(1); i <= 3; i++ {
		f.masternodes = append(f.masternodes, MasternodeEntry{
			ProTxHash:     ids.ID{i},
			OwnerKeyHash:  keyHash(i),
			VotingKeyHash: keyHash(0x10 + i),
		})
	}
	return f
}

func (f *fixture) genesis(protocol uint32) *InitChainRequest {
	return &InitChainRequest{
		GenesisTime:     genesisTime,
		InitialProtocol: protocol,
		Masternodes:     f.masternodes,
		Identities: []GenesisIdentity{
			{Identity: f.alice.identity(), Balance: 1_000_000},
			{Identity: f.bob.identity(), Balance: 1_000_000},
		},
	}
}

func newTestVM(t *testing.T, store *storage.Store, results *resultlog.Log) *VM {
	config, err := DefaultConfig("devnet")
	require.NoError(t, err)
	config.CheckCredits = true
	if results == nil {
		results, err = resultlog.OpenMemory(config.ResultCacheSize)
		require.NoError(t, err)
	}
	vm, err := New(config, store, results, prometheus.NewRegistry())
	require.NoError(t, err)
	return vm
}

type testBlock struct {
	time        uint64
	proposer    ids.ID
	proposed    uint32
	transitions [][]byte
	masternodes *MasternodeDiff
}

func runBlock(t *testing.T, vm *VM, blk testBlock) (*CommitResponse, []*execution.Result) {
	ps, _, err := vm.PlatformState()
	require.NoError(t, err)
	_, err = vm.BeginBlock(&BeginBlockRequest{
		Height:            ps.NextHeight(),
		Time:              blk.time,
		ProposerProTxHash: blk.proposer,
		ProposedProtocol:  blk.proposed,
	})
	require.NoError(t, err)
	var results []*execution.Result
	for _, raw := range blk.transitions {
		res, err := vm.DeliverTransition(raw)
		require.NoError(t, err)
		results = append(results, res)
	}
	_, err = vm.EndBlock(&EndBlockRequest{Masternodes: blk.masternodes})
	require.NoError(t, err)
	resp, err := vm.Commit()
	require.NoError(t, err)
	return resp, results
}

func TestLifecycleOrder(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)

	_, err := vm.BeginBlock(&BeginBlockRequest{Height: 1, Time: genesisTime})
	assert.ErrorIs(t, err, errNotInitialized)

	_, err = vm.InitChain(f.genesis(0))
	require.NoError(t, err)
	_, err = vm.InitChain(f.genesis(0))
	assert.ErrorIs(t, err, errAlreadyInitialized)

	_, err = vm.DeliverTransition(f.alice.transfer(t, f.bob.id, 10, 1))
	assert.ErrorIs(t, err, errNoBlock)

	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 2, Time: genesisTime})
	assert.ErrorIs(t, err, errUnexpectedHeight)

	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 1, Time: genesisTime + 1})
	require.NoError(t, err)
	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 1, Time: genesisTime + 1})
	assert.ErrorIs(t, err, errBlockInProgress)
	_, err = vm.Commit()
	assert.ErrorIs(t, err, errBlockNotEnded)

	_, err = vm.EndBlock(&EndBlockRequest{})
	require.NoError(t, err)
	_, err = vm.DeliverTransition(f.alice.transfer(t, f.bob.id, 10, 1))
	assert.ErrorIs(t, err, errBlockEnded)
	_, err = vm.Commit()
	require.NoError(t, err)

	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 2, Time: genesisTime})
	assert.ErrorIs(t, err, errTimeBackwards)
}

func TestTransfersAreCommittedAndLogged(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)

	resp, results := runBlock(t, vm, testBlock{
		time:     genesisTime + 1_000,
		proposer: f.masternodes[0].ProTxHash,
		transitions: [][]byte{
			f.alice.transfer(t, f.bob.id, 5_000, 1),
			// replayed nonce
			f.alice.transfer(t, f.bob.id, 5_000, 1),
		},
	})
	require.Len(t, results, 2)
	require.True(t, results[0].Valid(), "%v", results[0].Errors)
	require.Len(t, results[1].Errors, 1)
	assert.IsType(t, &dpp.InvalidIdentityNonceError{}, results[1].Errors[0])
	assert.False(t, results[1].Charged)

	total, err := results[0].Fee.Total()
	require.NoError(t, err)
	balance, err := vm.IdentityBalance(f.alice.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000)-5_000-total, balance)
	balance, err = vm.IdentityBalance(f.bob.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_005_000), balance)
	nonce, err := vm.IdentityNonce(f.alice.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	logged, err := vm.BlockResults(resp.Height)
	require.NoError(t, err)
	assert.Equal(t, resp.AppHash, logged.AppHash)
	require.Len(t, logged.Results, 2)
	assert.True(t, logged.Results[0].Valid)
	assert.Equal(t, total, logged.Results[0].StorageFee+logged.Results[0].ProcessingFee)
	require.Len(t, logged.Results[1].Errors, 1)
	assert.Equal(t, results[1].Errors[0].Code(), logged.Results[1].Errors[0].Code)
}

func TestRollbackRestoresState(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)
	before, root, err := vm.PlatformState()
	require.NoError(t, err)

	transfer := f.alice.transfer(t, f.bob.id, 5_000, 1)
	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 1, Time: genesisTime + 1_000})
	require.NoError(t, err)
	res, err := vm.DeliverTransition(transfer)
	require.NoError(t, err)
	require.True(t, res.Valid())

	// queries never see the open block
	balance, err := vm.IdentityBalance(f.bob.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), balance)

	vm.Rollback()
	vm.Rollback()

	after, rootAfter, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, root, rootAfter)

	// the same block can be run again
	_, results := runBlock(t, vm, testBlock{time: genesisTime + 1_000, transitions: [][]byte{transfer}})
	require.True(t, results[0].Valid(), "%v", results[0].Errors)
	balance, err = vm.IdentityBalance(f.bob.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_005_000), balance)
}

var errVerifierDown = errors.New("verifier down")

type brokenVerifier struct{}

func (brokenVerifier) VerifySignature([]byte, []byte, []byte, crypto.KeyType) (bool, error) {
	return false, errVerifierDown
}

func TestInternalErrorDiscardsBlock(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)
	before, root, err := vm.PlatformState()
	require.NoError(t, err)

	healthy := vm.executor
	vm.executor = execution.New(vm.drive, brokenVerifier{}, validation.SystemTriggers())
	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 1, Time: genesisTime + 1_000})
	require.NoError(t, err)
	_, err = vm.DeliverTransition(f.alice.transfer(t, f.bob.id, 5_000, 1))
	assert.ErrorIs(t, err, errVerifierDown)

	_, err = vm.DeliverTransition(f.alice.transfer(t, f.bob.id, 5_000, 1))
	assert.ErrorIs(t, err, errNoBlock)
	_, err = vm.EndBlock(&EndBlockRequest{})
	assert.ErrorIs(t, err, errNoBlock)
	_, err = vm.Commit()
	assert.ErrorIs(t, err, errNoBlock)

	after, rootAfter, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, root, rootAfter)
	balance, err := vm.IdentityBalance(f.alice.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), balance)

	vm.executor = healthy
	_, results := runBlock(t, vm, testBlock{
		time:        genesisTime + 1_000,
		transitions: [][]byte{f.alice.transfer(t, f.bob.id, 5_000, 1)},
	})
	assert.True(t, results[0].Valid(), "%v", results[0].Errors)
}

func TestReplayIsDeterministic(t *testing.T) {
	f := newFixture(t)
	blocks := []testBlock{
		{
			time:        genesisTime + 1_000,
			proposer:    f.masternodes[0].ProTxHash,
			transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 1), f.bob.transfer(t, f.alice.id, 700, 1)},
		},
		{
			time:        genesisTime + 30_000,
			proposer:    f.masternodes[1].ProTxHash,
			transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 1), f.alice.transfer(t, f.bob.id, 100, 2)},
		},
		{
			time:        genesisTime + epoch.DevnetDuration + 1,
			proposer:    f.masternodes[2].ProTxHash,
			transitions: [][]byte{f.bob.transfer(t, f.alice.id, 500, 2)},
		},
	}

	run := func() ([]ids.ID, [][]*execution.Result) {
		vm := newTestVM(t, storage.NewMemory(), nil)
		_, err := vm.InitChain(f.genesis(0))
		require.NoError(t, err)
		var (
			roots   []ids.ID
			results [][]*execution.Result
		)
		for _, blk := range blocks {
			resp, res := runBlock(t, vm, blk)
			roots = append(roots, resp.AppHash)
			results = append(results, res)
		}
		return roots, results
	}
	rootsA, resultsA := run()
	rootsB, resultsB := run()
	assert.Equal(t, rootsA, rootsB)
	assert.Equal(t, resultsA, resultsB)
}

func TestEpochRolloverPaysProposers(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)

	first, second := f.masternodes[0].ProTxHash, f.masternodes[1].ProTxHash
	runBlock(t, vm, testBlock{
		time:        genesisTime + 1_000,
		proposer:    first,
		transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 1)},
	})
	runBlock(t, vm, testBlock{
		time:        genesisTime + 2_000,
		proposer:    first,
		transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 2)},
	})
	runBlock(t, vm, testBlock{
		time:        genesisTime + 3_000,
		proposer:    second,
		transitions: [][]byte{f.bob.transfer(t, f.alice.id, 100, 1)},
	})

	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 4, Time: genesisTime + epoch.DevnetDuration})
	require.NoError(t, err)
	_, err = vm.EndBlock(&EndBlockRequest{})
	require.NoError(t, err)
	_, err = vm.Commit()
	require.NoError(t, err)

	ps, _, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ps.Epoch)

	closed, err := vm.EpochInfo(0)
	require.NoError(t, err)
	require.True(t, closed.Finalized)
	assert.Equal(t, uint64(3), closed.Blocks)
	require.NotZero(t, closed.ProcessingPaid)

	pool := closed.ProcessingPaid + closed.StoragePaid
	firstBalance, err := vm.IdentityBalance(first)
	require.NoError(t, err)
	secondBalance, err := vm.IdentityBalance(second)
	require.NoError(t, err)
	assert.Equal(t, pool*2/3, firstBalance)
	assert.Equal(t, pool/3, secondBalance)
	assert.GreaterOrEqual(t, closed.Leftovers, pool-firstBalance-secondBalance)

	started, err := vm.EpochInfo(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), started.StartHeight)
}

func TestProtocolUpgradeAtEpochChange(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	resp, err := vm.InitChain(f.genesis(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resp.Protocol)

	for i, mn := range f.masternodes {
		runBlock(t, vm, testBlock{
			time:     genesisTime + uint64(i+1)*1_000,
			proposer: mn.ProTxHash,
			proposed: uint32(version.LatestVersion),
		})
	}

	begin, err := vm.BeginBlock(&BeginBlockRequest{Height: 4, Time: genesisTime + epoch.DevnetDuration})
	require.NoError(t, err)
	assert.True(t, begin.EpochChanged)
	assert.Equal(t, uint32(version.LatestVersion), begin.Protocol)
	_, err = vm.EndBlock(&EndBlockRequest{})
	require.NoError(t, err)
	_, err = vm.Commit()
	require.NoError(t, err)

	ps, _, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, uint32(version.LatestVersion), ps.Protocol)
	info, err := vm.EpochInfo(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(version.LatestVersion), info.Protocol)
}

func TestContractJSONIsStableAcrossVersions(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(1))
	require.NoError(t, err)

	v1, err := vm.ContractJSON(contracts.DPNSID, 1)
	require.NoError(t, err)
	v4, err := vm.ContractJSON(contracts.DPNSID, 4)
	require.NoError(t, err)
	assert.Equal(t, v1, v4)

	committed, err := vm.ContractJSON(contracts.DPNSID, 0)
	require.NoError(t, err)
	assert.Equal(t, v1, committed)

	_, err = vm.ContractJSON(ids.GenerateTestID(), 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMasternodeIdentities(t *testing.T) {
	f := newFixture(t)
	vm := newTestVM(t, storage.NewMemory(), nil)
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)

	quorumOf := func(mns ...MasternodeEntry) ids.ID {
		var buf []byte
		for _, mn := range mns {
			buf = append(buf, mn.ProTxHash[:]...)
		}
		return hashing.ComputeHash256Array(buf)
	}
	ps, _, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, quorumOf(f.masternodes...), ps.QuorumHash)

	mn := f.masternodes[0]
	owner, err := vm.Identity(mn.ProTxHash)
	require.NoError(t, err)
	require.Len(t, owner.PublicKeys, 1)
	assert.Equal(t, dpp.Owner, owner.PublicKeys[0].Purpose)
	assert.Equal(t, mn.OwnerKeyHash, owner.PublicKeys[0].Data)

	oldVoter := dpp.VoterIdentityID(mn.ProTxHash, mn.VotingKeyHash)
	voter, err := vm.Identity(oldVoter)
	require.NoError(t, err)
	assert.Equal(t, dpp.Voting, voter.PublicKeys[0].Purpose)
	assert.False(t, voter.PublicKeys[0].Disabled())

	changed := mn
	changed.VotingKeyHash = keyHash(0x42)
	blockTime := genesisTime + 1_000
	runBlock(t, vm, testBlock{
		time: blockTime,
		masternodes: &MasternodeDiff{
			Upserted: []MasternodeEntry{changed},
			Removed:  []ids.ID{f.masternodes[1].ProTxHash},
		},
	})

	voter, err = vm.Identity(oldVoter)
	require.NoError(t, err)
	assert.Equal(t, blockTime, voter.PublicKeys[0].DisabledAt)
	_, err = vm.Identity(dpp.VoterIdentityID(mn.ProTxHash, changed.VotingKeyHash))
	require.NoError(t, err)

	removed, found, err := vm.drive.Committed().Masternode(f.masternodes[1].ProTxHash)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, removed.Enabled)
	ps, _, err = vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, quorumOf(f.masternodes[0], f.masternodes[2]), ps.QuorumHash)

	// a diff naming one masternode twice aborts the block
	_, err = vm.BeginBlock(&BeginBlockRequest{Height: 2, Time: blockTime})
	require.NoError(t, err)
	_, err = vm.EndBlock(&EndBlockRequest{Masternodes: &MasternodeDiff{
		Upserted: []MasternodeEntry{changed},
		Removed:  []ids.ID{changed.ProTxHash},
	}})
	assert.ErrorIs(t, err, errDuplicateMasternode)
	_, err = vm.Commit()
	assert.ErrorIs(t, err, errNoBlock)
}

func TestRestartLoadsCommittedState(t *testing.T) {
	f := newFixture(t)
	stateDir, resultsDir := t.TempDir(), t.TempDir()
	open := func() *VM {
		persister, err := storage.NewLevelDBPersister(stateDir)
		require.NoError(t, err)
		store, err := storage.New(persister)
		require.NoError(t, err)
		results, err := resultlog.Open(resultsDir, 8)
		require.NoError(t, err)
		return newTestVM(t, store, results)
	}

	vm := open()
	_, err := vm.InitChain(f.genesis(0))
	require.NoError(t, err)
	resp, _ := runBlock(t, vm, testBlock{
		time:        genesisTime + 1_000,
		transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 1)},
	})
	require.NoError(t, vm.Shutdown())

	vm = open()
	defer vm.Shutdown()
	ps, root, err := vm.PlatformState()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ps.Height)
	assert.Equal(t, resp.AppHash, root)

	logged, err := vm.BlockResults(1)
	require.NoError(t, err)
	assert.Equal(t, resp.AppHash, logged.AppHash)

	_, results := runBlock(t, vm, testBlock{
		time:        genesisTime + 2_000,
		transitions: [][]byte{f.alice.transfer(t, f.bob.id, 100, 2)},
	})
	assert.True(t, results[0].Valid(), "%v", results[0].Errors)
}
