// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
	avacrypto "github.com/ava-labs/avalanchego/utils/crypto"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/validation"
	"github.com/ava-labs/drivevm/version"
)

// Key IDs every test identity is created with.
const (
	masterKey uint32 = iota
	criticalKey
	highKey
	mediumKey
	transferKey
	mediumTransferKey
)

type signer struct {
	id   ids.ID
	keys map[uint32]avacrypto.PrivateKey
}

func (s *signer) sign(t *testing.T, keyID uint32, unsigned dpp.UnsignedTransition) []byte {
	st := &dpp.StateTransition{Unsigned: unsigned}
	require.NoError(t, st.Sign(keyID, s.keys[keyID].Sign))
	return st.Bytes()
}

type testEnv struct {
	t     *testing.T
	pv    *version.PlatformVersion
	drive *drive.Drive
	exec  *Executor
	txn   *storage.Txn
	blk   *BlockInfo
}

func newTestEnv(t *testing.T) *testEnv {
	cache, err := drive.NewContractCache(16, prometheus.NewRegistry())
	require.NoError(t, err)
	pv, err := version.NewRegistry().Resolve(version.LatestVersion)
	require.NoError(t, err)
	d := drive.New(storage.NewMemory(), cache)

	e := &testEnv{
		t:     t,
		pv:    pv,
		drive: d,
		exec:  New(d, crypto.NewVerifier(), validation.SystemTriggers()),
		blk:   &BlockInfo{Platform: pv, Height: 1, Time: 1_000, Epoch: 0},
	}
	e.open()
	e.seed(func(b *drive.Batch) {
		for _, c := range contracts.Genesis(ids.Empty) {
			require.NoError(t, b.InsertContract(c, ids.Empty))
		}
	})
	return e
}

func (e *testEnv) open() {
	txn, err := e.drive.Store().OpenTransaction()
	require.NoError(e.t, err)
	e.txn = txn
}

func (e *testEnv) commit() {
	require.NoError(e.t, e.drive.Store().Commit(e.txn))
	e.drive.Contracts().Merge()
	e.open()
}

// seed writes state outside of any transition and commits it.
func (e *testEnv) seed(build func(b *drive.Batch)) {
	b := drive.NewBatch(&e.pv.Fee, 0)
	build(b)
	require.NoError(e.t, e.drive.Apply(e.txn, b))
	e.commit()
}

func (e *testEnv) newIdentity(balance uint64) *signer {
	factory := avacrypto.FactorySECP256K1R{}
	s := &signer{id: ids.GenerateTestID(), keys: make(map[uint32]avacrypto.PrivateKey)}
	identity := &dpp.Identity{ID: s.id}
	for _, k := range []struct {
		id      uint32
		purpose dpp.Purpose
		level   dpp.SecurityLevel
	}{
		{masterKey, dpp.Authentication, dpp.Master},
		{criticalKey, dpp.Authentication, dpp.Critical},
		{highKey, dpp.Authentication, dpp.High},
		{mediumKey, dpp.Authentication, dpp.Medium},
		{transferKey, dpp.Transfer, dpp.Critical},
		{mediumTransferKey, dpp.Transfer, dpp.Medium},
	} {
		sk, err := factory.NewPrivateKey()
		require.NoError(e.t, err)
		s.keys[k.id] = sk
		identity.PublicKeys = append(identity.PublicKeys, dpp.IdentityPublicKey{
			ID:            k.id,
			Purpose:       k.purpose,
			SecurityLevel: k.level,
			Type:          crypto.ECDSASecp256k1,
			Data:          sk.PublicKey().Bytes(),
		})
	}
	e.seed(func(b *drive.Batch) {
		require.NoError(e.t, b.InsertIdentity(identity))
		b.AddBalance(s.id, balance)
		b.Mint(balance)
	})
	return s
}

func (e *testEnv) process(raw []byte) *Result {
	res, err := e.exec.Process(e.txn, e.blk, raw)
	require.NoError(e.t, err)
	return res
}

func (e *testEnv) view() *drive.View { return e.drive.View(e.txn, nil) }

func (e *testEnv) balance(id ids.ID) uint64 {
	n, _, err := e.view().Balance(id)
	require.NoError(e.t, err)
	return n
}

func (e *testEnv) contractNonce(id, contractID ids.ID) uint64 {
	n, err := e.view().ContractNonce(id, contractID)
	require.NoError(e.t, err)
	return n
}

func (e *testEnv) identityNonce(id ids.ID) uint64 {
	n, err := e.view().IdentityNonce(id)
	require.NoError(e.t, err)
	return n
}

func (e *testEnv) verifyCredits() {
	e.commit()
	require.NoError(e.t, e.drive.Committed().VerifyTotalCredits(e.blk.Epoch))
}

func noteContract(owner ids.ID) *dpp.DataContract {
	return &dpp.DataContract{
		ID:      dpp.ContractID(owner, 1),
		OwnerID: owner,
		Version: 1,
		DocumentTypes: []dpp.DocumentType{{
			Name: "note",
			Properties: []dpp.Property{
				{Name: "message", Type: dpp.StringProperty, MaxLength: 64},
			},
			Required:      []string{"message"},
			Mutable:       true,
			CanBeDeleted:  true,
			SecurityLevel: dpp.High,
		}},
	}
}

func createNote(owner ids.ID, c *dpp.DataContract, nonce uint64, entropy byte, message string) *dpp.DocumentsBatch {
	e := [32]byte{entropy}
	return &dpp.DocumentsBatch{
		Owner:                 owner,
		ContractID:            c.ID,
		IdentityContractNonce: nonce,
		Transitions: []dpp.DocumentTransition{{
			Action:       dpp.CreateDocument,
			DocumentType: "note",
			DocumentID:   dpp.DocumentID(c.ID, owner, "note", e),
			Entropy:      e,
			Revision:     1,
			Data:         []byte(`{"message":"` + message + `"}`),
		}},
	}
}

func TestDocumentCreateChargesExactFee(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newIdentity(100_000)
	c := noteContract(alice.id)
	e.seed(func(b *drive.Batch) {
		require.NoError(t, b.InsertContract(c, alice.id))
		b.SetContractNonce(alice.id, c.ID, 0, 5)
	})

	raw := alice.sign(t, highKey, createNote(alice.id, c, 6, 1, "hello"))
	res := e.process(raw)
	require.True(t, res.Valid(), "%v", res.Errors)
	require.True(t, res.Charged)

	total, err := res.Fee.Total()
	require.NoError(t, err)
	assert.Positive(t, res.Fee.StorageFee)
	assert.Positive(t, res.Fee.ProcessingFee)
	assert.Equal(t, uint64(100_000)-total, e.balance(alice.id))
	assert.Equal(t, uint64(6), e.contractNonce(alice.id, c.ID))

	docID := createNote(alice.id, c, 6, 1, "hello").Transitions[0].DocumentID
	stored, found, err := e.view().Document(c.ID, "note", docID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, alice.id, stored.Document.OwnerID)
	assert.Equal(t, e.blk.Time, stored.Document.CreatedAt)

	// replaying the same bytes is rejected without touching state
	before := e.balance(alice.id)
	res = e.process(raw)
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.InvalidIdentityNonceError{}, res.Errors[0])
	assert.False(t, res.Charged)
	assert.Equal(t, before, e.balance(alice.id))
	assert.Equal(t, uint64(6), e.contractNonce(alice.id, c.ID))

	e.verifyCredits()
}

func TestWeakKeyIsRejectedUnpaid(t *testing.T) {
	e := newTestEnv(t)
	bob := e.newIdentity(50_000)
	carol := e.newIdentity(0)

	transfer := &dpp.IdentityCreditTransfer{
		IdentityID:    bob.id,
		RecipientID:   carol.id,
		Amount:        1_000,
		IdentityNonce: 1,
	}
	res := e.process(bob.sign(t, mediumTransferKey, transfer))
	require.Len(t, res.Errors, 1)
	var notMet *dpp.PublicKeySecurityLevelNotMetError
	require.ErrorAs(t, res.Errors[0], &notMet)
	assert.Equal(t, dpp.Medium, notMet.Level)
	assert.False(t, res.Charged)
	assert.Equal(t, uint64(0), e.identityNonce(bob.id))
	assert.Equal(t, uint64(50_000), e.balance(bob.id))

	// an authentication key has the wrong purpose
	res = e.process(bob.sign(t, criticalKey, transfer))
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.WrongPublicKeyPurposeError{}, res.Errors[0])
}

func TestTransfer(t *testing.T) {
	e := newTestEnv(t)
	bob := e.newIdentity(50_000)
	carol := e.newIdentity(0)

	res := e.process(bob.sign(t, transferKey, &dpp.IdentityCreditTransfer{
		IdentityID:    bob.id,
		RecipientID:   carol.id,
		Amount:        1_000,
		IdentityNonce: 1,
	}))
	require.True(t, res.Valid(), "%v", res.Errors)
	total, err := res.Fee.Total()
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000)-1_000-total, e.balance(bob.id))
	assert.Equal(t, uint64(1_000), e.balance(carol.id))
	assert.Equal(t, uint64(1), e.identityNonce(bob.id))

	// the amount plus the fee must be covered
	res = e.process(bob.sign(t, transferKey, &dpp.IdentityCreditTransfer{
		IdentityID:    bob.id,
		RecipientID:   carol.id,
		Amount:        e.balance(bob.id),
		IdentityNonce: 2,
	}))
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.IdentityInsufficientBalanceError{}, res.Errors[0])
	assert.False(t, res.Charged)
	assert.Equal(t, uint64(1), e.identityNonce(bob.id))

	e.verifyCredits()
}

func TestStateFailureBumpsNonceAndCharges(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newIdentity(100_000)
	c := noteContract(alice.id)
	e.seed(func(b *drive.Batch) {
		require.NoError(t, b.InsertContract(c, alice.id))
	})

	batch := createNote(alice.id, c, 1, 1, "hello")
	batch.Transitions[0].DocumentType = "missing"
	res := e.process(alice.sign(t, highKey, batch))
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.DocumentTypeNotFoundError{}, res.Errors[0])
	assert.False(t, res.Valid())
	require.True(t, res.Charged)

	total, err := res.Fee.Total()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000)-total, e.balance(alice.id))
	assert.Equal(t, uint64(1), e.contractNonce(alice.id, c.ID))

	// the consumed nonce cannot be reused
	res = e.process(alice.sign(t, highKey, createNote(alice.id, c, 1, 2, "again")))
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.InvalidIdentityNonceError{}, res.Errors[0])

	e.verifyCredits()
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newIdentity(1_000_000)
	c := noteContract(alice.id)
	c.DocumentTypes[0].Indices = []dpp.Index{
		{Name: "byMessage", Properties: []string{"message"}, Unique: true},
	}
	e.seed(func(b *drive.Batch) {
		require.NoError(t, b.InsertContract(c, alice.id))
	})

	expectDuplicate := func(res *Result, nonce uint64) {
		require.Len(t, res.Errors, 1)
		var dup *dpp.DuplicateUniqueIndexError
		require.ErrorAs(t, res.Errors[0], &dup)
		assert.Equal(t, "byMessage", dup.Index)
		assert.True(t, res.Charged)
		assert.Equal(t, nonce, e.contractNonce(alice.id, c.ID))
	}

	// two creates claiming the same value in one batch
	batch := createNote(alice.id, c, 1, 1, "hello")
	twin := createNote(alice.id, c, 1, 2, "hello")
	batch.Transitions = append(batch.Transitions, twin.Transitions[0])
	expectDuplicate(e.process(alice.sign(t, highKey, batch)), 1)
	_, found, err := e.view().Document(c.ID, "note", batch.Transitions[0].DocumentID)
	require.NoError(t, err)
	assert.False(t, found)

	res := e.process(alice.sign(t, highKey, createNote(alice.id, c, 2, 1, "hello")))
	require.True(t, res.Valid(), "%v", res.Errors)

	// a create colliding with a stored document
	expectDuplicate(e.process(alice.sign(t, highKey, createNote(alice.id, c, 3, 3, "hello"))), 3)

	// a replace moving another document onto the stored value
	other := createNote(alice.id, c, 4, 4, "other")
	res = e.process(alice.sign(t, highKey, other))
	require.True(t, res.Valid(), "%v", res.Errors)
	replace := &dpp.DocumentsBatch{
		Owner:                 alice.id,
		ContractID:            c.ID,
		IdentityContractNonce: 5,
		Transitions: []dpp.DocumentTransition{{
			Action:       dpp.ReplaceDocument,
			DocumentType: "note",
			DocumentID:   other.Transitions[0].DocumentID,
			Revision:     2,
			Data:         []byte(`{"message":"hello"}`),
		}},
	}
	expectDuplicate(e.process(alice.sign(t, highKey, replace)), 5)
	stored, found, err := e.view().Document(c.ID, "note", other.Transitions[0].DocumentID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), stored.Document.Revision)

	e.verifyCredits()
}

func TestIdentityCreateFromAssetLock(t *testing.T) {
	e := newTestEnv(t)
	factory := avacrypto.FactorySECP256K1R{}
	lockKey, err := factory.NewPrivateKey()
	require.NoError(t, err)
	masterSK, err := factory.NewPrivateKey()
	require.NoError(t, err)

	lock := dpp.AssetLock{
		OutPoint:   dpp.OutPoint{TxID: ids.GenerateTestID(), Index: 1},
		Credits:    50_000,
		PubKeyHash: crypto.Hash160(lockKey.PublicKey().Bytes()),
	}
	e.seed(func(b *drive.Batch) {
		require.NoError(t, b.PutAssetLock(nil, &drive.AssetLockRecord{Lock: lock}))
	})

	create := &dpp.IdentityCreate{
		AssetLock: lock.OutPoint,
		PublicKeys: []dpp.IdentityPublicKey{{
			ID:            0,
			Purpose:       dpp.Authentication,
			SecurityLevel: dpp.Master,
			Type:          crypto.ECDSASecp256k1,
			Data:          masterSK.PublicKey().Bytes(),
		}},
	}
	st := &dpp.StateTransition{Unsigned: create}
	require.NoError(t, st.Sign(0, lockKey.Sign))

	res := e.process(st.Bytes())
	require.True(t, res.Valid(), "%v", res.Errors)
	total, err := res.Fee.Total()
	require.NoError(t, err)

	id := dpp.IdentityIDFromOutPoint(lock.OutPoint)
	identity, found, err := e.view().Identity(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, lock.Credits-total, identity.Balance)
	require.Len(t, identity.PublicKeys, 1)

	record, found, err := e.view().AssetLock(lock.OutPoint)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, record.Spent)

	// the lock funds one identity only
	res = e.process(st.Bytes())
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.AssetLockAlreadySpentError{}, res.Errors[0])

	e.verifyCredits()
}

func domainCreate(owner ids.ID, nonce uint64, label string) *dpp.DocumentsBatch {
	entropy := [32]byte{0xd}
	data := `{"label":"` + label + `","normalizedLabel":"` + validation.NormalizeLabel(label) + `","parentDomainName":"dash"}`
	return &dpp.DocumentsBatch{
		Owner:                 owner,
		ContractID:            contracts.DPNSID,
		IdentityContractNonce: nonce,
		Transitions: []dpp.DocumentTransition{{
			Action:       dpp.CreateDocument,
			DocumentType: contracts.DomainType,
			DocumentID:   dpp.DocumentID(contracts.DPNSID, owner, contracts.DomainType, entropy),
			Entropy:      entropy,
			Revision:     1,
			Data:         []byte(data),
		}},
	}
}

func TestContestedNameOpensPoll(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newIdentity(100_000)
	bob := e.newIdentity(100_000)

	first := domainCreate(alice.id, 1, "Alice")
	res := e.process(alice.sign(t, highKey, first))
	require.True(t, res.Valid(), "%v", res.Errors)

	second := domainCreate(bob.id, 1, "Alice")
	res = e.process(bob.sign(t, highKey, second))
	require.True(t, res.Valid(), "%v", res.Errors)

	pollID := dpp.VotePollID(contracts.DPNSID, contracts.DomainType, "parentNameAndLabel",
		[][]byte{[]byte("dash"), []byte(validation.NormalizeLabel("Alice"))})
	poll, found, err := e.view().Poll(pollID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, poll.Contenders, 2)
	assert.Equal(t, alice.id, poll.Contenders[0].IdentityID)
	assert.Equal(t, bob.id, poll.Contenders[1].IdentityID)

	// the first claimant holds the name until the poll resolves
	_, found, err = e.view().Document(contracts.DPNSID, contracts.DomainType, first.Transitions[0].DocumentID)
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = e.view().Document(contracts.DPNSID, contracts.DomainType, second.Transitions[0].DocumentID)
	require.NoError(t, err)
	assert.False(t, found)

	// a bad normalized label is rejected by the name service trigger
	bad := domainCreate(bob.id, 2, "Bob")
	bad.Transitions[0].Data = []byte(`{"label":"Bob","normalizedLabel":"bob","parentDomainName":"dash"}`)
	res = e.process(bob.sign(t, highKey, bad))
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.DataTriggerError{}, res.Errors[0])
	assert.True(t, res.Charged)

	e.verifyCredits()
}

func TestGroupActionExecutesAtThreshold(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newIdentity(100_000)
	bob := e.newIdentity(100_000)

	c := &dpp.DataContract{
		ID:      dpp.ContractID(alice.id, 1),
		OwnerID: alice.id,
		Version: 1,
		DocumentTypes: []dpp.DocumentType{{
			Name:            "mint",
			Properties:      []dpp.Property{{Name: "amount", Type: dpp.IntegerProperty}},
			Required:        []string{"amount"},
			SecurityLevel:   dpp.High,
			GroupControlled: true,
			ControlGroup:    0,
		}},
		Groups: []dpp.Group{{
			Position: 0,
			Members: []dpp.GroupMember{
				{IdentityID: alice.id, Power: 1},
				{IdentityID: bob.id, Power: 1},
			},
			RequiredPower: 2,
		}},
	}
	e.seed(func(b *drive.Batch) {
		require.NoError(t, b.InsertContract(c, alice.id))
	})

	entropy := [32]byte{7}
	transition := dpp.DocumentTransition{
		Action:       dpp.CreateDocument,
		DocumentType: "mint",
		DocumentID:   dpp.DocumentID(c.ID, ids.Empty, "mint", entropy),
		Entropy:      entropy,
		Revision:     1,
		Data:         []byte(`{"amount":10}`),
	}
	batch := func(owner ids.ID) *dpp.DocumentsBatch {
		return &dpp.DocumentsBatch{
			Owner:                 owner,
			ContractID:            c.ID,
			IdentityContractNonce: 1,
			Transitions:           []dpp.DocumentTransition{transition},
		}
	}
	actionID := validation.GroupActionID(c.ID, &transition)

	res := e.process(alice.sign(t, highKey, batch(alice.id)))
	require.True(t, res.Valid(), "%v", res.Errors)
	ga, found, err := e.view().GroupAction(actionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, ga.Executed)
	_, found, err = e.view().Document(c.ID, "mint", transition.DocumentID)
	require.NoError(t, err)
	assert.False(t, found)

	res = e.process(bob.sign(t, highKey, batch(bob.id)))
	require.True(t, res.Valid(), "%v", res.Errors)
	ga, _, err = e.view().GroupAction(actionID)
	require.NoError(t, err)
	assert.True(t, ga.Executed)
	assert.Equal(t, uint64(2), ga.Power())

	stored, found, err := e.view().Document(c.ID, "mint", transition.DocumentID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, alice.id, stored.Document.OwnerID)

	e.verifyCredits()
}

func TestUnparsableTransition(t *testing.T) {
	e := newTestEnv(t)
	res := e.process([]byte{0xff, 0x01})
	require.Len(t, res.Errors, 1)
	assert.IsType(t, &dpp.SerializationError{}, res.Errors[0])
	assert.False(t, res.Charged)
}
