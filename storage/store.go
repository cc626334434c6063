// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage is the transactional, Merkleized key/value store the
// engine applies blocks to.
package storage

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
)

// TreeID is the single byte root key of a logical tree.
type TreeID byte

const (
	Balances   TreeID = 0x01
	Identities TreeID = 0x02
	Contracts  TreeID = 0x03
	Documents  TreeID = 0x04
	Pools      TreeID = 0x05
	Votes      TreeID = 0x06
	Misc       TreeID = 0x07
)

// Trees lists every root tree.
var Trees = []TreeID{Balances, Identities, Contracts, Documents, Pools, Votes, Misc}

func (t TreeID) prefix() []byte { return []byte{byte(t)} }

func (t TreeID) String() string {
	switch t {
	case Balances:
		return "balances"
	case Identities:
		return "identities"
	case Contracts:
		return "contracts"
	case Documents:
		return "documents"
	case Pools:
		return "pools"
	case Votes:
		return "votes"
	case Misc:
		return "misc"
	default:
		return fmt.Sprintf("tree(%d)", byte(t))
	}
}

// ParseTree returns the tree named [name].
func ParseTree(name string) (TreeID, error) {
	for _, t := range Trees {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w %q", errUnknownTree, name)
}

var (
	errUnknownTree     = errors.New("unknown tree")
	ErrTransactionOpen = errors.New("a block transaction is already open")
	errNotCurrent      = errors.New("transaction is not the open block transaction")
	errCommitRoot      = errors.New("block transactions are committed through the store")
)

// Store holds the committed state, at most one open block transaction and
// the Merkle tree over the committed state.
type Store struct {
	// lock orders committed reads against commits
	lock sync.RWMutex

	base      *memdb.Database
	committed map[TreeID]*prefixdb.Database
	persister Persister
	merkle    *merkle

	txnLock sync.Mutex
	txn     *Txn

	log log.Logger
}

// New opens a store. When [persister] is not nil the committed state is
// loaded from it and every commit is written through it.
func New(persister Persister) (*Store, error) {
	s := &Store{
		base:      memdb.New(),
		committed: make(map[TreeID]*prefixdb.Database, len(Trees)),
		persister: persister,
		log:       log.New("module", "storage"),
	}
	for _, t := range Trees {
		s.committed[t] = prefixdb.New(t.prefix(), s.base)
	}
	if persister != nil {
		if err := persister.Load(s.base); err != nil {
			return nil, fmt.Errorf("failed to load committed state: %w", err)
		}
	}
	m, err := newMerkle()
	if err != nil {
		return nil, err
	}
	s.merkle = m
	for _, t := range Trees {
		tree := t
		err := iterate(s.committed[tree], nil, func(key, value []byte) (bool, error) {
			return true, s.merkle.update(merkleKey(tree, key), value)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild merkle tree of %s: %w", tree, err)
		}
	}
	s.log.Info("store opened", "root", s.merkle.root())
	return s, nil
}

// NewMemory returns a store that keeps everything in memory.
func NewMemory() *Store {
	s, err := New(nil)
	if err != nil {
		// nothing can fail without a persister
		panic(err)
	}
	return s
}

// OpenTransaction starts the block transaction.
func (s *Store) OpenTransaction() (*Txn, error) {
	s.txnLock.Lock()
	defer s.txnLock.Unlock()

	if s.txn != nil {
		return nil, ErrTransactionOpen
	}
	s.txn = newTxn(s.base, nil)
	return s.txn, nil
}

// Current returns the open block transaction, if any.
func (s *Store) Current() (*Txn, bool) {
	s.txnLock.Lock()
	defer s.txnLock.Unlock()

	return s.txn, s.txn != nil
}

// Commit atomically writes the block transaction to the committed state,
// persists it and updates the Merkle root.
func (s *Store) Commit(txn *Txn) error {
	s.txnLock.Lock()
	defer s.txnLock.Unlock()

	if txn == nil || txn != s.txn || txn.closed {
		return errNotCurrent
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	batch, err := txn.db.CommitBatch()
	if err != nil {
		return fmt.Errorf("failed to build commit batch: %w", err)
	}
	if s.persister != nil {
		if err := s.persister.Write(batch); err != nil {
			return fmt.Errorf("failed to persist commit batch: %w", err)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write commit batch: %w", err)
	}
	for k := range txn.dirty {
		tree, key := TreeID(k[0]), []byte(k[1:])
		value, err := s.committed[tree].Get(key)
		switch {
		case err == database.ErrNotFound:
			value = nil
		case err != nil:
			return err
		}
		if err := s.merkle.update([]byte(k), value); err != nil {
			return fmt.Errorf("failed to update merkle tree: %w", err)
		}
	}
	txn.db.Abort()
	txn.close()
	s.txn = nil
	return nil
}

// Rollback discards the open block transaction. It is a no-op when no
// transaction is open.
func (s *Store) Rollback() {
	s.txnLock.Lock()
	defer s.txnLock.Unlock()

	if s.txn == nil {
		return
	}
	s.txn.Abort()
	s.txn = nil
}

// Get reads committed state. It never observes the open transaction.
func (s *Store) Get(tree TreeID, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	db, ok := s.committed[tree]
	if !ok {
		return nil, fmt.Errorf("unknown tree %s", tree)
	}
	return db.Get(key)
}

// Iterate walks committed state of [tree] under [prefix].
func (s *Store) Iterate(tree TreeID, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	s.lock.RLock()
	defer s.lock.RUnlock()

	db, ok := s.committed[tree]
	if !ok {
		return fmt.Errorf("unknown tree %s", tree)
	}
	return iterate(db, prefix, fn)
}

// Root is the Merkle root of the committed state.
func (s *Store) Root() ids.ID {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.merkle.root()
}

// PathQuery selects keys of one tree to prove.
type PathQuery struct {
	Tree TreeID
	Keys [][]byte
}

// ProveQuery returns inclusion or absence proofs of the queried keys against
// the committed root.
func (s *Store) ProveQuery(q PathQuery) (*Proof, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	db, ok := s.committed[q.Tree]
	if !ok {
		return nil, fmt.Errorf("unknown tree %s", q.Tree)
	}
	proof := &Proof{Root: s.merkle.root(), Tree: q.Tree}
	for _, key := range q.Keys {
		value, err := db.Get(key)
		switch {
		case err == database.ErrNotFound:
			value = nil
		case err != nil:
			return nil, err
		}
		nodes, err := s.merkle.prove(merkleKey(q.Tree, key))
		if err != nil {
			return nil, err
		}
		proof.Entries = append(proof.Entries, ProofEntry{Key: key, Value: value, Nodes: nodes})
	}
	return proof, nil
}

// Close closes the persister.
func (s *Store) Close() error {
	s.Rollback()
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}
