// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
)

var errTxnClosed = errors.New("transaction is closed")

// Txn is a transaction over the store. The block transaction sits on the
// committed base; per transition transactions nest inside it.
type Txn struct {
	db     *versiondb.Database
	parent *Txn
	trees  map[TreeID]*prefixdb.Database
	// keys written in this transaction, merged into the parent on commit
	dirty  map[string]struct{}
	closed bool
}

func newTxn(db database.Database, parent *Txn) *Txn {
	return &Txn{
		db:     versiondb.New(db),
		parent: parent,
		trees:  make(map[TreeID]*prefixdb.Database),
		dirty:  make(map[string]struct{}),
	}
}

func (t *Txn) tree(id TreeID) *prefixdb.Database {
	db, ok := t.trees[id]
	if !ok {
		db = prefixdb.New(id.prefix(), t.db)
		t.trees[id] = db
	}
	return db
}

// Get returns database.ErrNotFound when [key] is absent from [tree].
func (t *Txn) Get(tree TreeID, key []byte) ([]byte, error) {
	if t.closed {
		return nil, errTxnClosed
	}
	return t.tree(tree).Get(key)
}

func (t *Txn) Has(tree TreeID, key []byte) (bool, error) {
	if t.closed {
		return false, errTxnClosed
	}
	return t.tree(tree).Has(key)
}

func (t *Txn) Put(tree TreeID, key, value []byte) error {
	if t.closed {
		return errTxnClosed
	}
	if err := t.tree(tree).Put(key, value); err != nil {
		return err
	}
	t.dirty[string(merkleKey(tree, key))] = struct{}{}
	return nil
}

func (t *Txn) Delete(tree TreeID, key []byte) error {
	if t.closed {
		return errTxnClosed
	}
	if err := t.tree(tree).Delete(key); err != nil {
		return err
	}
	t.dirty[string(merkleKey(tree, key))] = struct{}{}
	return nil
}

// Iterate calls [fn] for every key of [tree] starting with [prefix] in key
// order until [fn] returns false.
func (t *Txn) Iterate(tree TreeID, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	if t.closed {
		return errTxnClosed
	}
	return iterate(t.tree(tree), prefix, fn)
}

func iterate(db database.Iteratee, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	it := db.NewIteratorWithPrefix(prefix)
	defer it.Release()

	for it.Next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

// Nested opens a transaction inside [t]. Committing it makes its writes
// visible in [t]; aborting it leaves [t] untouched.
func (t *Txn) Nested() (*Txn, error) {
	if t.closed {
		return nil, errTxnClosed
	}
	return newTxn(t.db, t), nil
}

// Commit flushes a nested transaction into its parent. The block
// transaction is committed through Store.Commit instead.
func (t *Txn) Commit() error {
	if t.closed {
		return errTxnClosed
	}
	if t.parent == nil {
		return errCommitRoot
	}
	if err := t.db.Commit(); err != nil {
		return err
	}
	for k := range t.dirty {
		t.parent.dirty[k] = struct{}{}
	}
	t.close()
	return nil
}

// Abort discards every write of the transaction. It is a no-op on a closed
// transaction.
func (t *Txn) Abort() {
	if t.closed {
		return
	}
	t.db.Abort()
	t.close()
}

func (t *Txn) close() {
	t.closed = true
	t.dirty = nil
	t.trees = nil
}

// Closed reports whether the transaction was committed or aborted.
func (t *Txn) Closed() bool { return t.closed }
