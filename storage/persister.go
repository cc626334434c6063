// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/ava-labs/avalanchego/database"
)

var _ Persister = &LevelDBPersister{}

// KeyValueWriter receives replayed writes.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Persister durably records committed batches and restores them at startup.
type Persister interface {
	Load(w KeyValueWriter) error
	Write(batch database.Batch) error
	Close() error
}

// LevelDBPersister keeps the committed state in a LevelDB directory. A
// commit is one synced LevelDB batch, so a crash never leaves half a block.
type LevelDBPersister struct {
	db *leveldb.DB
}

// NewLevelDBPersister opens or creates the database at [path].
func NewLevelDBPersister(path string) (*LevelDBPersister, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDBPersister{db: db}, nil
}

func (p *LevelDBPersister) Load(w KeyValueWriter) error {
	it := p.db.NewIterator(nil, nil)
	defer it.Release()

	for it.Next() {
		// the iterator reuses its buffers
		key := append([]byte{}, it.Key()...)
		value := append([]byte{}, it.Value()...)
		if err := w.Put(key, value); err != nil {
			return err
		}
	}
	return it.Error()
}

type levelBatch struct{ b *leveldb.Batch }

func (l levelBatch) Put(key, value []byte) error {
	l.b.Put(key, value)
	return nil
}

func (l levelBatch) Delete(key []byte) error {
	l.b.Delete(key)
	return nil
}

func (p *LevelDBPersister) Write(batch database.Batch) error {
	lb := levelBatch{b: new(leveldb.Batch)}
	if err := batch.Replay(lb); err != nil {
		return err
	}
	return p.db.Write(lb.b, &opt.WriteOptions{Sync: true})
}

func (p *LevelDBPersister) Close() error {
	return p.db.Close()
}
