// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package resultlog keeps the per transition results of every committed
// block, keyed by height.
package resultlog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	log "github.com/inconshreveable/log15"
)

const codecVersion = 0

var (
	ErrNotFound       = errors.New("no results at height")
	errWrongVersion   = errors.New("wrong codec version")
	errHeightNotAfter = errors.New("height does not follow the last logged height")

	lastHeightKey = []byte("last")

	resultCodec codec.Manager
)

func init() {
	c := linearcodec.NewDefault()
	resultCodec = codec.NewDefaultManager()

	errs := wrappers.Errs{}
	errs.Add(
		c.RegisterType(&Block{}),
	)
	errs.Add(
		resultCodec.RegisterCodec(codecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

// Error is a consensus error reported for a transition.
type Error struct {
	Code    uint32 `serialize:"true" json:"code"`
	Message string `serialize:"true" json:"message"`
}

// TransitionResult is the outcome of one transition.
type TransitionResult struct {
	TransitionID  ids.ID  `serialize:"true" json:"transitionId"`
	Kind          string  `serialize:"true" json:"kind"`
	Valid         bool    `serialize:"true" json:"valid"`
	Errors        []Error `serialize:"true" json:"errors"`
	StorageFee    uint64  `serialize:"true" json:"storageFee"`
	ProcessingFee uint64  `serialize:"true" json:"processingFee"`
	Refunded      uint64  `serialize:"true" json:"refunded"`
	// Charged is false for failures that were reported but not debited.
	Charged bool `serialize:"true" json:"charged"`
}

// Block is the result record of one committed block.
type Block struct {
	Height   uint64             `serialize:"true" json:"height"`
	Time     uint64             `serialize:"true" json:"time"`
	AppHash  ids.ID             `serialize:"true" json:"appHash"`
	Protocol uint32             `serialize:"true" json:"protocolVersion"`
	Epoch    uint16             `serialize:"true" json:"epoch"`
	Results  []TransitionResult `serialize:"true" json:"results"`
}

// Log is a LevelDB backed result log with an LRU cache of recent blocks.
type Log struct {
	lock  sync.Mutex
	db    *leveldb.DB
	cache cache.Cacher
	log   log.Logger
}

// Open opens or creates the log at [path].
func Open(path string, cacheSize int) (*Log, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open result log at %s: %w", path, err)
	}
	return newLog(db, cacheSize), nil
}

// OpenMemory returns a log that is lost on close.
func OpenMemory(cacheSize int) (*Log, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newLog(db, cacheSize), nil
}

func newLog(db *leveldb.DB, cacheSize int) *Log {
	return &Log{
		db:    db,
		cache: &cache.LRU{Size: cacheSize},
		log:   log.New("module", "resultlog"),
	}
}

// Put appends the results of the block at [blk.Height]. Heights must
// increase. Writing the last height again overwrites it, so a block can be
// logged again after a crash between commit and logging.
func (l *Log) Put(blk *Block) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	last, found, err := l.last()
	if err != nil {
		return err
	}
	if found && blk.Height < last {
		return fmt.Errorf("%w: %d after %d", errHeightNotAfter, blk.Height, last)
	}
	b, err := resultCodec.Marshal(codecVersion, blk)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(database.PackUInt64(blk.Height), b)
	batch.Put(lastHeightKey, database.PackUInt64(blk.Height))
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write results of height %d: %w", blk.Height, err)
	}
	l.cache.Put(blk.Height, blk)
	l.log.Debug("results logged", "height", blk.Height, "transitions", len(blk.Results))
	return nil
}

// Get returns the results of the block at [height].
func (l *Log) Get(height uint64) (*Block, error) {
	if blk, ok := l.cache.Get(height); ok {
		return blk.(*Block), nil
	}
	b, err := l.db.Get(database.PackUInt64(height), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w %d", ErrNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	blk := &Block{}
	parsed, err := resultCodec.Unmarshal(b, blk)
	if err != nil {
		return nil, err
	}
	if parsed != codecVersion {
		return nil, errWrongVersion
	}
	l.cache.Put(height, blk)
	return blk, nil
}

// Last returns the highest logged height.
func (l *Log) Last() (uint64, bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.last()
}

func (l *Log) last() (uint64, bool, error) {
	b, err := l.db.Get(lastHeightKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	height, err := database.ParseUInt64(b)
	return height, true, err
}

func (l *Log) Close() error {
	l.cache.Flush()
	return l.db.Close()
}
