// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drive

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/cache/metercacher"
	"github.com/ava-labs/avalanchego/ids"
)

// cachedContract is a decoded contract and the size of its stored form. The
// size is what reads are metered by, so hits and misses cost the same.
type cachedContract struct {
	contract *StoredContract
	size     int
}

// ContractCache holds decoded contracts in two layers. The block layer sees
// the contracts written by the open block and is merged into the committed
// layer only when the block commits.
type ContractCache struct {
	lock      sync.Mutex
	block     map[ids.ID]cachedContract
	committed cache.Cacher
}

func NewContractCache(size int, registerer prometheus.Registerer) (*ContractCache, error) {
	committed, err := metercacher.New(
		"contract_cache",
		registerer,
		&cache.LRU{Size: size},
	)
	if err != nil {
		return nil, err
	}
	return &ContractCache{
		block:     make(map[ids.ID]cachedContract),
		committed: committed,
	}, nil
}

func (c *ContractCache) get(id ids.ID, includeBlock bool) (cachedContract, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if includeBlock {
		if entry, ok := c.block[id]; ok {
			return entry, true
		}
	}
	entry, ok := c.committed.Get(id)
	if !ok {
		return cachedContract{}, false
	}
	return entry.(cachedContract), true
}

// stage records a contract written in the open block.
func (c *ContractCache) stage(id ids.ID, entry cachedContract) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.block[id] = entry
}

// warm records a contract read from state the open block has not written.
func (c *ContractCache) warm(id ids.ID, entry cachedContract) {
	c.committed.Put(id, entry)
}

// Merge promotes the block layer after a successful commit.
func (c *ContractCache) Merge() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for id, entry := range c.block {
		c.committed.Put(id, entry)
	}
	c.block = make(map[ids.ID]cachedContract)
}

// Discard drops the block layer.
func (c *ContractCache) Discard() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.block = make(map[ids.ID]cachedContract)
}

func (c *ContractCache) Flush() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.block = make(map[ids.ID]cachedContract)
	c.committed.Flush()
}
