// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package drive is the typed, metered access layer over the storage trees.
package drive

import (
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/storage"
)

// Reader is the read side shared by committed state and transactions.
type Reader interface {
	Get(tree storage.TreeID, key []byte) ([]byte, error)
	Iterate(tree storage.TreeID, prefix []byte, fn func(key, value []byte) (bool, error)) error
}

var (
	_ Reader = &storage.Store{}
	_ Reader = &storage.Txn{}
)

// Drive ties the store to the contract cache.
type Drive struct {
	store     *storage.Store
	contracts *ContractCache
	log       log.Logger
}

func New(store *storage.Store, contracts *ContractCache) *Drive {
	return &Drive{
		store:     store,
		contracts: contracts,
		log:       log.New("module", "drive"),
	}
}

func (d *Drive) Store() *storage.Store { return d.store }

func (d *Drive) Contracts() *ContractCache { return d.contracts }

// View reads [txn], metering every read into [meter] when it is not nil.
func (d *Drive) View(txn *storage.Txn, meter *fee.ExecutionContext) *View {
	return &View{
		r:         txn,
		meter:     meter,
		contracts: d.contracts,
		block:     true,
	}
}

// Committed reads the last committed state without metering.
func (d *Drive) Committed() *View {
	return &View{
		r:         d.store,
		contracts: d.contracts,
	}
}

// Apply writes [b] into a transaction nested in [parent] and commits it into
// [parent]. On any error [parent] is left untouched.
func (d *Drive) Apply(parent *storage.Txn, b *Batch) error {
	nested, err := parent.Nested()
	if err != nil {
		return err
	}
	defer nested.Abort()

	if err := b.apply(nested); err != nil {
		return err
	}
	if err := nested.Commit(); err != nil {
		return err
	}
	for id, entry := range b.contracts {
		d.contracts.stage(id, entry)
	}
	return nil
}
