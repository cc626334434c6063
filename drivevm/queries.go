// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/version"
)

var (
	ErrNotFound      = errors.New("not found")
	errNoResultLog   = errors.New("result log is disabled")
	errProofTooLarge = errors.New("too many keys in proof query")
)

// committed returns the last committed checkpoint and its rules.
func (vm *VM) committed() (*PlatformState, *version.PlatformVersion, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.platform == nil {
		return nil, nil, errNotInitialized
	}
	return vm.platform.clone(), vm.pv, nil
}

// Initialized reports whether the genesis state has been committed.
func (vm *VM) Initialized() bool {
	vm.lock.Lock()
	defer vm.lock.Unlock()
	return vm.platform != nil
}

// PlatformState returns the last committed checkpoint and the state root.
func (vm *VM) PlatformState() (*PlatformState, ids.ID, error) {
	ps, _, err := vm.committed()
	if err != nil {
		return nil, ids.Empty, err
	}
	return ps, vm.store.Root(), nil
}

func (vm *VM) Identity(id ids.ID) (*dpp.Identity, error) {
	identity, found, err := vm.drive.Committed().Identity(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return identity, nil
}

func (vm *VM) IdentityBalance(id ids.ID) (uint64, error) {
	view := vm.drive.Committed()
	balance, found, err := view.Balance(id)
	if err != nil || found {
		return balance, err
	}
	exists, err := view.IdentityExists(id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return 0, nil
}

func (vm *VM) IdentityNonce(id ids.ID) (uint64, error) {
	return vm.drive.Committed().IdentityNonce(id)
}

func (vm *VM) IdentityContractNonce(id, contractID ids.ID) (uint64, error) {
	return vm.drive.Committed().ContractNonce(id, contractID)
}

// ContractJSON renders contract [id] with the rules of [protocol], or of
// the committed protocol version when [protocol] is zero.
func (vm *VM) ContractJSON(id ids.ID, protocol uint32) ([]byte, error) {
	_, pv, err := vm.committed()
	if err != nil {
		return nil, err
	}
	if protocol != 0 {
		if pv, err = vm.registry.Resolve(version.ProtocolVersion(protocol)); err != nil {
			return nil, err
		}
	}
	stored, found, err := vm.drive.Committed().Contract(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return dpp.ContractToJSON(pv, &stored.Contract)
}

func (vm *VM) Document(contractID ids.ID, documentType string, id ids.ID) (*dpp.Document, error) {
	stored, found, err := vm.drive.Committed().Document(contractID, documentType, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &stored.Document, nil
}

// Documents pages through the documents of one type. A zero [limit] uses the
// default limit and larger limits are capped.
func (vm *VM) Documents(contractID ids.ID, documentType string, after ids.ID, limit uint32) ([]*dpp.Document, error) {
	_, pv, err := vm.committed()
	if err != nil {
		return nil, err
	}
	switch {
	case limit == 0:
		limit = pv.Tuning.DefaultQueryLimit
	case limit > pv.Tuning.MaxQueryLimit:
		limit = pv.Tuning.MaxQueryLimit
	}
	return vm.drive.Committed().Documents(contractID, documentType, after, int(limit))
}

func (vm *VM) EpochInfo(index uint16) (*drive.EpochInfo, error) {
	info, found, err := vm.drive.Committed().Epoch(index)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("epoch %d: %w", index, ErrNotFound)
	}
	return info, nil
}

// Proof proves the committed values of [keys] in [tree].
func (vm *VM) Proof(tree storage.TreeID, keys [][]byte) (*storage.Proof, error) {
	_, pv, err := vm.committed()
	if err != nil {
		return nil, err
	}
	if len(keys) > int(pv.Tuning.MaxQueryLimit) {
		return nil, fmt.Errorf("%w: %d > %d", errProofTooLarge, len(keys), pv.Tuning.MaxQueryLimit)
	}
	return vm.store.ProveQuery(storage.PathQuery{Tree: tree, Keys: keys})
}

func (vm *VM) BlockResults(height uint64) (*resultlog.Block, error) {
	if vm.results == nil {
		return nil, errNoResultLog
	}
	return vm.results.Get(height)
}
