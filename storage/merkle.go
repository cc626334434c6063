// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var (
	errProofMismatch = errors.New("proof does not match the queried value")

	emptyRoot = ids.ID(trie.NewEmpty(trie.NewDatabase(memorydb.New())).Hash())
)

// merkle is a Merkle Patricia trie over every committed key. Leaves commit
// to the sha256 of the stored value.
type merkle struct {
	trie *trie.Trie
}

func newMerkle() (*merkle, error) {
	return &merkle{trie: trie.NewEmpty(trie.NewDatabase(memorydb.New()))}, nil
}

func merkleKey(tree TreeID, key []byte) []byte {
	k := make([]byte, 0, 1+len(key))
	k = append(k, byte(tree))
	return append(k, key...)
}

func (m *merkle) update(key, value []byte) error {
	if value == nil {
		return m.trie.TryDelete(key)
	}
	return m.trie.TryUpdate(key, hashing.ComputeHash256(value))
}

func (m *merkle) root() ids.ID {
	return ids.ID(m.trie.Hash())
}

func (m *merkle) prove(key []byte) ([][]byte, error) {
	proofDB := memorydb.New()
	if err := m.trie.Prove(key, 0, proofDB); err != nil {
		return nil, err
	}
	it := proofDB.NewIterator(nil, nil)
	defer it.Release()

	var nodes [][]byte
	for it.Next() {
		nodes = append(nodes, common.CopyBytes(it.Value()))
	}
	return nodes, it.Error()
}

// ProofEntry proves the value of one key. A nil Value proves absence.
type ProofEntry struct {
	Key   []byte   `json:"key"`
	Value []byte   `json:"value"`
	Nodes [][]byte `json:"nodes"`
}

// Proof authenticates query results against a state root.
type Proof struct {
	Root    ids.ID       `json:"root"`
	Tree    TreeID       `json:"tree"`
	Entries []ProofEntry `json:"entries"`
}

// Verify checks every entry of [p] against [p.Root].
func (p *Proof) Verify() error {
	for _, e := range p.Entries {
		if p.Root == emptyRoot && e.Value == nil {
			continue
		}
		db := memorydb.New()
		for _, node := range e.Nodes {
			if err := db.Put(ethcrypto.Keccak256(node), node); err != nil {
				return err
			}
		}
		leaf, err := trie.VerifyProof(common.Hash(p.Root), merkleKey(p.Tree, e.Key), db)
		if err != nil {
			return fmt.Errorf("invalid proof for key %x: %w", e.Key, err)
		}
		switch {
		case e.Value == nil && leaf == nil:
		case e.Value != nil && leaf != nil && common.BytesToHash(leaf) == common.BytesToHash(hashing.ComputeHash256(e.Value)):
		default:
			return fmt.Errorf("%w: key %x", errProofMismatch, e.Key)
		}
	}
	return nil
}
