// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

var errDuplicateMasternode = errors.New("masternode listed twice in one diff")

// MasternodeEntry is one masternode of the core chain list.
type MasternodeEntry struct {
	ProTxHash ids.ID `json:"proTxHash"`
	// OwnerKeyHash and VotingKeyHash are hash160 of the core chain keys.
	OwnerKeyHash  []byte `json:"ownerKeyHash"`
	VotingKeyHash []byte `json:"votingKeyHash"`
}

// MasternodeDiff is the change of the masternode list since the previous
// block.
type MasternodeDiff struct {
	Upserted []MasternodeEntry `json:"upserted"`
	Removed  []ids.ID          `json:"removed"`
}

func (d *MasternodeDiff) Empty() bool {
	return d == nil || (len(d.Upserted) == 0 && len(d.Removed) == 0)
}

// MasternodeUpdateFunc keeps the owner and voting identities of the
// masternodes in line with [diff]. [blockTime] disables replaced keys.
type MasternodeUpdateFunc func(v *drive.View, b *drive.Batch, diff *MasternodeDiff, blockTime uint64) error

var MasternodeUpdaters = version.NewDispatcher[MasternodeUpdateFunc]("masternode")

func init() {
	MasternodeUpdaters.Register(version.MasternodeUpdate, 0, updateMasternodesV0)
}

// updateMasternodesV0 gives each masternode an owner identity with the
// pro tx hash as its ID, which receives the payouts, and a voting identity
// derived from the voting key. Changing the voting key or removing the
// masternode disables the key of the old voting identity.
func updateMasternodesV0(v *drive.View, b *drive.Batch, diff *MasternodeDiff, blockTime uint64) error {
	seen := make(map[ids.ID]struct{}, len(diff.Upserted)+len(diff.Removed))
	for _, e := range diff.Upserted {
		seen[e.ProTxHash] = struct{}{}
	}
	for _, proTxHash := range diff.Removed {
		seen[proTxHash] = struct{}{}
	}
	if len(seen) != len(diff.Upserted)+len(diff.Removed) {
		return errDuplicateMasternode
	}

	upserted := append([]MasternodeEntry(nil), diff.Upserted...)
	sort.Slice(upserted, func(i, j int) bool {
		return bytes.Compare(upserted[i].ProTxHash[:], upserted[j].ProTxHash[:]) < 0
	})
	for i := range upserted {
		if err := upsertMasternode(v, b, &upserted[i], blockTime); err != nil {
			return fmt.Errorf("masternode %s: %w", upserted[i].ProTxHash, err)
		}
	}

	removed := append([]ids.ID(nil), diff.Removed...)
	sort.Slice(removed, func(i, j int) bool {
		return bytes.Compare(removed[i][:], removed[j][:]) < 0
	})
	for _, proTxHash := range removed {
		mn, found, err := v.Masternode(proTxHash)
		if err != nil {
			return err
		}
		if !found || !mn.Enabled {
			continue
		}
		if err := setVotingKey(v, b, mn.VoterIdentity, blockTime); err != nil {
			return err
		}
		next := *mn
		next.Enabled = false
		if err := b.PutMasternode(mn, &next); err != nil {
			return err
		}
	}
	return nil
}

func upsertMasternode(v *drive.View, b *drive.Batch, e *MasternodeEntry, blockTime uint64) error {
	if len(e.OwnerKeyHash) != crypto.ECDSAHash160.DataSize() || len(e.VotingKeyHash) != crypto.ECDSAHash160.DataSize() {
		return fmt.Errorf("key hashes must be %d bytes", crypto.ECDSAHash160.DataSize())
	}
	previous, found, err := v.Masternode(e.ProTxHash)
	if err != nil {
		return err
	}
	if !found {
		previous = nil
	}

	if err := ensureIdentity(v, b, e.ProTxHash, dpp.IdentityPublicKey{
		Purpose:       dpp.Owner,
		SecurityLevel: dpp.Critical,
		Type:          crypto.ECDSAHash160,
		ReadOnly:      true,
		Data:          e.OwnerKeyHash,
	}); err != nil {
		return err
	}

	voter := dpp.VoterIdentityID(e.ProTxHash, e.VotingKeyHash)
	if previous != nil && previous.Enabled && previous.VoterIdentity != voter {
		if err := setVotingKey(v, b, previous.VoterIdentity, blockTime); err != nil {
			return err
		}
	}
	if err := ensureIdentity(v, b, voter, dpp.IdentityPublicKey{
		Purpose:       dpp.Voting,
		SecurityLevel: dpp.High,
		Type:          crypto.ECDSAHash160,
		ReadOnly:      true,
		Data:          e.VotingKeyHash,
	}); err != nil {
		return err
	}

	next := &drive.Masternode{
		ProTxHash:      e.ProTxHash,
		OwnerKeyHash:   e.OwnerKeyHash,
		VotingKeyHash:  e.VotingKeyHash,
		PayoutIdentity: e.ProTxHash,
		VoterIdentity:  voter,
		Enabled:        true,
	}
	return b.PutMasternode(previous, next)
}

// ensureIdentity creates [id] with the single [key], or enables the key
// again when the identity already exists.
func ensureIdentity(v *drive.View, b *drive.Batch, id ids.ID, key dpp.IdentityPublicKey) error {
	identity, found, err := v.Identity(id)
	if err != nil {
		return err
	}
	if !found {
		return b.InsertIdentity(&dpp.Identity{ID: id, PublicKeys: []dpp.IdentityPublicKey{key}})
	}
	current, ok := identity.Key(key.ID)
	if !ok || (!current.Disabled() && bytes.Equal(current.Data, key.Data)) {
		return nil
	}
	updated := *identity
	updated.PublicKeys = append([]dpp.IdentityPublicKey(nil), identity.PublicKeys...)
	k, _ := updated.Key(key.ID)
	*k = key
	updated.Revision++
	return b.ReplaceIdentity(identity, &updated)
}

// setVotingKey disables the voting key of [id] at [blockTime].
func setVotingKey(v *drive.View, b *drive.Batch, id ids.ID, blockTime uint64) error {
	identity, found, err := v.Identity(id)
	if err != nil || !found {
		return err
	}
	k, ok := identity.Key(0)
	if !ok || k.Disabled() {
		return nil
	}
	updated := *identity
	updated.PublicKeys = append([]dpp.IdentityPublicKey(nil), identity.PublicKeys...)
	k, _ = updated.Key(0)
	k.DisabledAt = blockTime
	updated.Revision++
	return b.ReplaceIdentity(identity, &updated)
}
