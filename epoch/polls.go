// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package epoch

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/version"
)

// VotingEpochs is how many full epochs a poll stays open after the epoch it
// was opened in.
const VotingEpochs = 1

var errNoContenders = errors.New("poll has no contenders")

// Resolution is the outcome of one poll.
type Resolution struct {
	PollID ids.ID
	// Winner is empty when the value was locked.
	Winner ids.ID
	Locked bool
	Votes  uint64
	// Refund is what the previous holder got back for its document.
	Refund uint64
}

// ResolveFunc closes every poll due at the start of epoch [to].
type ResolveFunc func(v *drive.View, b *drive.Batch, to uint16) ([]Resolution, error)

var Resolvers = version.NewDispatcher[ResolveFunc]("epoch.polls")

func init() {
	Resolvers.Register(version.VotePollResolve, 0, resolvePollsV0)
}

// Due reports whether [poll] closes at the start of epoch [to].
func Due(poll *drive.VotePoll, to uint16) bool {
	return uint32(to) >= uint32(poll.OpenedEpoch)+1+VotingEpochs
}

// resolvePollsV0 awards each due poll to the contender with the most votes,
// the earliest contender winning ties. A lock vote count above the winner's
// retires the value: the holder's document is released with a refund and the
// index claim stays, pointing at no document.
func resolvePollsV0(v *drive.View, b *drive.Batch, to uint16) ([]Resolution, error) {
	polls, err := v.OpenPolls()
	if err != nil {
		return nil, err
	}
	var resolved []Resolution
	for _, poll := range polls {
		if !Due(poll, to) {
			continue
		}
		r, err := resolvePoll(v, b, poll, to)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", poll.ID, err)
		}
		resolved = append(resolved, *r)
	}
	return resolved, nil
}

func resolvePoll(v *drive.View, b *drive.Batch, poll *drive.VotePoll, to uint16) (*Resolution, error) {
	if len(poll.Contenders) == 0 {
		return nil, errNoContenders
	}
	tally, err := v.Tally(poll.ID)
	if err != nil {
		return nil, err
	}
	winner := &poll.Contenders[0]
	best := tally.Towards[winner.IdentityID]
	for i := 1; i < len(poll.Contenders); i++ {
		c := &poll.Contenders[i]
		if n := tally.Towards[c.IdentityID]; n > best {
			winner, best = c, n
		}
	}

	holder := &poll.Contenders[0]
	held, found, err := v.Document(poll.ContractID, poll.DocumentType, holder.Document.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("held document %s is missing", holder.Document.ID)
	}
	entry, found, err := v.UniqueIndex(poll.ContractID, poll.DocumentType, poll.IndexName, poll.IndexValues)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("index claim %s is missing", poll.IndexName)
	}

	r := &Resolution{PollID: poll.ID}
	next := *poll
	next.Resolved = true
	switch {
	case tally.Lock > best:
		refund, err := b.ReleaseDocument(held, to)
		if err != nil {
			return nil, err
		}
		if err := b.ReassignUniqueIndex(poll.ContractID, poll.DocumentType, poll.IndexName, poll.IndexValues, entry, ids.Empty); err != nil {
			return nil, err
		}
		next.Locked = true
		r.Locked = true
		r.Votes = tally.Lock
		r.Refund = refund
	case winner.IdentityID != holder.IdentityID:
		doc := winner.Document
		if err := b.HandOverDocument(held, &doc, winner.IdentityID); err != nil {
			return nil, err
		}
		if err := b.ReassignUniqueIndex(poll.ContractID, poll.DocumentType, poll.IndexName, poll.IndexValues, entry, doc.ID); err != nil {
			return nil, err
		}
		fallthrough
	default:
		next.Winner = winner.IdentityID
		r.Winner = winner.IdentityID
		r.Votes = best
	}
	if err := b.PutPoll(poll, &next); err != nil {
		return nil, err
	}

	voters, err := v.PollVoters(poll.ID)
	if err != nil {
		return nil, err
	}
	for _, proTxHash := range voters {
		b.DeleteVote(poll.ID, proTxHash)
	}
	return r, nil
}
