// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"bytes"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/drivevm/action"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/fee"
)

// stateDocumentsBatchV0 rejects group controlled document types.
func stateDocumentsBatchV0(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	return validateDocuments(ctx, st, false)
}

// stateDocumentsBatchV1 collects group approvals for group controlled
// document types.
func stateDocumentsBatchV1(ctx *Context, st *dpp.StateTransition, _ *dpp.Identity) (action.Action, []dpp.ConsensusError, error) {
	return validateDocuments(ctx, st, true)
}

type batchState struct {
	ctx      *Context
	contract *dpp.DataContract
	owner    ids.ID
	groups   bool
	// claimed holds the unique index keys claimed earlier in the batch.
	claimed map[string]ids.ID
}

func validateDocuments(ctx *Context, st *dpp.StateTransition, groups bool) (action.Action, []dpp.ConsensusError, error) {
	t, ok := st.Unsigned.(*dpp.DocumentsBatch)
	if !ok {
		return nil, nil, errUnexpectedTransition
	}
	ctx.meter(fee.FunctionCall(ctx.processing().FetchContract))
	stored, found, err := ctx.View.Contract(t.ContractID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return fail(&dpp.DataContractNotFoundError{ContractID: t.ContractID})
	}

	b := &batchState{
		ctx:      ctx,
		contract: &stored.Contract,
		owner:    t.Owner,
		groups:   groups,
		claimed:  make(map[string]ids.ID),
	}
	var (
		errs []dpp.ConsensusError
		ops  = make([]action.DocumentOp, 0, len(t.Transitions))
	)
	for i := range t.Transitions {
		op, terrs, err := b.transition(&t.Transitions[i])
		if err != nil {
			return nil, nil, err
		}
		if len(terrs) > 0 {
			errs = append(errs, terrs...)
			continue
		}
		ops = append(ops, op)
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	return &action.DocumentsBatch{
		Base:       base(st),
		Owner:      t.Owner,
		ContractID: t.ContractID,
		Nonce:      action.Bump(ctx.nonce),
		Ops:        ops,
	}, nil, nil
}

func (b *batchState) transition(dt *dpp.DocumentTransition) (action.DocumentOp, []dpp.ConsensusError, error) {
	b.ctx.meter(fee.FunctionCall(b.ctx.processing().DocumentTransition))
	docType, ok := b.contract.DocumentType(dt.DocumentType)
	if !ok {
		return action.DocumentOp{}, []dpp.ConsensusError{&dpp.DocumentTypeNotFoundError{
			ContractID:   b.contract.ID,
			DocumentType: dt.DocumentType,
		}}, nil
	}
	if docType.GroupControlled && !b.groups {
		return action.DocumentOp{}, []dpp.ConsensusError{&dpp.GroupNotFoundError{
			ContractID: b.contract.ID,
			Group:      docType.ControlGroup,
		}}, nil
	}

	var (
		op   action.DocumentOp
		errs []dpp.ConsensusError
		err  error
	)
	switch dt.Action {
	case dpp.CreateDocument:
		op, errs, err = b.create(dt, docType)
	case dpp.ReplaceDocument:
		op, errs, err = b.replace(dt, docType)
	default:
		op, errs, err = b.delete(dt, docType)
	}
	if err != nil || len(errs) > 0 {
		return op, errs, err
	}

	errs, err = b.ctx.Triggers.Run(b.ctx, &TriggerInput{
		Contract: b.contract,
		Action:   dt.Action,
		Document: &op.Document,
		Signer:   b.owner,
	})
	if err != nil || len(errs) > 0 {
		return op, errs, err
	}
	if docType.GroupControlled {
		errs, err = b.approve(dt, docType, &op)
	}
	return op, errs, err
}

func (b *batchState) create(dt *dpp.DocumentTransition, docType *dpp.DocumentType) (action.DocumentOp, []dpp.ConsensusError, error) {
	op := action.DocumentOp{Action: dpp.CreateDocument, Owner: b.owner}

	// group documents are shared by every approver, so their IDs cannot
	// depend on the signer
	idOwner := b.owner
	if docType.GroupControlled {
		idOwner = ids.Empty
	}
	if expected := dpp.DocumentID(b.contract.ID, idOwner, docType.Name, dt.Entropy); dt.DocumentID != expected {
		return op, []dpp.ConsensusError{&dpp.InvalidIdentifierError{Field: "$id", Expected: expected, Got: dt.DocumentID}}, nil
	}
	_, exists, err := b.ctx.View.Document(b.contract.ID, docType.Name, dt.DocumentID)
	if err != nil {
		return op, nil, err
	}
	if exists {
		return op, []dpp.ConsensusError{&dpp.DocumentAlreadyPresentError{DocumentID: dt.DocumentID}}, nil
	}
	if errs := b.ctx.Schema.ValidateDocument(docType, dt.Data); len(errs) > 0 {
		return op, errs, nil
	}
	fields, err := dpp.ParseDocumentData(dt.Data)
	if err != nil {
		return op, nil, err
	}

	op.Document = dpp.Document{
		ID:         dt.DocumentID,
		ContractID: b.contract.ID,
		Type:       docType.Name,
		OwnerID:    b.owner,
		Revision:   1,
		CreatedAt:  b.ctx.BlockTime,
		UpdatedAt:  b.ctx.BlockTime,
		Data:       dt.Data,
	}

	var errs []dpp.ConsensusError
	for i := range docType.Indices {
		idx := &docType.Indices[i]
		if !idx.Unique {
			continue
		}
		values, ok := dpp.IndexValues(docType, idx, fields)
		if !ok {
			continue
		}
		entry, taken, cerr, err := b.claim(docType, idx, values, dt.DocumentID)
		if err != nil {
			return op, nil, err
		}
		if cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		if !taken {
			op.AddIndices = append(op.AddIndices, action.IndexValues{Index: idx.Name, Values: values})
			if idx.Contested {
				poll, err := b.openPoll(docType, idx, values, &op.Document)
				if err != nil {
					return op, nil, err
				}
				op.Poll = poll
			}
			continue
		}
		if !idx.Contested {
			errs = append(errs, &dpp.DuplicateUniqueIndexError{DocumentID: dt.DocumentID, Index: idx.Name})
			continue
		}
		poll, cerr, err := b.joinPoll(docType, idx, values, entry, &op.Document)
		if err != nil {
			return op, nil, err
		}
		if cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		op.Poll = poll
		op.Contender = true
	}
	if op.Contender {
		// the contested index is the type's only unique index
		op.AddIndices = nil
	}
	return op, errs, nil
}

// claim reserves the unique index value for [documentID] within the batch
// and reports whether state already holds it.
func (b *batchState) claim(
	docType *dpp.DocumentType,
	idx *dpp.Index,
	values [][]byte,
	documentID ids.ID,
) (*drive.IndexEntry, bool, dpp.ConsensusError, error) {
	b.ctx.meter(fee.FunctionCall(b.ctx.processing().ValidateIndexLookup))
	key := string(drive.UniqueIndexKey(b.contract.ID, docType.Name, idx.Name, values))
	if _, dup := b.claimed[key]; dup {
		return nil, false, &dpp.DuplicateUniqueIndexError{DocumentID: documentID, Index: idx.Name}, nil
	}
	b.claimed[key] = documentID

	entry, taken, err := b.ctx.View.UniqueIndex(b.contract.ID, docType.Name, idx.Name, values)
	if err != nil {
		return nil, false, nil, err
	}
	if taken && entry.DocumentID == documentID {
		taken = false
	}
	return entry, taken, nil, nil
}

// openPoll starts the poll of a contested value with its first claimant as
// the first contender. The claimant holds the value until the poll resolves.
func (b *batchState) openPoll(docType *dpp.DocumentType, idx *dpp.Index, values [][]byte, doc *dpp.Document) (*action.PollUpdate, error) {
	id := dpp.VotePollID(b.contract.ID, docType.Name, idx.Name, values)
	previous, found, err := b.ctx.View.Poll(id)
	if err != nil {
		return nil, err
	}
	if !found {
		previous = nil
	}
	return &action.PollUpdate{
		Previous: previous,
		Poll: drive.VotePoll{
			ID:           id,
			ContractID:   b.contract.ID,
			DocumentType: docType.Name,
			IndexName:    idx.Name,
			IndexValues:  values,
			Contenders:   []drive.Contender{{IdentityID: b.owner, Document: *doc}},
			OpenedEpoch:  b.ctx.Epoch,
		},
	}, nil
}

// joinPoll adds the signer as a contender for a held contested value.
func (b *batchState) joinPoll(
	docType *dpp.DocumentType,
	idx *dpp.Index,
	values [][]byte,
	entry *drive.IndexEntry,
	doc *dpp.Document,
) (*action.PollUpdate, dpp.ConsensusError, error) {
	duplicate := &dpp.DuplicateUniqueIndexError{DocumentID: doc.ID, Index: idx.Name}
	if entry.DocumentID == ids.Empty {
		// locked by vote
		return nil, duplicate, nil
	}
	id := dpp.VotePollID(b.contract.ID, docType.Name, idx.Name, values)
	poll, found, err := b.ctx.View.Poll(id)
	if err != nil {
		return nil, nil, err
	}
	if !found || poll.Resolved {
		return nil, duplicate, nil
	}
	if _, already := poll.Contender(b.owner); already {
		return nil, duplicate, nil
	}
	next := *poll
	next.Contenders = append(append([]drive.Contender(nil), poll.Contenders...), drive.Contender{
		IdentityID: b.owner,
		Document:   *doc,
	})
	return &action.PollUpdate{Previous: poll, Poll: next}, nil, nil
}

func (b *batchState) stored(dt *dpp.DocumentTransition, docType *dpp.DocumentType) (*drive.StoredDocument, dpp.ConsensusError, error) {
	old, found, err := b.ctx.View.Document(b.contract.ID, docType.Name, dt.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, &dpp.DocumentNotFoundError{DocumentID: dt.DocumentID}, nil
	}
	if !docType.GroupControlled && old.Document.OwnerID != b.owner {
		return nil, &dpp.DocumentOwnerIDMismatchError{DocumentID: dt.DocumentID, Owner: b.owner}, nil
	}
	return old, nil, nil
}

func (b *batchState) replace(dt *dpp.DocumentTransition, docType *dpp.DocumentType) (action.DocumentOp, []dpp.ConsensusError, error) {
	op := action.DocumentOp{Action: dpp.ReplaceDocument, Owner: b.owner}
	if !docType.Mutable {
		return op, []dpp.ConsensusError{&dpp.DocumentNotMutableError{DocumentType: docType.Name, Action: "replace"}}, nil
	}
	old, cerr, err := b.stored(dt, docType)
	if err != nil || cerr != nil {
		return op, consensusErrors(cerr), err
	}
	if expected := old.Document.Revision + 1; dt.Revision != expected {
		return op, []dpp.ConsensusError{&dpp.InvalidDocumentRevisionError{
			DocumentID: dt.DocumentID,
			Current:    old.Document.Revision,
			Got:        dt.Revision,
		}}, nil
	}
	if errs := b.ctx.Schema.ValidateDocument(docType, dt.Data); len(errs) > 0 {
		return op, errs, nil
	}
	oldFields, err := old.Document.Fields()
	if err != nil {
		return op, nil, err
	}
	newFields, err := dpp.ParseDocumentData(dt.Data)
	if err != nil {
		return op, nil, err
	}

	op.Old = old
	op.Document = old.Document
	op.Document.Revision = dt.Revision
	op.Document.UpdatedAt = b.ctx.BlockTime
	op.Document.Data = dt.Data

	var errs []dpp.ConsensusError
	for i := range docType.Indices {
		idx := &docType.Indices[i]
		if !idx.Unique {
			continue
		}
		was, had := dpp.IndexValues(docType, idx, oldFields)
		now, has := dpp.IndexValues(docType, idx, newFields)
		if had && has && sameValues(was, now) {
			continue
		}
		if had {
			removal, err := b.release(docType, idx, was, dt.DocumentID)
			if err != nil {
				return op, nil, err
			}
			if removal != nil {
				op.RemoveIndices = append(op.RemoveIndices, *removal)
			}
		}
		if !has {
			continue
		}
		_, taken, cerr, err := b.claim(docType, idx, now, dt.DocumentID)
		switch {
		case err != nil:
			return op, nil, err
		case cerr != nil:
			errs = append(errs, cerr)
		case taken:
			errs = append(errs, &dpp.DuplicateUniqueIndexError{DocumentID: dt.DocumentID, Index: idx.Name})
		default:
			op.AddIndices = append(op.AddIndices, action.IndexValues{Index: idx.Name, Values: now})
		}
	}
	return op, errs, nil
}

func (b *batchState) delete(dt *dpp.DocumentTransition, docType *dpp.DocumentType) (action.DocumentOp, []dpp.ConsensusError, error) {
	op := action.DocumentOp{Action: dpp.DeleteDocument, Owner: b.owner}
	if !docType.CanBeDeleted {
		return op, []dpp.ConsensusError{&dpp.DocumentNotMutableError{DocumentType: docType.Name, Action: "delete"}}, nil
	}
	old, cerr, err := b.stored(dt, docType)
	if err != nil || cerr != nil {
		return op, consensusErrors(cerr), err
	}
	fields, err := old.Document.Fields()
	if err != nil {
		return op, nil, err
	}
	op.Old = old
	op.Document = old.Document
	for i := range docType.Indices {
		idx := &docType.Indices[i]
		if !idx.Unique {
			continue
		}
		values, ok := dpp.IndexValues(docType, idx, fields)
		if !ok {
			continue
		}
		removal, err := b.release(docType, idx, values, dt.DocumentID)
		if err != nil {
			return op, nil, err
		}
		if removal != nil {
			op.RemoveIndices = append(op.RemoveIndices, *removal)
		}
	}
	return op, nil, nil
}

// release returns the removal of the index entry [documentID] holds, if any.
func (b *batchState) release(docType *dpp.DocumentType, idx *dpp.Index, values [][]byte, documentID ids.ID) (*action.IndexRemoval, error) {
	b.ctx.meter(fee.FunctionCall(b.ctx.processing().ValidateIndexLookup))
	entry, found, err := b.ctx.View.UniqueIndex(b.contract.ID, docType.Name, idx.Name, values)
	if err != nil || !found || entry.DocumentID != documentID {
		return nil, err
	}
	return &action.IndexRemoval{
		IndexValues: action.IndexValues{Index: idx.Name, Values: values},
		Entry:       entry,
	}, nil
}

func sameValues(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// GroupActionID identifies the action every approver of a group controlled
// document transition signs.
func GroupActionID(contractID ids.ID, dt *dpp.DocumentTransition) ids.ID {
	p := wrappers.Packer{MaxSize: 32 + 1 + 2 + len(dt.DocumentType) + 32 + 8 + 4 + len(dt.Data)}
	p.PackFixedBytes(contractID[:])
	p.PackByte(byte(dt.Action))
	p.PackStr(dt.DocumentType)
	p.PackFixedBytes(dt.DocumentID[:])
	p.PackLong(dt.Revision)
	p.PackBytes(dt.Data)
	return hashing.ComputeHash256Array(p.Bytes)
}

// approve records the signer's approval. The document operation executes
// once the approvals reach the group's required power, and the member who
// proposed the action owns the document.
func (b *batchState) approve(dt *dpp.DocumentTransition, docType *dpp.DocumentType, op *action.DocumentOp) ([]dpp.ConsensusError, error) {
	group, ok := b.contract.Group(docType.ControlGroup)
	if !ok {
		return []dpp.ConsensusError{&dpp.GroupNotFoundError{ContractID: b.contract.ID, Group: docType.ControlGroup}}, nil
	}
	member, ok := group.Member(b.owner)
	if !ok {
		return []dpp.ConsensusError{&dpp.GroupMemberNotFoundError{Group: group.Position, Identity: b.owner}}, nil
	}

	actionID := GroupActionID(b.contract.ID, dt)
	previous, found, err := b.ctx.View.GroupAction(actionID)
	if err != nil {
		return nil, err
	}
	var next drive.GroupAction
	if found {
		if previous.Executed || previous.Approved(b.owner) {
			return []dpp.ConsensusError{&dpp.DuplicateGroupSignerError{ActionID: actionID, Identity: b.owner}}, nil
		}
		next = *previous
		next.Approvals = append([]drive.Approval(nil), previous.Approvals...)
	} else {
		previous = nil
		next = drive.GroupAction{
			ContractID: b.contract.ID,
			Group:      group.Position,
			Proposer:   b.owner,
		}
	}
	next.Approvals = append(next.Approvals, drive.Approval{Signer: b.owner, Power: member.Power})
	next.Executed = next.Power() >= uint64(group.RequiredPower)

	op.Group = &action.GroupApproval{ActionID: actionID, Previous: previous, Action: next}
	op.Execute = next.Executed
	if op.Action == dpp.CreateDocument {
		op.Document.OwnerID = next.Proposer
	}
	return nil, nil
}
