// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package client talks to a running drivevm over its JSON-RPC endpoints.
package client

import (
	"context"
	"encoding/json"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	cjson "github.com/ava-labs/avalanchego/utils/json"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/drivevm"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
)

// Client reads the committed state of a drivevm.
type Client interface {
	// PlatformState returns the last committed checkpoint and the app hash.
	PlatformState(ctx context.Context) (*drivevm.PlatformState, ids.ID, error)
	Identity(ctx context.Context, id ids.ID) (*dpp.Identity, error)
	IdentityBalance(ctx context.Context, id ids.ID) (uint64, error)
	// IdentityNonce returns the identity nonce, or the contract nonce when
	// [contractID] is not empty.
	IdentityNonce(ctx context.Context, id, contractID ids.ID) (uint64, error)
	// DataContract returns the JSON form of a contract. A zero [protocol]
	// renders it with the committed protocol version.
	DataContract(ctx context.Context, id ids.ID, protocol uint32) (json.RawMessage, error)
	Document(ctx context.Context, contractID ids.ID, documentType string, id ids.ID) (*dpp.Document, error)
	Documents(ctx context.Context, contractID ids.ID, documentType string, after ids.ID, limit uint32) ([]*dpp.Document, error)
	EpochInfo(ctx context.Context, index uint16) (*drive.EpochInfo, error)
	Proof(ctx context.Context, tree storage.TreeID, keys [][]byte) (*storage.Proof, error)
	BlockResults(ctx context.Context, height uint64) (*resultlog.Block, error)
}

// Driver runs the block lifecycle of a drivevm.
type Driver interface {
	InitChain(ctx context.Context, req *drivevm.InitChainRequest) (*drivevm.InitChainResponse, error)
	BeginBlock(ctx context.Context, req *drivevm.BeginBlockRequest) (*drivevm.BeginBlockResponse, error)
	DeliverTransition(ctx context.Context, transition []byte) (*resultlog.TransitionResult, error)
	EndBlock(ctx context.Context, req *drivevm.EndBlockRequest) (*drivevm.EndBlockResponse, error)
	Commit(ctx context.Context) (*drivevm.CommitResponse, error)
	Rollback(ctx context.Context) error
}

// New creates a query client for the VM served at [uri].
func New(uri string) Client {
	return &client{req: rpc.NewEndpointRequester(uri + drivevm.QueryEndpoint)}
}

// NewDriver creates a driver client for the VM served at [uri].
func NewDriver(uri string) Driver {
	return &driver{req: rpc.NewEndpointRequester(uri + drivevm.DriverEndpoint)}
}

type client struct {
	req rpc.EndpointRequester
}

func (c *client) PlatformState(ctx context.Context) (*drivevm.PlatformState, ids.ID, error) {
	resp := new(drivevm.PlatformStateReply)
	if err := c.req.SendRequest(ctx, "drive.getPlatformState", &struct{}{}, resp); err != nil {
		return nil, ids.Empty, err
	}
	return &resp.State, resp.AppHash, nil
}

func (c *client) Identity(ctx context.Context, id ids.ID) (*dpp.Identity, error) {
	resp := new(drivevm.IdentityReply)
	err := c.req.SendRequest(ctx, "drive.getIdentity", &drivevm.IDArgs{ID: id}, resp)
	return resp.Identity, err
}

func (c *client) IdentityBalance(ctx context.Context, id ids.ID) (uint64, error) {
	resp := new(drivevm.BalanceReply)
	err := c.req.SendRequest(ctx, "drive.getIdentityBalance", &drivevm.IDArgs{ID: id}, resp)
	return uint64(resp.Balance), err
}

func (c *client) IdentityNonce(ctx context.Context, id, contractID ids.ID) (uint64, error) {
	resp := new(drivevm.NonceReply)
	err := c.req.SendRequest(ctx,
		"drive.getIdentityNonce",
		&drivevm.IDArgs{ID: id, ContractID: contractID},
		resp,
	)
	return uint64(resp.Nonce), err
}

func (c *client) DataContract(ctx context.Context, id ids.ID, protocol uint32) (json.RawMessage, error) {
	resp := new(drivevm.ContractReply)
	err := c.req.SendRequest(ctx,
		"drive.getDataContract",
		&drivevm.ContractArgs{ID: id, ProtocolVersion: cjson.Uint32(protocol)},
		resp,
	)
	return resp.Contract, err
}

func (c *client) Document(ctx context.Context, contractID ids.ID, documentType string, id ids.ID) (*dpp.Document, error) {
	resp := new(drivevm.DocumentReply)
	err := c.req.SendRequest(ctx,
		"drive.getDocument",
		&drivevm.DocumentArgs{ContractID: contractID, DocumentType: documentType, ID: id},
		resp,
	)
	return resp.Document, err
}

func (c *client) Documents(ctx context.Context, contractID ids.ID, documentType string, after ids.ID, limit uint32) ([]*dpp.Document, error) {
	resp := new(drivevm.DocumentsReply)
	err := c.req.SendRequest(ctx,
		"drive.getDocuments",
		&drivevm.DocumentsArgs{
			ContractID:   contractID,
			DocumentType: documentType,
			After:        after,
			Limit:        cjson.Uint32(limit),
		},
		resp,
	)
	return resp.Documents, err
}

func (c *client) EpochInfo(ctx context.Context, index uint16) (*drive.EpochInfo, error) {
	resp := new(drivevm.EpochReply)
	err := c.req.SendRequest(ctx, "drive.getEpochInfo", &drivevm.EpochArgs{Index: index}, resp)
	return resp.Epoch, err
}

func (c *client) Proof(ctx context.Context, tree storage.TreeID, keys [][]byte) (*storage.Proof, error) {
	resp := new(drivevm.ProofReply)
	err := c.req.SendRequest(ctx,
		"drive.getProof",
		&drivevm.ProofArgs{Tree: tree.String(), Keys: keys},
		resp,
	)
	return resp.Proof, err
}

func (c *client) BlockResults(ctx context.Context, height uint64) (*resultlog.Block, error) {
	resp := new(drivevm.BlockResultsReply)
	err := c.req.SendRequest(ctx,
		"drive.getBlockResults",
		&drivevm.HeightArgs{Height: cjson.Uint64(height)},
		resp,
	)
	return resp.Block, err
}

type driver struct {
	req rpc.EndpointRequester
}

func (d *driver) InitChain(ctx context.Context, req *drivevm.InitChainRequest) (*drivevm.InitChainResponse, error) {
	resp := new(drivevm.InitChainResponse)
	return resp, d.req.SendRequest(ctx, "driver.initChain", req, resp)
}

func (d *driver) BeginBlock(ctx context.Context, req *drivevm.BeginBlockRequest) (*drivevm.BeginBlockResponse, error) {
	resp := new(drivevm.BeginBlockResponse)
	return resp, d.req.SendRequest(ctx, "driver.beginBlock", req, resp)
}

func (d *driver) DeliverTransition(ctx context.Context, transition []byte) (*resultlog.TransitionResult, error) {
	resp := new(drivevm.DeliverTransitionReply)
	err := d.req.SendRequest(ctx,
		"driver.deliverTransition",
		&drivevm.DeliverTransitionArgs{Transition: transition},
		resp,
	)
	return &resp.Result, err
}

func (d *driver) EndBlock(ctx context.Context, req *drivevm.EndBlockRequest) (*drivevm.EndBlockResponse, error) {
	resp := new(drivevm.EndBlockResponse)
	return resp, d.req.SendRequest(ctx, "driver.endBlock", req, resp)
}

func (d *driver) Commit(ctx context.Context) (*drivevm.CommitResponse, error) {
	resp := new(drivevm.CommitResponse)
	return resp, d.req.SendRequest(ctx, "driver.commit", &struct{}{}, resp)
}

func (d *driver) Rollback(ctx context.Context) error {
	return d.req.SendRequest(ctx, "driver.rollback", &struct{}{}, &api.EmptyReply{})
}
