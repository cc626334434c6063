// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package drivevm

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
)

// Service names, the prefix of every JSON-RPC method.
const (
	QueryServiceName  = "drive"
	DriverServiceName = "driver"
)

// Endpoints the handlers are served at, relative to the VM's base path.
const (
	QueryEndpoint  = "/query"
	DriverEndpoint = "/driver"
)

// CreateHandlers returns the query handler and the driver handler. The
// driver handler must only be exposed to the consensus driver.
func (vm *VM) CreateHandlers() (map[string]http.Handler, error) {
	query, err := newHandler(QueryServiceName, &QueryService{vm: vm})
	if err != nil {
		return nil, err
	}
	driver, err := newHandler(DriverServiceName, &DriverService{vm: vm})
	if err != nil {
		return nil, err
	}
	return map[string]http.Handler{
		QueryEndpoint:  query,
		DriverEndpoint: driver,
	}, nil
}

func newHandler(name string, service interface{}) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(cjson.NewCodec(), "application/json")
	server.RegisterCodec(cjson.NewCodec(), "application/json;charset=UTF-8")
	return server, server.RegisterService(service, name)
}

// QueryService answers reads against the last committed state.
type QueryService struct{ vm *VM }

type PlatformStateReply struct {
	State   PlatformState `json:"state"`
	AppHash ids.ID        `json:"appHash"`
}

func (s *QueryService) GetPlatformState(_ *http.Request, _ *struct{}, reply *PlatformStateReply) error {
	ps, root, err := s.vm.PlatformState()
	if err != nil {
		return err
	}
	reply.State = *ps
	reply.AppHash = root
	return nil
}

// IDArgs are the arguments of methods reading one identity.
type IDArgs struct {
	ID ids.ID `json:"id"`
	// ContractID selects the contract nonce in GetIdentityNonce.
	ContractID ids.ID `json:"contractId"`
}

type IdentityReply struct {
	Identity *dpp.Identity `json:"identity"`
}

func (s *QueryService) GetIdentity(_ *http.Request, args *IDArgs, reply *IdentityReply) error {
	identity, err := s.vm.Identity(args.ID)
	reply.Identity = identity
	return err
}

type BalanceReply struct {
	Balance cjson.Uint64 `json:"balance"`
}

func (s *QueryService) GetIdentityBalance(_ *http.Request, args *IDArgs, reply *BalanceReply) error {
	balance, err := s.vm.IdentityBalance(args.ID)
	reply.Balance = cjson.Uint64(balance)
	return err
}

type NonceReply struct {
	Nonce cjson.Uint64 `json:"nonce"`
}

// GetIdentityNonce returns the identity nonce, or the nonce the identity
// uses with a contract when a contract is given.
func (s *QueryService) GetIdentityNonce(_ *http.Request, args *IDArgs, reply *NonceReply) error {
	var (
		nonce uint64
		err   error
	)
	if args.ContractID == ids.Empty {
		nonce, err = s.vm.IdentityNonce(args.ID)
	} else {
		nonce, err = s.vm.IdentityContractNonce(args.ID, args.ContractID)
	}
	reply.Nonce = cjson.Uint64(nonce)
	return err
}

type ContractArgs struct {
	ID ids.ID `json:"id"`
	// ProtocolVersion selects the rendering rules, the committed version
	// when zero.
	ProtocolVersion cjson.Uint32 `json:"protocolVersion"`
}

type ContractReply struct {
	Contract json.RawMessage `json:"contract"`
}

func (s *QueryService) GetDataContract(_ *http.Request, args *ContractArgs, reply *ContractReply) error {
	b, err := s.vm.ContractJSON(args.ID, uint32(args.ProtocolVersion))
	if err != nil {
		return err
	}
	reply.Contract = b
	return nil
}

type DocumentArgs struct {
	ContractID   ids.ID `json:"contractId"`
	DocumentType string `json:"documentType"`
	ID           ids.ID `json:"id"`
}

type DocumentReply struct {
	Document *dpp.Document `json:"document"`
}

func (s *QueryService) GetDocument(_ *http.Request, args *DocumentArgs, reply *DocumentReply) error {
	doc, err := s.vm.Document(args.ContractID, args.DocumentType, args.ID)
	reply.Document = doc
	return err
}

type DocumentsArgs struct {
	ContractID   ids.ID       `json:"contractId"`
	DocumentType string       `json:"documentType"`
	After        ids.ID       `json:"after"`
	Limit        cjson.Uint32 `json:"limit"`
}

type DocumentsReply struct {
	Documents []*dpp.Document `json:"documents"`
}

func (s *QueryService) GetDocuments(_ *http.Request, args *DocumentsArgs, reply *DocumentsReply) error {
	docs, err := s.vm.Documents(args.ContractID, args.DocumentType, args.After, uint32(args.Limit))
	reply.Documents = docs
	return err
}

type EpochArgs struct {
	Index uint16 `json:"index"`
}

type EpochReply struct {
	Epoch *drive.EpochInfo `json:"epoch"`
}

func (s *QueryService) GetEpochInfo(_ *http.Request, args *EpochArgs, reply *EpochReply) error {
	info, err := s.vm.EpochInfo(args.Index)
	reply.Epoch = info
	return err
}

type ProofArgs struct {
	Tree string   `json:"tree"`
	Keys [][]byte `json:"keys"`
}

type ProofReply struct {
	Proof *storage.Proof `json:"proof"`
}

func (s *QueryService) GetProof(_ *http.Request, args *ProofArgs, reply *ProofReply) error {
	tree, err := storage.ParseTree(args.Tree)
	if err != nil {
		return err
	}
	proof, err := s.vm.Proof(tree, args.Keys)
	reply.Proof = proof
	return err
}

type HeightArgs struct {
	Height cjson.Uint64 `json:"height"`
}

type BlockResultsReply struct {
	Block *resultlog.Block `json:"block"`
}

func (s *QueryService) GetBlockResults(_ *http.Request, args *HeightArgs, reply *BlockResultsReply) error {
	blk, err := s.vm.BlockResults(uint64(args.Height))
	reply.Block = blk
	return err
}

// DriverService is the consensus driver's side of the block lifecycle.
type DriverService struct{ vm *VM }

func (s *DriverService) InitChain(_ *http.Request, args *InitChainRequest, reply *InitChainResponse) error {
	resp, err := s.vm.InitChain(args)
	if err != nil {
		return err
	}
	*reply = *resp
	return nil
}

func (s *DriverService) BeginBlock(_ *http.Request, args *BeginBlockRequest, reply *BeginBlockResponse) error {
	resp, err := s.vm.BeginBlock(args)
	if err != nil {
		return err
	}
	*reply = *resp
	return nil
}

type DeliverTransitionArgs struct {
	// Transition is the serialized state transition.
	Transition []byte `json:"transition"`
}

type DeliverTransitionReply struct {
	Result resultlog.TransitionResult `json:"result"`
}

func (s *DriverService) DeliverTransition(_ *http.Request, args *DeliverTransitionArgs, reply *DeliverTransitionReply) error {
	res, err := s.vm.DeliverTransition(args.Transition)
	if err != nil {
		return err
	}
	reply.Result = transitionResult(res)
	return nil
}

func (s *DriverService) EndBlock(_ *http.Request, args *EndBlockRequest, reply *EndBlockResponse) error {
	resp, err := s.vm.EndBlock(args)
	if err != nil {
		return err
	}
	*reply = *resp
	return nil
}

func (s *DriverService) Commit(_ *http.Request, _ *struct{}, reply *CommitResponse) error {
	resp, err := s.vm.Commit()
	if resp != nil {
		*reply = *resp
	}
	return err
}

func (s *DriverService) Rollback(_ *http.Request, _ *struct{}, _ *api.EmptyReply) error {
	s.vm.Rollback()
	return nil
}
