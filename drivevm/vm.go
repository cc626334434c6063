// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package drivevm drives the engine block by block: it initializes the
// chain, runs the transitions of each block inside one storage transaction,
// performs epoch rollovers and checkpoints the platform state with every
// commit.
package drivevm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	avaversion "github.com/ava-labs/avalanchego/version"
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/epoch"
	"github.com/ava-labs/drivevm/execution"
	"github.com/ava-labs/drivevm/fee"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
	"github.com/ava-labs/drivevm/validation"
	"github.com/ava-labs/drivevm/version"
)

const Name = "drivevm"

var (
	Version = &avaversion.Semantic{Major: 1, Minor: 0, Patch: 0}

	errNotInitialized     = errors.New("chain is not initialized")
	errAlreadyInitialized = errors.New("chain is already initialized")
	errBlockInProgress    = errors.New("a block is already in progress")
	errNoBlock            = errors.New("no block in progress")
	errBlockEnded         = errors.New("block already ended")
	errBlockNotEnded      = errors.New("block has not ended")
	errUnexpectedHeight   = errors.New("unexpected block height")
	errTimeBackwards      = errors.New("block time is before the previous block")
	errGenesisTime        = errors.New("genesis time must be set")
)

// coverage lists every dispatch table the engine looks methods up in.
func coverage() []version.Coverable {
	return []version.Coverable{
		fee.Calculators,
		dpp.ContractSerializers,
		dpp.ContractValidators,
		validation.Structures,
		validation.IdentitySigned,
		validation.States,
		execution.Operations,
		epoch.Distributors,
		epoch.StorageShares,
		epoch.Resolvers,
		epoch.UpgradeCheckers,
		MasternodeUpdaters,
	}
}

// VM is the block lifecycle orchestrator. One block is open at a time; the
// query methods read the last committed state and never see it.
type VM struct {
	lock sync.Mutex

	config   Config
	registry *version.Registry
	store    *storage.Store
	drive    *drive.Drive
	state    ChainState
	executor *execution.Executor
	epochs   *epoch.Manager
	results  *resultlog.Log
	metrics  *metrics

	// platform and pv are those of the last committed block, nil before
	// InitChain.
	platform *PlatformState
	pv       *version.PlatformVersion
	blk      *openBlock

	log log.Logger
}

// New wires the engine over [store] and [results]. It fails when a
// supported protocol version references a method without implementation.
func New(config Config, store *storage.Store, results *resultlog.Log, registerer prometheus.Registerer) (*VM, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	registry := version.NewRegistry()
	if err := registry.CheckCoverage(coverage()...); err != nil {
		return nil, fmt.Errorf("incomplete protocol support: %w", err)
	}
	contractCache, err := drive.NewContractCache(config.ContractCacheSize, registerer)
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	d := drive.New(store, contractCache)
	vm := &VM{
		config:   config,
		registry: registry,
		store:    store,
		drive:    d,
		state:    NewChainState(store),
		executor: execution.New(d, crypto.NewVerifier(), validation.SystemTriggers()),
		epochs:   epoch.NewManager(d),
		results:  results,
		metrics:  m,
		log:      log.New("module", Name),
	}

	initialized, err := vm.state.IsInitialized()
	if err != nil {
		return nil, err
	}
	if !initialized {
		vm.log.Info("waiting for init chain", "network", config.Network, "chainId", config.ChainID)
		return vm, nil
	}
	ps, err := vm.state.Load()
	if err != nil {
		return nil, err
	}
	pv, err := registry.ResolveAt(version.ProtocolVersion(ps.Protocol), ps.Height)
	if err != nil {
		return nil, fmt.Errorf("cannot run the committed chain: %w", err)
	}
	registry.SetFinalizedHeight(ps.Height)
	vm.platform, vm.pv = ps, pv
	vm.log.Info("chain loaded",
		"chainId", ps.ChainID,
		"height", ps.Height,
		"protocol", ps.Protocol,
		"epoch", ps.Epoch,
		"appHash", store.Root(),
	)
	return vm, nil
}

// Registry exposes the version registry, for registering tuning patches.
func (vm *VM) Registry() *version.Registry { return vm.registry }

// InitChain writes the genesis state and commits it.
func (vm *VM) InitChain(req *InitChainRequest) (*InitChainResponse, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.platform != nil {
		return nil, errAlreadyInitialized
	}
	if vm.blk != nil {
		return nil, errBlockInProgress
	}
	if req.GenesisTime == 0 {
		return nil, errGenesisTime
	}
	protocol := version.ProtocolVersion(req.InitialProtocol)
	if protocol == 0 {
		protocol = version.LatestVersion
	}
	pv, err := vm.registry.Resolve(protocol)
	if err != nil {
		return nil, err
	}
	initialHeight := req.InitialHeight
	if initialHeight == 0 {
		initialHeight = 1
	}
	chainID := req.ChainID
	if chainID == "" {
		chainID = vm.config.ChainID
	}

	txn, err := vm.store.OpenTransaction()
	if err != nil {
		return nil, err
	}
	if err := vm.genesis(txn, pv, req, initialHeight); err != nil {
		vm.abort()
		return nil, fmt.Errorf("failed to write genesis: %w", err)
	}
	ps := &PlatformState{
		ChainID:               chainID,
		Network:               vm.config.Network,
		GenesisTime:           req.GenesisTime,
		InitialHeight:         initialHeight,
		Protocol:              uint32(pv.Protocol),
		CoreChainLockedHeight: req.CoreChainLockedHeight,
	}
	if ps.QuorumHash, err = QuorumHash(vm.drive.View(txn, nil)); err != nil {
		vm.abort()
		return nil, err
	}
	if err := vm.state.Put(txn, ps); err != nil {
		vm.abort()
		return nil, err
	}
	if err := vm.state.SetInitialized(txn); err != nil {
		vm.abort()
		return nil, err
	}
	if err := vm.store.Commit(txn); err != nil {
		vm.abort()
		return nil, fmt.Errorf("failed to commit genesis: %w", err)
	}
	vm.drive.Contracts().Merge()
	vm.platform, vm.pv = ps, pv

	root := vm.store.Root()
	vm.log.Info("chain initialized",
		"chainId", chainID,
		"protocol", pv.Protocol,
		"initialHeight", initialHeight,
		"masternodes", len(req.Masternodes),
		"identities", len(req.Identities),
		"appHash", root,
	)
	return &InitChainResponse{
		AppHash:       root,
		Protocol:      uint32(pv.Protocol),
		InitialHeight: initialHeight,
	}, nil
}

func (vm *VM) genesis(txn *storage.Txn, pv *version.PlatformVersion, req *InitChainRequest, initialHeight uint64) error {
	b := drive.NewBatch(&pv.Fee, 0)
	for _, c := range contracts.Genesis(req.FeatureFlagsOwner) {
		if err := b.InsertContract(c, c.OwnerID); err != nil {
			return err
		}
	}
	for i := range req.Identities {
		g := &req.Identities[i]
		identity := g.Identity
		identity.SortKeys()
		if err := b.InsertIdentity(&identity); err != nil {
			return err
		}
		for j := range identity.PublicKeys {
			if h, unique := validation.UniqueKeyHash(&identity.PublicKeys[j]); unique {
				b.InsertKeyHash(h, identity.ID)
			}
		}
		if g.Balance > 0 {
			b.AddBalance(identity.ID, g.Balance)
			b.Mint(g.Balance)
		}
	}
	if err := vm.drive.Apply(txn, b); err != nil {
		return err
	}

	if len(req.Masternodes) > 0 {
		update, err := MasternodeUpdaters.Lookup(pv, version.MasternodeUpdate)
		if err != nil {
			return err
		}
		mb := drive.NewBatch(&pv.Fee, 0)
		diff := &MasternodeDiff{Upserted: req.Masternodes}
		if err := update(vm.drive.View(txn, nil), mb, diff, req.GenesisTime); err != nil {
			return err
		}
		if err := vm.drive.Apply(txn, mb); err != nil {
			return err
		}
	}
	return vm.epochs.Start(txn, pv, epoch.Block{Height: initialHeight, Time: req.GenesisTime})
}

// BeginBlock opens the block transaction. A block whose time falls into a
// later epoch first closes the current one, so its own fees go to the new
// epoch.
func (vm *VM) BeginBlock(req *BeginBlockRequest) (*BeginBlockResponse, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.platform == nil {
		return nil, errNotInitialized
	}
	if vm.blk != nil {
		return nil, errBlockInProgress
	}
	if next := vm.platform.NextHeight(); req.Height != next {
		return nil, fmt.Errorf("%w: got %d, expected %d", errUnexpectedHeight, req.Height, next)
	}
	if req.Time < vm.platform.BlockTime {
		return nil, fmt.Errorf("%w: %d < %d", errTimeBackwards, req.Time, vm.platform.BlockTime)
	}

	txn, err := vm.store.OpenTransaction()
	if err != nil {
		return nil, err
	}
	vm.drive.Contracts().Discard()
	blk, changed, err := vm.begin(txn, req)
	if err != nil {
		vm.abort()
		return nil, err
	}
	vm.blk = blk
	vm.log.Debug("block started",
		"height", req.Height,
		"epoch", blk.info.Epoch,
		"protocol", blk.platform.Protocol,
		"assetLocks", len(req.AssetLocks),
	)
	return &BeginBlockResponse{
		Epoch:        blk.info.Epoch,
		EpochChanged: changed,
		Protocol:     uint32(blk.platform.Protocol),
	}, nil
}

func (vm *VM) begin(txn *storage.Txn, req *BeginBlockRequest) (*openBlock, bool, error) {
	next := vm.platform.clone()
	pv := vm.pv

	index, err := epoch.Index(next.GenesisTime, req.Time, vm.config.EpochDuration)
	if err != nil {
		return nil, false, err
	}
	changed := index > next.Epoch
	if changed {
		report, err := vm.epochs.Rollover(txn, pv, next.Epoch, index, epoch.Block{Height: req.Height, Time: req.Time})
		if err != nil {
			return nil, false, err
		}
		if report.Upgrade != 0 {
			next.Protocol = uint32(report.Upgrade)
		}
		next.Epoch = index
	}
	if pv, err = vm.registry.ResolveAt(version.ProtocolVersion(next.Protocol), req.Height); err != nil {
		return nil, false, fmt.Errorf("cannot run protocol version %d: %w", next.Protocol, err)
	}
	if req.CoreChainLockedHeight > next.CoreChainLockedHeight {
		next.CoreChainLockedHeight = req.CoreChainLockedHeight
	}

	if len(req.AssetLocks) > 0 {
		if err := vm.recordAssetLocks(txn, pv, index, req.AssetLocks); err != nil {
			return nil, false, err
		}
	}
	return &openBlock{
		txn:      txn,
		state:    next,
		platform: pv,
		info: execution.BlockInfo{
			Platform: pv,
			Height:   req.Height,
			Time:     req.Time,
			Epoch:    index,
		},
		proposer: req.ProposerProTxHash,
		proposed: req.ProposedProtocol,
		started:  time.Now(),
	}, changed, nil
}

// recordAssetLocks makes newly locked core collateral available to identity
// transitions. Locks delivered before are skipped.
func (vm *VM) recordAssetLocks(txn *storage.Txn, pv *version.PlatformVersion, index uint16, locks []dpp.AssetLock) error {
	view := vm.drive.View(txn, nil)
	b := drive.NewBatch(&pv.Fee, index)
	seen := make(map[dpp.OutPoint]struct{}, len(locks))
	for i := range locks {
		lock := locks[i]
		if _, ok := seen[lock.OutPoint]; ok {
			continue
		}
		seen[lock.OutPoint] = struct{}{}
		_, found, err := view.AssetLock(lock.OutPoint)
		if err != nil {
			return err
		}
		if found {
			vm.log.Debug("asset lock already recorded", "outPoint", lock.OutPoint)
			continue
		}
		if err := b.PutAssetLock(nil, &drive.AssetLockRecord{Lock: lock}); err != nil {
			return err
		}
	}
	return vm.drive.Apply(txn, b)
}

// DeliverTransition runs one transition of the open block. Consensus errors
// are part of the result. A returned error discards the whole block.
func (vm *VM) DeliverTransition(raw []byte) (*execution.Result, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.blk == nil {
		return nil, errNoBlock
	}
	if vm.blk.ended {
		return nil, errBlockEnded
	}
	res, err := vm.executor.Process(vm.blk.txn, &vm.blk.info, raw)
	if err != nil {
		vm.log.Error("transition aborted the block", "height", vm.blk.info.Height, "error", err)
		vm.abort()
		vm.metrics.blocksRolledBack.Inc()
		return nil, err
	}
	vm.blk.results = append(vm.blk.results, transitionResult(res))
	vm.metrics.observe(res)
	return res, nil
}

// EndBlock applies the masternode list changes, credits the proposer and
// writes the platform state into the block transaction. The block is
// discarded when it fails.
func (vm *VM) EndBlock(req *EndBlockRequest) (*EndBlockResponse, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	blk := vm.blk
	if blk == nil {
		return nil, errNoBlock
	}
	if blk.ended {
		return nil, errBlockEnded
	}

	if err := vm.end(blk, req); err != nil {
		vm.abort()
		return nil, err
	}
	blk.ended = true

	valid, invalid := blk.counts()
	return &EndBlockResponse{Valid: valid, Invalid: invalid}, nil
}

func (vm *VM) end(blk *openBlock, req *EndBlockRequest) error {
	view := vm.drive.View(blk.txn, nil)
	b := drive.NewBatch(&blk.platform.Fee, blk.info.Epoch)
	if !req.Masternodes.Empty() {
		update, err := MasternodeUpdaters.Lookup(blk.platform, version.MasternodeUpdate)
		if err != nil {
			return err
		}
		if err := update(view, b, req.Masternodes, blk.info.Time); err != nil {
			return fmt.Errorf("failed to update masternodes: %w", err)
		}
	}
	if blk.proposer != ids.Empty {
		b.CountProposer(blk.info.Epoch, blk.proposer)
	}
	if blk.proposed != 0 {
		b.SignalUpgrade(blk.proposed)
	}
	if err := vm.drive.Apply(blk.txn, b); err != nil {
		return err
	}
	if !req.Masternodes.Empty() {
		quorum, err := QuorumHash(vm.drive.View(blk.txn, nil))
		if err != nil {
			return err
		}
		blk.state.QuorumHash = quorum
	}

	blk.state.Height = blk.info.Height
	blk.state.BlockTime = blk.info.Time
	return vm.state.Put(blk.txn, blk.state)
}

// Commit makes the ended block the committed state and logs its results.
func (vm *VM) Commit() (*CommitResponse, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	blk := vm.blk
	if blk == nil {
		return nil, errNoBlock
	}
	if !blk.ended {
		return nil, errBlockNotEnded
	}
	if err := vm.store.Commit(blk.txn); err != nil {
		vm.abort()
		return nil, fmt.Errorf("failed to commit block %d: %w", blk.info.Height, err)
	}
	vm.drive.Contracts().Merge()
	vm.platform, vm.pv, vm.blk = blk.state, blk.platform, nil
	vm.registry.SetFinalizedHeight(blk.info.Height)

	root := vm.store.Root()
	vm.metrics.blocksCommitted.Inc()
	vm.metrics.blockDuration.Observe(time.Since(blk.started).Seconds())
	valid, invalid := blk.counts()
	vm.log.Info("block committed",
		"height", blk.info.Height,
		"epoch", blk.info.Epoch,
		"valid", valid,
		"invalid", invalid,
		"appHash", root,
	)

	if vm.config.CheckCredits {
		if err := vm.drive.Committed().VerifyTotalCredits(blk.state.Epoch); err != nil {
			vm.log.Error("credit supply mismatch", "height", blk.info.Height, "error", err)
			return nil, err
		}
	}
	resp := &CommitResponse{Height: blk.info.Height, AppHash: root}
	if vm.results != nil {
		err := vm.results.Put(&resultlog.Block{
			Height:   blk.info.Height,
			Time:     blk.info.Time,
			AppHash:  root,
			Protocol: uint32(blk.platform.Protocol),
			Epoch:    blk.info.Epoch,
			Results:  blk.results,
		})
		if err != nil {
			return resp, fmt.Errorf("block %d committed but its results were not logged: %w", blk.info.Height, err)
		}
	}
	return resp, nil
}

// Rollback discards the open block. It is a no-op without one.
func (vm *VM) Rollback() {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.blk == nil {
		vm.store.Rollback()
		return
	}
	height := vm.blk.info.Height
	vm.abort()
	vm.metrics.blocksRolledBack.Inc()
	vm.log.Info("block rolled back", "height", height)
}

// abort drops the open transaction and the block layer of the caches.
func (vm *VM) abort() {
	vm.store.Rollback()
	vm.drive.Contracts().Discard()
	vm.blk = nil
}

// Shutdown discards any open block and closes storage.
func (vm *VM) Shutdown() error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	vm.abort()
	errs := wrappers.Errs{}
	if vm.results != nil {
		errs.Add(vm.results.Close())
	}
	errs.Add(vm.store.Close())
	return errs.Err
}
