// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
	avacrypto "github.com/ava-labs/avalanchego/utils/crypto"

	"github.com/ava-labs/drivevm/contracts"
	"github.com/ava-labs/drivevm/crypto"
	"github.com/ava-labs/drivevm/dpp"
	"github.com/ava-labs/drivevm/drive"
	"github.com/ava-labs/drivevm/drivevm"
	"github.com/ava-labs/drivevm/resultlog"
	"github.com/ava-labs/drivevm/storage"
)

const genesisTime uint64 = 1_700_000_000_000

func newServer(t *testing.T) string {
	config, err := drivevm.DefaultConfig("devnet")
	require.NoError(t, err)
	results, err := resultlog.OpenMemory(config.ResultCacheSize)
	require.NoError(t, err)
	vm, err := drivevm.New(config, storage.NewMemory(), results, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vm.Shutdown() })

	handlers, err := vm.CreateHandlers()
	require.NoError(t, err)
	mux := http.NewServeMux()
	for endpoint, h := range handlers {
		mux.Handle(endpoint, h)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server.URL
}

func TestDriveOverRPC(t *testing.T) {
	ctx := context.Background()
	uri := newServer(t)
	cli, drv := New(uri), NewDriver(uri)

	sk, err := (&avacrypto.FactorySECP256K1R{}).NewPrivateKey()
	require.NoError(t, err)
	identity := dpp.Identity{
		ID: ids.GenerateTestID(),
		PublicKeys: []dpp.IdentityPublicKey{{
			Purpose:       dpp.Authentication,
			SecurityLevel: dpp.Master,
			Type:          crypto.ECDSASecp256k1,
			Data:          sk.PublicKey().Bytes(),
		}},
	}

	_, err = drv.BeginBlock(ctx, &drivevm.BeginBlockRequest{Height: 1, Time: genesisTime})
	require.Error(t, err)

	initResp, err := drv.InitChain(ctx, &drivevm.InitChainRequest{
		GenesisTime: genesisTime,
		Identities:  []drivevm.GenesisIdentity{{Identity: identity, Balance: 42}},
	})
	require.NoError(t, err)

	begin, err := drv.BeginBlock(ctx, &drivevm.BeginBlockRequest{Height: initResp.InitialHeight, Time: genesisTime + 1})
	require.NoError(t, err)
	assert.Equal(t, initResp.Protocol, begin.Protocol)

	res, err := drv.DeliverTransition(ctx, []byte{0xff})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)

	end, err := drv.EndBlock(ctx, &drivevm.EndBlockRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, end.Invalid)
	commit, err := drv.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, drv.Rollback(ctx))

	ps, appHash, err := cli.PlatformState(ctx)
	require.NoError(t, err)
	assert.Equal(t, initResp.InitialHeight, ps.Height)
	assert.Equal(t, commit.AppHash, appHash)

	got, err := cli.Identity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.PublicKeys[0].Data, got.PublicKeys[0].Data)
	balance, err := cli.IdentityBalance(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)
	_, err = cli.Identity(ctx, ids.GenerateTestID())
	assert.Error(t, err)

	contract, err := cli.DataContract(ctx, contracts.DPNSID, 0)
	require.NoError(t, err)
	assert.Contains(t, string(contract), contracts.DPNSID.String())

	logged, err := cli.BlockResults(ctx, commit.Height)
	require.NoError(t, err)
	assert.Equal(t, commit.AppHash, logged.AppHash)
	require.Len(t, logged.Results, 1)

	proof, err := cli.Proof(ctx, storage.Identities, [][]byte{drive.IdentityKey(identity.ID)})
	require.NoError(t, err)
	assert.NotNil(t, proof)
}
