package chainid_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/chainid"
)

type fakeClient struct {
	genesis chainhash.Hash
}

func (f *fakeClient) BlockCount(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeClient) BlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	h := f.genesis
	return &h, nil
}

func (f *fakeClient) Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, nil
}
func (f *fakeClient) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	return nil, nil
}
func (f *fakeClient) GetRawTransaction(ctx context.Context, txid *chainhash.Hash) (*wire.MsgTx, error) {
	return nil, nil
}
func (f *fakeClient) EstimateFeeRate(ctx context.Context, confTarget int64) (btcutil.Amount, error) {
	return 0, nil
}
func (f *fakeClient) ListUnspent(ctx context.Context, minConf int32, addr string) ([]btcclient.ListUnspentItem, error) {
	return nil, nil
}

func TestCheckPassesOnMatchingGenesis(t *testing.T) {
	client := &fakeClient{genesis: *chaincfg.RegressionNetParams.GenesisHash}
	task := chainid.New(client, &chaincfg.RegressionNetParams)

	require.NoError(t, task.Check(context.Background()))
}

func TestCheckFailsOnMismatchedGenesis(t *testing.T) {
	client := &fakeClient{genesis: *chaincfg.TestNet3Params.GenesisHash}
	task := chainid.New(client, &chaincfg.RegressionNetParams)

	err := task.Check(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "doesn't match connected node")
}
