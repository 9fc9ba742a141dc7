package reorg_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/reorg"
)

type fakeClient struct {
	hashes map[int64]chainhash.Hash
}

func (f *fakeClient) BlockCount(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeClient) BlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	h := f.hashes[height]
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

type fakeLookup struct {
	affected bool
	batch    uint64
}

func (f fakeLookup) BatchAffectedAtOrAbove(ctx context.Context, height uint32) (uint64, bool, error) {
	return f.batch, f.affected, nil
}

func hashByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestPollNoDivergenceIsNoop(t *testing.T) {
	client := &fakeClient{hashes: map[int64]chainhash.Hash{100: hashByte(0xaa)}}
	det := reorg.New(client, fakeLookup{}, 0)
	det.Record(100, hashByte(0xaa))

	require.NoError(t, det.Poll(context.Background()))
	require.Nil(t, det.Metadata())
}

func TestSoftReorgTruncatesAndClears(t *testing.T) {
	client := &fakeClient{hashes: map[int64]chainhash.Hash{
		99:  hashByte(0xaa),
		100: hashByte(0xbb), // node disagrees with recorded 0xcc
	}}

	det := reorg.New(client, fakeLookup{affected: false}, 0)
	det.Record(99, hashByte(0xaa))
	det.Record(100, hashByte(0xcc))

	err := det.Poll(context.Background())
	require.NoError(t, err)

	meta := det.Metadata()
	require.NotNil(t, meta)
	require.Equal(t, reorg.KindSoft, meta.Kind)
	require.EqualValues(t, 100, meta.StartHeight)
	require.EqualValues(t, 99, meta.ResumeHeight())

	det.ClearSoft()
	require.Nil(t, det.Metadata())
}

func TestHardReorgNeverClearedBySoftClear(t *testing.T) {
	client := &fakeClient{hashes: map[int64]chainhash.Hash{
		100: hashByte(0xbb),
	}}

	det := reorg.New(client, fakeLookup{affected: true, batch: 42}, 0)
	det.Record(100, hashByte(0xcc))

	err := det.Poll(context.Background())
	require.NoError(t, err)

	meta := det.Metadata()
	require.NotNil(t, meta)
	require.Equal(t, reorg.KindHard, meta.Kind)
	require.EqualValues(t, 42, meta.AffectedBatch)

	det.ClearSoft()
	require.NotNil(t, det.Metadata(), "hard reorg must not be cleared by ClearSoft")
}
