package priority_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/via-rollup/via-node/internal/priority"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		block, tx, vout uint64
	}{
		{0, 0, 0},
		{1, 2, 3},
		{1_000_000, 500_000, 42},
		{priority.MaxBlockNumber, priority.MaxTxIndex, priority.MaxVout},
	}

	for _, c := range cases {
		id, err := priority.New(c.block, c.tx, c.vout)
		require.NoError(t, err)
		require.Equal(t, c.block, id.BlockNumber())
		require.Equal(t, c.tx, id.TxIndex())
		require.Equal(t, c.vout, id.Vout())
	}
}

func TestBitFieldIsolation(t *testing.T) {
	id1, err := priority.New(priority.MaxBlockNumber, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(priority.MaxBlockNumber), id1.BlockNumber())
	require.Zero(t, id1.TxIndex())
	require.Zero(t, id1.Vout())

	id2, err := priority.New(0, priority.MaxTxIndex, 0)
	require.NoError(t, err)
	require.Zero(t, id2.BlockNumber())
	require.Equal(t, uint64(priority.MaxTxIndex), id2.TxIndex())
	require.Zero(t, id2.Vout())

	id3, err := priority.New(0, 0, priority.MaxVout)
	require.NoError(t, err)
	require.Zero(t, id3.BlockNumber())
	require.Zero(t, id3.TxIndex())
	require.Equal(t, uint64(priority.MaxVout), id3.Vout())
}

func TestOrderingByBlockNumber(t *testing.T) {
	id1, _ := priority.New(100, 999, 999)
	id2, _ := priority.New(101, 0, 0)
	require.True(t, id1.Less(id2))
}

func TestOrderingByTxIndex(t *testing.T) {
	id1, _ := priority.New(100, 500, 999)
	id2, _ := priority.New(100, 501, 0)
	require.True(t, id1.Less(id2))
}

func TestOrderingByVout(t *testing.T) {
	id1, _ := priority.New(100, 500, 42)
	id2, _ := priority.New(100, 500, 43)
	require.True(t, id1.Less(id2))
}

func TestOverflowRejected(t *testing.T) {
	_, err := priority.New(priority.MaxBlockNumber+1, 0, 0)
	require.Error(t, err)

	_, err = priority.New(0, priority.MaxTxIndex+1, 0)
	require.Error(t, err)

	_, err = priority.New(0, 0, priority.MaxVout+1)
	require.Error(t, err)
}
