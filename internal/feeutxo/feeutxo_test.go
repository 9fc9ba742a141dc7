package feeutxo_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/feeutxo"
)

func utxo(txid byte, value btcutil.Amount) feeutxo.UTXO {
	var hash [32]byte
	hash[0] = txid
	return feeutxo.UTXO{
		Outpoint: wire.OutPoint{Hash: hash, Index: 0},
		Value:    value,
	}
}

func TestPackSinglePlan(t *testing.T) {
	utxos := []feeutxo.UTXO{utxo(1, 200_000)}
	outputs := []feeutxo.Output{{Value: 50_000, PkScript: []byte{0x00}}}

	plans, err := feeutxo.Pack(utxos, outputs, 10, []byte{0x01})
	require.NoError(t, err)
	require.Len(t, plans, 1)

	var inTotal, outTotal btcutil.Amount
	for _, in := range plans[0].Inputs {
		inTotal += in.Value
	}
	for _, out := range plans[0].Outputs {
		outTotal += out.Value
	}
	require.Equal(t, inTotal, outTotal+plans[0].Fee)
}

func TestPackInsufficientFunds(t *testing.T) {
	utxos := []feeutxo.UTXO{utxo(1, 1_000)}
	outputs := []feeutxo.Output{{Value: 50_000, PkScript: []byte{0x00}}}

	_, err := feeutxo.Pack(utxos, outputs, 10, []byte{0x01})
	require.Error(t, err)

	var insufficient *feeutxo.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
}

func TestPackRejectsDustOutput(t *testing.T) {
	utxos := []feeutxo.UTXO{utxo(1, 200_000)}
	outputs := []feeutxo.Output{{Value: 100, PkScript: []byte{0x00}}}

	_, err := feeutxo.Pack(utxos, outputs, 10, []byte{0x01})
	require.Error(t, err)
}

func TestPackNoDoubleSpendAcrossPlans(t *testing.T) {
	utxos := []feeutxo.UTXO{utxo(1, 60_000), utxo(2, 60_000), utxo(3, 60_000)}
	outputs := []feeutxo.Output{
		{Value: 50_000, PkScript: []byte{0x00}},
		{Value: 50_000, PkScript: []byte{0x01}},
	}

	plans, err := feeutxo.Pack(utxos, outputs, 5, []byte{0xaa})
	require.NoError(t, err)

	seen := make(map[wire.OutPoint]bool)
	for _, p := range plans {
		for _, in := range p.Inputs {
			require.False(t, seen[in.Outpoint], "utxo reused across plans")
			seen[in.Outpoint] = true
		}
	}
}
