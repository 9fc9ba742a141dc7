package dbstore_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/dbstore"
	"github.com/via-rollup/via-node/internal/inscription"
)

func TestRollbackStoreDeletesAboveTargetBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	batches := dbstore.NewBatchStore(db)
	rollback := dbstore.NewRollbackStore(db)

	for i, txByte := range []byte{0x01, 0x02, 0x03} {
		batchNumber := uint64(i + 1)
		revealTxID := chainhash.Hash{txByte}
		require.NoError(t, batches.UpsertBatchDAReference(ctx, inscription.L1BatchDAReferenceBody{
			L1BatchIndex: uint32(batchNumber),
			BlobID:       "b",
			DAIdentifier: "celestia",
		}, revealTxID, uint32(100*batchNumber)))
	}

	has, err := rollback.HasExecutedBatchAbove(ctx, 1)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, rollback.RollbackPostgres(ctx, 1))

	_, _, found, err := batches.BatchByRevealTxID(ctx, chainhash.Hash{0x02})
	require.NoError(t, err)
	require.False(t, found)

	_, _, found, err = batches.BatchByRevealTxID(ctx, chainhash.Hash{0x01})
	require.NoError(t, err)
	require.True(t, found)
}

func TestRollbackStoreRequiresAllowFlagForExecutedBatches(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	batches := dbstore.NewBatchStore(db)
	rollback := dbstore.NewRollbackStore(db)

	revealTxID := chainhash.Hash{0x09}
	require.NoError(t, batches.UpsertBatchDAReference(ctx, inscription.L1BatchDAReferenceBody{
		L1BatchIndex: 5, BlobID: "b", DAIdentifier: "celestia",
	}, revealTxID, 500))

	proofRevealTxID := chainhash.Hash{0x0a}
	require.NoError(t, batches.InsertVotableProof(ctx, 5, proofRevealTxID, inscription.ProofDAReferenceBody{BlobID: "p"}))

	_, err := db.ExecContext(ctx, `UPDATE via_votable_transactions SET executed = 1 WHERE l1_batch_number = ?`, 5)
	require.NoError(t, err)

	has, err := rollback.HasExecutedBatchAbove(ctx, 4)
	require.NoError(t, err)
	require.True(t, has)

	has, err = rollback.HasExecutedBatchAbove(ctx, 5)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRollbackStoreRollsBackSnapshotsAboveCommitHeight(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	batches := dbstore.NewBatchStore(db)
	rollback := dbstore.NewRollbackStore(db)

	require.NoError(t, batches.UpsertBatchDAReference(ctx, inscription.L1BatchDAReferenceBody{
		L1BatchIndex: 3, BlobID: "b", DAIdentifier: "celestia",
	}, chainhash.Hash{0x07}, 300))

	_, err := db.ExecContext(ctx, `
		INSERT INTO via_wallets_snapshots (block_height, bridge_address, verifier_addrs, auth_tx_id, created_at)
		VALUES (200, 'bc1qold', '[]', 'tx-old', 0), (400, 'bc1qnew', '[]', 'tx-new', 0)`)
	require.NoError(t, err)

	require.NoError(t, rollback.RollbackSnapshots(ctx, 3))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM via_wallets_snapshots`).Scan(&count))
	require.Equal(t, 1, count)
}
