package dbstore_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/dbstore"
	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/withdrawal"
)

func openTestDB(t *testing.T) *dbstore.DB {
	t.Helper()
	db, err := dbstore.Open(dbstore.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDepositStoreOrdersByPriorityID(t *testing.T) {
	db := openTestDB(t)
	store := dbstore.NewDepositStore(db)
	ctx := context.Background()

	next, err := store.NextExpectedPriorityID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), next.Raw())

	body := inscription.L1ToL2MessageBody{ReceiverL2Address: [20]byte{1}, L2ContractAddress: [20]byte{2}}
	require.NoError(t, store.InsertDeposit(ctx, next, body, "txid-a", 0, 1000))

	next2, err := store.NextExpectedPriorityID(ctx)
	require.NoError(t, err)
	require.Equal(t, next.Raw()+1, next2.Raw())
}

func TestBatchAndVotingLifecycle(t *testing.T) {
	db := openTestDB(t)
	batches := dbstore.NewBatchStore(db)
	votes := dbstore.NewVotingStore(db)
	ctx := context.Background()

	revealTxID := chainhash.Hash{0x01}
	daBody := inscription.L1BatchDAReferenceBody{L1BatchIndex: 1, BlobID: "b1", DAIdentifier: "celestia"}
	require.NoError(t, batches.UpsertBatchDAReference(ctx, daBody, revealTxID, 100))

	gotBatch, prevHash, found, err := batches.BatchByRevealTxID(ctx, revealTxID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), gotBatch)
	require.Equal(t, [32]byte{}, prevHash)

	proofRevealTxID := chainhash.Hash{0x02}
	proofBody := inscription.ProofDAReferenceBody{L1BatchRevealTxID: revealTxID, BlobID: "p1", DAIdentifier: "celestia"}
	require.NoError(t, batches.InsertVotableProof(ctx, 1, proofRevealTxID, proofBody))

	votableBatch, found, err := votes.VotableBatchByReference(ctx, proofRevealTxID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), votableBatch)

	require.NoError(t, votes.InsertVote(ctx, 1, "addr1", inscription.VoteOk))
	require.NoError(t, votes.InsertVote(ctx, 1, "addr2", inscription.VoteOk))

	yes, total, err := votes.TallyYesVotes(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, yes)
	require.Equal(t, 2, total)

	require.NoError(t, votes.Finalize(ctx, 1, true))
}

func TestWithdrawalBatchSourceAndRequestStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	batches := dbstore.NewBatchStore(db)
	ctx := context.Background()

	revealTxID := chainhash.Hash{0x03}
	require.NoError(t, batches.UpsertBatchDAReference(ctx, inscription.L1BatchDAReferenceBody{L1BatchIndex: 7, BlobID: "b", DAIdentifier: "celestia"}, revealTxID, 1))
	proofRevealTxID := chainhash.Hash{0x04}
	require.NoError(t, batches.InsertVotableProof(ctx, 7, proofRevealTxID, inscription.ProofDAReferenceBody{BlobID: "p"}))

	votes := dbstore.NewVotingStore(db)
	require.NoError(t, votes.InsertVote(ctx, 7, "v1", inscription.VoteOk))
	require.NoError(t, votes.Finalize(ctx, 7, true))

	source := dbstore.NewWithdrawalBatchSource(db)
	batch, ok, err := source.NextWithdrawableBatch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), batch.Number)
	require.Equal(t, proofRevealTxID, batch.ProofRevealTxID)
	require.Equal(t, "b", batch.PubdataBlobID)

	requests := dbstore.NewWithdrawalRequestStore(db)
	entries := []withdrawal.Entry{
		{L2TxHash: [32]byte{0x11}, L2LogIndex: 0, Receiver: "bc1qexample", AmountSats: 5000},
	}
	require.NoError(t, requests.EnsureRequests(ctx, 7, entries))
	// Re-running against the same entries must not fail or duplicate rows.
	require.NoError(t, requests.EnsureRequests(ctx, 7, entries))

	bridgeTxID := chainhash.Hash{0x05}
	require.NoError(t, requests.MarkSettled(ctx, 7, bridgeTxID))

	_, ok, err = source.NextWithdrawableBatch(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
