package verifierbridge_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/verifierbridge"
)

func TestVerificationKeyHashIsOrderAndCoordinateSensitive(t *testing.T) {
	point := func(x, y byte) verifierbridge.AffinePoint {
		var p verifierbridge.AffinePoint
		p.X[31] = x
		p.Y[31] = y
		return p
	}

	vk1 := verifierbridge.VerificationKey{GateSetupCommitments: []verifierbridge.AffinePoint{point(1, 2)}}
	vk2 := verifierbridge.VerificationKey{GateSelectorCommitments: []verifierbridge.AffinePoint{point(1, 2)}}
	vk3 := verifierbridge.VerificationKey{GateSetupCommitments: []verifierbridge.AffinePoint{point(2, 1)}}

	require.NotEqual(t, vk1.Hash(), vk2.Hash())
	require.NotEqual(t, vk1.Hash(), vk3.Hash())
	require.Equal(t, vk1.Hash(), vk1.Hash())
}

type fakeStore struct {
	pending       *verifierbridge.PendingExecution
	batchBlobID   string
	batchHash     [32]byte
	markedVerified *bool
}

func (f *fakeStore) FirstNotExecuted(ctx context.Context) (*verifierbridge.PendingExecution, error) {
	return f.pending, nil
}

func (f *fakeStore) BatchDAReference(ctx context.Context, batchRevealTxID chainhash.Hash) (string, [32]byte, error) {
	return f.batchBlobID, f.batchHash, nil
}

func (f *fakeStore) MarkExecuted(ctx context.Context, votableID uint64, l1BatchNumber uint64, verified bool) error {
	f.markedVerified = &verified
	return nil
}

type fakeDA struct{ blobs map[string][]byte }

func (f fakeDA) GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error) {
	b, ok := f.blobs[blobID]
	return b, ok, nil
}

type fakeVKTable struct{ vk verifierbridge.VerificationKey }

func (f fakeVKTable) CurrentVerificationKey(ctx context.Context) (verifierbridge.VerificationKey, error) {
	return f.vk, nil
}

type fakeVerifier struct{ result bool }

func (f fakeVerifier) Verify(ctx context.Context, vkHash, batchHash [32]byte, proof, pubdata []byte) (bool, error) {
	return f.result, nil
}

type fakeQueue struct {
	called bool
	vote   inscription.Vote
}

func (f *fakeQueue) QueueAttestation(ctx context.Context, referenceTxID chainhash.Hash, vote inscription.Vote) error {
	f.called = true
	f.vote = vote
	return nil
}

func TestTickCastsOkVoteOnSuccessfulVerification(t *testing.T) {
	store := &fakeStore{
		pending: &verifierbridge.PendingExecution{
			VotableID:       1,
			L1BatchNumber:   42,
			ProofRevealTxID: chainhash.Hash{0xaa},
			ProofBlobID:     "proof-blob",
			BatchRevealTxID: chainhash.Hash{0xbb},
		},
		batchBlobID: "batch-blob",
	}
	da := fakeDA{blobs: map[string][]byte{"proof-blob": []byte("proof"), "batch-blob": []byte("pubdata")}}
	queue := &fakeQueue{}

	task := verifierbridge.New(store, da, fakeVKTable{}, fakeVerifier{result: true}, queue)
	require.NoError(t, task.Tick(context.Background()))

	require.True(t, queue.called)
	require.Equal(t, inscription.VoteOk, queue.vote)
	require.NotNil(t, store.markedVerified)
	require.True(t, *store.markedVerified)
}

func TestTickCastsNotOkVoteOnFailedVerification(t *testing.T) {
	store := &fakeStore{
		pending: &verifierbridge.PendingExecution{
			L1BatchNumber:   7,
			ProofRevealTxID: chainhash.Hash{0xcc},
			ProofBlobID:     "proof-blob",
		},
	}
	da := fakeDA{blobs: map[string][]byte{"proof-blob": []byte("proof"), "": []byte("pubdata")}}
	queue := &fakeQueue{}

	task := verifierbridge.New(store, da, fakeVKTable{}, fakeVerifier{result: false}, queue)
	require.NoError(t, task.Tick(context.Background()))

	require.True(t, queue.called)
	require.Equal(t, inscription.VoteNotOk, queue.vote)
}

func TestTickNoopsWhenNothingPending(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}

	task := verifierbridge.New(store, fakeDA{}, fakeVKTable{}, fakeVerifier{}, queue)
	require.NoError(t, task.Tick(context.Background()))
	require.False(t, queue.called)
}
