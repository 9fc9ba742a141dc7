package aggregator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/sender/aggregator"
)

type fakeSource struct {
	commitItems []aggregator.ReadyItem
	proofItems  []aggregator.ReadyItem
	commitOK    bool
	proofOK     bool
}

func (f fakeSource) ReadyToCommitL1Batch(ctx context.Context) ([]aggregator.ReadyItem, error) {
	return f.commitItems, nil
}

func (f fakeSource) ReadyToCommitProof(ctx context.Context) ([]aggregator.ReadyItem, error) {
	return f.proofItems, nil
}

func (f fakeSource) BuildCommitL1BatchBody(ctx context.Context) (inscription.L1BatchDAReferenceBody, bool, error) {
	return inscription.L1BatchDAReferenceBody{}, f.commitOK, nil
}

func (f fakeSource) BuildCommitProofBody(ctx context.Context) (inscription.ProofDAReferenceBody, bool, error) {
	return inscription.ProofDAReferenceBody{}, f.proofOK, nil
}

func TestNoOperationWhenNothingReady(t *testing.T) {
	src := fakeSource{}
	a := aggregator.New(src, aggregator.Config{MaxBatchesToCommit: 5, MaxProofsToCommit: 5})

	op, err := a.NextReadyOperation(context.Background())
	require.NoError(t, err)
	require.Nil(t, op)
}

func TestNumberCriterionTriggersCommit(t *testing.T) {
	src := fakeSource{
		commitItems: []aggregator.ReadyItem{
			{Op: aggregator.OpCommitL1BatchOnchain, ReadySince: time.Now()},
			{Op: aggregator.OpCommitL1BatchOnchain, ReadySince: time.Now()},
		},
		commitOK: true,
	}
	a := aggregator.New(src, aggregator.Config{MaxBatchesToCommit: 2, MaxProofsToCommit: 5})

	op, err := a.NextReadyOperation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, aggregator.OpCommitL1BatchOnchain, op.Op)
}

func TestProofTakesPriorityOverCommit(t *testing.T) {
	src := fakeSource{
		commitItems: []aggregator.ReadyItem{
			{Op: aggregator.OpCommitL1BatchOnchain, ReadySince: time.Now()},
		},
		proofItems: []aggregator.ReadyItem{
			{Op: aggregator.OpCommitProofOnchain, ReadySince: time.Now()},
		},
		commitOK: true,
		proofOK:  true,
	}
	a := aggregator.New(src, aggregator.Config{MaxBatchesToCommit: 1, MaxProofsToCommit: 1})

	op, err := a.NextReadyOperation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, aggregator.OpCommitProofOnchain, op.Op)
}

func TestDeadlineCriterionTriggersAfterWait(t *testing.T) {
	src := fakeSource{
		commitItems: []aggregator.ReadyItem{
			{Op: aggregator.OpCommitL1BatchOnchain, ReadySince: time.Now().Add(-time.Hour)},
		},
		commitOK: true,
	}
	a := aggregator.New(src, aggregator.Config{
		MaxBatchesToCommit: 100,
		MaxProofsToCommit:  100,
		CommitDeadline:     time.Minute,
	})

	op, err := a.NextReadyOperation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, op)
}
