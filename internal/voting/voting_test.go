package voting_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/voting"
)

func TestCastVoteFinalizesValidAtQuorum(t *testing.T) {
	tally := voting.NewTally(3, 0.66)

	transitioned, err := tally.CastVote("a", true)
	require.NoError(t, err)
	require.False(t, transitioned)

	transitioned, err = tally.CastVote("b", true)
	require.NoError(t, err)
	require.True(t, transitioned)
	require.Equal(t, voting.StateFinalizedValid, tally.State())
}

func TestCastVoteFinalizesInvalidAtQuorum(t *testing.T) {
	tally := voting.NewTally(3, 0.66)

	_, err := tally.CastVote("a", false)
	require.NoError(t, err)
	transitioned, err := tally.CastVote("b", false)
	require.NoError(t, err)
	require.True(t, transitioned)
	require.Equal(t, voting.StateFinalizedInvalid, tally.State())
}

func TestCastVoteIgnoredAfterFinalization(t *testing.T) {
	tally := voting.NewTally(3, 0.66)
	_, _ = tally.CastVote("a", true)
	_, _ = tally.CastVote("b", true)
	require.Equal(t, voting.StateFinalizedValid, tally.State())

	_, err := tally.CastVote("c", false)
	require.ErrorIs(t, err, voting.ErrAlreadyFinalized)
	require.Equal(t, voting.StateFinalizedValid, tally.State())
}

func TestCastVoteDuplicateVoterIsNoop(t *testing.T) {
	tally := voting.NewTally(5, 0.66)

	_, err := tally.CastVote("a", true)
	require.NoError(t, err)
	transitioned, err := tally.CastVote("a", true)
	require.NoError(t, err)
	require.False(t, transitioned)

	yes, _ := tally.Counts()
	require.Equal(t, 1, yes)
}

func TestQuorumRoundsUp(t *testing.T) {
	require.Equal(t, 3, voting.Quorum(4, 0.66))
	require.Equal(t, 2, voting.Quorum(3, 0.5))
}
