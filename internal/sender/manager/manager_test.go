package manager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/sender/manager"
)

type fakeReorgGate struct{ inProgress bool }

func (f fakeReorgGate) InProgress(ctx context.Context) (bool, error) { return f.inProgress, nil }

func TestTickNoopsDuringReorg(t *testing.T) {
	m := manager.New(nil, nil, nil, fakeReorgGate{inProgress: true}, manager.Config{}, nil)
	err := m.Tick(context.Background())
	require.NoError(t, err)
}
