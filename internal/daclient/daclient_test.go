package daclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/daclient"
)

type fakeClient struct {
	data  map[string][]byte
	err   error
	calls int
}

func (f *fakeClient) DispatchBlob(ctx context.Context, batchNumber uint32, data []byte) (string, error) {
	return "blob-id", nil
}

func (f *fakeClient) GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	d, ok := f.data[blobID]
	return d, ok, nil
}

func (f *fakeClient) BlobSizeLimit() int { return 0 }

func TestGetInclusionDataPrefersPrimary(t *testing.T) {
	primary := &fakeClient{data: map[string][]byte{"a": []byte("primary-data")}}
	fallback := &fakeClient{data: map[string][]byte{"a": []byte("fallback-data")}}

	c := daclient.NewFallbackDaClient(primary, fallback, false)
	data, found, err := c.GetInclusionData(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("primary-data"), data)
	require.Equal(t, 0, fallback.calls)
}

func TestGetInclusionDataFallsBackOnMiss(t *testing.T) {
	primary := &fakeClient{data: map[string][]byte{}}
	fallback := &fakeClient{data: map[string][]byte{"a": []byte("fallback-data")}}

	c := daclient.NewFallbackDaClient(primary, fallback, false)
	data, found, err := c.GetInclusionData(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("fallback-data"), data)
}

func TestGetInclusionDataFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeClient{err: errors.New("primary down")}
	fallback := &fakeClient{data: map[string][]byte{"a": []byte("fallback-data")}}

	c := daclient.NewFallbackDaClient(primary, fallback, false)
	data, found, err := c.GetInclusionData(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("fallback-data"), data)
}

func TestGetInclusionDataNoFallbackReturnsPrimaryError(t *testing.T) {
	primary := &fakeClient{err: errors.New("primary down")}

	c := daclient.NewFallbackDaClient(primary, nil, false)
	_, found, err := c.GetInclusionData(context.Background(), "a")
	require.Error(t, err)
	require.False(t, found)
}

func TestConsistencyCheckFailsOnMismatch(t *testing.T) {
	primary := &fakeClient{data: map[string][]byte{"a": []byte("primary-data")}}
	fallback := &fakeClient{data: map[string][]byte{"a": []byte("different-data")}}

	c := daclient.NewFallbackDaClient(primary, fallback, true)
	_, _, err := c.GetInclusionData(context.Background(), "a")
	require.Error(t, err)
}

func TestConsistencyCheckPassesOnMatch(t *testing.T) {
	primary := &fakeClient{data: map[string][]byte{"a": []byte("same-data")}}
	fallback := &fakeClient{data: map[string][]byte{"a": []byte("same-data")}}

	c := daclient.NewFallbackDaClient(primary, fallback, true)
	data, found, err := c.GetInclusionData(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("same-data"), data)
}
