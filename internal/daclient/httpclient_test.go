package daclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/daclient"
)

func TestHTTPClientDispatchAndFetch(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/blob":
			require.Equal(t, "7", r.URL.Query().Get("batch_number"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			stored = body
			_ = json.NewEncoder(w).Encode(map[string]string{"blob_id": "blob-7"})
		case r.Method == http.MethodGet && r.URL.Path == "/blob/blob-7":
			w.Write(stored)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := daclient.NewHTTPClient(srv.URL, 0)
	ctx := context.Background()

	blobID, err := client.DispatchBlob(ctx, 7, []byte("pubdata"))
	require.NoError(t, err)
	require.Equal(t, "blob-7", blobID)

	data, found, err := client.GetInclusionData(ctx, blobID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("pubdata"), data)
}

func TestHTTPClientGetInclusionDataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := daclient.NewHTTPClient(srv.URL, 0)
	_, found, err := client.GetInclusionData(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestHTTPClientDispatchRejectsOversizeBlob(t *testing.T) {
	client := daclient.NewHTTPClient("http://unused.invalid", 4)
	_, err := client.DispatchBlob(context.Background(), 1, []byte("too big"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds backend limit")
}
