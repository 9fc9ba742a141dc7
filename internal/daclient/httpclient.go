package daclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/via-rollup/via-node/internal/retry"
)

// HTTPClient is a generic Client backed by a DA node's REST API, grounded
// on the same request/retry shape the teacher's mempool.space client
// (lightweight-wallet/chain/mempool/client.go) uses for its own upstream —
// a plain net/http call wrapped in internal/retry's backoff envelope —
// since original_source carries no concrete DA backend to port beyond the
// fallback wrapper itself. Any DA node exposing `POST /blob` (body: raw
// bytes, query batch_number) and `GET /blob/{id}` (404 when not yet
// included) can sit behind this client.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	policy      retry.Policy
	sizeLimit   int
}

// NewHTTPClient constructs an HTTPClient against baseURL. sizeLimit is the
// backend's maximum accepted blob size, 0 if unbounded.
func NewHTTPClient(baseURL string, sizeLimit int) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.DefaultPolicy(),
		sizeLimit:  sizeLimit,
	}
}

type dispatchResponse struct {
	BlobID string `json:"blob_id"`
}

func (c *HTTPClient) DispatchBlob(ctx context.Context, batchNumber uint32, data []byte) (string, error) {
	if c.sizeLimit > 0 && len(data) > c.sizeLimit {
		return "", retry.Permanent(fmt.Errorf("daclient: blob of %d bytes exceeds backend limit %d", len(data), c.sizeLimit))
	}

	var blobID string
	err := retry.Do(ctx, c.policy, func() error {
		url := fmt.Sprintf("%s/blob?batch_number=%d", c.baseURL, batchNumber)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Debugf("dispatching blob for batch %d: transient error, retrying: %v", batchNumber, err)
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("daclient: backend returned %d: %s", resp.StatusCode, body)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("daclient: backend rejected blob for batch %d: %d: %s", batchNumber, resp.StatusCode, body))
		}

		var out dispatchResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return retry.Permanent(fmt.Errorf("daclient: parsing dispatch response: %w", err))
		}
		blobID = out.BlobID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("daclient: dispatching blob for batch %d: %w", batchNumber, err)
	}
	return blobID, nil
}

func (c *HTTPClient) GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := retry.Do(ctx, c.policy, func() error {
		url := fmt.Sprintf("%s/blob/%s", c.baseURL, blobID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Debugf("fetching blob %s: transient error, retrying: %v", blobID, err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			found = false
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daclient: backend returned %d fetching blob %s: %s", resp.StatusCode, blobID, body)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("daclient: fetching blob %s: %w", blobID, err)
	}
	return data, found, nil
}

func (c *HTTPClient) BlobSizeLimit() int { return c.sizeLimit }
