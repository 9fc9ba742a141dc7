// Package daclient implements the abstract data-availability interface from
// spec.md §6 (dispatch_blob / get_inclusion_data) plus the FallbackDaClient
// wrapper, grounded directly on
// original_source/core/lib/via_da_clients/src/fallback/client.rs. The
// retry/backoff envelope around each client's calls uses internal/retry,
// generalizing the teacher's own mempool-client retry loop.
package daclient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/via-rollup/via-node/internal/logging"
	"github.com/via-rollup/via-node/internal/retry"
)

var log = logging.NewSubsystemLogger("DACL")

// Client is the abstract data-availability operation set every concrete DA
// backend (Celestia, an external node, a local mock) implements.
type Client interface {
	// DispatchBlob posts bytes for batchNumber and returns an opaque blob
	// id the chain records in a DA-reference inscription.
	DispatchBlob(ctx context.Context, batchNumber uint32, data []byte) (blobID string, err error)

	// GetInclusionData fetches a previously dispatched blob by id. found is
	// false if the backend has no record of it (not an error — the blob
	// may not yet be available, or may have expired).
	GetInclusionData(ctx context.Context, blobID string) (data []byte, found bool, err error)

	// BlobSizeLimit reports the maximum blob size this backend accepts, 0
	// if unbounded.
	BlobSizeLimit() int
}

// DispatchWithRetry wraps a Client's DispatchBlob in the module's standard
// jittered-backoff envelope, per spec.md §6's "retryable errors are
// retried with jittered backoff up to a configured max."
func DispatchWithRetry(ctx context.Context, client Client, policy retry.Policy, batchNumber uint32, data []byte) (string, error) {
	var blobID string
	err := retry.Do(ctx, policy, func() error {
		id, err := client.DispatchBlob(ctx, batchNumber, data)
		if err != nil {
			return err
		}
		blobID = id
		return nil
	})
	return blobID, err
}

// FallbackDaClient wraps a primary and an optional secondary Client: blobs
// are always dispatched to the primary; inclusion data is fetched from the
// primary first, falling back to the secondary on a primary miss or error.
// An optional consistency-check mode additionally fetches from the
// secondary whenever the primary has data, and fails non-retryably if the
// two disagree.
type FallbackDaClient struct {
	primary           Client
	fallback          Client
	verifyConsistency bool
}

// NewFallbackDaClient constructs a FallbackDaClient. fallback may be nil,
// in which case a primary miss or error is returned as-is.
func NewFallbackDaClient(primary, fallback Client, verifyConsistency bool) *FallbackDaClient {
	return &FallbackDaClient{primary: primary, fallback: fallback, verifyConsistency: verifyConsistency}
}

// DispatchBlob always dispatches to the primary only.
func (c *FallbackDaClient) DispatchBlob(ctx context.Context, batchNumber uint32, data []byte) (string, error) {
	return c.primary.DispatchBlob(ctx, batchNumber, data)
}

// BlobSizeLimit reports the primary's limit.
func (c *FallbackDaClient) BlobSizeLimit() int {
	return c.primary.BlobSizeLimit()
}

// GetInclusionData tries the primary first, then the fallback on a miss or
// error, and in consistency-check mode cross-checks a primary hit against
// the fallback.
func (c *FallbackDaClient) GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error) {
	primaryData, found, err := c.primary.GetInclusionData(ctx, blobID)

	switch {
	case err == nil && found:
		if c.verifyConsistency && c.fallback != nil {
			if verifyErr := c.checkConsistency(ctx, blobID, primaryData); verifyErr != nil {
				return nil, false, verifyErr
			}
		}
		return primaryData, true, nil

	case err == nil && !found:
		if c.fallback == nil {
			return nil, false, nil
		}
		log.Infof("primary DA client has no data for blob %s, trying fallback", blobID)
		return c.fallback.GetInclusionData(ctx, blobID)

	default:
		if c.fallback == nil {
			return nil, false, err
		}
		log.Warnf("primary DA client failed for blob %s: %s, trying fallback", blobID, err)
		data, found, fallbackErr := c.fallback.GetInclusionData(ctx, blobID)
		if fallbackErr != nil {
			log.Errorf("both primary and fallback DA clients failed for blob %s", blobID)
			return nil, false, err
		}
		return data, found, nil
	}
}

func (c *FallbackDaClient) checkConsistency(ctx context.Context, blobID string, primaryData []byte) error {
	fallbackData, found, err := c.fallback.GetInclusionData(ctx, blobID)
	if err != nil {
		log.Warnf("failed to fetch from fallback DA for consistency check on blob %s: %s", blobID, err)
		return nil
	}
	if !found {
		log.Warnf("fallback DA client has no data for blob %s (primary has data)", blobID)
		return nil
	}

	if !bytes.Equal(primaryData, fallbackData) {
		return retry.Permanent(fmt.Errorf("daclient: data mismatch between primary and fallback for blob %s", blobID))
	}

	log.Infof("consistency verified for blob %s", blobID)
	return nil
}
