// Package reorg implements the reorg detector described in spec.md §4.6: a
// recent-history table of (height, block_hash) pairs walked every poll,
// classifying any divergence as a soft reorg (truncate and resume) or a
// hard reorg (quarantine until external recovery). Grounded on the
// teacher's height/block-hash cache (chain/mempool/cache.go), generalized
// from a TTL'd read-through cache into the detector's own recent-block
// table and insert-once reorg-metadata gate.
package reorg

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/logging"
	"github.com/via-rollup/via-node/internal/metrics"
)

var log = logging.NewSubsystemLogger("REOR")

// Window is the number of recent (height, hash) pairs compared each poll.
const Window = 6

// Kind classifies a detected reorg.
type Kind int

const (
	// KindSoft means no tracked batch references the affected range; the
	// detector may truncate and resume on its own.
	KindSoft Kind = iota
	// KindHard means at least one batch has a commit transaction in the
	// affected range; external recovery is required.
	KindHard
)

// Metadata is the persisted reorg-metadata row. Its presence is a global
// gate: while non-nil, every write-heavy task must no-op.
type Metadata struct {
	Kind              Kind
	StartHeight       uint32
	AffectedBatch     uint64
}

// AffectedBatchLookup reports whether any batch has a commit transaction
// at or above the given height, making a detected divergence a hard reorg.
type AffectedBatchLookup interface {
	BatchAffectedAtOrAbove(ctx context.Context, height uint32) (batchNumber uint64, affected bool, err error)
}

// entry is one row of the recent-block table.
type entry struct {
	height uint32
	hash   chainhash.Hash
}

// Detector walks the recent-block table every poll, looking for the first
// height where the node's reported hash disagrees with what was recorded.
type Detector struct {
	client  btcclient.Client
	lookup  AffectedBatchLookup
	genesis uint32

	mu       sync.Mutex
	recent   []entry
	metadata *Metadata
}

// New constructs a Detector. genesisFloor is the lowest height the
// detector's window may ever be clamped below.
func New(client btcclient.Client, lookup AffectedBatchLookup, genesisFloor uint32) *Detector {
	return &Detector{
		client:  client,
		lookup:  lookup,
		genesis: genesisFloor,
	}
}

// Metadata returns the current reorg-metadata row, or nil if no reorg is
// in progress.
func (d *Detector) Metadata() *Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metadata
}

// Record appends the latest (height, hash) the indexer has scanned,
// maintaining only the trailing Window entries.
func (d *Detector) Record(height uint32, hash chainhash.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recent = append(d.recent, entry{height: height, hash: hash})
	if len(d.recent) > Window {
		d.recent = d.recent[len(d.recent)-Window:]
	}
}

// Poll runs one detection cycle. If a reorg-metadata row is already
// present, it does nothing — external recovery owns clearing a hard
// reorg, and a soft reorg clears itself after its dwell in ClearSoft.
func (d *Detector) Poll(ctx context.Context) error {
	d.mu.Lock()
	if d.metadata != nil {
		d.mu.Unlock()
		return nil
	}
	recent := append([]entry(nil), d.recent...)
	d.mu.Unlock()

	for _, e := range recent {
		if e.height < d.genesis {
			continue
		}

		nodeHash, err := d.client.BlockHash(ctx, int64(e.height))
		if err != nil {
			return fmt.Errorf("reorg: fetching hash at height %d: %w", e.height, err)
		}

		if *nodeHash == e.hash {
			continue
		}

		return d.classify(ctx, e.height)
	}

	return nil
}

// classify determines whether the divergence starting at height is a soft
// or hard reorg and records the outcome.
func (d *Detector) classify(ctx context.Context, height uint32) error {
	batch, affected, err := d.lookup.BatchAffectedAtOrAbove(ctx, height)
	if err != nil {
		return fmt.Errorf("reorg: checking affected batches: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	depth := len(recentHeightsAbove(d.recent, height))

	if affected {
		d.metadata = &Metadata{Kind: KindHard, StartHeight: height, AffectedBatch: batch}
		metrics.ReorgDepth.Set(float64(depth))
		log.Warnf("hard reorg detected at height %d affecting batch %d, halting until external recovery", height, batch)
		return nil
	}

	truncated := d.recent[:0]
	for _, e := range d.recent {
		if e.height < height {
			truncated = append(truncated, e)
		}
	}
	d.recent = truncated

	d.metadata = &Metadata{Kind: KindSoft, StartHeight: height}
	metrics.ReorgDepth.Set(float64(depth))
	log.Infof("soft reorg detected at height %d, truncating local table and resetting cursor", height)

	return nil
}

// ClearSoft clears a soft reorg's metadata row after the caller's dwell
// period has elapsed. It is a no-op if the current metadata is a hard
// reorg or absent — callers must never clear a hard reorg themselves.
func (d *Detector) ClearSoft() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.metadata != nil && d.metadata.Kind == KindSoft {
		d.metadata = nil
	}
}

// ResumeHeight returns the height the indexer cursor should resume from
// after a soft reorg: the detected start height minus one.
func (m *Metadata) ResumeHeight() uint32 {
	if m.StartHeight == 0 {
		return 0
	}
	return m.StartHeight - 1
}

func recentHeightsAbove(entries []entry, height uint32) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.height >= height {
			out = append(out, e)
		}
	}
	return out
}
