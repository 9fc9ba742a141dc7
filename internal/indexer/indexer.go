// Package indexer implements the inbound scanner: a bounded block-range
// walk that runs every transaction through the inscription codec and hands
// the resulting messages to the processor chain. Grounded on the teacher's
// ChainBridge polling loop (chain/mempool/chain_bridge.go) and its
// epoch-notifier pattern, with chunk/transaction discipline from
// via_btc_watch's scanner.
package indexer

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("INDX")

// ChunkSize bounds how many blocks a single Scan iteration processes, so
// each poll has predictable cost regardless of how far behind the indexer
// has fallen.
const ChunkSize = 100

// Processor receives every message decoded from a scanned transaction, in
// block-then-transaction-then-input order. The containing transaction and
// its index within the block are passed alongside the message since some
// processors (the deposit processor's priority-id derivation, in
// particular) need to inspect the transaction's own outputs rather than
// only the decoded body.
type Processor interface {
	Process(ctx context.Context, msg inscription.Message, tx *wire.MsgTx, txIndex uint32) error
}

// Indexer scans bounded block ranges and dispatches decoded messages to
// every registered processor, in dependency order.
type Indexer struct {
	client             btcclient.Client
	processors         []Processor
	confirmationsForMsg uint32
}

// New constructs an Indexer. confirmationsForMsg must be ≥ 1 on mainnet,
// matching spec.md §4.4's scan-bound invariant.
func New(client btcclient.Client, confirmationsForMsg uint32, processors ...Processor) *Indexer {
	return &Indexer{
		client:              client,
		processors:          processors,
		confirmationsForMsg: confirmationsForMsg,
	}
}

// ScanBound returns the highest block height the indexer may scan given
// the node's current tip: tip - confirmationsForMsg.
func (idx *Indexer) ScanBound(ctx context.Context) (int64, error) {
	tip, err := idx.client.BlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexer: fetching tip: %w", err)
	}

	bound := tip - int64(idx.confirmationsForMsg)
	if bound < 0 {
		bound = 0
	}
	return bound, nil
}

// Scan processes blocks [fromHeight, toHeight], clamped to ScanBound and to
// ChunkSize, returning the height actually reached so the caller can
// resume from there on the next poll.
func (idx *Indexer) Scan(ctx context.Context, fromHeight int64) (int64, error) {
	bound, err := idx.ScanBound(ctx)
	if err != nil {
		return fromHeight, err
	}
	if fromHeight > bound {
		return fromHeight, nil
	}

	toHeight := fromHeight + ChunkSize - 1
	if toHeight > bound {
		toHeight = bound
	}

	for height := fromHeight; height <= toHeight; height++ {
		if err := idx.scanBlock(ctx, height); err != nil {
			return height, fmt.Errorf("indexer: scanning block %d: %w", height, err)
		}
	}

	return toHeight + 1, nil
}

func (idx *Indexer) scanBlock(ctx context.Context, height int64) error {
	hash, err := idx.client.BlockHash(ctx, height)
	if err != nil {
		return fmt.Errorf("fetching block hash: %w", err)
	}

	block, err := idx.client.Block(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetching block: %w", err)
	}

	for txIndex, tx := range block.Transactions {
		txID := tx.TxHash().String()
		msgs := inscription.Decode(tx, uint32(height))

		for _, msg := range msgs {
			for _, proc := range idx.processors {
				if err := proc.Process(ctx, msg, tx, uint32(txIndex)); err != nil {
					return fmt.Errorf("processor rejected message from tx %s: %w", txID, err)
				}
			}
		}
	}

	log.Debugf("scanned block %d (%s), %d transactions", height, hash, len(block.Transactions))

	return nil
}
