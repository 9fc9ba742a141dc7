package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/sender/aggregator"
)

// AggregatorBatchSource adapts *DB to aggregator.BatchSource, backed by
// the via_pending_l1_batches / via_pending_proofs staging tables a batch
// producer (this rollup's own sequencer node, reached over whatever RPC
// it exposes) populates once it has dispatched a batch's pubdata or a
// proof blob to the DA layer and is waiting for the on-chain commitment.
type AggregatorBatchSource struct{ db *DB }

// NewAggregatorBatchSource constructs an aggregator.BatchSource backed by
// db.
func NewAggregatorBatchSource(db *DB) *AggregatorBatchSource { return &AggregatorBatchSource{db: db} }

// InsertPendingBatch stages a freshly DA-dispatched batch awaiting
// commitment, called by the sequencer-facing ingestion path once a
// batch's pubdata blob has been dispatched.
func (s *AggregatorBatchSource) InsertPendingBatch(ctx context.Context, batchNumber uint64, batchHash, prevBatchHash [32]byte, daIdentifier, blobID string) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_pending_l1_batches (batch_number, batch_hash, prev_batch_hash, da_identifier, blob_id, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_number) DO NOTHING`,
		batchNumber, batchHash[:], prevBatchHash[:], daIdentifier, blobID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dbstore: staging pending batch %d: %w", batchNumber, err)
	}
	return nil
}

// InsertPendingProof stages a freshly DA-dispatched proof blob for an
// already-committed batch, awaiting its own on-chain commitment.
func (s *AggregatorBatchSource) InsertPendingProof(ctx context.Context, batchNumber uint64, batchRevealTxID, daIdentifier, blobID string) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_pending_proofs (batch_number, batch_reveal_tx_id, da_identifier, blob_id, dispatched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (batch_number) DO NOTHING`,
		batchNumber, batchRevealTxID, daIdentifier, blobID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dbstore: staging pending proof for batch %d: %w", batchNumber, err)
	}
	return nil
}

func (s *AggregatorBatchSource) ReadyToCommitL1Batch(ctx context.Context) ([]aggregator.ReadyItem, error) {
	rows, err := s.db.query(ctx, `
		SELECT p.dispatched_at FROM via_pending_l1_batches p
		WHERE NOT EXISTS (SELECT 1 FROM via_l1_batches b WHERE b.batch_number = p.batch_number)`)
	if err != nil {
		return nil, fmt.Errorf("dbstore: listing batches ready to commit: %w", err)
	}
	defer rows.Close()
	return scanReadyItems(rows, aggregator.OpCommitL1BatchOnchain)
}

func (s *AggregatorBatchSource) ReadyToCommitProof(ctx context.Context) ([]aggregator.ReadyItem, error) {
	rows, err := s.db.query(ctx, `SELECT dispatched_at FROM via_pending_proofs`)
	if err != nil {
		return nil, fmt.Errorf("dbstore: listing proofs ready to commit: %w", err)
	}
	defer rows.Close()
	return scanReadyItems(rows, aggregator.OpCommitProofOnchain)
}

func scanReadyItems(rows *sql.Rows, op aggregator.Op) ([]aggregator.ReadyItem, error) {
	var out []aggregator.ReadyItem
	for rows.Next() {
		var dispatchedAt int64
		if err := rows.Scan(&dispatchedAt); err != nil {
			return nil, fmt.Errorf("dbstore: scanning ready item: %w", err)
		}
		out = append(out, aggregator.ReadyItem{Op: op, ReadySince: time.Unix(dispatchedAt, 0)})
	}
	return out, rows.Err()
}

func (s *AggregatorBatchSource) BuildCommitL1BatchBody(ctx context.Context) (inscription.L1BatchDAReferenceBody, bool, error) {
	row := s.db.queryRow(ctx, `
		SELECT p.batch_number, p.batch_hash, p.prev_batch_hash, p.da_identifier, p.blob_id
		FROM via_pending_l1_batches p
		WHERE NOT EXISTS (SELECT 1 FROM via_l1_batches b WHERE b.batch_number = p.batch_number)
		ORDER BY p.batch_number ASC LIMIT 1`)

	var batchNumber int64
	var batchHash, prevBatchHash []byte
	var daIdentifier, blobID string
	err := row.Scan(&batchNumber, &batchHash, &prevBatchHash, &daIdentifier, &blobID)
	if err == sql.ErrNoRows {
		return inscription.L1BatchDAReferenceBody{}, false, nil
	}
	if err != nil {
		return inscription.L1BatchDAReferenceBody{}, false, fmt.Errorf("dbstore: building commit-batch body: %w", err)
	}

	var body inscription.L1BatchDAReferenceBody
	body.L1BatchIndex = uint32(batchNumber)
	copy(body.L1BatchHash[:], batchHash)
	copy(body.PrevL1BatchHash[:], prevBatchHash)
	body.DAIdentifier = daIdentifier
	body.BlobID = blobID
	return body, true, nil
}

func (s *AggregatorBatchSource) BuildCommitProofBody(ctx context.Context) (inscription.ProofDAReferenceBody, bool, error) {
	row := s.db.queryRow(ctx, `
		SELECT batch_reveal_tx_id, da_identifier, blob_id
		FROM via_pending_proofs
		ORDER BY batch_number ASC LIMIT 1`)

	var batchRevealTxID, daIdentifier, blobID string
	err := row.Scan(&batchRevealTxID, &daIdentifier, &blobID)
	if err == sql.ErrNoRows {
		return inscription.ProofDAReferenceBody{}, false, nil
	}
	if err != nil {
		return inscription.ProofDAReferenceBody{}, false, fmt.Errorf("dbstore: building commit-proof body: %w", err)
	}

	revealHash, err := chainhashFromString(batchRevealTxID)
	if err != nil {
		return inscription.ProofDAReferenceBody{}, false, err
	}

	return inscription.ProofDAReferenceBody{
		L1BatchRevealTxID: revealHash,
		DAIdentifier:      daIdentifier,
		BlobID:            blobID,
	}, true, nil
}
