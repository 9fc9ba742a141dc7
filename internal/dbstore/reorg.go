package dbstore

import (
	"context"
	"database/sql"
	"fmt"
)

// ReorgLookup adapts *DB to reorg.AffectedBatchLookup.
type ReorgLookup struct{ db *DB }

// NewReorgLookup constructs a reorg.AffectedBatchLookup backed by db.
func NewReorgLookup(db *DB) *ReorgLookup { return &ReorgLookup{db: db} }

// BatchAffectedAtOrAbove reports the lowest-numbered batch whose commit
// transaction was recorded at or above height, if any.
func (l *ReorgLookup) BatchAffectedAtOrAbove(ctx context.Context, height uint32) (uint64, bool, error) {
	var batchNumber int64
	err := l.db.queryRow(ctx, `
		SELECT batch_number FROM via_l1_batches
		WHERE commit_height >= ?
		ORDER BY batch_number ASC LIMIT 1`, height).Scan(&batchNumber)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("dbstore: checking batches affected at or above height %d: %w", height, err)
	}
	return uint64(batchNumber), true, nil
}
