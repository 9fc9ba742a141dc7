package dbstore

import (
	"context"
	"database/sql"
	"fmt"
)

// RollbackStore backs cmd/rollback-db's block-reverter, deleting every row
// this node recorded for a batch number above the target it is told to
// roll back to. Grounded on the same narrow-store-over-shared-*DB shape as
// BatchStore and HistoryStore; its queries differ only in being deletes
// bounded by batch_number instead of inserts/selects on it.
type RollbackStore struct{ db *DB }

// NewRollbackStore constructs a RollbackStore backed by db.
func NewRollbackStore(db *DB) *RollbackStore { return &RollbackStore{db: db} }

// HasExecutedBatchAbove reports whether any votable transaction above
// batchNumber has already been marked executed, the condition that forces
// an operator to pass --allow-executed-block-reversion before this store
// will touch it.
func (s *RollbackStore) HasExecutedBatchAbove(ctx context.Context, batchNumber uint64) (bool, error) {
	var executed int
	err := s.db.queryRow(ctx, `
		SELECT COALESCE(MAX(executed), 0) FROM via_votable_transactions
		WHERE l1_batch_number > ?`, batchNumber).Scan(&executed)
	if err != nil {
		return false, fmt.Errorf("dbstore: checking executed batches above %d: %w", batchNumber, err)
	}
	return executed != 0, nil
}

// RollbackPostgres deletes every batch-derived row above batchNumber:
// pending and committed L1 batches, their votes, withdrawals, and pending
// proof/blob dispatch rows. Named for the teacher's Postgres-backed
// deployment target even though this store also serves the sqlite
// backend, matching spec.md §6's flag name.
func (s *RollbackStore) RollbackPostgres(ctx context.Context, batchNumber uint64) error {
	stmts := []string{
		`DELETE FROM via_votes WHERE votable_id IN (
			SELECT votable_id FROM via_votable_transactions WHERE l1_batch_number > ?)`,
		`DELETE FROM via_votable_transactions WHERE l1_batch_number > ?`,
		`DELETE FROM via_withdrawals WHERE l1_batch_number > ?`,
		`DELETE FROM via_pending_proofs WHERE batch_number > ?`,
		`DELETE FROM via_pending_l1_batches WHERE batch_number > ?`,
		`DELETE FROM via_l1_batches WHERE batch_number > ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.exec(ctx, stmt, batchNumber); err != nil {
			return fmt.Errorf("dbstore: rolling back postgres above batch %d: %w", batchNumber, err)
		}
	}
	return nil
}

// RollbackSnapshots deletes every wallet snapshot recorded above the
// block height batchNumber last committed at, the closest analogue this
// schema has to spec.md §6's --rollback-snapshots flag (there being no
// separate state-snapshot store here; wallet-role snapshots are the only
// rollback-sensitive point-in-time table outside the batch tables
// themselves).
func (s *RollbackStore) RollbackSnapshots(ctx context.Context, batchNumber uint64) error {
	var commitHeight sql.NullInt64
	err := s.db.queryRow(ctx, `SELECT commit_height FROM via_l1_batches WHERE batch_number = ?`, batchNumber).
		Scan(&commitHeight)
	if err == sql.ErrNoRows || !commitHeight.Valid {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dbstore: resolving commit height for batch %d: %w", batchNumber, err)
	}

	_, err = s.db.exec(ctx, `DELETE FROM via_wallets_snapshots WHERE block_height > ?`, commitHeight.Int64)
	if err != nil {
		return fmt.Errorf("dbstore: rolling back wallet snapshots above height %d: %w", commitHeight.Int64, err)
	}
	return nil
}
