package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/priority"
	"github.com/via-rollup/via-node/internal/processors"
)

// DepositStore adapts *DB to processors.DepositStore, persisting
// L1-to-L2 deposits keyed by their strictly monotonic priority-op id.
type DepositStore struct{ db *DB }

// NewDepositStore constructs a processors.DepositStore backed by db.
func NewDepositStore(db *DB) *DepositStore { return &DepositStore{db: db} }

// NextExpectedPriorityID returns one past the highest priority id
// recorded so far, or 0 if no deposit has been recorded yet.
func (s *DepositStore) NextExpectedPriorityID(ctx context.Context) (priority.ID, error) {
	var max sql.NullInt64
	err := s.db.queryRow(ctx, `SELECT MAX(priority_id) FROM via_deposits`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("dbstore: querying max priority id: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return priority.ID(max.Int64) + 1, nil
}

// InsertDeposit records a deposit, translating a unique-index conflict on
// priority_id into processors.ErrDuplicate.
func (s *DepositStore) InsertDeposit(ctx context.Context, id priority.ID, body inscription.L1ToL2MessageBody, txID string, vout uint32, amount int64) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_deposits (priority_id, tx_id, vout, amount, receiver_l2, contract_l2, call_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(id), txID, vout, amount,
		body.ReceiverL2Address[:], body.L2ContractAddress[:], body.CallData,
		time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return processors.ErrDuplicate
		}
		return fmt.Errorf("dbstore: inserting deposit %s: %w", id, err)
	}
	return nil
}
