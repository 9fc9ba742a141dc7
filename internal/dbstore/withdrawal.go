package dbstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/withdrawal"
)

// WithdrawalBatchSource adapts *DB to withdrawal.BatchSource, offering the
// lowest-numbered finalized-accepted batch none of whose withdrawal
// requests has a recorded bridge_withdrawal_id yet (including a batch with
// no requests persisted yet — EnsureRequests fills those in on the same
// poll that parses the batch's pubdata for the first time).
type WithdrawalBatchSource struct{ db *DB }

// NewWithdrawalBatchSource constructs a withdrawal.BatchSource backed by db.
func NewWithdrawalBatchSource(db *DB) *WithdrawalBatchSource {
	return &WithdrawalBatchSource{db: db}
}

func (s *WithdrawalBatchSource) NextWithdrawableBatch(ctx context.Context) (withdrawal.Batch, bool, error) {
	row := s.db.queryRow(ctx, `
		SELECT v.l1_batch_number, v.proof_reveal_tx_id, b.da_identifier, b.blob_id
		FROM via_votable_transactions v
		JOIN via_l1_batches b ON b.batch_number = v.l1_batch_number
		WHERE v.finalized = 1 AND v.accepted = 1
		  AND NOT EXISTS (
		      SELECT 1 FROM via_withdrawals w
		      WHERE w.l1_batch_number = v.l1_batch_number AND w.bridge_withdrawal_id IS NOT NULL
		  )
		ORDER BY v.l1_batch_number ASC LIMIT 1`)

	var batchNumber int64
	var proofRevealTxID, daIdentifier, blobID string
	err := row.Scan(&batchNumber, &proofRevealTxID, &daIdentifier, &blobID)
	if err == sql.ErrNoRows {
		return withdrawal.Batch{}, false, nil
	}
	if err != nil {
		return withdrawal.Batch{}, false, fmt.Errorf("dbstore: fetching next withdrawable batch: %w", err)
	}

	txid, err := chainhash.NewHashFromStr(proofRevealTxID)
	if err != nil {
		return withdrawal.Batch{}, false, fmt.Errorf("dbstore: parsing proof reveal txid %s: %w", proofRevealTxID, err)
	}

	return withdrawal.Batch{
		Number:              uint64(batchNumber),
		ProofRevealTxID:     *txid,
		PubdataDAIdentifier: daIdentifier,
		PubdataBlobID:       blobID,
	}, true, nil
}

// WithdrawalRequestStore adapts *DB to withdrawal.RequestStore, persisting
// the withdrawal requests parsed out of a batch's pubdata blob and stamping
// bridge_withdrawal_id once the settling transaction broadcasts.
type WithdrawalRequestStore struct{ db *DB }

// NewWithdrawalRequestStore constructs a withdrawal.RequestStore backed by db.
func NewWithdrawalRequestStore(db *DB) *WithdrawalRequestStore {
	return &WithdrawalRequestStore{db: db}
}

func (s *WithdrawalRequestStore) EnsureRequests(ctx context.Context, batchNumber uint64, entries []withdrawal.Entry) error {
	for _, e := range entries {
		_, err := s.db.exec(ctx, `
			INSERT INTO via_withdrawals (l2_tx_hash, l2_tx_log_index, l1_batch_number, receiver, amount)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (l2_tx_hash, l2_tx_log_index, receiver) DO NOTHING`,
			chainhash.Hash(e.L2TxHash).String(), e.L2LogIndex, batchNumber, e.Receiver, e.AmountSats,
		)
		if err != nil {
			return fmt.Errorf("dbstore: persisting withdrawal request %x/%d for batch %d: %w", e.L2TxHash, e.L2LogIndex, batchNumber, err)
		}
	}
	return nil
}

func (s *WithdrawalRequestStore) MarkSettled(ctx context.Context, batchNumber uint64, bridgeWithdrawalID chainhash.Hash) error {
	_, err := s.db.exec(ctx, `
		UPDATE via_withdrawals SET bridge_withdrawal_id = ?
		WHERE l1_batch_number = ? AND bridge_withdrawal_id IS NULL`,
		bridgeWithdrawalID.String(), batchNumber,
	)
	if err != nil {
		return fmt.Errorf("dbstore: marking batch %d withdrawals settled as %s: %w", batchNumber, bridgeWithdrawalID, err)
	}
	return nil
}
