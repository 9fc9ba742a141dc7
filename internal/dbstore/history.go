package dbstore

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/sender/manager"
)

// HistoryStore adapts *DB to manager.HistoryStore, backed by the
// via_btc_inscriptions_request / _history pair described in spec.md §3.5.
// blockHeight resolves the current chain tip to stamp onto a brand-new
// request's SentAtBlock, since the request table itself has no chain
// client of its own.
type HistoryStore struct {
	db          *DB
	blockHeight func(ctx context.Context) (uint32, error)
}

// NewHistoryStore constructs a manager.HistoryStore backed by db.
func NewHistoryStore(db *DB, blockHeight func(ctx context.Context) (uint32, error)) *HistoryStore {
	return &HistoryStore{db: db, blockHeight: blockHeight}
}

// QueueRequest enqueues a brand-new inscription request, used by any
// component that wants the manager to eventually sign and broadcast a
// body (the aggregator's chosen op, a freshly cast attestation vote, a
// governance action).
func (s *HistoryStore) QueueRequest(ctx context.Context, body inscription.Body) (int64, error) {
	kind, payload, err := encodeBody(body)
	if err != nil {
		return 0, err
	}
	res, err := s.db.exec(ctx, `INSERT INTO via_btc_inscriptions_request (kind, payload, created_at) VALUES (?, ?, ?)`,
		kind, payload, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("dbstore: queuing inscription request: %w", err)
	}
	return res.LastInsertId()
}

// QueueAttestation adapts *DB to verifierbridge.AttestationQueue, casting
// a verifier's vote by queuing a ValidatorAttestationBody request the
// manager will inscribe like any other.
func (s *HistoryStore) QueueAttestation(ctx context.Context, referenceTxID chainhash.Hash, vote inscription.Vote) error {
	_, err := s.QueueRequest(ctx, inscription.ValidatorAttestationBody{ReferenceTxID: referenceTxID, Attestation: vote})
	return err
}

func (s *HistoryStore) InFlightRequests(ctx context.Context) ([]manager.PendingRequest, error) {
	rows, err := s.db.query(ctx, `
		SELECT r.id, r.kind, r.payload, h.reveal_tx_id, h.sent_at_block
		FROM via_btc_inscriptions_request r
		JOIN via_btc_inscriptions_request_history h ON h.id = (
			SELECT MAX(h2.id) FROM via_btc_inscriptions_request_history h2 WHERE h2.request_id = r.id
		)
		WHERE NOT EXISTS (
			SELECT 1 FROM via_btc_inscriptions_request_history h3
			WHERE h3.request_id = r.id AND h3.confirmed = 1
		)`)
	if err != nil {
		return nil, fmt.Errorf("dbstore: listing in-flight requests: %w", err)
	}
	defer rows.Close()

	var out []manager.PendingRequest
	for rows.Next() {
		var id int64
		var kind string
		var payload []byte
		var revealTxID string
		var sentAtBlock uint32
		if err := rows.Scan(&id, &kind, &payload, &revealTxID, &sentAtBlock); err != nil {
			return nil, fmt.Errorf("dbstore: scanning in-flight request: %w", err)
		}
		body, err := decodeBody(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, manager.PendingRequest{
			ID:          id,
			Body:        body,
			SentAtBlock: sentAtBlock,
			HasHistory:  true,
			RevealTxID:  &revealTxID,
		})
	}
	return out, rows.Err()
}

func (s *HistoryStore) NewRequests(ctx context.Context, limit int) ([]manager.PendingRequest, error) {
	rows, err := s.db.query(ctx, `
		SELECT r.id, r.kind, r.payload
		FROM via_btc_inscriptions_request r
		WHERE NOT EXISTS (SELECT 1 FROM via_btc_inscriptions_request_history h WHERE h.request_id = r.id)
		ORDER BY r.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dbstore: listing new requests: %w", err)
	}
	defer rows.Close()

	currentBlock, err := s.blockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbstore: resolving current block for new requests: %w", err)
	}

	var out []manager.PendingRequest
	for rows.Next() {
		var id int64
		var kind string
		var payload []byte
		if err := rows.Scan(&id, &kind, &payload); err != nil {
			return nil, fmt.Errorf("dbstore: scanning new request: %w", err)
		}
		body, err := decodeBody(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, manager.PendingRequest{ID: id, Body: body, SentAtBlock: currentBlock, HasHistory: false})
	}
	return out, rows.Err()
}

func (s *HistoryStore) ConfirmInscription(ctx context.Context, requestID int64) error {
	res, err := s.db.exec(ctx, `
		UPDATE via_btc_inscriptions_request_history SET confirmed = 1
		WHERE id = (SELECT MAX(id) FROM via_btc_inscriptions_request_history WHERE request_id = ?)`, requestID)
	if err != nil {
		return fmt.Errorf("dbstore: confirming request %d: %w", requestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dbstore: confirming request %d: no history row found", requestID)
	}
	return nil
}

func (s *HistoryStore) InsertResignHistory(ctx context.Context, requestID int64, commitTxID, revealTxID string, sentAtBlock uint32) error {
	return s.insertHistory(ctx, requestID, commitTxID, revealTxID, sentAtBlock)
}

func (s *HistoryStore) InsertInitialHistory(ctx context.Context, requestID int64, commitTxID, revealTxID string, sentAtBlock uint32) error {
	return s.insertHistory(ctx, requestID, commitTxID, revealTxID, sentAtBlock)
}

func (s *HistoryStore) insertHistory(ctx context.Context, requestID int64, commitTxID, revealTxID string, sentAtBlock uint32) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_btc_inscriptions_request_history (request_id, commit_tx_id, reveal_tx_id, sent_at_block)
		VALUES (?, ?, ?, ?)`, requestID, commitTxID, revealTxID, sentAtBlock)
	if err != nil {
		return fmt.Errorf("dbstore: inserting history for request %d: %w", requestID, err)
	}
	return nil
}
