package dbstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/processors"
	"github.com/via-rollup/via-node/internal/verifierbridge"
)

// BatchStore adapts *DB to processors.BatchStore.
type BatchStore struct{ db *DB }

// NewBatchStore constructs a processors.BatchStore backed by db.
func NewBatchStore(db *DB) *BatchStore { return &BatchStore{db: db} }

// UpsertBatchDAReference inserts or, on a replay of the same reveal
// transaction, updates the batch row it commits.
func (s *BatchStore) UpsertBatchDAReference(ctx context.Context, body inscription.L1BatchDAReferenceBody, revealTxID chainhash.Hash, commitHeight uint32) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_l1_batches (batch_number, batch_hash, prev_batch_hash, da_identifier, blob_id, reveal_tx_id, commit_height)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_number) DO UPDATE SET
			batch_hash = excluded.batch_hash,
			prev_batch_hash = excluded.prev_batch_hash,
			da_identifier = excluded.da_identifier,
			blob_id = excluded.blob_id,
			reveal_tx_id = excluded.reveal_tx_id,
			commit_height = excluded.commit_height`,
		body.L1BatchIndex, body.L1BatchHash[:], body.PrevL1BatchHash[:], body.DAIdentifier, body.BlobID, revealTxID.String(), commitHeight,
	)
	if err != nil {
		return fmt.Errorf("dbstore: upserting batch %d DA reference: %w", body.L1BatchIndex, err)
	}
	return nil
}

// BatchByRevealTxID resolves a commit reveal transaction to its batch
// number and the previous batch hash it claims to extend.
func (s *BatchStore) BatchByRevealTxID(ctx context.Context, revealTxID chainhash.Hash) (uint64, [32]byte, bool, error) {
	var batchNumber int64
	var prevHash []byte
	err := s.db.queryRow(ctx, `SELECT batch_number, prev_batch_hash FROM via_l1_batches WHERE reveal_tx_id = ?`, revealTxID.String()).
		Scan(&batchNumber, &prevHash)
	if err == sql.ErrNoRows {
		return 0, [32]byte{}, false, nil
	}
	if err != nil {
		return 0, [32]byte{}, false, fmt.Errorf("dbstore: looking up batch by reveal txid %s: %w", revealTxID, err)
	}
	var out [32]byte
	copy(out[:], prevHash)
	return uint64(batchNumber), out, true, nil
}

// LastFinalizedBatchHash returns the batch_hash of the highest-numbered
// finalized batch, or the zero hash if none is finalized yet (the
// genesis predecessor every first batch's prev_batch_hash must match).
func (s *BatchStore) LastFinalizedBatchHash(ctx context.Context) ([32]byte, error) {
	var hash []byte
	err := s.db.queryRow(ctx, `
		SELECT batch_hash FROM via_l1_batches
		WHERE finalized = 1
		ORDER BY batch_number DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return [32]byte{}, nil
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("dbstore: fetching last finalized batch hash: %w", err)
	}
	var out [32]byte
	copy(out[:], hash)
	return out, nil
}

// InsertVotableProof creates the votable-transaction row a batch's proof
// reveal opens for attestation.
func (s *BatchStore) InsertVotableProof(ctx context.Context, batchNumber uint64, proofRevealTxID chainhash.Hash, body inscription.ProofDAReferenceBody) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_votable_transactions (l1_batch_number, proof_reveal_tx_id, proof_da_identifier, proof_blob_id)
		VALUES (?, ?, ?, ?)`,
		batchNumber, proofRevealTxID.String(), body.DAIdentifier, body.BlobID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return processors.ErrDuplicate
		}
		return fmt.Errorf("dbstore: inserting votable proof for batch %d: %w", batchNumber, err)
	}
	return nil
}

// VotingStore adapts *DB to processors.VotingStore.
type VotingStore struct{ db *DB }

// NewVotingStore constructs a processors.VotingStore backed by db.
func NewVotingStore(db *DB) *VotingStore { return &VotingStore{db: db} }

func (s *VotingStore) VotableBatchByReference(ctx context.Context, referenceTxID chainhash.Hash) (uint64, bool, error) {
	var batchNumber int64
	err := s.db.queryRow(ctx, `SELECT l1_batch_number FROM via_votable_transactions WHERE proof_reveal_tx_id = ?`, referenceTxID.String()).
		Scan(&batchNumber)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("dbstore: looking up votable batch by reference %s: %w", referenceTxID, err)
	}
	return uint64(batchNumber), true, nil
}

func (s *VotingStore) InsertVote(ctx context.Context, batchNumber uint64, voterAddress string, vote inscription.Vote) error {
	votableID, err := s.votableIDByBatch(ctx, batchNumber)
	if err != nil {
		return err
	}
	_, err = s.db.exec(ctx, `INSERT INTO via_votes (votable_id, verifier_address, vote) VALUES (?, ?, ?)`,
		votableID, voterAddress, boolToInt(bool(vote)))
	if err != nil {
		if isUniqueViolation(err) {
			return processors.ErrDuplicate
		}
		return fmt.Errorf("dbstore: inserting vote for batch %d: %w", batchNumber, err)
	}
	return nil
}

func (s *VotingStore) TallyYesVotes(ctx context.Context, batchNumber uint64) (int, int, error) {
	votableID, err := s.votableIDByBatch(ctx, batchNumber)
	if err != nil {
		return 0, 0, err
	}
	var yes, total int
	err = s.db.queryRow(ctx, `SELECT COALESCE(SUM(vote), 0), COUNT(*) FROM via_votes WHERE votable_id = ?`, votableID).
		Scan(&yes, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("dbstore: tallying votes for batch %d: %w", batchNumber, err)
	}
	return yes, total, nil
}

func (s *VotingStore) Finalize(ctx context.Context, batchNumber uint64, accepted bool) error {
	votableID, err := s.votableIDByBatch(ctx, batchNumber)
	if err != nil {
		return err
	}
	if _, err := s.db.exec(ctx, `UPDATE via_votable_transactions SET finalized = 1, accepted = ? WHERE votable_id = ?`,
		boolToInt(accepted), votableID); err != nil {
		return fmt.Errorf("dbstore: finalizing votable row for batch %d: %w", batchNumber, err)
	}
	if _, err := s.db.exec(ctx, `UPDATE via_l1_batches SET finalized = 1 WHERE batch_number = ?`, batchNumber); err != nil {
		return fmt.Errorf("dbstore: finalizing batch %d: %w", batchNumber, err)
	}
	return nil
}

func (s *VotingStore) votableIDByBatch(ctx context.Context, batchNumber uint64) (int64, error) {
	var votableID int64
	err := s.db.queryRow(ctx, `SELECT votable_id FROM via_votable_transactions WHERE l1_batch_number = ?`, batchNumber).Scan(&votableID)
	if err != nil {
		return 0, fmt.Errorf("dbstore: resolving votable row for batch %d: %w", batchNumber, err)
	}
	return votableID, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// VerifierBridgeStore adapts *DB to verifierbridge.Store.
type VerifierBridgeStore struct{ db *DB }

// NewVerifierBridgeStore constructs a verifierbridge.Store backed by db.
func NewVerifierBridgeStore(db *DB) *VerifierBridgeStore { return &VerifierBridgeStore{db: db} }

func (s *VerifierBridgeStore) FirstNotExecuted(ctx context.Context) (*verifierbridge.PendingExecution, error) {
	row := s.db.queryRow(ctx, `
		SELECT v.votable_id, v.l1_batch_number, v.proof_reveal_tx_id, v.proof_blob_id, b.reveal_tx_id
		FROM via_votable_transactions v
		JOIN via_l1_batches b ON b.batch_number = v.l1_batch_number
		WHERE v.finalized = 1 AND v.accepted = 1 AND v.executed = 0
		ORDER BY v.votable_id ASC LIMIT 1`)

	var votableID, batchNumber int64
	var proofRevealTxID, proofBlobID, batchRevealTxID string
	err := row.Scan(&votableID, &batchNumber, &proofRevealTxID, &proofBlobID, &batchRevealTxID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dbstore: fetching first not-executed votable row: %w", err)
	}

	proofHash, err := chainhash.NewHashFromStr(proofRevealTxID)
	if err != nil {
		return nil, fmt.Errorf("dbstore: parsing proof reveal txid %s: %w", proofRevealTxID, err)
	}
	batchHash, err := chainhash.NewHashFromStr(batchRevealTxID)
	if err != nil {
		return nil, fmt.Errorf("dbstore: parsing batch reveal txid %s: %w", batchRevealTxID, err)
	}

	return &verifierbridge.PendingExecution{
		VotableID:       uint64(votableID),
		L1BatchNumber:   uint64(batchNumber),
		ProofRevealTxID: *proofHash,
		ProofBlobID:     proofBlobID,
		BatchRevealTxID: *batchHash,
	}, nil
}

func (s *VerifierBridgeStore) BatchDAReference(ctx context.Context, batchRevealTxID chainhash.Hash) (string, [32]byte, error) {
	var blobID string
	var hash []byte
	err := s.db.queryRow(ctx, `SELECT blob_id, batch_hash FROM via_l1_batches WHERE reveal_tx_id = ?`, batchRevealTxID.String()).
		Scan(&blobID, &hash)
	if err != nil {
		return "", [32]byte{}, fmt.Errorf("dbstore: resolving batch DA reference for reveal %s: %w", batchRevealTxID, err)
	}
	var out [32]byte
	copy(out[:], hash)
	return blobID, out, nil
}

func (s *VerifierBridgeStore) MarkExecuted(ctx context.Context, votableID uint64, l1BatchNumber uint64, verified bool) error {
	_, err := s.db.exec(ctx, `UPDATE via_votable_transactions SET executed = 1, verified = ? WHERE votable_id = ?`,
		boolToInt(verified), votableID)
	if err != nil {
		return fmt.Errorf("dbstore: marking votable row %d executed: %w", votableID, err)
	}
	return nil
}

// VerificationKeyTable adapts *DB to verifierbridge.VKTable, reading the
// single currently-active verification key row.
type VerificationKeyTable struct{ db *DB }

// NewVerificationKeyTable constructs a verifierbridge.VKTable backed by db.
func NewVerificationKeyTable(db *DB) *VerificationKeyTable { return &VerificationKeyTable{db: db} }

func (t *VerificationKeyTable) CurrentVerificationKey(ctx context.Context) (verifierbridge.VerificationKey, error) {
	row := t.db.queryRow(ctx, `SELECT gate_setup, gate_selector, permutation, lookup, recursive FROM via_verification_keys WHERE id = 1`)
	var gateSetup, gateSelector, permutation, lookup, recursive []byte
	if err := row.Scan(&gateSetup, &gateSelector, &permutation, &lookup, &recursive); err != nil {
		return verifierbridge.VerificationKey{}, fmt.Errorf("dbstore: loading verification key: %w", err)
	}
	return verifierbridge.VerificationKey{
		GateSetupCommitments:    decodePoints(gateSetup),
		GateSelectorCommitments: decodePoints(gateSelector),
		PermutationCommitments:  decodePoints(permutation),
		LookupCommitments:       decodePoints(lookup),
		RecursiveCommitments:    decodePoints(recursive),
	}, nil
}

// decodePoints splits a blob into consecutive 64-byte (x||y) AffinePoints,
// the verification key's own storage layout.
func decodePoints(raw []byte) []verifierbridge.AffinePoint {
	const pointSize = 64
	points := make([]verifierbridge.AffinePoint, 0, len(raw)/pointSize)
	for i := 0; i+pointSize <= len(raw); i += pointSize {
		var p verifierbridge.AffinePoint
		copy(p.X[:], raw[i:i+32])
		copy(p.Y[:], raw[i+32:i+64])
		points = append(points, p)
	}
	return points
}
