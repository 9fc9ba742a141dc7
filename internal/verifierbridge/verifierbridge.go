// Package verifierbridge implements the ZK Verifier Bridge task described in
// spec.md §4.12: for each not-yet-executed votable transaction, fetch its
// proof and pubdata DA blobs, recompute the verification key hash, compare
// it against the currently committed VK, run the opaque proof verifier, and
// cast the resulting vote through the normal attestation inscription path.
// Grounded on via_zk_verifier/src/lib.rs's ViaVerifier.loop_iteration
// (get_first_not_executed_block -> parse ProofDAReference -> fetch proof
// blob -> parse L1BatchDAReference -> fetch pubdata blob -> verify_proof ->
// mark_transaction_executed/verify_votable_transaction), restructured as a
// single Task.Tick the way internal/sender/manager structures its own
// cooperative-task tick.
package verifierbridge

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/sha3"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("ZKVB")

// AffinePoint is one elliptic-curve point committed to by a verification
// key, serialized big-endian x then y with no headers, per spec.md §4.12.
type AffinePoint struct {
	X [32]byte
	Y [32]byte
}

// VerificationKey groups the five commitment families whose concatenated
// serialization is hashed to identify a proof system version.
type VerificationKey struct {
	GateSetupCommitments    []AffinePoint
	GateSelectorCommitments []AffinePoint
	PermutationCommitments  []AffinePoint
	LookupCommitments       []AffinePoint
	RecursiveCommitments    []AffinePoint
}

// Hash computes the Keccak256 verification-key hash spec.md §4.12 defines:
// over the serialized gate-setup, gate-selector, permutation, lookup, and
// recursive commitments in that order, each point as big-endian x then y
// with no length or type headers. Uses golang.org/x/crypto/sha3's legacy
// Keccak-256 construction (distinct from NIST SHA3-256) rather than pulling
// in go-ethereum's crypto package solely for this one hash function — the
// module already requires golang.org/x/crypto for other purposes.
func (vk VerificationKey) Hash() [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, group := range [][]AffinePoint{
		vk.GateSetupCommitments,
		vk.GateSelectorCommitments,
		vk.PermutationCommitments,
		vk.LookupCommitments,
		vk.RecursiveCommitments,
	} {
		for _, p := range group {
			h.Write(p.X[:])
			h.Write(p.Y[:])
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PendingExecution is one finalized-valid votable transaction awaiting
// proof verification and execution marking.
type PendingExecution struct {
	VotableID         uint64
	L1BatchNumber     uint64
	ProofRevealTxID   chainhash.Hash
	ProofBlobID       string
	BatchRevealTxID   chainhash.Hash
}

// Store is the verifier task's database dependency: the not-yet-executed
// queue, the DA-reference lookups needed to resolve each blob, and the
// execution/vote bookkeeping performed once a proof has been checked.
type Store interface {
	FirstNotExecuted(ctx context.Context) (*PendingExecution, error)
	BatchDAReference(ctx context.Context, batchRevealTxID chainhash.Hash) (blobID string, l1BatchHash [32]byte, err error)
	MarkExecuted(ctx context.Context, votableID uint64, l1BatchNumber uint64, verified bool) error
}

// DAClient fetches a previously-dispatched blob by id, per the
// get_inclusion_data abstract operation in spec.md §6.
type DAClient interface {
	GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error)
}

// VKTable resolves the verification key committed for a protocol version;
// in this deployment it is always the single currently active version, kept
// simple because spec.md's Non-goals exclude multi-version proof migration.
type VKTable interface {
	CurrentVerificationKey(ctx context.Context) (VerificationKey, error)
}

// ProofVerifier runs the opaque SNARK verifier over a proof blob, pubdata
// blob, and batch hash. The concrete circuit implementation is out of
// scope for this module (spec.md §4.12 treats it as opaque); callers supply
// whatever verifier binding their deployment uses.
type ProofVerifier interface {
	Verify(ctx context.Context, vkHash [32]byte, batchHash [32]byte, proof []byte, pubdata []byte) (bool, error)
}

// AttestationQueue casts a verifier's vote the same way the indexer's
// validator-attestation processor would see it arrive: as a queued
// ValidatorAttestationBody inscription request.
type AttestationQueue interface {
	QueueAttestation(ctx context.Context, referenceTxID chainhash.Hash, vote inscription.Vote) error
}

// Task drives one verifier-role tick.
type Task struct {
	store    Store
	da       DAClient
	vks      VKTable
	verifier ProofVerifier
	queue    AttestationQueue
}

// New constructs a verifier Task.
func New(store Store, da DAClient, vks VKTable, verifier ProofVerifier, queue AttestationQueue) *Task {
	return &Task{store: store, da: da, vks: vks, verifier: verifier, queue: queue}
}

// Tick processes at most one not-yet-executed votable transaction, mirroring
// loop_iteration's single-item-per-poll shape.
func (t *Task) Tick(ctx context.Context) error {
	pending, err := t.store.FirstNotExecuted(ctx)
	if err != nil {
		return fmt.Errorf("verifierbridge: listing not-executed transactions: %w", err)
	}
	if pending == nil {
		return nil
	}

	proofBlob, found, err := t.da.GetInclusionData(ctx, pending.ProofBlobID)
	if err != nil {
		return fmt.Errorf("verifierbridge: fetching proof blob: %w", err)
	}
	if !found {
		log.Warnf("proof blob %s not yet available for batch %d", pending.ProofBlobID, pending.L1BatchNumber)
		return nil
	}

	batchBlobID, batchHash, err := t.store.BatchDAReference(ctx, pending.BatchRevealTxID)
	if err != nil {
		return fmt.Errorf("verifierbridge: resolving batch DA reference: %w", err)
	}

	pubdataBlob, found, err := t.da.GetInclusionData(ctx, batchBlobID)
	if err != nil {
		return fmt.Errorf("verifierbridge: fetching pubdata blob: %w", err)
	}
	if !found {
		log.Warnf("pubdata blob %s not yet available for batch %d", batchBlobID, pending.L1BatchNumber)
		return nil
	}

	vk, err := t.vks.CurrentVerificationKey(ctx)
	if err != nil {
		return fmt.Errorf("verifierbridge: resolving current verification key: %w", err)
	}

	verified, err := t.verifier.Verify(ctx, vk.Hash(), batchHash, proofBlob, pubdataBlob)
	if err != nil {
		return fmt.Errorf("verifierbridge: running proof verifier: %w", err)
	}

	vote := inscription.VoteNotOk
	if verified {
		vote = inscription.VoteOk
	}

	if err := t.queue.QueueAttestation(ctx, pending.ProofRevealTxID, vote); err != nil {
		return fmt.Errorf("verifierbridge: queuing attestation: %w", err)
	}

	if err := t.store.MarkExecuted(ctx, pending.VotableID, pending.L1BatchNumber, verified); err != nil {
		return fmt.Errorf("verifierbridge: marking transaction executed: %w", err)
	}

	log.Infof("batch %d proof verification result: %v", pending.L1BatchNumber, verified)
	return nil
}
