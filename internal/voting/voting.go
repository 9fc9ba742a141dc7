// Package voting implements the finalization state machine described in
// spec.md §4.7: each votable transaction moves Open → Finalized-Valid or
// Open → Finalized-Invalid exactly once, the instant either outcome
// reaches quorum, and never transitions again afterward. Grounded on the
// verifier's ProofDAReference handling in
// via_btc_watch/message_processors/verifier.rs (skip-duplicate,
// chain-extension check, threshold-gated finalize), generalized from a
// single inline handler into a reusable tally type the attestation
// processor drives.
package voting

import "fmt"

// State is one votable transaction's position in the finalization
// machine.
type State int

const (
	StateOpen State = iota
	StateFinalizedValid
	StateFinalizedInvalid
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizedValid:
		return "finalized-valid"
	case StateFinalizedInvalid:
		return "finalized-invalid"
	default:
		return "unknown"
	}
}

// ErrAlreadyFinalized is returned when a vote arrives for a transaction
// that has already left the Open state; per spec.md §4.7, such votes are
// ignored, not erroneous, so callers should typically treat this as a
// no-op rather than surface it.
var ErrAlreadyFinalized = fmt.Errorf("voting: transaction already finalized")

// Tally tracks one votable transaction's vote counts and state.
type Tally struct {
	state    State
	yes      int
	no       int
	voted    map[string]bool
	verifierCount int
	threshold     float64
}

// NewTally constructs an open Tally for a transaction attested by
// verifierCount verifiers, requiring agreement from a ceil(threshold *
// verifierCount) majority to finalize either outcome.
func NewTally(verifierCount int, threshold float64) *Tally {
	return &Tally{
		state:         StateOpen,
		voted:         make(map[string]bool),
		verifierCount: verifierCount,
		threshold:     threshold,
	}
}

// QuorumSize returns ceil(threshold * verifierCount).
func (t *Tally) QuorumSize() int {
	return Quorum(t.verifierCount, t.threshold)
}

// Quorum returns ceil(threshold * verifierCount), the vote count either
// outcome must reach to finalize a votable transaction. Exported so
// DB-backed callers that keep tallies in storage rather than in an
// in-memory Tally can still share the exact same rounding rule.
func Quorum(verifierCount int, threshold float64) int {
	raw := threshold * float64(verifierCount)
	whole := int(raw)
	if float64(whole) < raw {
		whole++
	}
	return whole
}

// State reports the tally's current state.
func (t *Tally) State() State { return t.state }

// CastVote records a vote from voterAddress. Returns ErrAlreadyFinalized
// if the tally has already left Open; the caller should treat that as a
// skip, not a failure. A voter that has already voted is also a no-op
// (idempotent re-delivery), reported via the second return value.
func (t *Tally) CastVote(voterAddress string, accept bool) (transitioned bool, err error) {
	if t.state != StateOpen {
		return false, ErrAlreadyFinalized
	}
	if t.voted[voterAddress] {
		return false, nil
	}
	t.voted[voterAddress] = true

	if accept {
		t.yes++
	} else {
		t.no++
	}

	quorum := t.QuorumSize()

	// Yes-votes are tallied first, per spec.md §4.7's tie-break rule: a
	// batch that somehow reaches quorum on both outcomes in the same
	// update finalizes Valid.
	switch {
	case t.yes >= quorum:
		t.state = StateFinalizedValid
		return true, nil
	case t.no >= quorum:
		t.state = StateFinalizedInvalid
		return true, nil
	default:
		return false, nil
	}
}

// Counts returns the current yes/no vote totals.
func (t *Tally) Counts() (yes, no int) { return t.yes, t.no }
