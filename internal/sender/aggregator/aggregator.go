// Package aggregator implements the Sender/Aggregator described in
// spec.md §4.8: a set of publish criteria evaluated every tick against
// work queues, combined by min, choosing at most one operation to emit
// per tick. Grounded on the teacher's component-composition style
// (lightweight-wallet/minting/config.go wires concrete strategy structs
// rather than reflecting over them) and on the criteria shape from
// via_btc_sender/aggregator.rs's ViaNumberCriterion/
// TimestampDeadlineCriterion pair, adapted from zkSync's dummy-proof/
// commit split to the two ops this rollup emits.
package aggregator

import (
	"context"
	"time"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("AGGR")

// Op identifies which inscription body family a criterion or queue
// concerns.
type Op int

const (
	OpCommitL1BatchOnchain Op = iota
	OpCommitProofOnchain
)

// ReadyItem is one item waiting in a work queue: its op and the time it
// became eligible.
type ReadyItem struct {
	Op        Op
	ReadySince time.Time
}

// Criterion reports whether a set of ready items justifies publishing
// now.
type Criterion interface {
	Ready(items []ReadyItem, now time.Time) bool
}

// NumberCriterion fires once at least Limit items of Op are ready.
type NumberCriterion struct {
	Op    Op
	Limit int
}

func (c NumberCriterion) Ready(items []ReadyItem, now time.Time) bool {
	return countOp(items, c.Op) >= c.Limit
}

// TimestampDeadlineCriterion fires once the oldest ready item of Op has
// waited longer than Deadline.
type TimestampDeadlineCriterion struct {
	Op       Op
	Deadline time.Duration
}

func (c TimestampDeadlineCriterion) Ready(items []ReadyItem, now time.Time) bool {
	oldest, ok := oldestOp(items, c.Op)
	if !ok {
		return false
	}
	return now.Sub(oldest) > c.Deadline
}

func countOp(items []ReadyItem, op Op) int {
	n := 0
	for _, it := range items {
		if it.Op == op {
			n++
		}
	}
	return n
}

func oldestOp(items []ReadyItem, op Op) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, it := range items {
		if it.Op != op {
			continue
		}
		if !found || it.ReadySince.Before(oldest) {
			oldest = it.ReadySince
			found = true
		}
	}
	return oldest, found
}

// anyReady reports whether any criterion in the set considers items ready
// — criteria within a set are combined by logical OR ("min" over the
// set's wait-condition, i.e. the first one to trigger wins), matching
// spec.md's "Criteria combined by min".
func anyReady(criteria []Criterion, items []ReadyItem, now time.Time) bool {
	for _, c := range criteria {
		if c.Ready(items, now) {
			return true
		}
	}
	return false
}

// BatchSource supplies batches ready to commit or whose proof is ready to
// commit, and builds the inscription body for whichever op is chosen.
type BatchSource interface {
	ReadyToCommitL1Batch(ctx context.Context) ([]ReadyItem, error)
	ReadyToCommitProof(ctx context.Context) ([]ReadyItem, error)
	BuildCommitL1BatchBody(ctx context.Context) (inscription.L1BatchDAReferenceBody, bool, error)
	BuildCommitProofBody(ctx context.Context) (inscription.ProofDAReferenceBody, bool, error)
}

// Aggregator chooses at most one ready operation per tick.
type Aggregator struct {
	source BatchSource

	commitCriteria []Criterion
	proofCriteria  []Criterion
}

// Config sets the NumberCriterion limits and TimestampDeadlineCriterion
// deadlines for both operation families.
type Config struct {
	MaxBatchesToCommit int
	MaxProofsToCommit  int
	CommitDeadline     time.Duration
	ProofDeadline      time.Duration
}

// New constructs an Aggregator wired with the standard NumberCriterion +
// TimestampDeadlineCriterion pair per operation, matching the teacher's
// two-criteria-per-op composition.
func New(source BatchSource, cfg Config) *Aggregator {
	return &Aggregator{
		source: source,
		commitCriteria: []Criterion{
			NumberCriterion{Op: OpCommitL1BatchOnchain, Limit: cfg.MaxBatchesToCommit},
			TimestampDeadlineCriterion{Op: OpCommitL1BatchOnchain, Deadline: cfg.CommitDeadline},
		},
		proofCriteria: []Criterion{
			NumberCriterion{Op: OpCommitProofOnchain, Limit: cfg.MaxProofsToCommit},
			TimestampDeadlineCriterion{Op: OpCommitProofOnchain, Deadline: cfg.ProofDeadline},
		},
	}
}

// Operation is the chosen body ready to be enqueued as an
// InscriptionRequest, tagged with which op produced it.
type Operation struct {
	Op   Op
	Body inscription.Body
}

// NextReadyOperation evaluates both criteria sets and returns at most one
// operation, giving CommitProofOnchain priority over CommitL1BatchOnchain
// so proofs never starve behind new commits, per spec.md §4.8.
func (a *Aggregator) NextReadyOperation(ctx context.Context) (*Operation, error) {
	now := time.Now()

	proofItems, err := a.source.ReadyToCommitProof(ctx)
	if err != nil {
		return nil, err
	}
	if anyReady(a.proofCriteria, proofItems, now) {
		body, ok, err := a.source.BuildCommitProofBody(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Infof("aggregator selected CommitProofOnchain")
			return &Operation{Op: OpCommitProofOnchain, Body: body}, nil
		}
	}

	commitItems, err := a.source.ReadyToCommitL1Batch(ctx)
	if err != nil {
		return nil, err
	}
	if anyReady(a.commitCriteria, commitItems, now) {
		body, ok, err := a.source.BuildCommitL1BatchBody(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Infof("aggregator selected CommitL1BatchOnchain")
			return &Operation{Op: OpCommitL1BatchOnchain, Body: body}, nil
		}
	}

	return nil, nil
}
