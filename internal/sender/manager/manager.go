// Package manager implements the Sender/Manager described in spec.md
// §4.9: every tick, bail out if a reorg is in progress, reconcile
// in-flight requests against confirmation depth (re-signing stuck ones),
// then use free slots to inscribe new requests. Grounded on the teacher's
// cooperative task-loop pattern and on
// via_btc_sender/btc_inscription_manager.rs's loop_iteration /
// update_inscription_status / send_new_inscription_txs split, which this
// package mirrors as Tick / reconcileInFlight / fillSlots.
package manager

import (
	"context"
	"fmt"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/inscriber"
	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/logging"
	"github.com/via-rollup/via-node/internal/metrics"
)

var log = logging.NewSubsystemLogger("SNDM")

// ReorgGate reports whether a reorg is currently in progress; when true,
// the manager must no-op for the tick.
type ReorgGate interface {
	InProgress(ctx context.Context) (bool, error)
}

// PendingRequest is one queued inscription request the manager either
// reconciles (if it already has history) or inscribes (if not).
type PendingRequest struct {
	ID          int64
	Body        inscription.Body
	SentAtBlock uint32
	HasHistory  bool
	RevealTxID  *string
}

// HistoryStore persists inscription-request history rows and exposes the
// queue of in-flight and not-yet-sent requests.
type HistoryStore interface {
	InFlightRequests(ctx context.Context) ([]PendingRequest, error)
	NewRequests(ctx context.Context, limit int) ([]PendingRequest, error)
	ConfirmInscription(ctx context.Context, requestID int64) error
	InsertResignHistory(ctx context.Context, requestID int64, commitTxID, revealTxID string, sentAtBlock uint32) error
	InsertInitialHistory(ctx context.Context, requestID int64, commitTxID, revealTxID string, sentAtBlock uint32) error
}

// Manager reconciles in-flight inscriptions and fills free slots every
// tick.
type Manager struct {
	client    btcclient.Client
	ins       *inscriber.Inscriber
	store     HistoryStore
	reorg     ReorgGate
	maxInFlight int
	requiredConfs int
	stuckThreshold uint32
	internalKeyFor func(body inscription.Body) ([32]byte, error)
}

// Config bounds concurrency and confirmation/staleness thresholds.
type Config struct {
	MaxInFlight    int
	RequiredConfs  int
	StuckThreshold uint32
}

// New constructs a Manager. internalKeyFor resolves the Taproot internal
// key an inscription body should commit under — the bridge's operational
// key in this rollup's deployment.
func New(client btcclient.Client, ins *inscriber.Inscriber, store HistoryStore, reorg ReorgGate, cfg Config, internalKeyFor func(inscription.Body) ([32]byte, error)) *Manager {
	return &Manager{
		client:         client,
		ins:            ins,
		store:          store,
		reorg:          reorg,
		maxInFlight:    cfg.MaxInFlight,
		requiredConfs:  cfg.RequiredConfs,
		stuckThreshold: cfg.StuckThreshold,
		internalKeyFor: internalKeyFor,
	}
}

// Tick runs one manager iteration.
func (m *Manager) Tick(ctx context.Context) error {
	inProgress, err := m.reorg.InProgress(ctx)
	if err != nil {
		return fmt.Errorf("manager: checking reorg gate: %w", err)
	}
	if inProgress {
		log.Debugf("reorg in progress, skipping tick")
		return nil
	}

	inFlight, err := m.reconcileInFlight(ctx)
	if err != nil {
		return err
	}

	return m.fillSlots(ctx, inFlight)
}

func (m *Manager) reconcileInFlight(ctx context.Context) (int, error) {
	requests, err := m.store.InFlightRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("manager: listing in-flight requests: %w", err)
	}

	currentBlock, err := m.client.BlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("manager: fetching current block: %w", err)
	}

	active := 0
	for _, req := range requests {
		if req.RevealTxID == nil {
			active++
			continue
		}

		confirmed, err := m.isConfirmed(ctx, *req.RevealTxID)
		if err != nil {
			metrics.TransientErrors.WithLabelValues("sender-manager").Inc()
			return 0, fmt.Errorf("manager: checking confirmation for request %d: %w", req.ID, err)
		}

		if confirmed {
			if err := m.store.ConfirmInscription(ctx, req.ID); err != nil {
				return 0, fmt.Errorf("manager: confirming request %d: %w", req.ID, err)
			}
			log.Infof("inscription request %d confirmed at reveal %s", req.ID, *req.RevealTxID)
			continue
		}

		active++

		if currentBlock < 0 || uint32(currentBlock)-req.SentAtBlock <= m.stuckThreshold {
			continue
		}

		if b, ok := req.Body.(inscription.L1BatchDAReferenceBody); ok {
			metrics.StuckInscriptionL1Batch.Set(float64(b.L1BatchIndex))
		}
		if err := m.resign(ctx, req, uint32(currentBlock)); err != nil {
			return 0, fmt.Errorf("manager: re-signing stuck request %d: %w", req.ID, err)
		}
	}

	return active, nil
}

func (m *Manager) resign(ctx context.Context, req PendingRequest, sentAtBlock uint32) error {
	newReq, err := m.inscribe(ctx, req.Body)
	if err != nil {
		return err
	}

	if err := m.store.InsertResignHistory(ctx, req.ID, newReq.CommitTxID.String(), newReq.RevealTxID.String(), sentAtBlock); err != nil {
		return err
	}

	log.Warnf("request %d stuck past threshold, re-signed with new commit=%s reveal=%s", req.ID, newReq.CommitTxID, newReq.RevealTxID)
	return nil
}

func (m *Manager) fillSlots(ctx context.Context, inFlightCount int) error {
	slots := m.maxInFlight - inFlightCount
	if slots <= 0 {
		return nil
	}

	newRequests, err := m.store.NewRequests(ctx, slots)
	if err != nil {
		return fmt.Errorf("manager: listing new requests: %w", err)
	}

	for _, req := range newRequests {
		result, err := m.inscribe(ctx, req.Body)
		if err != nil {
			metrics.TransientErrors.WithLabelValues("sender-manager").Inc()
			return fmt.Errorf("manager: inscribing request %d: %w", req.ID, err)
		}

		if err := m.store.InsertInitialHistory(ctx, req.ID, result.CommitTxID.String(), result.RevealTxID.String(), req.SentAtBlock); err != nil {
			return fmt.Errorf("manager: persisting history for request %d: %w", req.ID, err)
		}

		log.Infof("inscribed new request %d commit=%s reveal=%s", req.ID, result.CommitTxID, result.RevealTxID)
	}

	return nil
}

func (m *Manager) inscribe(ctx context.Context, body inscription.Body) (*inscriber.Request, error) {
	internalKeyBytes, err := m.internalKeyFor(body)
	if err != nil {
		return nil, fmt.Errorf("manager: resolving internal key: %w", err)
	}

	pub, err := parseXOnlyPubKey(internalKeyBytes)
	if err != nil {
		return nil, err
	}

	return m.ins.Inscribe(ctx, body, pub)
}

func (m *Manager) isConfirmed(ctx context.Context, revealTxID string) (bool, error) {
	hash, err := parseTxID(revealTxID)
	if err != nil {
		return false, err
	}
	tx, err := m.client.GetRawTransaction(ctx, hash)
	if err != nil || tx == nil {
		return false, nil
	}
	return true, nil
}
