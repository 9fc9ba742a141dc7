package withdrawal

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/coordinator"
	"github.com/via-rollup/via-node/internal/feeutxo"
	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("WDRL")

// TagPrefix is the ASCII protocol marker spec.md §4.11 requires on every
// withdrawal settlement transaction's OP_RETURN output, followed by the
// settled batch's proof-reveal txid.
const TagPrefix = "VIA_PROTOCOL:WITHDRAWAL:"

// Batch identifies a finalized-valid batch awaiting withdrawal settlement
// and the DA reference for its pubdata blob.
type Batch struct {
	Number               uint64
	ProofRevealTxID      chainhash.Hash
	PubdataDAIdentifier  string
	PubdataBlobID        string
}

// BatchSource resolves the lowest-numbered finalized-valid batch whose
// withdrawals have not yet been settled, per spec.md §4.11's session-start
// selection rule.
type BatchSource interface {
	NextWithdrawableBatch(ctx context.Context) (Batch, bool, error)
}

// RequestStore persists the withdrawal requests parsed from a batch's
// pubdata (so they're queryable ahead of settlement) and stamps the
// bridge_withdrawal_id once the settling transaction broadcasts.
type RequestStore interface {
	EnsureRequests(ctx context.Context, batchNumber uint64, entries []Entry) error
	MarkSettled(ctx context.Context, batchNumber uint64, bridgeWithdrawalID chainhash.Hash) error
}

// DAClient is the subset of daclient.Client this package needs; satisfied
// structurally by *daclient.FallbackDaClient and any other Client.
type DAClient interface {
	GetInclusionData(ctx context.Context, blobID string) ([]byte, bool, error)
}

// UTXOLister lists the bridge address's spendable outputs; satisfied
// structurally by btcclient.Client.
type UTXOLister interface {
	ListUnspent(ctx context.Context, minConf int32, addr string) ([]btcclient.ListUnspentItem, error)
}

// Broadcaster submits a fully-signed transaction to the network; satisfied
// structurally by btcclient.Client.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// Config bundles a SessionBuilder's fixed dependencies and bridge-specific
// parameters.
type Config struct {
	Batches     BatchSource
	Requests    RequestStore
	DA          DAClient
	UTXOs       UTXOLister
	Broadcaster Broadcaster

	Params             *chaincfg.Params
	BridgeAddress      string
	BridgePkScript     []byte
	ChangeScript       []byte
	FeeRateSatPerVByte int64
	RequiredSigners    int
}

// SessionBuilder implements coordinator.Source and coordinator.Completer,
// running spec.md §4.11's "Session start" pipeline on every poll: fetch
// the next withdrawable batch's pubdata blob, parse and group its
// withdrawal requests, pack the weight-bounded Taproot plan (§4.2), and
// hand the coordinator the plan's key-path sighash as the signing
// session's message. Only single-bridge-UTXO, single-plan withdrawals are
// supported — every worked example in spec.md settles from one UTXO, and
// coordinator.Subject carries a single 32-byte Message, so a plan packed
// into more than one transaction (feeutxo.Pack returning >1 plan) cannot
// be represented by one session; SessionBuilder signs the first plan and
// logs the rest as deferred to the following poll, once the first
// settles and frees the next batch's UTXO.
type SessionBuilder struct {
	cfg Config
}

// NewSessionBuilder constructs a SessionBuilder from cfg.
func NewSessionBuilder(cfg Config) *SessionBuilder {
	return &SessionBuilder{cfg: cfg}
}

// ErrNotReady indicates the next withdrawable batch's pubdata is not yet
// available from the DA client, or its pubdata carries no withdrawal
// requests to settle — neither is an error condition, just "try again
// next poll."
var ErrNotReady = fmt.Errorf("withdrawal: session not ready")

func (b *SessionBuilder) NextSession(ctx context.Context) (coordinator.Subject, bool, error) {
	batch, ok, err := b.cfg.Batches.NextWithdrawableBatch(ctx)
	if err != nil {
		return coordinator.Subject{}, false, fmt.Errorf("withdrawal: resolving next withdrawable batch: %w", err)
	}
	if !ok {
		return coordinator.Subject{}, false, nil
	}

	_, _, message, err := b.buildPlanTx(ctx, batch)
	if err == ErrNotReady {
		log.Debugf("withdrawal session for batch %d not ready yet: %s", batch.Number, err)
		return coordinator.Subject{}, false, nil
	}
	if err != nil {
		return coordinator.Subject{}, false, fmt.Errorf("withdrawal: building session plan for batch %d: %w", batch.Number, err)
	}

	return coordinator.Subject{
		BatchNumber:     batch.Number,
		ProofRevealTxID: batch.ProofRevealTxID.String(),
		Message:         message,
		RequiredSigners: b.cfg.RequiredSigners,
	}, true, nil
}

// Complete rebuilds the same plan NextSession offered (the bridge's UTXO
// set and the batch's pubdata are both immutable between the session's
// start and its completion, so the rebuild is deterministic), verifies it
// still matches the signed subject, attaches the aggregated Schnorr
// signature as the sole witness element of the spending input, broadcasts,
// and records the resulting txid as the settled withdrawals'
// bridge_withdrawal_id.
func (b *SessionBuilder) Complete(ctx context.Context, subject coordinator.Subject, finalSig [64]byte) error {
	batch, ok, err := b.cfg.Batches.NextWithdrawableBatch(ctx)
	if err != nil {
		return fmt.Errorf("withdrawal: resolving batch for completion: %w", err)
	}
	if !ok || batch.Number != subject.BatchNumber {
		return fmt.Errorf("withdrawal: completed subject for batch %d is no longer the pending session", subject.BatchNumber)
	}

	tx, _, message, err := b.buildPlanTx(ctx, batch)
	if err != nil {
		return fmt.Errorf("withdrawal: rebuilding plan for completion: %w", err)
	}
	if message != subject.Message {
		return fmt.Errorf("withdrawal: rebuilt sighash no longer matches signed session for batch %d (bridge UTXO set or pubdata changed)", batch.Number)
	}

	witness := append(append([]byte(nil), finalSig[:]...), byte(txscript.SigHashAll))
	tx.TxIn[0].Witness = wire.TxWitness{witness}

	txid, err := b.cfg.Broadcaster.SendRawTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("withdrawal: broadcasting settlement for batch %d: %w", batch.Number, err)
	}

	if err := b.cfg.Requests.MarkSettled(ctx, batch.Number, *txid); err != nil {
		return fmt.Errorf("withdrawal: recording settlement %s for batch %d: %w", txid, batch.Number, err)
	}

	log.Infof("withdrawal settlement for batch %d broadcast as %s", batch.Number, txid)
	return nil
}

// buildPlanTx runs the shared fetch/parse/group/pack/sighash pipeline,
// returning the unsigned transaction, the plan it was built from, and the
// Taproot key-path sighash of its sole input.
func (b *SessionBuilder) buildPlanTx(ctx context.Context, batch Batch) (*wire.MsgTx, feeutxo.Plan, [32]byte, error) {
	data, found, err := b.cfg.DA.GetInclusionData(ctx, batch.PubdataBlobID)
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: fetching pubdata blob %s: %w", batch.PubdataBlobID, err)
	}
	if !found {
		return nil, feeutxo.Plan{}, [32]byte{}, ErrNotReady
	}

	entries, err := ParsePubdata(data)
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: parsing pubdata for batch %d: %w", batch.Number, err)
	}

	groups := GroupByAddress(entries)
	if len(groups) == 0 {
		return nil, feeutxo.Plan{}, [32]byte{}, ErrNotReady
	}

	if err := b.cfg.Requests.EnsureRequests(ctx, batch.Number, entries); err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: persisting withdrawal requests for batch %d: %w", batch.Number, err)
	}

	outputs := make([]feeutxo.Output, 0, len(groups)+1)
	for _, g := range groups {
		addr, err := btcutil.DecodeAddress(g.Receiver, b.cfg.Params)
		if err != nil {
			return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: decoding receiver address %q: %w", g.Receiver, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: building payout script for %q: %w", g.Receiver, err)
		}
		outputs = append(outputs, feeutxo.Output{Value: btcutil.Amount(g.AmountSats), PkScript: script})
	}

	tagScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData([]byte(TagPrefix + batch.ProofRevealTxID.String())).
		Script()
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: building settlement tag: %w", err)
	}
	outputs = append(outputs, feeutxo.Output{Value: 0, PkScript: tagScript})

	items, err := b.cfg.UTXOs.ListUnspent(ctx, 1, b.cfg.BridgeAddress)
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: listing bridge UTXOs: %w", err)
	}
	utxos := make([]feeutxo.UTXO, 0, len(items))
	for _, it := range items {
		if it.Locked {
			continue
		}
		utxos = append(utxos, feeutxo.UTXO{
			Outpoint: wire.OutPoint{Hash: it.TxID, Index: it.Vout},
			Value:    it.Amount,
		})
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Value > utxos[j].Value })

	plans, err := feeutxo.Pack(utxos, outputs, b.cfg.FeeRateSatPerVByte, b.cfg.ChangeScript)
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: packing settlement plan for batch %d: %w", batch.Number, err)
	}
	if len(plans) == 0 {
		return nil, feeutxo.Plan{}, [32]byte{}, ErrNotReady
	}
	if len(plans) > 1 {
		log.Warnf("withdrawal batch %d needs %d transactions; settling the first this round, the rest follow once it confirms and frees the bridge UTXO", batch.Number, len(plans))
	}
	plan := plans[0]
	if len(plan.Inputs) != 1 {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: settlement plan for batch %d spends %d bridge inputs, only single-input plans are supported", batch.Number, len(plan.Inputs))
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&plan.Inputs[0].Outpoint, nil, nil))
	for _, out := range plan.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Value), out.PkScript))
	}

	prevOuts := map[wire.OutPoint]*wire.TxOut{
		plan.Inputs[0].Outpoint: wire.NewTxOut(int64(plan.Inputs[0].Value), b.cfg.BridgePkScript),
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sigHash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashAll, tx, 0, fetcher)
	if err != nil {
		return nil, feeutxo.Plan{}, [32]byte{}, fmt.Errorf("withdrawal: computing settlement sighash for batch %d: %w", batch.Number, err)
	}

	var message [32]byte
	copy(message[:], sigHash)
	return tx, plan, message, nil
}
