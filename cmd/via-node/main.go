// Command via-node is the long-running daemon that hosts every
// cooperative task described in spec.md §5: the indexer, the reorg
// detector, the message processors they feed, the sender's aggregator and
// manager, the withdrawal coordinator's HTTP surface, the chain-id
// validator, and (when enabled) the verifier-bridge task. Grounded on the
// teacher's own binary wiring idiom: one flat main that loads config,
// opens shared dependencies, and launches one goroutine per cooperative
// task via internal/taskloop under a single errgroup. Task loops log each
// tick's error and keep running; they do not tell fatal errors from
// transient ones, so no task error stops the process. Only a failure of the
// coordinator HTTP server ends the errgroup and exits non-zero.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/chainid"
	"github.com/via-rollup/via-node/internal/config"
	"github.com/via-rollup/via-node/internal/coordinator"
	"github.com/via-rollup/via-node/internal/daclient"
	"github.com/via-rollup/via-node/internal/dbstore"
	"github.com/via-rollup/via-node/internal/indexer"
	"github.com/via-rollup/via-node/internal/inscriber"
	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/keyring"
	"github.com/via-rollup/via-node/internal/logging"
	"github.com/via-rollup/via-node/internal/metrics"
	"github.com/via-rollup/via-node/internal/processors"
	"github.com/via-rollup/via-node/internal/reorg"
	"github.com/via-rollup/via-node/internal/sender/aggregator"
	"github.com/via-rollup/via-node/internal/sender/manager"
	"github.com/via-rollup/via-node/internal/taskloop"
	"github.com/via-rollup/via-node/internal/verifierbridge"
	"github.com/via-rollup/via-node/internal/withdrawal"
)

var log = logging.NewSubsystemLogger("MAIN")

func main() {
	if err := run(); err != nil {
		log.Errorf("fatal: %s", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	level, ok := btclog.LevelFromString(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logging.SetLevels(level)

	params, err := cfg.Bitcoin.ChainParams()
	if err != nil {
		return err
	}

	db, err := dbstore.Open(dbstore.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	client, err := btcclient.New(btcclient.Config{
		Host:        cfg.Bitcoin.RPCHost,
		User:        cfg.Bitcoin.RPCUser,
		Pass:        cfg.Bitcoin.RPCPass,
		RateLimit:   btcclient.DefaultConfig().RateLimit,
		RetryPolicy: btcclient.DefaultConfig().RetryPolicy,
		HTTPTimeout: btcclient.DefaultConfig().HTTPTimeout,
	})
	if err != nil {
		return fmt.Errorf("dialing bitcoin node: %w", err)
	}

	bridgeKey, err := cfg.Bridge.BridgeKey()
	if err != nil {
		return err
	}
	verifierKeys, err := cfg.Bridge.VerifierKeys()
	if err != nil {
		return err
	}

	bridgePkScript, err := addressScript(cfg.Bridge.Address, params)
	if err != nil {
		return fmt.Errorf("resolving bridge address: %w", err)
	}
	changeAddress := cfg.Bridge.ChangeAddress
	if changeAddress == "" {
		changeAddress = cfg.Bridge.Address
	}
	changeScript, err := addressScript(changeAddress, params)
	if err != nil {
		return fmt.Errorf("resolving change address: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := chainid.New(client, params).Check(ctx); err != nil {
		return err
	}

	kr := keyring.New(cfg.Bridge.SeedFilePath, params)
	signer := keyring.NewBridgeSigner(kr, cfg.Bridge.Address)
	internalKeyFor := func(inscription.Body) ([32]byte, error) {
		return signer.InternalKeyBytes()
	}

	ins := inscriber.New(client, signer, params, cfg.Bridge.FeeRateSatPerVByte)

	reorgLookup := dbstore.NewReorgLookup(db)
	detector := reorg.New(client, reorgLookup, 0)
	reorgGate := reorgGateAdapter{detector: detector}

	depositProc := processors.NewDepositProcessor(dbstore.NewDepositStore(db), bridgePkScript)
	daRefProc := processors.NewDAReferenceProcessor(dbstore.NewBatchStore(db))
	verifierSet := newStaticVerifierSet(cfg.Bridge.VerifierAddresses, cfg.Bridge.AgreementThreshold)
	attestationProc := processors.NewValidatorAttestationProcessor(dbstore.NewVotingStore(db), verifierSet)
	sigVerifier := addressMatchVerifier{params: params}
	governanceProc := processors.NewGovernanceProcessor(dbstore.NewWalletStore(db), sigVerifier, client, processors.RoleGovernance)
	sequencerProc := processors.NewGovernanceProcessor(dbstore.NewWalletStore(db), sigVerifier, client, processors.RoleSequencer)

	idx := indexer.New(client, cfg.Bitcoin.Confs, depositProc, daRefProc, attestationProc, governanceProc, sequencerProc)

	historyStore := dbstore.NewHistoryStore(db, func(ctx context.Context) (uint32, error) {
		tip, err := client.BlockCount(ctx)
		return uint32(tip), err
	})

	mgr := manager.New(client, ins, historyStore, reorgGate, manager.Config{
		MaxInFlight:    cfg.Bridge.MaxInFlight,
		RequiredConfs:  int(cfg.Bitcoin.Confs),
		StuckThreshold: cfg.Bridge.StuckThreshold,
	}, internalKeyFor)

	agg := aggregator.New(dbstore.NewAggregatorBatchSource(db), aggregator.Config{
		MaxBatchesToCommit: 8,
		MaxProofsToCommit:  8,
		CommitDeadline:     5 * time.Minute,
		ProofDeadline:      5 * time.Minute,
	})

	var da daclient.Client = daclient.NewHTTPClient(cfg.DA.PrimaryURL, 0)
	if cfg.DA.FallbackURL != "" {
		da = daclient.NewFallbackDaClient(da, daclient.NewHTTPClient(cfg.DA.FallbackURL, 0), cfg.DA.VerifyConsistency)
	}

	withdrawalBuilder := withdrawal.NewSessionBuilder(withdrawal.Config{
		Batches:            dbstore.NewWithdrawalBatchSource(db),
		Requests:           dbstore.NewWithdrawalRequestStore(db),
		DA:                 da,
		UTXOs:              client,
		Broadcaster:        client,
		Params:             params,
		BridgeAddress:      cfg.Bridge.Address,
		BridgePkScript:     bridgePkScript,
		ChangeScript:       changeScript,
		FeeRateSatPerVByte: cfg.Bridge.FeeRateSatPerVByte,
		RequiredSigners:    cfg.Coordinator.RequiredSigner,
	})

	coord := coordinator.New(coordinator.Config{
		Source:       withdrawalBuilder,
		Completer:    withdrawalBuilder,
		VerifierKeys: verifierKeys,
		BridgeKey:    bridgeKey,
		Reorg:        reorgGate,
	})

	mux := http.NewServeMux()
	mux.Handle("/", coord.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.Coordinator.ListenAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("coordinator http server: %w", err)
		}
		return nil
	})

	pollInterval := time.Duration(cfg.Bitcoin.PollSeconds) * time.Second

	cur := &indexerCursor{client: client, detector: detector, idx: idx}
	g.Go(func() error {
		taskloop.Loop(ctx, taskloop.NewTicker(pollInterval), cur.tick, logError("indexer"))
		return nil
	})

	g.Go(func() error {
		taskloop.Loop(ctx, taskloop.NewTicker(pollInterval), detector.Poll, logError("reorg"))
		return nil
	})
	g.Go(func() error {
		taskloop.Loop(ctx, taskloop.NewTicker(10*pollInterval), func(context.Context) error {
			detector.ClearSoft()
			return nil
		}, logError("reorg-clear"))
		return nil
	})

	g.Go(func() error {
		taskloop.Loop(ctx, taskloop.NewTicker(pollInterval), mgr.Tick, logError("sender-manager"))
		return nil
	})

	g.Go(func() error {
		taskloop.Loop(ctx, taskloop.NewTicker(pollInterval), func(ctx context.Context) error {
			return drainAggregator(ctx, agg, historyStore)
		}, logError("aggregator"))
		return nil
	})

	if cfg.Verifier.Enabled {
		verifierStore := dbstore.NewVerifierBridgeStore(db)
		vkTable := dbstore.NewVerificationKeyTable(db)
		verifierTask := verifierbridge.New(verifierStore, da, vkTable, opaqueProofVerifier{}, historyStore)
		g.Go(func() error {
			taskloop.Loop(ctx, taskloop.NewTicker(pollInterval), verifierTask.Tick, logError("verifier-bridge"))
			return nil
		})
	}

	return g.Wait()
}

// logError returns an onErr callback that logs a task's tick failures
// under its own tag rather than tearing down the daemon — per spec.md
// §5's "one task per component, independently restartable" model, a
// single tick's error is noise, not a shutdown signal.
func logError(task string) func(error) {
	return func(err error) {
		log.Errorf("%s: %s", task, err)
	}
}

// indexerCursor tracks the height the indexer should resume scanning
// from across ticks, and separately feeds the reorg detector the block
// hash at each scanned height — Indexer.Scan doesn't expose per-block
// hashes to its caller, so this refetches them, trading one extra RPC
// call per block for keeping the indexer and reorg detector decoupled.
type indexerCursor struct {
	mu     sync.Mutex
	from   int64
	client btcclient.Client

	detector *reorg.Detector
	idx      *indexer.Indexer
}

func (c *indexerCursor) tick(ctx context.Context) error {
	c.mu.Lock()
	from := c.from
	c.mu.Unlock()

	if md := c.detector.Metadata(); md != nil {
		if md.Kind != reorg.KindSoft {
			return nil
		}
		from = int64(md.ResumeHeight())
	}

	next, err := c.idx.Scan(ctx, from)
	if err != nil {
		return err
	}

	for height := from; height < next; height++ {
		hash, err := c.client.BlockHash(ctx, height)
		if err != nil {
			return fmt.Errorf("fetching hash for reorg tracking at height %d: %w", height, err)
		}
		c.detector.Record(uint32(height), *hash)
	}

	c.mu.Lock()
	c.from = next
	c.mu.Unlock()
	return nil
}

// drainAggregator enqueues at most one ready operation per tick, matching
// spec.md §4.8's "at most one operation per cycle" aggregator contract.
func drainAggregator(ctx context.Context, agg *aggregator.Aggregator, store *dbstore.HistoryStore) error {
	op, err := agg.NextReadyOperation(ctx)
	if err != nil {
		return err
	}
	if op == nil {
		return nil
	}
	if _, err := store.QueueRequest(ctx, op.Body); err != nil {
		return fmt.Errorf("queuing aggregator operation %v: %w", op.Op, err)
	}
	return nil
}

// reorgGateAdapter adapts *reorg.Detector to the ReorgGate interface
// declared independently by internal/sender/manager and
// internal/coordinator.
type reorgGateAdapter struct{ detector *reorg.Detector }

func (g reorgGateAdapter) InProgress(ctx context.Context) (bool, error) {
	return g.detector.Metadata() != nil, nil
}

// staticVerifierSet implements processors.VerifierSet from a fixed,
// config-supplied address list — spec.md's Non-goals exclude dynamic
// verifier-set churn beyond what the governance processor's
// UpdateBridgeProposal path already handles, and that path replaces the
// wallets snapshot, not this config-driven list, in this deployment.
type staticVerifierSet struct {
	addrs     map[string]bool
	threshold float64
}

func newStaticVerifierSet(addrs []string, threshold float64) staticVerifierSet {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return staticVerifierSet{addrs: set, threshold: threshold}
}

func (s staticVerifierSet) IsMember(address string) bool { return s.addrs[address] }
func (s staticVerifierSet) Count() int                    { return len(s.addrs) }
func (s staticVerifierSet) AgreementThreshold() float64   { return s.threshold }

// addressMatchVerifier implements processors.SignatureVerifier. An
// envelope's schnorr signature is already verified by the Bitcoin network
// itself when the carrying transaction's Taproot key-path input is mined
// (that's what makes the signature valid in the first place); what this
// verifier checks is that the envelope's signing key actually belongs to
// the governance role, by deriving the P2TR address that key controls and
// comparing it against the role's currently registered address.
type addressMatchVerifier struct{ params *chaincfg.Params }

func (v addressMatchVerifier) VerifiedByGovernance(ctx context.Context, envelope inscription.Envelope, governanceKey string) (bool, error) {
	internalKey, err := schnorr.ParsePubKey(envelope.InternalKey[:])
	if err != nil {
		return false, fmt.Errorf("addressMatchVerifier: parsing envelope internal key: %w", err)
	}

	outputKey := txscript.ComputeTaprootOutputKey(internalKey, nil)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), v.params)
	if err != nil {
		return false, fmt.Errorf("addressMatchVerifier: deriving address: %w", err)
	}

	return addr.EncodeAddress() == governanceKey, nil
}

// opaqueProofVerifier is an honest stand-in for the SNARK verifier
// spec.md §4.12 treats as opaque and explicitly out of scope; it never
// returns success, so a verifier role running with no real verifier
// binding configured fails closed (votes "no") rather than rubber-stamping
// every proof.
type opaqueProofVerifier struct{}

func (opaqueProofVerifier) Verify(ctx context.Context, vkHash, batchHash [32]byte, proof, pubdata []byte) (bool, error) {
	return false, nil
}

// addressScript decodes a P2WPKH/P2TR address string into its output
// script, mirroring the same decode-then-script pattern
// internal/withdrawal's plan builder uses for payout outputs.
func addressScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("decoding address %q: %w", address, err)
	}
	return txscript.PayToAddrScript(addr)
}
