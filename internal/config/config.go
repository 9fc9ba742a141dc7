// Package config defines the daemon-wide configuration loaded by
// cmd/via-node, following the teacher's direct dependency on
// jessevdk/go-flags for struct-tag-driven CLI/file parsing.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

// BitcoinConfig configures the connection to a Bitcoin Core node.
type BitcoinConfig struct {
	RPCHost     string `long:"rpchost" description:"host:port of the bitcoind JSON-RPC endpoint" required:"true"`
	RPCUser     string `long:"rpcuser" description:"bitcoind RPC username"`
	RPCPass     string `long:"rpcpass" description:"bitcoind RPC password"`
	Network     string `long:"network" description:"mainnet, testnet3, signet, or regtest" default:"testnet3"`
	Confs       uint32 `long:"confs" description:"confirmations required before a block is considered final for indexing" default:"6"`
	PollSeconds uint32 `long:"pollseconds" description:"indexer/reorg-detector poll interval in seconds" default:"15"`
}

// ChainParams resolves Network to the corresponding chaincfg.Params, the
// form every Taproot/address component in this daemon actually needs.
func (c BitcoinConfig) ChainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown bitcoin network %q", c.Network)
	}
}

// DatabaseConfig configures the relational store backing internal/dbstore.
type DatabaseConfig struct {
	Driver string `long:"driver" description:"sqlite or postgres" default:"sqlite"`
	DSN    string `long:"dsn" description:"data source name, e.g. a sqlite file path or a postgres connection string" required:"true"`
}

// CoordinatorConfig configures the withdrawal session HTTP coordinator.
type CoordinatorConfig struct {
	ListenAddr     string `long:"listenaddr" description:"address the withdrawal coordinator HTTP server binds to" default:"localhost:8080"`
	RequiredSigner int    `long:"requiredsigners" description:"number of verifier signatures required to finalize a withdrawal, including the coordinator" default:"2"`
}

// DAConfig configures the data-availability client and its fallback.
type DAConfig struct {
	PrimaryURL        string `long:"primaryurl" description:"primary DA client endpoint" required:"true"`
	FallbackURL       string `long:"fallbackurl" description:"fallback DA client endpoint"`
	VerifyConsistency bool   `long:"verifyconsistency" description:"compare primary and fallback blobs on every blob fetch"`
}

// VerifierConfig configures the optional verifier role (ZK proof
// verification and withdrawal co-signing).
type VerifierConfig struct {
	Enabled      bool   `long:"enabled" description:"run the verifier role alongside the base node"`
	SigningKeyID string `long:"signingkeyid" description:"identifier of this verifier's HD signing key in the keyring"`
}

// BridgeConfig configures the bridge's own governance-controlled wallet:
// the address this node recognizes deposits against, the MuSig2
// participant set the withdrawal coordinator signs with, and the fee rate
// its sender/manager and withdrawal session builder pack plans at.
type BridgeConfig struct {
	Address            string   `long:"address" description:"current bridge P2WPKH address, deposits pay this script" required:"true"`
	ChangeAddress      string   `long:"changeaddress" description:"address change outputs are paid to, usually the bridge address itself"`
	InternalKeyHex     string   `long:"internalkeyhex" description:"this node's 32-byte x-only Taproot internal key, hex-encoded" required:"true"`
	BridgeKeyHex       string   `long:"bridgekeyhex" description:"33-byte compressed MuSig2 aggregate bridge public key, hex-encoded" required:"true"`
	VerifierKeysHex    []string `long:"verifierkeyhex" description:"33-byte compressed public key of a withdrawal co-signer, repeatable"`
	VerifierAddresses  []string `long:"verifieraddress" description:"P2WPKH address of a validator-attestation quorum member, repeatable"`
	AgreementThreshold float64  `long:"agreementthreshold" description:"fraction of the verifier set whose yes-votes finalize a batch" default:"0.66"`
	GovernanceAddress  string   `long:"governanceaddress" description:"P2WPKH address authorized to sign governance/bridge-update messages" required:"true"`
	FeeRateSatPerVByte int64    `long:"feeratesatpervbyte" description:"fee rate the sender/manager and withdrawal session builder pack transactions at" default:"10"`
	MaxInFlight        int      `long:"maxinflight" description:"maximum inscription requests the sender/manager keeps unconfirmed at once" default:"5"`
	StuckThreshold     uint32   `long:"stuckthreshold" description:"blocks an unconfirmed inscription may age before the sender/manager re-signs it" default:"12"`
	SeedFilePath       string   `long:"seedfilepath" description:"path to this node's hex-encoded HD seed file, used to derive its Taproot signing key on demand" required:"true"`
}

// InternalKey decodes InternalKeyHex into the raw 32-byte x-only Taproot
// internal key, rejecting anything that is not hex of exactly 32 bytes.
func (c BridgeConfig) InternalKey() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(c.InternalKeyHex)
	if err != nil {
		return key, fmt.Errorf("config: decoding bridge.internalkeyhex: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("config: bridge.internalkeyhex must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// BridgeKey decodes BridgeKeyHex into the MuSig2 aggregate public key the
// withdrawal coordinator signs withdrawal plans against.
func (c BridgeConfig) BridgeKey() (*btcec.PublicKey, error) {
	return parseCompressedPubKey("bridge.bridgekeyhex", c.BridgeKeyHex)
}

// VerifierKeys decodes VerifierKeysHex into the set of co-signer public
// keys the withdrawal coordinator requires participation from.
func (c BridgeConfig) VerifierKeys() ([]*btcec.PublicKey, error) {
	keys := make([]*btcec.PublicKey, len(c.VerifierKeysHex))
	for i, raw := range c.VerifierKeysHex {
		key, err := parseCompressedPubKey(fmt.Sprintf("bridge.verifierkeyhex[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

func parseCompressedPubKey(field, raw string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", field, err)
	}
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", field, err)
	}
	return key, nil
}

// Config is the top-level configuration for cmd/via-node, one sub-struct per
// subsystem, matching the teacher's convention of grouping flags by the
// component that consumes them rather than a single flat namespace.
type Config struct {
	Bitcoin     BitcoinConfig     `group:"Bitcoin" namespace:"bitcoin"`
	Database    DatabaseConfig    `group:"Database" namespace:"db"`
	Coordinator CoordinatorConfig `group:"Coordinator" namespace:"coordinator"`
	DA          DAConfig          `group:"DA" namespace:"da"`
	Verifier    VerifierConfig    `group:"Verifier" namespace:"verifier"`
	Bridge      BridgeConfig      `group:"Bridge" namespace:"bridge"`
	LogLevel    string            `long:"loglevel" description:"trace, debug, info, warn, error, or critical" default:"info"`
}

// Validate checks invariants go-flags' struct tags can't express on their
// own, such as cross-field consistency.
func (c *Config) Validate() error {
	if _, err := c.Bitcoin.ChainParams(); err != nil {
		return err
	}
	if c.DA.VerifyConsistency && c.DA.FallbackURL == "" {
		return fmt.Errorf("da.verifyconsistency requires da.fallbackurl to be set")
	}
	if c.Coordinator.RequiredSigner < 1 {
		return fmt.Errorf("coordinator.requiredsigners must be at least 1")
	}
	if _, err := c.Bridge.InternalKey(); err != nil {
		return err
	}
	if _, err := c.Bridge.BridgeKey(); err != nil {
		return err
	}
	if _, err := c.Bridge.VerifierKeys(); err != nil {
		return err
	}
	if len(c.Bridge.VerifierKeysHex) < c.Coordinator.RequiredSigner-1 {
		return fmt.Errorf("coordinator.requiredsigners (%d) exceeds available verifier co-signers (%d) plus the coordinator itself", c.Coordinator.RequiredSigner, len(c.Bridge.VerifierKeysHex))
	}
	return nil
}

// Load parses args (typically os.Args[1:]) into a Config, applying defaults
// and returning a parse error wrapped with go-flags' own formatted message.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
