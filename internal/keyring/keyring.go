// Package keyring derives the bridge's own Taproot signing key on demand
// from an HD seed file, rather than holding a decrypted private key in
// memory for the daemon's whole lifetime. Grounded on Fantasim-hdpay's
// KeyService (internal/tx/key_service.go), which re-reads its mnemonic
// file and re-derives on every signing call for the same reason; this
// port swaps mnemonic-to-seed decoding (the original pulls in a BIP-39
// wordlist library absent from this pack) for a raw hex-encoded seed file,
// since btcutil/hdkeychain.NewMaster accepts a seed directly and every
// other HD-derivation dependency here already traces back to btcsuite.
package keyring

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DefaultAccountPath is the derivation path this node's operational
// signing key lives at: purpose 86' (Taproot, BIP-86) / coin type 0' /
// account 0' / external chain / index 0, one fixed key per deployment
// since spec.md's bridge wallet is a single MuSig2 participant, not an
// address-per-customer HD wallet.
var DefaultAccountPath = []uint32{
	hdkeychain.HardenedKeyStart + 86,
	hdkeychain.HardenedKeyStart + 0,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

// Keyring derives the signing key backing a Signer from a seed file read
// fresh on every call, so the decoded private key spends as little time
// in memory as the caller's own use of it requires.
type Keyring struct {
	seedFilePath string
	params       *chaincfg.Params
	path         []uint32
}

// New constructs a Keyring reading its seed from seedFilePath (a file
// holding a single hex-encoded line, 16-64 bytes).
func New(seedFilePath string, params *chaincfg.Params) *Keyring {
	return &Keyring{seedFilePath: seedFilePath, params: params, path: DefaultAccountPath}
}

func (k *Keyring) derive() (*btcec.PrivateKey, error) {
	raw, err := os.ReadFile(k.seedFilePath)
	if err != nil {
		return nil, fmt.Errorf("keyring: reading seed file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("keyring: decoding seed file contents: %w", err)
	}

	master, err := hdkeychain.NewMaster(seed, k.params)
	if err != nil {
		return nil, fmt.Errorf("keyring: deriving master key: %w", err)
	}

	child := master
	for _, index := range k.path {
		child, err = child.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("keyring: deriving child key at index %d: %w", index, err)
		}
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("keyring: extracting private key: %w", err)
	}
	return priv, nil
}

// BridgeSigner adapts a Keyring to inscriber.Signer, reporting the
// bridge's own P2WPKH address for the fee-payer UTXOs it controls.
type BridgeSigner struct {
	keyring *Keyring
	address string
}

// NewBridgeSigner constructs an inscriber.Signer backed by keyring,
// reporting address as its funding address.
func NewBridgeSigner(keyring *Keyring, address string) *BridgeSigner {
	return &BridgeSigner{keyring: keyring, address: address}
}

func (s *BridgeSigner) PrivateKey(ctx context.Context) (*btcec.PrivateKey, error) {
	return s.keyring.derive()
}

func (s *BridgeSigner) Address() string { return s.address }

// InternalKeyBytes returns the x-only serialization of this signer's
// current public key, the form internalKeyFor callbacks hand to
// inscriber.Inscribe.
func (s *BridgeSigner) InternalKeyBytes() ([32]byte, error) {
	var out [32]byte
	priv, err := s.keyring.derive()
	if err != nil {
		return out, err
	}
	pub := priv.PubKey().SerializeCompressed()
	copy(out[:], pub[1:])
	return out, nil
}

// PublicKey returns this signer's current public key, used to populate
// VerifierKeys/BridgeKey style configuration that wants a concrete key
// rather than a hex string.
func (s *BridgeSigner) PublicKey() (*btcec.PublicKey, error) {
	priv, err := s.keyring.derive()
	if err != nil {
		return nil, err
	}
	return priv.PubKey(), nil
}
