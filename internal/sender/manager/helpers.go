package manager

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func parseXOnlyPubKey(raw [32]byte) (*btcec.PublicKey, error) {
	pub, err := schnorr.ParsePubKey(raw[:])
	if err != nil {
		return nil, fmt.Errorf("manager: parsing internal key: %w", err)
	}
	return pub, nil
}

func parseTxID(s string) (*chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("manager: parsing txid %q: %w", s, err)
	}
	return h, nil
}
