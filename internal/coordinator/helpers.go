package coordinator

import (
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
)

// decodePartialSignature parses a base64-encoded 32-byte scalar into a
// PartialSignature — a MuSig2 partial signature is just the signer's s_i
// value, since the nonce commitment travels separately via /session/nonce.
func decodePartialSignature(encoded string) (*musig2.PartialSignature, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("coordinator: malformed partial signature: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("coordinator: partial signature must be 32 bytes, got %d", len(raw))
	}

	var s btcec.ModNScalar
	overflowed := s.SetByteSlice(raw)
	if overflowed {
		return nil, fmt.Errorf("coordinator: partial signature scalar overflows curve order")
	}

	return &musig2.PartialSignature{S: &s}, nil
}

// encodePartialSignature is decodePartialSignature's inverse, used for the
// /session/signature read-back endpoint.
func encodePartialSignature(sig *musig2.PartialSignature) string {
	b := sig.S.Bytes()
	return base64.StdEncoding.EncodeToString(b[:])
}
