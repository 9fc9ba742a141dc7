// Package musig2session implements the two-round MuSig2 signer described
// in spec.md §4.10: a Taproot-tweaked key-aggregation context, nonce
// exchange, and partial-signature exchange producing one 64-byte Schnorr
// signature. Grounded directly on via_musig2/src/lib.rs's Signer type
// (start_signing_session/receive_nonce/create_partial_signature/
// receive_partial_signature/create_final_signature), translated from the
// Rust musig2 crate's FirstRound/SecondRound state machine onto
// btcec/v2/musig2's Context/Session API, which models the same two rounds
// through a single Session value instead of two distinct round types.
package musig2session

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Round is a signer's position in the two-round protocol.
type Round int

const (
	RoundNotStarted Round = iota
	RoundNonceExchange
	RoundPartialSigExchange
	RoundComplete
)

// Signer drives one party's participation in a MuSig2 signing session,
// tweaked once at construction for a Taproot output key whose script-path
// commits to merkleRoot — the bridge's governance 2-of-3 script in this
// rollup's deployment (spec.md §4.11).
type Signer struct {
	mu sync.Mutex

	privKey      *btcec.PrivateKey
	signerIndex  int
	signerCount  int

	ctx     *musig2.Context
	session *musig2.Session

	receivedNonces map[int]bool
	receivedSigs   map[int]bool

	round   Round
	message [32]byte
}

// NewSigner constructs a Signer for privKey at signerIndex among
// allPubKeys, with the aggregated key tweaked once for merkleRoot.
func NewSigner(privKey *btcec.PrivateKey, signerIndex int, allPubKeys []*btcec.PublicKey, merkleRoot []byte) (*Signer, error) {
	if signerIndex < 0 || signerIndex >= len(allPubKeys) {
		return nil, fmt.Errorf("musig2session: signer index %d out of range for %d signers", signerIndex, len(allPubKeys))
	}

	ctx, err := musig2.NewContext(
		privKey, true, musig2.WithKnownSigners(allPubKeys),
		musig2.WithTaprootTweakCtx(merkleRoot),
	)
	if err != nil {
		return nil, fmt.Errorf("musig2session: building key-agg context: %w", err)
	}

	return &Signer{
		privKey:        privKey,
		signerIndex:    signerIndex,
		signerCount:    len(allPubKeys),
		ctx:            ctx,
		receivedNonces: make(map[int]bool),
		receivedSigs:   make(map[int]bool),
		round:          RoundNotStarted,
	}, nil
}

// AggregatedPubKey returns the (tweaked) aggregated public key all
// signers in this session sign for.
func (s *Signer) AggregatedPubKey() (*btcec.PublicKey, error) {
	return s.ctx.CombinedKey()
}

// StartSession begins round 1 for the given message, returning this
// signer's own public nonce to broadcast to the others. The underlying
// session mixes its own secure randomness with the signing key and
// message into its nonce, matching the intent of the original
// implementation's explicit per-session "nonce spice" even though this
// library exposes that mixing internally rather than as a caller-supplied
// hook.
func (s *Signer) StartSession(message [32]byte) ([musig2.PubNonceSize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != RoundNotStarted {
		var zero [musig2.PubNonceSize]byte
		return zero, fmt.Errorf("musig2session: session already started")
	}

	session, err := s.ctx.NewSession()
	if err != nil {
		var zero [musig2.PubNonceSize]byte
		return zero, fmt.Errorf("musig2session: starting session: %w", err)
	}

	s.session = session
	s.message = message
	s.round = RoundNonceExchange
	s.receivedNonces[s.signerIndex] = true

	return session.PublicNonce(), nil
}

// ReceiveNonce records signerIndex's public nonce. Per spec.md §4.10's
// invariants, each index may submit at most one nonce, and submitting a
// partial signature before a nonce is rejected by the session guard.
func (s *Signer) ReceiveNonce(signerIndex int, nonce [musig2.PubNonceSize]byte) (haveAllNonces bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != RoundNonceExchange {
		return false, fmt.Errorf("musig2session: not accepting nonces in round %d", s.round)
	}
	if s.receivedNonces[signerIndex] {
		return false, fmt.Errorf("musig2session: signer %d already submitted a nonce", signerIndex)
	}

	haveAll, err := s.session.RegisterPubNonce(nonce)
	if err != nil {
		return false, fmt.Errorf("musig2session: registering nonce from signer %d: %w", signerIndex, err)
	}
	s.receivedNonces[signerIndex] = true

	if haveAll {
		s.round = RoundPartialSigExchange
	}

	return haveAll, nil
}

// CreatePartialSignature finalizes round 1 and produces this signer's
// partial signature over the session message.
func (s *Signer) CreatePartialSignature() (*musig2.PartialSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != RoundPartialSigExchange {
		return nil, fmt.Errorf("musig2session: cannot sign before all nonces are received")
	}

	sig, err := s.session.Sign(s.message)
	if err != nil {
		return nil, fmt.Errorf("musig2session: creating partial signature: %w", err)
	}

	s.receivedSigs[s.signerIndex] = true

	return sig, nil
}

// ReceivePartialSignature records signerIndex's partial signature. The
// partial itself is not checked on arrival; once every signer's partial is
// in, the session verifies the combined signature against the aggregated
// pubkey and returns an error if it does not verify.
func (s *Signer) ReceivePartialSignature(signerIndex int, sig *musig2.PartialSignature) (haveAll bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != RoundPartialSigExchange {
		return false, fmt.Errorf("musig2session: not accepting partial signatures in round %d", s.round)
	}
	if s.receivedSigs[signerIndex] {
		return false, fmt.Errorf("musig2session: signer %d already submitted a partial signature", signerIndex)
	}

	haveAll, err = s.session.CombineSig(sig)
	if err != nil {
		return false, fmt.Errorf("musig2session: combining partial signature from signer %d: %w", signerIndex, err)
	}
	s.receivedSigs[signerIndex] = true

	if haveAll {
		s.round = RoundComplete
	}

	return haveAll, nil
}

// FinalSignature returns the 64-byte Schnorr signature once the session
// has combined a partial signature from every signer.
func (s *Signer) FinalSignature() (*schnorr.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != RoundComplete {
		return nil, fmt.Errorf("musig2session: session incomplete, missing partial signatures")
	}
	return s.session.FinalSig(), nil
}

// VerifyFinalSignature verifies sig against pubKey over message — the
// check the coordinator performs before proceeding, per spec.md §4.10.
func VerifyFinalSignature(pubKey *btcec.PublicKey, sig *schnorr.Signature, message [32]byte) bool {
	return sig.Verify(message[:], pubKey)
}

// CombineNonces aggregates a complete set of per-signer public nonces into
// the single combined nonce the coordinator needs to assemble the final
// signature, without holding any signer's secret key.
func CombineNonces(nonces [][musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, error) {
	combined, err := musig2.AggregateNonces(nonces)
	if err != nil {
		return combined, fmt.Errorf("musig2session: aggregating nonces: %w", err)
	}
	return combined, nil
}

// CombineSignatures sums every signer's partial signature into the final
// 64-byte Schnorr signature. Each signer's own Context was built with
// WithTaprootTweakCtx, so the tweak's contribution is already folded into
// every partial signature by the time it reaches the combiner — combining
// is tweak-agnostic, which is what lets the coordinator do it without ever
// holding a signing key. The coordinator must still call
// VerifyFinalSignature against the bridge's known aggregate output key
// before broadcasting; a combined signature from a bad partial fails that
// check rather than this one.
func CombineSignatures(combinedNonce [musig2.PubNonceSize]byte, sigs []*musig2.PartialSignature) (*schnorr.Signature, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("musig2session: combining zero partial signatures")
	}
	return musig2.CombineSigs(combinedNonce, sigs), nil
}
