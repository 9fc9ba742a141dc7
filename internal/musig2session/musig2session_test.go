package musig2session_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/musig2session"
)

func TestTwoSignerRoundTripProducesMatchingSignature(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubKeys := []*btcec.PublicKey{priv1.PubKey(), priv2.PubKey()}

	signer1, err := musig2session.NewSigner(priv1, 0, pubKeys, nil)
	require.NoError(t, err)
	signer2, err := musig2session.NewSigner(priv2, 1, pubKeys, nil)
	require.NoError(t, err)

	var message [32]byte
	copy(message[:], []byte("test message, 32 bytes long!!!!"))

	nonce1, err := signer1.StartSession(message)
	require.NoError(t, err)
	nonce2, err := signer2.StartSession(message)
	require.NoError(t, err)

	haveAll, err := signer1.ReceiveNonce(1, nonce2)
	require.NoError(t, err)
	require.True(t, haveAll)

	haveAll, err = signer2.ReceiveNonce(0, nonce1)
	require.NoError(t, err)
	require.True(t, haveAll)

	sig1, err := signer1.CreatePartialSignature()
	require.NoError(t, err)
	sig2, err := signer2.CreatePartialSignature()
	require.NoError(t, err)

	haveAll, err = signer1.ReceivePartialSignature(1, sig2)
	require.NoError(t, err)
	require.True(t, haveAll)

	haveAll, err = signer2.ReceivePartialSignature(0, sig1)
	require.NoError(t, err)
	require.True(t, haveAll)

	final1, err := signer1.FinalSignature()
	require.NoError(t, err)
	final2, err := signer2.FinalSignature()
	require.NoError(t, err)

	require.Equal(t, final1.Serialize(), final2.Serialize())

	aggPub, err := signer1.AggregatedPubKey()
	require.NoError(t, err)
	require.True(t, musig2session.VerifyFinalSignature(aggPub, final1, message))
}

func TestReceivePartialSignatureBeforeNonceExchangeRejected(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubKeys := []*btcec.PublicKey{priv1.PubKey(), priv2.PubKey()}

	signer1, err := musig2session.NewSigner(priv1, 0, pubKeys, nil)
	require.NoError(t, err)

	var message [32]byte
	_, err = signer1.StartSession(message)
	require.NoError(t, err)

	_, err = signer1.ReceivePartialSignature(1, nil)
	require.Error(t, err)
}

func TestDuplicateNonceFromSameSignerRejected(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubKeys := []*btcec.PublicKey{priv1.PubKey(), priv2.PubKey()}

	signer1, err := musig2session.NewSigner(priv1, 0, pubKeys, nil)
	require.NoError(t, err)
	signer2, err := musig2session.NewSigner(priv2, 1, pubKeys, nil)
	require.NoError(t, err)

	var message [32]byte
	_, err = signer1.StartSession(message)
	require.NoError(t, err)
	nonce2, err := signer2.StartSession(message)
	require.NoError(t, err)

	_, err = signer1.ReceiveNonce(1, nonce2)
	require.NoError(t, err)

	_, err = signer1.ReceiveNonce(1, nonce2)
	require.Error(t, err)
}
