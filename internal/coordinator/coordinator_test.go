package coordinator_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/coordinator"
	"github.com/via-rollup/via-node/internal/musig2session"
)

type fakeSource struct {
	subject coordinator.Subject
	ok      bool
}

func (f fakeSource) NextSession(ctx context.Context) (coordinator.Subject, bool, error) {
	return f.subject, f.ok, nil
}

type fakeCompleter struct {
	called   bool
	subject  coordinator.Subject
	finalSig [64]byte
}

func (f *fakeCompleter) Complete(ctx context.Context, subject coordinator.Subject, finalSig [64]byte) error {
	f.called = true
	f.subject = subject
	f.finalSig = finalSig
	return nil
}

type noReorg struct{}

func (noReorg) InProgress(ctx context.Context) (bool, error) { return false, nil }

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWithdrawalSessionHappyPath(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubKeys := []*btcec.PublicKey{priv1.PubKey(), priv2.PubKey()}

	var message [32]byte
	copy(message[:], []byte("withdrawal plan sighash, 32byte"))

	signer1, err := musig2session.NewSigner(priv1, 0, pubKeys, nil)
	require.NoError(t, err)
	signer2, err := musig2session.NewSigner(priv2, 1, pubKeys, nil)
	require.NoError(t, err)

	bridgeKey, err := signer1.AggregatedPubKey()
	require.NoError(t, err)

	subject := coordinator.Subject{
		BatchNumber:     42,
		ProofRevealTxID: "aa",
		Message:         message,
		RequiredSigners: 2,
	}

	completer := &fakeCompleter{}
	c := coordinator.New(coordinator.Config{
		Source:       fakeSource{subject: subject, ok: true},
		Completer:    completer,
		VerifierKeys: pubKeys,
		BridgeKey:    bridgeKey,
		Reorg:        noReorg{},
	})
	router := c.Router()

	rec := postJSON(t, router, "/session/new", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	nonce1, err := signer1.StartSession(message)
	require.NoError(t, err)
	nonce2, err := signer2.StartSession(message)
	require.NoError(t, err)

	rec = postJSON(t, router, "/session/nonce", map[string]interface{}{
		"signer_index": 0,
		"nonce":        base64.StdEncoding.EncodeToString(nonce1[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/session/nonce", map[string]interface{}{
		"signer_index": 1,
		"nonce":        base64.StdEncoding.EncodeToString(nonce2[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = signer1.ReceiveNonce(1, nonce2)
	require.NoError(t, err)
	_, err = signer2.ReceiveNonce(0, nonce1)
	require.NoError(t, err)

	sig1, err := signer1.CreatePartialSignature()
	require.NoError(t, err)
	sig2, err := signer2.CreatePartialSignature()
	require.NoError(t, err)

	rec = postJSON(t, router, "/session/signature", map[string]interface{}{
		"signer_index": 0,
		"signature":    base64.StdEncoding.EncodeToString(sig1.S.Bytes()[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, completer.called)

	rec = postJSON(t, router, "/session/signature", map[string]interface{}{
		"signer_index": 1,
		"signature":    base64.StdEncoding.EncodeToString(sig2.S.Bytes()[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, completer.called)
	require.Equal(t, subject.BatchNumber, completer.subject.BatchNumber)
}

func TestSubmitSignatureBeforeNonceRejected(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubKeys := []*btcec.PublicKey{priv1.PubKey(), priv2.PubKey()}

	var message [32]byte
	subject := coordinator.Subject{BatchNumber: 1, RequiredSigners: 2, Message: message}

	c := coordinator.New(coordinator.Config{
		Source:       fakeSource{subject: subject, ok: true},
		Completer:    &fakeCompleter{},
		VerifierKeys: pubKeys,
		BridgeKey:    pubKeys[0],
		Reorg:        noReorg{},
	})
	router := c.Router()

	rec := postJSON(t, router, "/session/new", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/session/signature", map[string]interface{}{
		"signer_index": 0,
		"signature":    base64.StdEncoding.EncodeToString(make([]byte, 32)),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
