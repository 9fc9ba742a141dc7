package inscription_test

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/inscription"
)

func testInternalKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

// wrapWitness builds a single-input transaction whose witness carries the
// commit/reveal shape Decode expects: [dummy signature, script, control
// block].
func wrapWitness(script, controlBlock []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{
		make([]byte, 64),
		script,
		controlBlock,
	}
	tx.AddTxIn(in)
	return tx
}

func TestValidatorAttestationRoundTrip(t *testing.T) {
	key := testInternalKey(t)
	var ref chainhash.Hash
	rand.Read(ref[:])

	body := inscription.ValidatorAttestationBody{
		ReferenceTxID: ref,
		Attestation:   inscription.VoteOk,
	}

	enc, err := inscription.Encode(body, key)
	require.NoError(t, err)

	tx := wrapWitness(enc.Script, enc.ControlBlock)
	msgs := inscription.Decode(tx, 100)
	require.Len(t, msgs, 1)

	got, ok := msgs[0].Body.(inscription.ValidatorAttestationBody)
	require.True(t, ok)
	require.Equal(t, body, got)
	require.Equal(t, uint32(100), msgs[0].Envelope.BlockHeight)
}

func TestL1BatchDAReferenceRoundTrip(t *testing.T) {
	key := testInternalKey(t)
	var hash, prev [32]byte
	rand.Read(hash[:])
	rand.Read(prev[:])

	body := inscription.L1BatchDAReferenceBody{
		L1BatchHash:     hash,
		L1BatchIndex:    7,
		DAIdentifier:    "celestia",
		BlobID:          "b1",
		PrevL1BatchHash: prev,
	}

	enc, err := inscription.Encode(body, key)
	require.NoError(t, err)

	tx := wrapWitness(enc.Script, enc.ControlBlock)
	msgs := inscription.Decode(tx, 5)
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestSystemBootstrappingRoundTrip(t *testing.T) {
	key := testInternalKey(t)
	var boot, aa [32]byte
	rand.Read(boot[:])
	rand.Read(aa[:])

	body := inscription.SystemBootstrappingBody{
		StartBlockHeight:    42,
		VerifierP2WPKHAddrs: []string{"addr1", "addr2", "addr3"},
		BridgeMusig2Address: "bridgeaddr",
		BootloaderHash:      boot,
		AbstractAccountHash: aa,
	}

	enc, err := inscription.Encode(body, key)
	require.NoError(t, err)

	tx := wrapWitness(enc.Script, enc.ControlBlock)
	msgs := inscription.Decode(tx, 1)
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestDecodeRejectsShortWitness(t *testing.T) {
	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = wire.TxWitness{make([]byte, 64), []byte{0x01}}
	tx.AddTxIn(in)

	require.Empty(t, inscription.Decode(tx, 1))
}

func TestDecodeRejectsWrongProtocolMarker(t *testing.T) {
	key := testInternalKey(t)

	body := inscription.ProposeSequencerBody{NewSequencerAddress: "addr"}
	enc, err := inscription.Encode(body, key)
	require.NoError(t, err)

	// Corrupt the script so the protocol marker push no longer matches.
	// The search starts past the 32-byte key push and OP_CHECKSIG so a 'v'
	// byte inside the random key is never the one changed.
	corrupt := make([]byte, len(enc.Script))
	copy(corrupt, enc.Script)
	for i := 34; i < len(corrupt); i++ {
		if corrupt[i] == 'v' {
			corrupt[i] = 'x'
			break
		}
	}

	tx := wrapWitness(corrupt, enc.ControlBlock)
	require.Empty(t, inscription.Decode(tx, 1))
}
