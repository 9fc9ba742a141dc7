package keyring_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/keyring"
)

func writeSeedFile(t *testing.T) string {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	path := filepath.Join(t.TempDir(), "seed.hex")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600))
	return path
}

func TestBridgeSignerDerivesConsistentKey(t *testing.T) {
	path := writeSeedFile(t)
	kr := keyring.New(path, &chaincfg.RegressionNetParams)
	signer := keyring.NewBridgeSigner(kr, "bcrt1qexample")

	priv1, err := signer.PrivateKey(context.Background())
	require.NoError(t, err)
	priv2, err := signer.PrivateKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, priv1.Serialize(), priv2.Serialize())

	require.Equal(t, "bcrt1qexample", signer.Address())

	internalKey, err := signer.InternalKeyBytes()
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, internalKey)

	pub, err := signer.PublicKey()
	require.NoError(t, err)
	require.Equal(t, priv1.PubKey().SerializeCompressed(), pub.SerializeCompressed())
}

func TestBridgeSignerFailsOnMissingSeedFile(t *testing.T) {
	kr := keyring.New(filepath.Join(t.TempDir(), "missing.hex"), &chaincfg.RegressionNetParams)
	signer := keyring.NewBridgeSigner(kr, "bcrt1qexample")

	_, err := signer.PrivateKey(context.Background())
	require.Error(t, err)
}

func TestBridgeSignerFailsOnMalformedSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.hex")
	require.NoError(t, os.WriteFile(path, []byte("not-hex"), 0600))

	kr := keyring.New(path, &chaincfg.RegressionNetParams)
	signer := keyring.NewBridgeSigner(kr, "bcrt1qexample")

	_, err := signer.PrivateKey(context.Background())
	require.Error(t, err)
}
