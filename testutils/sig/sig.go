package testsig

import (
	"testing"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

func CreateSignerAndVerifier(t *testing.T) (crypto.Signer, crypto.Verifier) {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	verifier, err := signer.Verifier()
	require.NoError(t, err)
	return signer, verifier
}

// CreateAccount returns new signer together with its public key and account id.
func CreateAccount(t *testing.T) (crypto.Signer, []byte, types.AccountID) {
	t.Helper()
	signer, verifier := CreateSignerAndVerifier(t)
	pubKey, err := verifier.MarshalPublicKey()
	require.NoError(t, err)
	return signer, pubKey, crypto.AccountIDFromPublicKey(pubKey, types.DefaultHashAlgorithm)
}
