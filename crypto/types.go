package crypto

import (
	"crypto"
	"encoding/hex"
	"errors"

	"github.com/matrix-magiq/qvalidator/types"
)

var (
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

type (
	// Signer component for digitally signing data.
	Signer interface {
		// SignBytes signs the hash of the data. Returns signature bytes or error.
		SignBytes(data []byte) ([]byte, error)
		// SignHash signs the hash value.
		SignHash(hash []byte) ([]byte, error)
		// MarshalPrivateKey returns the private key bytes so these could be unmarshalled later to create the Signer.
		MarshalPrivateKey() ([]byte, error)
		// Verifier returns a verifier that verifies using the public key part.
		Verifier() (Verifier, error)
	}

	// Verifier component for verifying signatures.
	Verifier interface {
		// VerifyBytes verifies the signature of the hash of the data.
		VerifyBytes(sig []byte, data []byte) error
		// VerifyHash verifies the signature of the hash value.
		VerifyHash(sig []byte, hash []byte) error
		// MarshalPublicKey returns the compressed public key.
		MarshalPublicKey() ([]byte, error)
	}
)

// AccountIDFromPublicKey returns hex encoded hash of the public key.
func AccountIDFromPublicKey(pubKey []byte, hashAlgorithm crypto.Hash) types.AccountID {
	h := hashAlgorithm.New()
	h.Write(pubKey)
	return types.AccountID(hex.EncodeToString(h.Sum(nil)))
}

// AccountID returns the account id of the verifier's public key.
func AccountID(v Verifier, hashAlgorithm crypto.Hash) (types.AccountID, error) {
	pub, err := v.MarshalPublicKey()
	if err != nil {
		return "", err
	}
	return AccountIDFromPublicKey(pub, hashAlgorithm), nil
}
