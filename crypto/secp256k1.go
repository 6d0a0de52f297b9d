package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// CompressedSecp256K1PublicKeySize is size of public key in compressed format
	CompressedSecp256K1PublicKeySize = 33
	// PrivateKeySecp256K1Size is the size of the private key in bytes
	PrivateKeySecp256K1Size = 32
	// SignatureSecp256K1Size is the size of the signature, [R || S || V] format
	SignatureSecp256K1Size = 65
)

type (
	// InMemorySecp256K1Signer keeps the private key in memory.
	InMemorySecp256K1Signer struct {
		key *ecdsa.PrivateKey
	}

	verifierSecp256k1 struct {
		key *ecdsa.PublicKey
	}
)

// NewInMemorySecp256K1Signer generates new key and creates a new InMemorySecp256K1Signer.
func NewInMemorySecp256K1Signer() (*InMemorySecp256K1Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key}, nil
}

// NewInMemorySecp256K1SignerFromKey creates signer from the raw 32 byte private key.
func NewInMemorySecp256K1SignerFromKey(privKey []byte) (*InMemorySecp256K1Signer, error) {
	if len(privKey) != PrivateKeySecp256K1Size {
		return nil, fmt.Errorf("invalid private key length %d, expected %d", len(privKey), PrivateKeySecp256K1Size)
	}
	key, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key}, nil
}

func (s *InMemorySecp256K1Signer) SignBytes(data []byte) ([]byte, error) {
	h := sha256.Sum256(data)
	return s.SignHash(h[:])
}

func (s *InMemorySecp256K1Signer) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("signer is nil")
	}
	return ethcrypto.Sign(hash, s.key)
}

func (s *InMemorySecp256K1Signer) MarshalPrivateKey() ([]byte, error) {
	return ethcrypto.FromECDSA(s.key), nil
}

func (s *InMemorySecp256K1Signer) Verifier() (Verifier, error) {
	return &verifierSecp256k1{key: &s.key.PublicKey}, nil
}

// NewVerifierSecp256k1 creates verifier from the compressed public key.
func NewVerifierSecp256k1(compressedPubKey []byte) (Verifier, error) {
	if len(compressedPubKey) != CompressedSecp256K1PublicKeySize {
		return nil, fmt.Errorf("%w: pubkey must be %d bytes long, got %d", ErrInvalidPublicKey, CompressedSecp256K1PublicKeySize, len(compressedPubKey))
	}
	key, err := ethcrypto.DecompressPubkey(compressedPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	return &verifierSecp256k1{key: key}, nil
}

func (v *verifierSecp256k1) VerifyBytes(sig []byte, data []byte) error {
	h := sha256.Sum256(data)
	return v.VerifyHash(sig, h[:])
}

func (v *verifierSecp256k1) VerifyHash(sig []byte, hash []byte) error {
	if len(sig) != SignatureSecp256K1Size {
		return fmt.Errorf("%w: signature length is %d b (expected %d b)", ErrInvalidSignature, len(sig), SignatureSecp256K1Size)
	}
	// recovery id is not needed for verification
	if !ethcrypto.VerifySignature(ethcrypto.CompressPubkey(v.key), hash, sig[:64]) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *verifierSecp256k1) MarshalPublicKey() ([]byte, error) {
	return ethcrypto.CompressPubkey(v.key), nil
}
