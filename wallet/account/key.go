package account

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	acc "github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/tyler-smith/go-bip39"
)

type (
	Keys struct {
		Mnemonic   string
		MasterKey  *hdkeychain.ExtendedKey
		AccountKey *AccountKey
	}

	AccountKey struct {
		PubKey         types.Bytes     `json:"pub_key"` // compressed secp256k1 key 33 bytes
		PrivKey        types.Bytes     `json:"priv_key"`
		AccountID      types.AccountID `json:"account_id"`
		DerivationPath string          `json:"derivation_path"`
	}
)

const mnemonicEntropyBitSize = 128

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// NewKeys generates keys from given mnemonic seed, or generates mnemonic first if empty string is provided.
// The account id of the first account key is calculated with hashAlgorithm.
func NewKeys(mnemonic string, hashAlgorithm gocrypto.Hash) (*Keys, error) {
	if mnemonic == "" {
		var err error
		if mnemonic, err = generateMnemonic(); err != nil {
			return nil, err
		}
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, err
	}
	// only HDPrivateKeyID is used from chaincfg.MainNetParams, as version flag of the extended key
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	ac, err := NewAccountKey(masterKey, NewDerivationPath(0), hashAlgorithm)
	if err != nil {
		return nil, err
	}
	return &Keys{
		Mnemonic:   mnemonic,
		MasterKey:  masterKey,
		AccountKey: ac,
	}, nil
}

// NewAccountKey derives account key from given master key and derivation path
func NewAccountKey(masterKey *hdkeychain.ExtendedKey, derivationPath string, hashAlgorithm gocrypto.Hash) (*AccountKey, error) {
	path, err := acc.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path: %w", err)
	}
	privateKey, err := derivePrivateKey(path, masterKey)
	if err != nil {
		return nil, err
	}
	return newAccountKey(ethcrypto.FromECDSA(privateKey), derivationPath, hashAlgorithm)
}

func newAccountKey(privKey []byte, derivationPath string, hashAlgorithm gocrypto.Hash) (*AccountKey, error) {
	signer, err := crypto.NewInMemorySecp256K1SignerFromKey(privKey)
	if err != nil {
		return nil, err
	}
	verifier, err := signer.Verifier()
	if err != nil {
		return nil, err
	}
	compressedPubKey, err := verifier.MarshalPublicKey()
	if err != nil {
		return nil, err
	}
	return &AccountKey{
		PubKey:         compressedPubKey,
		PrivKey:        privKey,
		AccountID:      crypto.AccountIDFromPublicKey(compressedPubKey, hashAlgorithm),
		DerivationPath: derivationPath,
	}, nil
}

// Signer returns signer of the account key.
func (k *AccountKey) Signer() (crypto.Signer, error) {
	return crypto.NewInMemorySecp256K1SignerFromKey(k.PrivKey)
}

// NewDerivationPath returns derivation path for given account index
func NewDerivationPath(accountIndex uint64) string {
	// https://github.com/bitcoin/bips/blob/master/bip-0044.mediawiki
	// m / purpose' / coin_type' / account' / change / address_index
	// 1 account = 1 address, change and address index are always 0
	return fmt.Sprintf("m/44'/1789'/%d'/0/0", accountIndex)
}

func generateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBitSize)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// derivePrivateKey derives the private key of the derivation path.
func derivePrivateKey(path acc.DerivationPath, masterKey *hdkeychain.ExtendedKey) (*ecdsa.PrivateKey, error) {
	var err error
	var derivedKey = masterKey
	for _, n := range path {
		derivedKey, err = derivedKey.Derive(n)
		if err != nil {
			return nil, err
		}
	}
	privateKey, err := derivedKey.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return privateKey.ToECDSA(), nil
}
