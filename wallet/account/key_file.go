package account

import (
	gocrypto "crypto"
	"errors"
	"fmt"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/util"
)

const secp256k1 = "secp256k1"

var ErrKeyFileNotFound = errors.New("key file not found")

type keyFile struct {
	Algorithm      string          `json:"algorithm"`
	AccountID      types.AccountID `json:"account_id"`
	PubKey         types.Bytes     `json:"pub_key"`
	DerivationPath string          `json:"derivation_path,omitempty"`
	// exactly one of the private key fields is set
	PrivateKey          types.Bytes `json:"private_key,omitempty"`
	EncryptedPrivateKey string      `json:"encrypted_private_key,omitempty"`
}

// WriteKeyFile stores the account key as JSON file, the private key is
// encrypted when passphrase is not empty.
func WriteKeyFile(file string, key *AccountKey, passphrase string) error {
	kf := &keyFile{
		Algorithm:      secp256k1,
		AccountID:      key.AccountID,
		PubKey:         key.PubKey,
		DerivationPath: key.DerivationPath,
	}
	if passphrase == "" {
		kf.PrivateKey = key.PrivKey
	} else {
		encrypted, err := crypto.Encrypt(passphrase, key.PrivKey)
		if err != nil {
			return fmt.Errorf("encrypting private key: %w", err)
		}
		kf.EncryptedPrivateKey = encrypted
	}
	return util.WriteJsonFile(file, kf, 0600)
}

// IsEncryptedKeyFile returns true if the private key in the file is encrypted.
func IsEncryptedKeyFile(file string) (bool, error) {
	kf, err := readKeyFile(file)
	if err != nil {
		return false, err
	}
	return kf.EncryptedPrivateKey != "", nil
}

// LoadKeyFile reads the account key from the file.
func LoadKeyFile(file string, passphrase string, hashAlgorithm gocrypto.Hash) (*AccountKey, error) {
	kf, err := readKeyFile(file)
	if err != nil {
		return nil, err
	}
	privKey := []byte(kf.PrivateKey)
	if kf.EncryptedPrivateKey != "" {
		if privKey, err = crypto.Decrypt(passphrase, kf.EncryptedPrivateKey); err != nil {
			return nil, err
		}
	}
	key, err := newAccountKey(privKey, kf.DerivationPath, hashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func readKeyFile(file string) (*keyFile, error) {
	if !util.FileExists(file) {
		return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, file)
	}
	kf, err := util.ReadJsonFile(file, &keyFile{})
	if err != nil {
		return nil, err
	}
	if kf.Algorithm != secp256k1 {
		return nil, fmt.Errorf("key algorithm %v is not supported", kf.Algorithm)
	}
	return kf, nil
}
