package types

import (
	"crypto"
	"errors"
	"fmt"
)

type (
	// OperationID is the hash of the operation's identifying fields, see Operation.CalculateID.
	OperationID Bytes

	// AccountID is an opaque identifier of an authenticated caller. Accounts
	// backed by secp256k1 keys use hex encoded hash of the compressed public key.
	AccountID string
)

var ErrInvalidOperationID = errors.New("invalid operation id")

func (id OperationID) String() string {
	return fmt.Sprintf("%X", []byte(id))
}

func (id OperationID) MarshalText() ([]byte, error) {
	return Bytes(id).MarshalText()
}

func (id *OperationID) UnmarshalText(src []byte) error {
	return (*Bytes)(id).UnmarshalText(src)
}

func (id OperationID) Key() []byte {
	return []byte(id)
}

// ParseOperationID decodes hex encoded operation id and checks it's length
// against the hash algorithm.
func ParseOperationID(s string, hashAlgorithm crypto.Hash) (OperationID, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperationID, err)
	}
	if len(b) != hashAlgorithm.Size() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidOperationID, hashAlgorithm.Size(), len(b))
	}
	return b, nil
}

func (id AccountID) String() string {
	return string(id)
}
