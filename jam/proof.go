package jam

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"

	"github.com/matrix-magiq/qvalidator/tree/mt"
	"github.com/matrix-magiq/qvalidator/types"
)

var (
	ErrEmptyItems   = errors.New("item list is empty")
	ErrNotFound     = errors.New("item not found")
	ErrInvalidProof = errors.New("invalid proof")
)

// EncodeItem returns the leaf data of the item.
func EncodeItem(item any) ([]byte, error) {
	b, err := types.Cbor.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encoding item: %w", err)
	}
	return b, nil
}

func encodeItems[T any](items []T) ([][]byte, error) {
	leaves := make([][]byte, len(items))
	for i, item := range items {
		b, err := EncodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		leaves[i] = b
	}
	return leaves, nil
}

// BuildRoot returns the root hash of the tree over CBOR encoded items.
func BuildRoot[T any](items []T, hashAlgorithm crypto.Hash) ([]byte, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	leaves, err := encodeItems(items)
	if err != nil {
		return nil, err
	}
	return mt.New(hashAlgorithm, leaves).GetRootHash(), nil
}

// GenerateProof returns inclusion proof of item at position index of items.
// ErrNotFound is returned when the index is out of range or the encoding of
// the item differs from the encoding of items[index].
func GenerateProof[T any](item T, items []T, index uint64, blockNumber uint64, hashAlgorithm crypto.Hash) (*types.JamProof, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	if index >= uint64(len(items)) {
		return nil, fmt.Errorf("%w: index %d out of range, %d items", ErrNotFound, index, len(items))
	}
	data, err := EncodeItem(item)
	if err != nil {
		return nil, err
	}
	leaves, err := encodeItems(items)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(leaves[index], data) {
		return nil, fmt.Errorf("%w: item differs from item at index %d", ErrNotFound, index)
	}
	tree := mt.New(hashAlgorithm, leaves)
	siblings, err := tree.GetSiblings(int(index))
	if err != nil {
		return nil, err
	}
	path := make([]types.Bytes, len(siblings))
	for i, s := range siblings {
		path[i] = s
	}
	return &types.JamProof{
		BlockNumber:   blockNumber,
		Root:          tree.GetRootHash(),
		LeafIndex:     index,
		LeafCount:     uint64(len(items)),
		Path:          path,
		JustifiedData: data,
	}, nil
}

// VerifyProof checks that the proof is well-formed and that folding its path
// over the justified data yields expectedRoot.
func VerifyProof(proof *types.JamProof, expectedRoot []byte, hashAlgorithm crypto.Hash) error {
	if err := proof.IsValid(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if !bytes.Equal(proof.Root, expectedRoot) {
		return fmt.Errorf("%w: proof root %X, expected %X", ErrInvalidProof, []byte(proof.Root), expectedRoot)
	}
	siblings := make([][]byte, len(proof.Path))
	for i, s := range proof.Path {
		siblings[i] = s
	}
	root, err := mt.EvalPath(siblings, proof.LeafIndex, proof.LeafCount, proof.JustifiedData, hashAlgorithm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if !bytes.Equal(root, expectedRoot) {
		return fmt.Errorf("%w: root mismatch", ErrInvalidProof)
	}
	return nil
}

// Verify is VerifyProof reporting the outcome as bool.
func Verify(proof *types.JamProof, expectedRoot []byte, hashAlgorithm crypto.Hash) bool {
	return VerifyProof(proof, expectedRoot, hashAlgorithm) == nil
}
