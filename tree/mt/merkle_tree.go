package mt

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
)

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

var (
	ErrIndexOutOfBounds  = errors.New("merkle tree data index out of bounds")
	ErrInvalidPathLength = errors.New("invalid merkle path length")
)

type (
	// MerkleTree is a binary hash tree over an ordered list of leaves. The
	// leaves are split at the largest power of two smaller than the leaf
	// count, so the right sub-tree may be shallower than the left one and no
	// node is ever duplicated.
	MerkleTree struct {
		root          *node
		dataLength    int // number of leaves
		hashAlgorithm crypto.Hash
	}

	// PathItem helper struct for proof extraction, contains Hash and Direction from parent node
	PathItem struct {
		Hash          []byte
		DirectionLeft bool // true - left from parent, false - right from parent
	}

	node struct {
		left  *node
		right *node
		hash  []byte
	}
)

// New creates a new Merkle Tree over the leaves. Leaves are hashed with the
// leaf domain prefix, inner nodes with the node domain prefix.
func New(hashAlgorithm crypto.Hash, leaves [][]byte) *MerkleTree {
	if len(leaves) == 0 {
		return &MerkleTree{root: nil, dataLength: 0, hashAlgorithm: hashAlgorithm}
	}
	return &MerkleTree{root: createMerkleTree(leaves, hashAlgorithm), dataLength: len(leaves), hashAlgorithm: hashAlgorithm}
}

// LeafHash returns H(0x00 || data).
func LeafHash(hashAlgorithm crypto.Hash, data []byte) []byte {
	hasher := hashAlgorithm.New()
	hasher.Write([]byte{leafPrefix})
	hasher.Write(data)
	return hasher.Sum(nil)
}

// NodeHash returns H(0x01 || left || right).
func NodeHash(hashAlgorithm crypto.Hash, left, right []byte) []byte {
	hasher := hashAlgorithm.New()
	hasher.Write([]byte{nodePrefix})
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

// EvalMerklePath returns root hash calculated from the given leaf and path items
func EvalMerklePath(merklePath []*PathItem, leaf []byte, hashAlgorithm crypto.Hash) []byte {
	h := LeafHash(hashAlgorithm, leaf)
	for _, item := range merklePath {
		if item.DirectionLeft {
			h = NodeHash(hashAlgorithm, h, item.Hash)
		} else {
			h = NodeHash(hashAlgorithm, item.Hash, h)
		}
	}
	return h
}

// EvalPath folds the sibling hashes over the leaf using the directions of
// the leaf idx in a tree of count leaves. Fails when the number of siblings
// differs from the depth of the leaf.
func EvalPath(siblings [][]byte, idx, count uint64, leaf []byte, hashAlgorithm crypto.Hash) ([]byte, error) {
	directions, err := PathDirections(idx, count)
	if err != nil {
		return nil, err
	}
	if len(directions) != len(siblings) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidPathLength, len(directions), len(siblings))
	}
	path := make([]*PathItem, len(siblings))
	for i, s := range siblings {
		path[i] = &PathItem{Hash: s, DirectionLeft: directions[i]}
	}
	return EvalMerklePath(path, leaf, hashAlgorithm), nil
}

// VerifyPath is EvalPath followed by comparison with the expected root.
func VerifyPath(siblings [][]byte, idx, count uint64, leaf, root []byte, hashAlgorithm crypto.Hash) bool {
	h, err := EvalPath(siblings, idx, count, leaf, hashAlgorithm)
	if err != nil {
		return false
	}
	return bytes.Equal(h, root)
}

// PathDirections returns, in leaf to root order, whether the node on the path
// of leaf idx is the left child of its parent. The length of the result is the
// depth of the leaf, which is fully determined by idx and count.
func PathDirections(idx, count uint64) ([]bool, error) {
	if idx >= count {
		return nil, ErrIndexOutOfBounds
	}
	var z []bool
	b := uint64(0)
	m := count
	for m > 1 {
		n := hibit64(m - 1)
		if idx < b+n {
			z = append(z, true)
			m = n
		} else {
			z = append(z, false)
			b = b + n
			m = m - n
		}
	}
	// built root to leaf
	for i, j := 0, len(z)-1; i < j; i, j = i+1, j-1 {
		z[i], z[j] = z[j], z[i]
	}
	return z, nil
}

// GetRootHash returns the root Hash of the Merkle Tree.
func (s *MerkleTree) GetRootHash() []byte {
	if s.root == nil {
		return nil
	}
	return s.root.hash
}

// LeafCount returns the number of leaves in the tree.
func (s *MerkleTree) LeafCount() int {
	return s.dataLength
}

// GetMerklePath extracts the merkle path from the given leaf to root.
func (s *MerkleTree) GetMerklePath(leafIdx int) ([]*PathItem, error) {
	if leafIdx < 0 || leafIdx >= s.dataLength {
		return nil, ErrIndexOutOfBounds
	}

	var z []*PathItem
	curr := s.root
	b := 0
	m := s.dataLength

	// iteratively descending the tree
	for m > 1 {
		n := hibit(m - 1)
		if leafIdx < b+n { // target in the left sub-tree
			z = append([]*PathItem{{Hash: curr.right.hash, DirectionLeft: true}}, z...)
			curr = curr.left
			m = n
		} else { // target in the right sub-tree
			z = append([]*PathItem{{Hash: curr.left.hash, DirectionLeft: false}}, z...)
			curr = curr.right
			b = b + n
			m = m - n
		}
	}
	return z, nil
}

// GetSiblings returns only the sibling hashes of the merkle path of the leaf.
func (s *MerkleTree) GetSiblings(leafIdx int) ([][]byte, error) {
	path, err := s.GetMerklePath(leafIdx)
	if err != nil {
		return nil, err
	}
	siblings := make([][]byte, len(path))
	for i, p := range path {
		siblings[i] = p.Hash
	}
	return siblings, nil
}

// PrettyPrint returns human readable string representation of the Merkle Tree.
func (s *MerkleTree) PrettyPrint() string {
	if s.root == nil {
		return "tree is empty"
	}
	out := ""
	s.output(s.root, "", false, &out)
	return out
}

func (s *MerkleTree) output(node *node, prefix string, isTail bool, str *string) {
	if node.right != nil {
		newPrefix := prefix
		if isTail {
			newPrefix += "│   "
		} else {
			newPrefix += "    "
		}
		s.output(node.right, newPrefix, false, str)
	}
	*str += prefix
	if isTail {
		*str += "└── "
	} else {
		*str += "┌── "
	}
	*str += fmt.Sprintf("%X\n", node.hash)
	if node.left != nil {
		newPrefix := prefix
		if isTail {
			newPrefix += "    "
		} else {
			newPrefix += "│   "
		}
		s.output(node.left, newPrefix, true, str)
	}
}

func createMerkleTree(leaves [][]byte, hashAlgorithm crypto.Hash) *node {
	if len(leaves) == 1 {
		return &node{hash: LeafHash(hashAlgorithm, leaves[0])}
	}
	n := hibit(len(leaves) - 1)
	left := createMerkleTree(leaves[:n], hashAlgorithm)
	right := createMerkleTree(leaves[n:], hashAlgorithm)
	return &node{left: left, right: right, hash: NodeHash(hashAlgorithm, left.hash, right.hash)}
}

// hibit floating-point-free equivalent of 2**math.floor(math.log(m, 2)),
// could be preferred for larger values of m to avoid rounding errors
func hibit(n int) int {
	if n < 0 {
		panic("hibit function input cannot be negative (merkle tree input data length cannot be zero)")
	}
	return int(hibit64(uint64(n)))
}

func hibit64(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n - (n >> 1)
}
