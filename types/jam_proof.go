package types

import "errors"

var ErrProofIsNil = errors.New("proof is nil")

// JamProof is a Merkle inclusion proof of JustifiedData in the operation set
// of block BlockNumber. Path holds the sibling hashes from the leaf up to the
// root, directions of the siblings are derived from LeafIndex and LeafCount.
type JamProof struct {
	_             struct{} `cbor:",toarray"`
	BlockNumber   uint64   `json:"block_number"`
	Root          Bytes    `json:"root"`
	LeafIndex     uint64   `json:"leaf_index"`
	LeafCount     uint64   `json:"leaf_count"`
	Path          []Bytes  `json:"path,omitempty"`
	JustifiedData Bytes    `json:"justified_data"`
}

func (p *JamProof) IsValid() error {
	if p == nil {
		return ErrProofIsNil
	}
	if p.LeafCount == 0 {
		return errors.New("leaf count is zero")
	}
	if p.LeafIndex >= p.LeafCount {
		return errors.New("leaf index out of range")
	}
	if len(p.Root) == 0 {
		return errors.New("root is missing")
	}
	return nil
}

// Copy returns deep copy of the proof, nil safe.
func (p *JamProof) Copy() *JamProof {
	if p == nil {
		return nil
	}
	path := make([]Bytes, len(p.Path))
	for i, h := range p.Path {
		path[i] = append(Bytes(nil), h...)
	}
	return &JamProof{
		BlockNumber:   p.BlockNumber,
		Root:          append(Bytes(nil), p.Root...),
		LeafIndex:     p.LeafIndex,
		LeafCount:     p.LeafCount,
		Path:          path,
		JustifiedData: append(Bytes(nil), p.JustifiedData...),
	}
}
