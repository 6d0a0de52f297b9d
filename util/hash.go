package util

import (
	"crypto"
)

// Sum calculates the hash of the concatenation of data using hashAlgorithm.
func Sum(hashAlgorithm crypto.Hash, data ...[]byte) []byte {
	hasher := hashAlgorithm.New()
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}
