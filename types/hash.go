package types

import (
	"crypto"

	// registers crypto.BLAKE2b_256
	_ "golang.org/x/crypto/blake2b"
)

// DefaultHashAlgorithm is used for operation ids, Merkle trees and account ids
// unless configured otherwise.
const DefaultHashAlgorithm = crypto.BLAKE2b_256
