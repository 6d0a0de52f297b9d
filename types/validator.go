package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	ValidatorActive ValidatorStatus = iota
	ValidatorOffline
	ValidatorSlashed
	ValidatorLeaving
)

const (
	KeyTypeECDSA KeyType = iota
	KeyTypeLatticeKEM
	KeyTypeMultivariate
	KeyTypeHashBased
	KeyTypeHybrid
)

type (
	ValidatorStatus uint8

	// KeyType is the signature scheme of the validator's public key.
	KeyType uint8

	ValidatorMetrics struct {
		_         struct{} `cbor:",toarray"`
		Validated uint64   `json:"validated"`
		Succeeded uint64   `json:"succeeded"`
		Failed    uint64   `json:"failed"`
		AvgTimeMs uint64   `json:"avg_time_ms"`
	}

	ValidatorState struct {
		_            struct{}         `cbor:",toarray"`
		AccountID    AccountID        `json:"account_id"`
		Stake        *uint256.Int     `json:"stake"`
		Status       ValidatorStatus  `json:"status"`
		KeyType      KeyType          `json:"key_type"`
		PublicKey    Bytes            `json:"public_key"`
		Metrics      ValidatorMetrics `json:"metrics"`
		RegisteredAt uint64           `json:"registered_at"`
		LastUpdate   uint64           `json:"last_update"`
	}
)

func (s ValidatorStatus) String() string {
	switch s {
	case ValidatorActive:
		return "active"
	case ValidatorOffline:
		return "offline"
	case ValidatorSlashed:
		return "slashed"
	case ValidatorLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("validator_status(%d)", uint8(s))
	}
}

func (s ValidatorStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ValidatorStatus) UnmarshalText(text []byte) error {
	for v := ValidatorActive; v <= ValidatorLeaving; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown validator status %q", text)
}

func (k KeyType) String() string {
	switch k {
	case KeyTypeECDSA:
		return "ecdsa"
	case KeyTypeLatticeKEM:
		return "lattice_kem"
	case KeyTypeMultivariate:
		return "multivariate"
	case KeyTypeHashBased:
		return "hash_based"
	case KeyTypeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("key_type(%d)", uint8(k))
	}
}

func (k KeyType) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *KeyType) UnmarshalText(text []byte) error {
	for v := KeyTypeECDSA; v <= KeyTypeHybrid; v++ {
		if v.String() == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown key type %q", text)
}

func (v *ValidatorState) IsActive() bool {
	return v != nil && v.Status == ValidatorActive
}

// RecordVote updates metrics with validation outcome, the average time is a running mean.
func (m *ValidatorMetrics) RecordVote(succeeded bool, durationMs uint64) {
	m.Validated++
	if succeeded {
		m.Succeeded++
	} else {
		m.Failed++
	}
	// avg_n = avg_(n-1) + (x - avg_(n-1)) / n, computed on signed values to allow decrease
	delta := (int64(durationMs) - int64(m.AvgTimeMs)) / int64(m.Validated)
	m.AvgTimeMs = uint64(int64(m.AvgTimeMs) + delta)
}

var ErrInvalidStake = errors.New("invalid stake")

// ParseStake parses non-negative decimal stake amount which fits into 256 bits.
func ParseStake(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidStake, s)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidStake)
	}
	stake, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: amount overflows 256 bits", ErrInvalidStake)
	}
	return stake, nil
}
