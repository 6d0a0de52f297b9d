package types

import (
	"crypto"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	AssetTransfer OperationType = iota
	MessagePassing
	QuantumTeleportation
	SmartContractCall
	ValidatorSetUpdate
	Custom
)

const (
	OperationPending OperationStatus = iota
	OperationInProgress
	OperationCompleted
	OperationFailed
	OperationExpired
)

var (
	ErrOperationIsNil       = errors.New("operation is nil")
	ErrInvalidExpiration    = errors.New("operation must expire after it was created")
	ErrUnknownOperationType = errors.New("unknown operation type")
)

type (
	OperationType   uint8
	OperationStatus uint8

	// OperationKind is the type of cross-chain operation. For Custom operations
	// Code carries the application defined sub-type.
	OperationKind struct {
		_    struct{}      `cbor:",toarray"`
		Type OperationType `json:"type"`
		Code uint8         `json:"code,omitempty"`
	}

	// Operation is a cross-chain atomic operation tracked from submission to
	// a terminal state. Records are never deleted.
	Operation struct {
		_           struct{}        `cbor:",toarray"`
		ID          OperationID     `json:"id"`
		Initiator   AccountID       `json:"initiator"`
		TargetChain uint32          `json:"target_chain"`
		Kind        OperationKind   `json:"kind"`
		Payload     Bytes           `json:"payload,omitempty"`
		CreatedAt   uint64          `json:"created_at"`
		ExpiresAt   uint64          `json:"expires_at"`
		SubmittedAt uint64          `json:"submitted_at"` // unix milliseconds
		BlockRoot   Bytes           `json:"block_root,omitempty"`
		Proofs      []*JamProof     `json:"proofs,omitempty"`
		Status      OperationStatus `json:"status"`
	}

	// operationIDFields are the fields the operation id is calculated from.
	operationIDFields struct {
		_           struct{} `cbor:",toarray"`
		Initiator   AccountID
		TargetChain uint32
		Kind        OperationKind
		Payload     []byte
		CreatedAt   uint64
		ExpiresAt   uint64
	}
)

var operationTypeNames = []string{"asset_transfer", "message_passing", "quantum_teleportation", "smart_contract_call", "validator_set_update", "custom"}

func NewKind(t OperationType) OperationKind {
	return OperationKind{Type: t}
}

func CustomKind(code uint8) OperationKind {
	return OperationKind{Type: Custom, Code: code}
}

func (t OperationType) String() string {
	if int(t) < len(operationTypeNames) {
		return operationTypeNames[t]
	}
	return fmt.Sprintf("operation_type(%d)", uint8(t))
}

func (k OperationKind) IsValid() error {
	if k.Type > Custom {
		return fmt.Errorf("%w: %d", ErrUnknownOperationType, k.Type)
	}
	if k.Type != Custom && k.Code != 0 {
		return fmt.Errorf("code is only allowed for custom operations, got %s with code %d", k.Type, k.Code)
	}
	return nil
}

func (k OperationKind) String() string {
	if k.Type == Custom {
		return fmt.Sprintf("custom:%d", k.Code)
	}
	return k.Type.String()
}

func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OperationKind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind parses the textual form of the OperationKind, ie "asset_transfer" or "custom:7".
func ParseKind(s string) (OperationKind, error) {
	if code, ok := strings.CutPrefix(s, "custom:"); ok {
		n, err := strconv.ParseUint(code, 10, 8)
		if err != nil {
			return OperationKind{}, fmt.Errorf("invalid custom operation code %q: %w", code, err)
		}
		return CustomKind(uint8(n)), nil
	}
	for i, name := range operationTypeNames {
		if name == s && OperationType(i) != Custom {
			return NewKind(OperationType(i)), nil
		}
	}
	return OperationKind{}, fmt.Errorf("%w: %q", ErrUnknownOperationType, s)
}

func (s OperationStatus) String() string {
	switch s {
	case OperationPending:
		return "pending"
	case OperationInProgress:
		return "in_progress"
	case OperationCompleted:
		return "completed"
	case OperationFailed:
		return "failed"
	case OperationExpired:
		return "expired"
	default:
		return fmt.Sprintf("operation_status(%d)", uint8(s))
	}
}

func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OperationStatus) UnmarshalText(text []byte) error {
	for v := OperationPending; v <= OperationExpired; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown operation status %q", text)
}

// IsTerminal returns true for statuses from which no further transition is allowed.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed || s == OperationExpired
}

func (o *Operation) IsValid() error {
	if o == nil {
		return ErrOperationIsNil
	}
	if o.Initiator == "" {
		return errors.New("initiator is missing")
	}
	if err := o.Kind.IsValid(); err != nil {
		return fmt.Errorf("invalid operation kind: %w", err)
	}
	if o.ExpiresAt <= o.CreatedAt {
		return fmt.Errorf("%w: created at %d, expires at %d", ErrInvalidExpiration, o.CreatedAt, o.ExpiresAt)
	}
	return nil
}

// CalculateID returns hash of the fields identifying the operation. Submitting
// the same operation twice in the same block yields the same id.
func (o *Operation) CalculateID(hashAlgorithm crypto.Hash) (OperationID, error) {
	b, err := Cbor.Marshal(operationIDFields{
		Initiator:   o.Initiator,
		TargetChain: o.TargetChain,
		Kind:        o.Kind,
		Payload:     o.Payload,
		CreatedAt:   o.CreatedAt,
		ExpiresAt:   o.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding operation: %w", err)
	}
	hasher := hashAlgorithm.New()
	hasher.Write(b)
	return hasher.Sum(nil), nil
}

// IsExpired returns true when the operation has passed its expiration block
// while still in a non-terminal state.
func (o *Operation) IsExpired(blockNumber uint64) bool {
	return !o.Status.IsTerminal() && blockNumber > o.ExpiresAt
}
