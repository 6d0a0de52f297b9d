package events

import (
	"fmt"

	"github.com/matrix-magiq/qvalidator/types"
)

type Kind uint8

const (
	ValidatorRegistered Kind = iota + 1
	ValidatorRemoved
	ValidatorUpdated
	OperationSubmitted
	OperationValidated
	OperationExpired
)

func (k Kind) String() string {
	switch k {
	case ValidatorRegistered:
		return "ValidatorRegistered"
	case ValidatorRemoved:
		return "ValidatorRemoved"
	case ValidatorUpdated:
		return "ValidatorUpdated"
	case OperationSubmitted:
		return "OperationSubmitted"
	case OperationValidated:
		return "OperationValidated"
	case OperationExpired:
		return "OperationExpired"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind returns the kind by its name, ie "OperationValidated".
func ParseKind(s string) (Kind, error) {
	for k := ValidatorRegistered; k <= OperationExpired; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is a notification about a state change, emitted after the change
// has been committed.
type Event interface {
	Kind() Kind
	String() string
}

type (
	ValidatorRegisteredEvent struct {
		Validator types.AccountID `json:"validator"`
	}

	ValidatorRemovedEvent struct {
		Validator types.AccountID `json:"validator"`
	}

	ValidatorUpdatedEvent struct {
		Validator types.AccountID       `json:"validator"`
		Status    types.ValidatorStatus `json:"status"`
	}

	OperationSubmittedEvent struct {
		OperationID types.OperationID `json:"operation_id"`
		Initiator   types.AccountID   `json:"initiator"`
		BlockNumber uint64            `json:"block_number"`
	}

	OperationValidatedEvent struct {
		OperationID types.OperationID      `json:"operation_id"`
		Status      types.ValidationStatus `json:"status"`
	}

	OperationExpiredEvent struct {
		OperationID types.OperationID `json:"operation_id"`
		BlockNumber uint64            `json:"block_number"`
	}
)

func (ValidatorRegisteredEvent) Kind() Kind { return ValidatorRegistered }
func (ValidatorRemovedEvent) Kind() Kind    { return ValidatorRemoved }
func (ValidatorUpdatedEvent) Kind() Kind    { return ValidatorUpdated }
func (OperationSubmittedEvent) Kind() Kind  { return OperationSubmitted }
func (OperationValidatedEvent) Kind() Kind  { return OperationValidated }
func (OperationExpiredEvent) Kind() Kind    { return OperationExpired }

func (e ValidatorRegisteredEvent) String() string {
	return fmt.Sprintf("validator %s registered", e.Validator)
}

func (e ValidatorRemovedEvent) String() string {
	return fmt.Sprintf("validator %s removed", e.Validator)
}

func (e ValidatorUpdatedEvent) String() string {
	return fmt.Sprintf("validator %s status changed to %s", e.Validator, e.Status)
}

func (e OperationSubmittedEvent) String() string {
	return fmt.Sprintf("operation %s submitted by %s in block %d", e.OperationID, e.Initiator, e.BlockNumber)
}

func (e OperationValidatedEvent) String() string {
	return fmt.Sprintf("operation %s validated: %s", e.OperationID, e.Status)
}

func (e OperationExpiredEvent) String() string {
	return fmt.Sprintf("operation %s expired at block %d", e.OperationID, e.BlockNumber)
}
