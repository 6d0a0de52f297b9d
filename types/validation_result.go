package types

import (
	"fmt"
)

const (
	ValidationSuccess ValidationStatus = iota
	ValidationFailed
	ValidationInProgress
	ValidationExpired
)

const (
	VoteApprove Vote = iota
	VoteReject
)

type (
	ValidationStatus uint8

	Vote uint8

	// ValidationResult is the outcome of the validation session of an
	// operation. There is at most one result per operation.
	ValidationResult struct {
		_           struct{}         `cbor:",toarray"`
		OperationID OperationID      `json:"operation_id"`
		Validators  []AccountID      `json:"validators"`
		Status      ValidationStatus `json:"status"`
		ResultData  Bytes            `json:"result_data,omitempty"`
		CompletedAt uint64           `json:"completed_at"`
	}

	// Attestation is a vote of the validator about the operation.
	Attestation struct {
		_           struct{}    `cbor:",toarray"`
		Validator   AccountID   `json:"validator"`
		OperationID OperationID `json:"operation_id"`
		Vote        Vote        `json:"vote"`
		Proof       *JamProof   `json:"proof,omitempty"`
		Timestamp   uint64      `json:"timestamp"` // unix milliseconds
		BlockNumber uint64      `json:"block_number"`
		// ProofValid is evaluated when the attestation is cast.
		ProofValid bool `json:"proof_valid"`
	}

	// Tally is stored as ValidationResult.ResultData.
	Tally struct {
		_         struct{} `cbor:",toarray"`
		Approve   uint64   `json:"approve"`
		Reject    uint64   `json:"reject"`
		Threshold uint64   `json:"threshold"`
		Active    uint64   `json:"active"`
	}
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationSuccess:
		return "success"
	case ValidationFailed:
		return "failed"
	case ValidationInProgress:
		return "in_progress"
	case ValidationExpired:
		return "expired"
	default:
		return fmt.Sprintf("validation_status(%d)", uint8(s))
	}
}

func (s ValidationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ValidationStatus) UnmarshalText(text []byte) error {
	for v := ValidationSuccess; v <= ValidationExpired; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown validation status %q", text)
}

func (v Vote) String() string {
	switch v {
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	default:
		return fmt.Sprintf("vote(%d)", uint8(v))
	}
}

func (v Vote) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Vote) UnmarshalText(text []byte) error {
	switch string(text) {
	case "approve":
		*v = VoteApprove
	case "reject":
		*v = VoteReject
	default:
		return fmt.Errorf("unknown vote %q", text)
	}
	return nil
}

func (v Vote) IsValid() error {
	if v > VoteReject {
		return fmt.Errorf("unknown vote %d", v)
	}
	return nil
}

// OperationStatus returns the terminal operation status matching the validation outcome.
func (s ValidationStatus) OperationStatus() OperationStatus {
	switch s {
	case ValidationSuccess:
		return OperationCompleted
	case ValidationExpired:
		return OperationExpired
	case ValidationInProgress:
		return OperationInProgress
	default:
		return OperationFailed
	}
}
