package correction

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/types"
)

var log = logger.CreateForPackage()

var (
	ErrEmptyPayload         = errors.New("payload is empty")
	ErrMalformedPayload     = errors.New("payload is not a single well-formed data item")
	ErrQuantumStateTooLarge = errors.New("quantum state too large")
)

type (
	// StageFunc adapts function to Stage.
	StageFunc struct {
		name string
		fn   func([]byte) ([]byte, error)
	}

	classicalStage struct{}

	bridgeStage struct {
		enc cbor.EncMode
		dec cbor.DecMode
	}

	quantumStage struct {
		maxSize int
	}
)

func NewStageFunc(name string, fn func([]byte) ([]byte, error)) StageFunc {
	return StageFunc{name: name, fn: fn}
}

func (s StageFunc) Name() string { return s.name }

func (s StageFunc) Correct(payload []byte) ([]byte, error) { return s.fn(payload) }

// NewClassicalStage detects transmission damage: the payload must be exactly
// one well-formed CBOR data item, nothing truncated and nothing trailing.
func NewClassicalStage() Stage {
	return classicalStage{}
}

func (classicalStage) Name() string { return StageClassical }

func (classicalStage) Correct(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	var raw cbor.RawMessage
	if err := types.Cbor.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(raw) != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(payload)-len(raw))
	}
	return payload, nil
}

// NewBridgeStage canonicalizes the CBOR encoding of the payload (core
// deterministic encoding) so that chains using different encoders agree
// on the bytes.
func NewBridgeStage() Stage {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return bridgeStage{enc: enc, dec: dec}
}

func (bridgeStage) Name() string { return StageBridge }

func (s bridgeStage) Correct(payload []byte) ([]byte, error) {
	var v interface{}
	if err := s.dec.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	out, err := s.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding of payload: %w", err)
	}
	return out, nil
}

// NewQuantumStage bounds the size of the corrected state.
func NewQuantumStage(maxSize int) Stage {
	return quantumStage{maxSize: maxSize}
}

func (quantumStage) Name() string { return StageQuantum }

func (s quantumStage) Correct(payload []byte) ([]byte, error) {
	if s.maxSize > 0 && len(payload) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrQuantumStateTooLarge, len(payload), s.maxSize)
	}
	return payload, nil
}
