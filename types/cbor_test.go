package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Value int
}

func TestCborHandler_MarshalIsDeterministic(t *testing.T) {
	m := map[string]uint64{"zz": 1, "a": 2, "bbb": 3, "c": 4}
	first, err := Cbor.Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		b, err := Cbor.Marshal(m)
		require.NoError(t, err)
		require.Equal(t, first, b)
	}
}

func TestCborHandler_MarshalUnsupported(t *testing.T) {
	_, err := Cbor.Marshal(complex(20, 10))
	require.ErrorContains(t, err, "cbor: unsupported type: complex128")
}

func TestCborHandler_EncodeDecode(t *testing.T) {
	in := sample{Name: "foo", Value: 30}
	buf := new(bytes.Buffer)
	require.NoError(t, Cbor.Encode(buf, in))

	var out sample
	require.NoError(t, Cbor.Decode(buf, &out))
	require.Equal(t, in, out)
}

func TestCborHandler_UnmarshalInvalid(t *testing.T) {
	b, err := Cbor.Marshal(sample{Name: "foo", Value: 30})
	require.NoError(t, err)
	var out sample
	require.Error(t, Cbor.Unmarshal(b[:len(b)-1], &out))
}

func TestOperation_CborRoundTrip(t *testing.T) {
	op := &Operation{
		Initiator:   "alice",
		TargetChain: 7,
		Kind:        CustomKind(3),
		Payload:     []byte{1, 2, 3},
		CreatedAt:   10,
		ExpiresAt:   20,
		BlockRoot:   []byte{9, 9},
		Proofs:      []*JamProof{{BlockNumber: 10, Root: []byte{9, 9}, LeafCount: 1, JustifiedData: []byte{1}}},
		Status:      OperationInProgress,
	}
	b, err := Cbor.Marshal(op)
	require.NoError(t, err)
	var got Operation
	require.NoError(t, Cbor.Unmarshal(b, &got))
	require.Equal(t, op.Kind, got.Kind)
	require.Equal(t, op.Status, got.Status)
	require.EqualValues(t, op.Payload, got.Payload)
	require.Len(t, got.Proofs, 1)
	require.EqualValues(t, 10, got.Proofs[0].BlockNumber)
}
