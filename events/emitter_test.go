package events

import (
	"testing"

	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe(10)
	onlyOps := bus.Subscribe(10, OperationSubmitted, OperationValidated)

	bus.Emit(ValidatorRegisteredEvent{Validator: "v1"})
	bus.Emit(OperationSubmittedEvent{OperationID: []byte{1}, Initiator: "alice", BlockNumber: 3})

	require.Equal(t, ValidatorRegistered, (<-all.Events()).Kind())
	require.Equal(t, OperationSubmitted, (<-all.Events()).Kind())
	e := <-onlyOps.Events()
	require.Equal(t, OperationSubmitted, e.Kind())
	require.Equal(t, "operation 01 submitted by alice in block 3", e.String())
	require.Len(t, onlyOps.Events(), 0)
}

func TestBus_FullBufferDoesNotBlock(t *testing.T) {
	bus := NewBus()
	s := bus.Subscribe(1)
	bus.Emit(ValidatorRemovedEvent{Validator: "v1"})
	bus.Emit(ValidatorRemovedEvent{Validator: "v2"})
	require.Len(t, s.Events(), 1)
	e := <-s.Events()
	require.Equal(t, ValidatorRemovedEvent{Validator: "v1"}, e)
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe(1)
	s2 := bus.Subscribe(1)
	s1.Unsubscribe()
	s1.Unsubscribe()
	_, ok := <-s1.Events()
	require.False(t, ok)

	bus.Close()
	_, ok = <-s2.Events()
	require.False(t, ok)
	// emit after close is no-op
	bus.Emit(ValidatorRemovedEvent{Validator: "v1"})
	s3 := bus.Subscribe(1)
	_, ok = <-s3.Events()
	require.False(t, ok)
}

func TestMulti(t *testing.T) {
	var got []Kind
	collect := EmitterFunc(func(e Event) { got = append(got, e.Kind()) })
	em := Multi(collect, Nop, Logging(nil), collect)
	em.Emit(OperationValidatedEvent{OperationID: []byte{1}, Status: types.ValidationSuccess})
	require.Equal(t, []Kind{OperationValidated, OperationValidated}, got)
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "OperationExpired", OperationExpired.String())
	require.Equal(t, "Kind(99)", Kind(99).String())
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr string
	}{
		{in: "ValidatorRegistered", want: ValidatorRegistered},
		{in: "OperationValidated", want: OperationValidated},
		{in: "OperationExpired", want: OperationExpired},
		{in: "operationexpired", wantErr: `unknown event kind "operationexpired"`},
		{in: "Kind(99)", wantErr: `unknown event kind "Kind(99)"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKind(tt.in)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, k)
			text, err := k.MarshalText()
			require.NoError(t, err)
			require.Equal(t, tt.in, string(text))
		})
	}
}
