package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalText_OK(t *testing.T) {
	var bytes Bytes = []byte{1, 2, 3, 4, 5, 6, 7}
	marshaled, err := bytes.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "0x01020304050607", string(marshaled))

	var unmarshaled Bytes
	require.NoError(t, unmarshaled.UnmarshalText(marshaled))
	require.Equal(t, bytes, unmarshaled)
}

func TestMarshalText_ZeroLengthSliceIsNil(t *testing.T) {
	marshaled, err := make(Bytes, 0).MarshalText()
	require.NoError(t, err)
	require.Nil(t, marshaled)
}

func TestUnmarshalText_ZeroLengthSliceIsNil(t *testing.T) {
	var b Bytes
	require.NoError(t, b.UnmarshalText(make([]byte, 0)))
	require.Nil(t, b)
}

func TestUnmarshalText_InvalidHex(t *testing.T) {
	var b Bytes
	require.ErrorContains(t, b.UnmarshalText([]byte("0xZZ")), "decoding hex string")
}

func TestDecodeHex(t *testing.T) {
	for _, s := range []string{"0x0a0b", "0X0a0b", "0a0b"} {
		b, err := DecodeHex(s)
		require.NoError(t, err)
		require.Equal(t, []byte{0x0a, 0x0b}, b)
	}
}

func TestBytes_JSON(t *testing.T) {
	type wrapper struct {
		Data Bytes `json:"data"`
	}
	b, err := json.Marshal(wrapper{Data: []byte{0xff, 0x01}})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":"0xff01"}`, string(b))
	var w wrapper
	require.NoError(t, json.Unmarshal(b, &w))
	require.EqualValues(t, []byte{0xff, 0x01}, w.Data)
}
