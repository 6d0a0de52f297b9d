package types

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Cbor is the codec used for all persisted and hashed records. Encoding is
// deterministic (RFC 8949 core deterministic encoding) so that the same value
// always produces the same bytes, and thus the same hash.
var Cbor = newCborHandler()

type (
	cborHandler struct {
		enc cbor.EncMode
		dec cbor.DecMode
	}

	RawCBOR = cbor.RawMessage
)

func newCborHandler() *cborHandler {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &cborHandler{enc: enc, dec: dec}
}

func (c *cborHandler) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *cborHandler) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (c *cborHandler) Encode(w io.Writer, v any) error {
	return c.enc.NewEncoder(w).Encode(v)
}

func (c *cborHandler) Decode(r io.Reader, v any) error {
	return c.dec.NewDecoder(r).Decode(v)
}
