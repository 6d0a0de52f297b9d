package test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

// BlockHeight is a manually advanced block height source.
type BlockHeight struct {
	n atomic.Uint64
}

func NewBlockHeight(n uint64) *BlockHeight {
	h := &BlockHeight{}
	h.n.Store(n)
	return h
}

func (h *BlockHeight) Get() uint64 { return h.n.Load() }

func (h *BlockHeight) Set(n uint64) { h.n.Store(n) }

func (h *BlockHeight) Add(delta uint64) uint64 { return h.n.Add(delta) }

// Clock returns a clock which advances by step on every call.
func Clock(start time.Time, step time.Duration) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(calls.Add(1)-1) * step)
	}
}

// CborPayload returns v encoded as CBOR data item.
func CborPayload(t testing.TB, v any) []byte {
	t.Helper()
	b, err := types.Cbor.Marshal(v)
	require.NoError(t, err)
	return b
}
