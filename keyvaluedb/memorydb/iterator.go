package memorydb

import (
	"bytes"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Itr iterates over a snapshot of the db taken when the iterator was created.
type Itr struct {
	keys    []string
	values  [][]byte
	decoder DecodeFn
	index   int
}

func NewIterator(db map[string][]byte, d DecodeFn) *Itr {
	keys := maps.Keys(db)
	slices.Sort(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = db[k]
	}
	return &Itr{
		index:   -1,
		decoder: d,
		keys:    keys,
		values:  values,
	}
}

func (it *Itr) Close() error {
	return nil
}

func (it *Itr) Next() {
	if !it.Valid() {
		return
	}
	it.index++
	if it.index >= len(it.keys) {
		it.index = -1
	}
}

func (it *Itr) Prev() {
	if !it.Valid() {
		return
	}
	it.index--
}

func (it *Itr) Valid() bool {
	return it.index >= 0
}

func (it *Itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return []byte(it.keys[it.index])
}

func (it *Itr) Value(v any) error {
	if !it.Valid() {
		return fmt.Errorf("iterator invalid")
	}
	return it.decoder(it.values[it.index], v)
}

func (it *Itr) first() {
	if len(it.keys) > 0 {
		it.index = 0
	}
}

func (it *Itr) last() {
	if len(it.keys) > 0 {
		it.index = len(it.keys) - 1
	}
}

func (it *Itr) seek(key []byte) {
	it.index = -1
	// found a close or exact match
	if idx, _ := slices.BinarySearchFunc(it.keys, key, func(k string, target []byte) int {
		return bytes.Compare([]byte(k), target)
	}); idx < len(it.keys) {
		it.index = idx
	}
}
