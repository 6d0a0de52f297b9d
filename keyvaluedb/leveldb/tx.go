package leveldb

import (
	"fmt"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/syndtr/goleveldb/leveldb"
)

type Tx struct {
	tx     *leveldb.Transaction
	enc    EncodeFn
	dec    DecodeFn
	closed bool
}

func (t *Tx) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	if t.closed {
		return false, fmt.Errorf("leveldb tx read failed, %w", keyvaluedb.ErrTxClosed)
	}
	return read(t.tx.Get, key, v, t.dec)
}

func (t *Tx) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	if t.closed {
		return fmt.Errorf("leveldb tx write failed, %w", keyvaluedb.ErrTxClosed)
	}
	b, err := t.enc(value)
	if err != nil {
		return err
	}
	return t.tx.Put(key, b, nil)
}

func (t *Tx) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if t.closed {
		return fmt.Errorf("leveldb tx delete failed, %w", keyvaluedb.ErrTxClosed)
	}
	return t.tx.Delete(key, nil)
}

func (t *Tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.tx.Discard()
	return nil
}

func (t *Tx) Commit() error {
	if t.closed {
		return fmt.Errorf("leveldb tx commit failed, %w", keyvaluedb.ErrTxClosed)
	}
	t.closed = true
	return t.tx.Commit()
}
