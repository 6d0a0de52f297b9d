package leveldb

import (
	"errors"
	"fmt"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	// LevelDB wraps goleveldb connection. Values are CBOR encoded.
	LevelDB struct {
		conn    *leveldb.DB
		encoder EncodeFn
		decoder DecodeFn
	}
)

// New opens (or creates) a LevelDB instance at the given directory
func New(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &LevelDB{conn: db, encoder: types.Cbor.Marshal, decoder: types.Cbor.Unmarshal}, nil
}

func (db *LevelDB) Read(key []byte, v any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return false, err
	}
	return read(db.conn.Get, key, v, db.decoder)
}

func (db *LevelDB) Write(key []byte, v any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, v); err != nil {
		return err
	}
	b, err := db.encoder(v)
	if err != nil {
		return err
	}
	if err := db.conn.Put(key, b, nil); err != nil {
		return fmt.Errorf("leveldb write failed, %w", err)
	}
	return nil
}

func (db *LevelDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	if err := db.conn.Delete(key, nil); err != nil {
		return fmt.Errorf("leveldb delete failed, %w", err)
	}
	return nil
}

func (db *LevelDB) First() keyvaluedb.Iterator {
	it := db.newIterator()
	it.valid = it.it.First()
	return it
}

func (db *LevelDB) Last() keyvaluedb.Iterator {
	it := db.newIterator()
	it.valid = it.it.Last()
	return it
}

func (db *LevelDB) Find(key []byte) keyvaluedb.Iterator {
	it := db.newIterator()
	it.valid = it.it.Seek(key)
	return it
}

func (db *LevelDB) newIterator() *Itr {
	return &Itr{it: db.conn.NewIterator(nil, nil), decoder: db.decoder}
}

// StartTx opens leveldb transaction, writes to the db are blocked until the
// transaction is committed or discarded.
func (db *LevelDB) StartTx() (keyvaluedb.DBTransaction, error) {
	tx, err := db.conn.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to start leveldb tx, %w", err)
	}
	return &Tx{tx: tx, enc: db.encoder, dec: db.decoder}, nil
}

func (db *LevelDB) Close() error {
	return db.conn.Close()
}

func read(get func([]byte, *opt.ReadOptions) ([]byte, error), key []byte, v any, decode DecodeFn) (bool, error) {
	data, err := get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leveldb read failed, %w", err)
	}
	if err := decode(data, v); err != nil {
		return true, fmt.Errorf("leveldb read failed, %w", err)
	}
	return true, nil
}

// Itr wraps goleveldb iterator, it holds a db snapshot until released.
type Itr struct {
	it      iterator.Iterator
	decoder DecodeFn
	valid   bool
}

func (it *Itr) Next() {
	if it.valid {
		it.valid = it.it.Next()
	}
}

func (it *Itr) Prev() {
	if it.valid {
		it.valid = it.it.Prev()
	}
}

func (it *Itr) Valid() bool {
	return it.valid
}

func (it *Itr) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.it.Key()
}

func (it *Itr) Value(v any) error {
	if !it.valid {
		return fmt.Errorf("iterator invalid")
	}
	return it.decoder(it.it.Value(), v)
}

func (it *Itr) Close() error {
	it.valid = false
	it.it.Release()
	return it.it.Error()
}
