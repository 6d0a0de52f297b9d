package memorydb

import (
	"errors"
	"testing"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/stretchr/testify/require"
)

type record struct {
	_    struct{} `cbor:",toarray"`
	Name string
	N    uint64
}

func isEmpty(t *testing.T, db *MemoryDB) bool {
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	return empty
}

func TestMemDB_TestIsEmpty(t *testing.T) {
	db := New()
	require.True(t, isEmpty(t, db))
	require.True(t, db.Empty())
	require.NoError(t, db.Write([]byte("foo"), "test"))
	require.False(t, isEmpty(t, db))
	empty, err := keyvaluedb.IsEmpty(nil)
	require.ErrorContains(t, err, "db is nil")
	require.True(t, empty)
}

func TestMemDB_TestInvalidWriteAndRead(t *testing.T) {
	db := New()
	var r *record
	require.ErrorIs(t, db.Write([]byte("record"), r), keyvaluedb.ErrValueIsNil)
	var value uint64 = 1
	require.ErrorIs(t, db.Write(nil, value), keyvaluedb.ErrInvalidKey)
	found, err := db.Read(nil, &value)
	require.ErrorIs(t, err, keyvaluedb.ErrInvalidKey)
	require.False(t, found)
	found, err = db.Read([]byte("test"), nil)
	require.ErrorIs(t, err, keyvaluedb.ErrValueIsNil)
	require.False(t, found)
	require.True(t, isEmpty(t, db))
}

func TestMemDB_WriteAndRead(t *testing.T) {
	db := New()
	require.NoError(t, db.Write([]byte("integer"), uint64(1)))
	require.NoError(t, db.Write([]byte("record"), &record{Name: "foo", N: 3}))

	var back uint64
	found, err := db.Read([]byte("integer"), &back)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, back)

	var r record
	found, err = db.Read([]byte("record"), &r)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "foo", r.Name)
	require.EqualValues(t, 3, r.N)

	found, err = db.Read([]byte("missing"), &r)
	require.NoError(t, err)
	require.False(t, found)

	// wrong type
	found, err = db.Read([]byte("record"), &back)
	require.Error(t, err)
	require.True(t, found)
}

func TestMemDB_Delete(t *testing.T) {
	db := New()
	require.NoError(t, db.Write([]byte("integer"), uint64(1)))
	require.NoError(t, db.Delete([]byte("integer")))
	require.True(t, isEmpty(t, db))
	// delete non-existing key
	require.NoError(t, db.Delete([]byte("integer")))
	require.ErrorIs(t, db.Delete(nil), keyvaluedb.ErrInvalidKey)
}

func TestMemDB_Iterators(t *testing.T) {
	db := New()
	for _, k := range []string{"b/2", "a/1", "b/1", "c/1"} {
		require.NoError(t, db.Write([]byte(k), k))
	}
	var keys []string
	for it := db.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a/1", "b/1", "b/2", "c/1"}, keys)

	keys = nil
	for it := db.Last(); it.Valid(); it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"c/1", "b/2", "b/1", "a/1"}, keys)

	it := db.Find([]byte("b"))
	require.True(t, it.Valid())
	require.Equal(t, "b/1", string(it.Key()))
	var v string
	require.NoError(t, it.Value(&v))
	require.Equal(t, "b/1", v)
	require.NoError(t, it.Close())

	require.False(t, db.Find([]byte("d")).Valid())

	keys = nil
	require.NoError(t, keyvaluedb.ForEachWithPrefix(db, []byte("b/"), func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}))
	require.Equal(t, []string{"b/1", "b/2"}, keys)
}

func TestMemDB_TxCommitAndRollback(t *testing.T) {
	db := New()
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("a"), uint64(1)))
	var v uint64
	found, err := tx.Read([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, found)
	// not visible before commit
	require.True(t, isEmpty(t, db))
	require.NoError(t, tx.Commit())
	require.False(t, isEmpty(t, db))

	tx, err = db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Delete([]byte("a")))
	require.NoError(t, tx.Rollback())
	found, err = db.Read([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, found)

	// use after close
	_, err = tx.Read([]byte("a"), &v)
	require.ErrorIs(t, err, keyvaluedb.ErrTxClosed)
	require.ErrorIs(t, tx.Write([]byte("a"), v), keyvaluedb.ErrTxClosed)
	require.ErrorIs(t, tx.Delete([]byte("a")), keyvaluedb.ErrTxClosed)
	require.ErrorIs(t, tx.Commit(), keyvaluedb.ErrTxClosed)
}

func TestMemDB_Update(t *testing.T) {
	db := New()
	errBoom := errors.New("boom")
	err := keyvaluedb.Update(db, func(tx keyvaluedb.DBTransaction) error {
		require.NoError(t, tx.Write([]byte("a"), uint64(1)))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.True(t, isEmpty(t, db))

	require.NoError(t, keyvaluedb.Update(db, func(tx keyvaluedb.DBTransaction) error {
		return tx.Write([]byte("a"), uint64(1))
	}))
	require.False(t, isEmpty(t, db))
}

func TestMemDB_MockWriteError(t *testing.T) {
	db := New()
	errDiskFull := errors.New("disk full")
	db.MockWriteError(errDiskFull)
	require.ErrorIs(t, db.Write([]byte("a"), uint64(1)), errDiskFull)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.ErrorIs(t, tx.Write([]byte("a"), uint64(1)), errDiskFull)
	require.NoError(t, tx.Rollback())
	db.MockWriteError(nil)
	require.NoError(t, db.Write([]byte("a"), uint64(1)))
}
