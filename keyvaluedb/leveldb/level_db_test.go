package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

func initLevelDB(t *testing.T) *LevelDB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestLevelDB_WriteReadDelete(t *testing.T) {
	db := initLevelDB(t)
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	require.True(t, empty)

	res := &types.ValidationResult{OperationID: []byte{1, 2}, Validators: []types.AccountID{"a", "b"}, Status: types.ValidationSuccess}
	require.NoError(t, db.Write([]byte("res"), res))
	var back types.ValidationResult
	found, err := db.Read([]byte("res"), &back)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, res.Validators, back.Validators)
	require.Equal(t, res.Status, back.Status)

	require.NoError(t, db.Delete([]byte("res")))
	found, err = db.Read([]byte("res"), &back)
	require.NoError(t, err)
	require.False(t, found)

	require.ErrorIs(t, db.Write(nil, res), keyvaluedb.ErrInvalidKey)
	_, err = db.Read([]byte("res"), nil)
	require.ErrorIs(t, err, keyvaluedb.ErrValueIsNil)
}

func TestLevelDB_Iterators(t *testing.T) {
	db := initLevelDB(t)
	for _, k := range []string{"b/2", "a/1", "b/1", "c/1"} {
		require.NoError(t, db.Write([]byte(k), k))
	}
	var keys []string
	it := db.First()
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	require.Equal(t, []string{"a/1", "b/1", "b/2", "c/1"}, keys)

	keys = nil
	it = db.Last()
	for ; it.Valid(); it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	require.Equal(t, []string{"c/1", "b/2", "b/1", "a/1"}, keys)

	keys = nil
	require.NoError(t, keyvaluedb.ForEachWithPrefix(db, []byte("b/"), func(key []byte, it keyvaluedb.Iterator) (bool, error) {
		var v string
		require.NoError(t, it.Value(&v))
		keys = append(keys, v)
		return true, nil
	}))
	require.Equal(t, []string{"b/1", "b/2"}, keys)
}

func TestLevelDB_Tx(t *testing.T) {
	db := initLevelDB(t)
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("a"), uint64(1)))
	var v uint64
	found, err := tx.Read([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Write([]byte("a"), v), keyvaluedb.ErrTxClosed)

	found, err = db.Read([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, v)

	tx, err = db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Delete([]byte("a")))
	require.NoError(t, tx.Rollback())
	found, err = db.Read([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, found)
}
