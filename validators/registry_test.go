package validators

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/keyvaluedb/memorydb"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

func startTx(t *testing.T, db *memorydb.MemoryDB) keyvaluedb.DBTransaction {
	t.Helper()
	tx, err := db.StartTx()
	require.NoError(t, err)
	return tx
}

func register(t *testing.T, r *Registry, tx keyvaluedb.DBTransaction, ids ...types.AccountID) {
	t.Helper()
	for _, id := range ids {
		_, err := r.Register(tx, id, uint256.NewInt(10), types.KeyTypeECDSA, []byte{2, 1}, 1)
		require.NoError(t, err)
	}
}

func TestRegister(t *testing.T) {
	db := memorydb.New()
	r := NewRegistry(WithMinStake(uint256.NewInt(5)), WithMaxPublicKeySize(4))
	tx := startTx(t, db)

	v, err := r.Register(tx, "v1", uint256.NewInt(5), types.KeyTypeHybrid, []byte{1, 2, 3, 4}, 7)
	require.NoError(t, err)
	require.Equal(t, types.ValidatorActive, v.Status)
	require.EqualValues(t, 7, v.RegisteredAt)
	require.EqualValues(t, 7, v.LastUpdate)

	_, err = r.Register(tx, "v1", uint256.NewInt(5), types.KeyTypeECDSA, nil, 8)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	_, err = r.Register(tx, "v2", uint256.NewInt(4), types.KeyTypeECDSA, nil, 8)
	require.ErrorIs(t, err, ErrInsufficientStake)
	_, err = r.Register(tx, "v2", nil, types.KeyTypeECDSA, nil, 8)
	require.ErrorIs(t, err, ErrInsufficientStake)
	_, err = r.Register(tx, "v2", uint256.NewInt(5), types.KeyTypeECDSA, make([]byte, 5), 8)
	require.ErrorIs(t, err, ErrPublicKeyTooLarge)
	_, err = r.Register(tx, "", uint256.NewInt(5), types.KeyTypeECDSA, nil, 8)
	require.ErrorIs(t, err, ErrInvalidAccountID)
	require.NoError(t, tx.Commit())

	got, err := r.Get(db, "v1")
	require.NoError(t, err)
	require.Equal(t, types.KeyTypeHybrid, got.KeyType)
	require.EqualValues(t, 5, got.Stake.Uint64())
	require.EqualValues(t, []byte{1, 2, 3, 4}, got.PublicKey)
}

func TestListIsSorted(t *testing.T) {
	db := memorydb.New()
	r := NewRegistry()
	tx := startTx(t, db)
	register(t, r, tx, "c", "a", "b")
	list, err := r.List(tx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []types.AccountID{"a", "b", "c"}, []types.AccountID{list[0].AccountID, list[1].AccountID, list[2].AccountID})
	require.NoError(t, tx.Rollback())

	// rolled back
	list, err = r.List(db)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRemove(t *testing.T) {
	db := memorydb.New()
	r := NewRegistry()
	tx := startTx(t, db)
	register(t, r, tx, "a", "b")
	require.NoError(t, r.Remove(tx, "a"))
	require.ErrorIs(t, r.Remove(tx, "a"), ErrValidatorNotFound)

	found, err := r.IsValidator(tx, "a")
	require.NoError(t, err)
	require.False(t, found)
	ids, err := r.ActiveIDs(tx)
	require.NoError(t, err)
	require.Equal(t, []types.AccountID{"b"}, ids)

	// can register again after removal
	register(t, r, tx, "a")
	require.NoError(t, tx.Commit())
}

func TestSetStatusAndActiveCount(t *testing.T) {
	db := memorydb.New()
	r := NewRegistry()
	tx := startTx(t, db)
	register(t, r, tx, "a", "b", "c", "d")
	count, err := r.ActiveCount(tx)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	v, err := r.SetStatus(tx, "b", types.ValidatorOffline, 9)
	require.NoError(t, err)
	require.Equal(t, types.ValidatorOffline, v.Status)
	require.EqualValues(t, 9, v.LastUpdate)
	_, err = r.Slash(tx, "c", 9)
	require.NoError(t, err)

	count, err = r.ActiveCount(tx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	active, err := r.IsActive(tx, "b")
	require.NoError(t, err)
	require.False(t, active)
	active, err = r.IsActive(tx, "a")
	require.NoError(t, err)
	require.True(t, active)
	active, err = r.IsActive(tx, "nobody")
	require.NoError(t, err)
	require.False(t, active)

	_, err = r.SetStatus(tx, "nobody", types.ValidatorActive, 9)
	require.ErrorIs(t, err, ErrValidatorNotFound)
	_, err = r.SetStatus(tx, "a", types.ValidatorStatus(10), 9)
	require.ErrorContains(t, err, "unknown validator status")
	require.NoError(t, tx.Commit())
}

func TestRecordVote(t *testing.T) {
	db := memorydb.New()
	r := NewRegistry()
	tx := startTx(t, db)
	register(t, r, tx, "a", "b")

	require.NoError(t, r.RecordVote(tx, "a", true, 100, 5))
	require.NoError(t, r.RecordVote(tx, "a", false, 300, 6))
	v, err := r.Get(tx, "a")
	require.NoError(t, err)
	require.Equal(t, types.ValidatorMetrics{Validated: 2, Succeeded: 1, Failed: 1, AvgTimeMs: 200}, v.Metrics)
	require.EqualValues(t, 6, v.LastUpdate)

	_, err = r.SetStatus(tx, "b", types.ValidatorLeaving, 7)
	require.NoError(t, err)
	require.ErrorIs(t, r.RecordVote(tx, "b", true, 1, 8), ErrValidatorNotActive)
	require.ErrorIs(t, r.RecordVote(tx, "x", true, 1, 8), ErrValidatorNotFound)
	require.NoError(t, tx.Commit())
}

func TestSetStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    types.ValidatorStatus
		to      types.ValidatorStatus
		allowed bool
	}{
		{from: types.ValidatorActive, to: types.ValidatorOffline, allowed: true},
		{from: types.ValidatorActive, to: types.ValidatorLeaving, allowed: true},
		{from: types.ValidatorActive, to: types.ValidatorActive},
		{from: types.ValidatorActive, to: types.ValidatorSlashed},
		{from: types.ValidatorOffline, to: types.ValidatorActive, allowed: true},
		{from: types.ValidatorOffline, to: types.ValidatorLeaving, allowed: true},
		{from: types.ValidatorOffline, to: types.ValidatorSlashed},
		{from: types.ValidatorLeaving, to: types.ValidatorActive},
		{from: types.ValidatorLeaving, to: types.ValidatorOffline},
		{from: types.ValidatorSlashed, to: types.ValidatorActive},
		{from: types.ValidatorSlashed, to: types.ValidatorOffline},
		{from: types.ValidatorSlashed, to: types.ValidatorLeaving},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_"+tt.to.String(), func(t *testing.T) {
			r := NewRegistry()
			tx := startTx(t, memorydb.New())
			register(t, r, tx, "a")
			v, err := r.Get(tx, "a")
			require.NoError(t, err)
			_, err = r.writeStatus(tx, v, tt.from, 2)
			require.NoError(t, err)

			v, err = r.SetStatus(tx, "a", tt.to, 3)
			if tt.allowed {
				require.NoError(t, err)
				require.Equal(t, tt.to, v.Status)
				return
			}
			require.ErrorIs(t, err, ErrStatusTransition)
			v, err = r.Get(tx, "a")
			require.NoError(t, err)
			require.Equal(t, tt.from, v.Status)
		})
	}
}

func TestSlash(t *testing.T) {
	r := NewRegistry()
	tx := startTx(t, memorydb.New())
	register(t, r, tx, "a", "b")
	_, err := r.SetStatus(tx, "b", types.ValidatorOffline, 2)
	require.NoError(t, err)

	for _, id := range []types.AccountID{"a", "b"} {
		v, err := r.Slash(tx, id, 3)
		require.NoError(t, err)
		require.Equal(t, types.ValidatorSlashed, v.Status)
		require.EqualValues(t, 3, v.LastUpdate)
	}
	_, err = r.Slash(tx, "a", 4)
	require.ErrorIs(t, err, ErrValidatorSlashed)
	_, err = r.Slash(tx, "nobody", 4)
	require.ErrorIs(t, err, ErrValidatorNotFound)

	// slashed validator can't leave the status nor start over by re-registering
	_, err = r.SetStatus(tx, "a", types.ValidatorActive, 5)
	require.ErrorIs(t, err, ErrStatusTransition)
	require.ErrorIs(t, r.Remove(tx, "a"), ErrValidatorSlashed)
	_, err = r.Register(tx, "a", uint256.NewInt(10), types.KeyTypeECDSA, []byte{1}, 5)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	count, err := r.ActiveCount(tx)
	require.NoError(t, err)
	require.Zero(t, count)
}
