package validators

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/types"
	"golang.org/x/exp/slices"
)

const DefaultMaxPublicKeySize = 128

var log = logger.CreateForPackage()

var (
	ErrAlreadyRegistered  = errors.New("validator already registered")
	ErrValidatorNotFound  = errors.New("validator not found")
	ErrInsufficientStake  = errors.New("insufficient stake")
	ErrValidatorNotActive = errors.New("validator not active")
	ErrPublicKeyTooLarge  = errors.New("public key too large")
	ErrInvalidAccountID   = errors.New("invalid account id")
	ErrStatusTransition   = errors.New("invalid validator status transition")
	ErrValidatorSlashed   = errors.New("validator is slashed")
)

// selfServiceTransitions are the status changes a validator may request for
// itself. Slashed is set only by Slash and is never left.
var selfServiceTransitions = map[types.ValidatorStatus][]types.ValidatorStatus{
	types.ValidatorActive:  {types.ValidatorOffline, types.ValidatorLeaving},
	types.ValidatorOffline: {types.ValidatorActive, types.ValidatorLeaving},
}

var (
	validatorPrefix = []byte("val/")
	validatorSetKey = []byte("valset")
)

type (
	// Registry keeps validator records in the key-value store. All methods
	// work inside the caller's transaction.
	Registry struct {
		minStake         *uint256.Int
		maxPublicKeySize int
	}

	Options struct {
		minStake         *uint256.Int
		maxPublicKeySize int
	}

	Option func(*Options)
)

func WithMinStake(stake *uint256.Int) Option {
	return func(o *Options) {
		o.minStake = stake
	}
}

func WithMaxPublicKeySize(size int) Option {
	return func(o *Options) {
		o.maxPublicKeySize = size
	}
}

func NewRegistry(opts ...Option) *Registry {
	o := &Options{
		minStake:         uint256.NewInt(1),
		maxPublicKeySize: DefaultMaxPublicKeySize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{minStake: o.minStake, maxPublicKeySize: o.maxPublicKeySize}
}

func validatorKey(id types.AccountID) []byte {
	return append(slices.Clone(validatorPrefix), string(id)...)
}

// Register adds a new Active validator.
func (r *Registry) Register(tx keyvaluedb.DBTransaction, id types.AccountID, stake *uint256.Int, keyType types.KeyType, publicKey []byte, now uint64) (*types.ValidatorState, error) {
	if id == "" {
		return nil, ErrInvalidAccountID
	}
	if len(publicKey) > r.maxPublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPublicKeyTooLarge, len(publicKey), r.maxPublicKeySize)
	}
	if stake == nil || stake.Cmp(r.minStake) < 0 {
		return nil, fmt.Errorf("%w: minimum stake is %s", ErrInsufficientStake, r.minStake.ToBig())
	}
	found, err := r.IsValidator(tx, id)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	ids, err := r.validatorSet(tx)
	if err != nil {
		return nil, err
	}
	v := &types.ValidatorState{
		AccountID:    id,
		Stake:        new(uint256.Int).Set(stake),
		Status:       types.ValidatorActive,
		KeyType:      keyType,
		PublicKey:    slices.Clone(publicKey),
		RegisteredAt: now,
		LastUpdate:   now,
	}
	if err := tx.Write(validatorKey(id), v); err != nil {
		return nil, fmt.Errorf("storing validator: %w", err)
	}
	idx, _ := slices.BinarySearch(ids, id)
	if err := tx.Write(validatorSetKey, slices.Insert(ids, idx, id)); err != nil {
		return nil, fmt.Errorf("storing validator set: %w", err)
	}
	log.Debug("validator %s registered, stake %s", id, stake.ToBig())
	return v, nil
}

// Remove deletes the validator record. Slashed validators are kept so they
// can't register again with a clean record.
func (r *Registry) Remove(tx keyvaluedb.DBTransaction, id types.AccountID) error {
	v, err := r.Get(tx, id)
	if err != nil {
		return err
	}
	if v.Status == types.ValidatorSlashed {
		return fmt.Errorf("%w: %s can't be removed", ErrValidatorSlashed, id)
	}
	ids, err := r.validatorSet(tx)
	if err != nil {
		return err
	}
	if idx, found := slices.BinarySearch(ids, id); found {
		ids = slices.Delete(ids, idx, idx+1)
	}
	if err := tx.Delete(validatorKey(id)); err != nil {
		return fmt.Errorf("deleting validator: %w", err)
	}
	if err := tx.Write(validatorSetKey, ids); err != nil {
		return fmt.Errorf("storing validator set: %w", err)
	}
	log.Debug("validator %s removed", id)
	return nil
}

// SetStatus changes the status of the validator on its own request: Active
// and Offline switch between each other, both may move to Leaving.
func (r *Registry) SetStatus(tx keyvaluedb.DBTransaction, id types.AccountID, status types.ValidatorStatus, now uint64) (*types.ValidatorState, error) {
	if status > types.ValidatorLeaving {
		return nil, fmt.Errorf("unknown validator status %d", status)
	}
	v, err := r.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(selfServiceTransitions[v.Status], status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrStatusTransition, v.Status, status)
	}
	return r.writeStatus(tx, v, status, now)
}

// Slash moves the validator to Slashed. It is the only way into Slashed and
// there is no way out.
func (r *Registry) Slash(tx keyvaluedb.DBTransaction, id types.AccountID, now uint64) (*types.ValidatorState, error) {
	v, err := r.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if v.Status == types.ValidatorSlashed {
		return nil, fmt.Errorf("%w: %s", ErrValidatorSlashed, id)
	}
	log.Info("validator %s slashed, was %s", id, v.Status)
	return r.writeStatus(tx, v, types.ValidatorSlashed, now)
}

func (r *Registry) writeStatus(tx keyvaluedb.DBTransaction, v *types.ValidatorState, status types.ValidatorStatus, now uint64) (*types.ValidatorState, error) {
	v.Status = status
	v.LastUpdate = now
	if err := tx.Write(validatorKey(v.AccountID), v); err != nil {
		return nil, fmt.Errorf("storing validator: %w", err)
	}
	return v, nil
}

// RecordVote updates validation metrics of an Active validator.
func (r *Registry) RecordVote(tx keyvaluedb.DBTransaction, id types.AccountID, succeeded bool, durationMs uint64, now uint64) error {
	v, err := r.Get(tx, id)
	if err != nil {
		return err
	}
	if !v.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrValidatorNotActive, id, v.Status)
	}
	v.Metrics.RecordVote(succeeded, durationMs)
	v.LastUpdate = now
	if err := tx.Write(validatorKey(id), v); err != nil {
		return fmt.Errorf("storing validator: %w", err)
	}
	return nil
}

func (r *Registry) Get(tx keyvaluedb.Reader, id types.AccountID) (*types.ValidatorState, error) {
	if id == "" {
		return nil, ErrInvalidAccountID
	}
	v := &types.ValidatorState{}
	found, err := tx.Read(validatorKey(id), v)
	if err != nil {
		return nil, fmt.Errorf("reading validator: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrValidatorNotFound, id)
	}
	return v, nil
}

func (r *Registry) IsValidator(tx keyvaluedb.Reader, id types.AccountID) (bool, error) {
	_, err := r.Get(tx, id)
	if errors.Is(err, ErrValidatorNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Registry) IsActive(tx keyvaluedb.Reader, id types.AccountID) (bool, error) {
	v, err := r.Get(tx, id)
	if errors.Is(err, ErrValidatorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.IsActive(), nil
}

// List returns all validators sorted by account id.
func (r *Registry) List(tx keyvaluedb.Reader) ([]*types.ValidatorState, error) {
	ids, err := r.validatorSet(tx)
	if err != nil {
		return nil, err
	}
	res := make([]*types.ValidatorState, 0, len(ids))
	for _, id := range ids {
		v, err := r.Get(tx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// ActiveIDs returns sorted ids of Active validators.
func (r *Registry) ActiveIDs(tx keyvaluedb.Reader) ([]types.AccountID, error) {
	all, err := r.List(tx)
	if err != nil {
		return nil, err
	}
	var ids []types.AccountID
	for _, v := range all {
		if v.IsActive() {
			ids = append(ids, v.AccountID)
		}
	}
	return ids, nil
}

func (r *Registry) ActiveCount(tx keyvaluedb.Reader) (uint64, error) {
	ids, err := r.ActiveIDs(tx)
	return uint64(len(ids)), err
}

func (r *Registry) validatorSet(tx keyvaluedb.Reader) ([]types.AccountID, error) {
	var ids []types.AccountID
	if _, err := tx.Read(validatorSetKey, &ids); err != nil {
		return nil, fmt.Errorf("reading validator set: %w", err)
	}
	return ids, nil
}
