package operations

import (
	"errors"
	"fmt"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/util"
	"golang.org/x/exp/slices"
)

var log = logger.CreateForPackage()

var (
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrOperationNotFound  = errors.New("operation not found")
	ErrOperationExpired   = errors.New("operation expired")
	ErrInvalidTransition  = errors.New("invalid operation state transition")
	ErrResultExists       = errors.New("validation result already exists")
	ErrResultNotFound     = errors.New("validation result not found")
)

var (
	OperationPrefix = []byte("op/")
	resultPrefix    = []byte("res/")
	blockPrefix     = []byte("blk/")
)

type (
	// Registry keeps operations, their validation results and the per block
	// operation sets. Operations are never deleted, terminal records are
	// never modified.
	Registry struct {
		onExpired func(op *types.Operation, blockNumber uint64)
	}

	Options struct {
		onExpired func(op *types.Operation, blockNumber uint64)
	}

	Option func(*Options)

	// SealFn is called by Submit with the operation set of the containing
	// block (including the new operation) before the operation is stored.
	SealFn func(op *types.Operation, blockOps []types.OperationID) error
)

// WithOnExpired sets the callback called when an operation is moved to
// Expired. The callback runs inside the transaction which made the change.
func WithOnExpired(fn func(op *types.Operation, blockNumber uint64)) Option {
	return func(o *Options) {
		o.onExpired = fn
	}
}

func NewRegistry(opts ...Option) *Registry {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{onExpired: o.onExpired}
}

func OperationKey(id types.OperationID) []byte {
	return append(slices.Clone(OperationPrefix), id...)
}

func resultKey(id types.OperationID) []byte {
	return append(slices.Clone(resultPrefix), id...)
}

func blockKey(blockNumber uint64) []byte {
	return append(slices.Clone(blockPrefix), util.Uint64ToBytes(blockNumber)...)
}

// Submit stores new Pending operation and appends it to the operation set
// of block op.CreatedAt.
func (r *Registry) Submit(tx keyvaluedb.DBTransaction, op *types.Operation, seal SealFn) error {
	if err := op.IsValid(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	if len(op.ID) == 0 {
		return fmt.Errorf("invalid operation: %w", types.ErrInvalidOperationID)
	}
	found, err := tx.Read(OperationKey(op.ID), &types.Operation{})
	if err != nil {
		return fmt.Errorf("reading operation: %w", err)
	}
	if found {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
	}
	blockOps, err := r.BlockOperations(tx, op.CreatedAt)
	if err != nil {
		return err
	}
	blockOps = append(blockOps, op.ID)
	if err := tx.Write(blockKey(op.CreatedAt), blockOps); err != nil {
		return fmt.Errorf("storing block operations: %w", err)
	}
	op.Status = types.OperationPending
	if seal != nil {
		if err := seal(op, blockOps); err != nil {
			return err
		}
	}
	if err := tx.Write(OperationKey(op.ID), op); err != nil {
		return fmt.Errorf("storing operation: %w", err)
	}
	return nil
}

// Get reads the operation without expiry check.
func (r *Registry) Get(tx keyvaluedb.Reader, id types.OperationID) (*types.Operation, error) {
	op := &types.Operation{}
	found, err := tx.Read(OperationKey(id), op)
	if err != nil {
		return nil, fmt.Errorf("reading operation: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op, nil
}

// Touch reads the operation and applies the lazy expiry rule: a non-terminal
// operation past its expiration block is moved to Expired. Touch returns the
// operation together with ErrOperationExpired when the operation is (or just
// became) Expired. The Expired write is made to tx, it is up to the caller to
// commit it.
func (r *Registry) Touch(tx keyvaluedb.DBTransaction, id types.OperationID, blockNumber uint64) (*types.Operation, error) {
	op, err := r.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if op.IsExpired(blockNumber) {
		op.Status = types.OperationExpired
		if err := tx.Write(OperationKey(id), op); err != nil {
			return nil, fmt.Errorf("storing operation: %w", err)
		}
		log.Debug("operation %s expired at block %d (expires at %d)", id, blockNumber, op.ExpiresAt)
		if r.onExpired != nil {
			r.onExpired(op, blockNumber)
		}
		return op, fmt.Errorf("%w: %s", ErrOperationExpired, id)
	}
	if op.Status == types.OperationExpired {
		return op, fmt.Errorf("%w: %s", ErrOperationExpired, id)
	}
	return op, nil
}

// BeginValidation moves Pending operation to InProgress.
func (r *Registry) BeginValidation(tx keyvaluedb.DBTransaction, id types.OperationID, blockNumber uint64) (*types.Operation, error) {
	op, err := r.Touch(tx, id, blockNumber)
	if err != nil {
		return op, err
	}
	if op.Status != types.OperationPending {
		return nil, fmt.Errorf("%w: begin validation of %s operation", ErrInvalidTransition, op.Status)
	}
	op.Status = types.OperationInProgress
	if err := tx.Write(OperationKey(id), op); err != nil {
		return nil, fmt.Errorf("storing operation: %w", err)
	}
	return op, nil
}

// Finalize moves InProgress operation to Completed or Failed and stores the
// validation result.
func (r *Registry) Finalize(tx keyvaluedb.DBTransaction, id types.OperationID, result *types.ValidationResult, blockNumber uint64) (*types.Operation, error) {
	if result == nil {
		return nil, errors.New("validation result is nil")
	}
	if result.Status != types.ValidationSuccess && result.Status != types.ValidationFailed {
		return nil, fmt.Errorf("%w: finalize with %s result", ErrInvalidTransition, result.Status)
	}
	op, err := r.Touch(tx, id, blockNumber)
	if err != nil {
		return op, err
	}
	if op.Status != types.OperationInProgress {
		return nil, fmt.Errorf("%w: finalize %s operation", ErrInvalidTransition, op.Status)
	}
	found, err := tx.Read(resultKey(id), &types.ValidationResult{})
	if err != nil {
		return nil, fmt.Errorf("reading validation result: %w", err)
	}
	if found {
		return nil, fmt.Errorf("%w: %s", ErrResultExists, id)
	}
	op.Status = result.Status.OperationStatus()
	if err := tx.Write(OperationKey(id), op); err != nil {
		return nil, fmt.Errorf("storing operation: %w", err)
	}
	if err := tx.Write(resultKey(id), result); err != nil {
		return nil, fmt.Errorf("storing validation result: %w", err)
	}
	return op, nil
}

func (r *Registry) Result(tx keyvaluedb.Reader, id types.OperationID) (*types.ValidationResult, error) {
	res := &types.ValidationResult{}
	found, err := tx.Read(resultKey(id), res)
	if err != nil {
		return nil, fmt.Errorf("reading validation result: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	return res, nil
}

// BlockOperations returns ids of the operations submitted in the block, in submission order.
func (r *Registry) BlockOperations(tx keyvaluedb.Reader, blockNumber uint64) ([]types.OperationID, error) {
	var ids []types.OperationID
	if _, err := tx.Read(blockKey(blockNumber), &ids); err != nil {
		return nil, fmt.Errorf("reading block %d operations: %w", blockNumber, err)
	}
	return ids, nil
}

// ForEach calls fn with every stored operation in id order until fn returns
// false. The lazy expiry rule is not applied.
func (r *Registry) ForEach(db keyvaluedb.Iterable, fn func(op *types.Operation) bool) error {
	return keyvaluedb.ForEachWithPrefix(db, OperationPrefix, func(_ []byte, it keyvaluedb.Iterator) (bool, error) {
		op := &types.Operation{}
		if err := it.Value(op); err != nil {
			return false, fmt.Errorf("reading operation: %w", err)
		}
		return fn(op), nil
	})
}
