package jam

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/matrix-magiq/qvalidator/correction"
	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/operations"
	"github.com/matrix-magiq/qvalidator/session"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/validators"
)

const DefaultMaxPayloadSize = 64 * 1024

var log = logger.CreateForPackage()

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMissingCaller   = errors.New("authenticated caller id is missing")
)

type (
	// BlockHeightFn returns the current block height of the hosting ledger.
	BlockHeightFn func() uint64

	// Coordinator is the public operation surface: it routes payloads through
	// the correction pipeline, keeps operations and validators in the store
	// and drives the validation sessions. Mutating calls are serialized, each
	// call either commits all of its writes or none of them.
	Coordinator struct {
		mu             sync.Mutex
		db             keyvaluedb.KeyValueDB
		blockHeight    BlockHeightFn
		clock          func() time.Time
		hashAlgorithm  crypto.Hash
		maxPayloadSize int
		pipeline       *correction.Pipeline
		operations     *operations.Registry
		validators     *validators.Registry
		votes          *session.VoteRegister
		emitter        events.Emitter
		// events of the ongoing call, emitted after commit
		pending []events.Event
	}

	Options struct {
		hashAlgorithm  crypto.Hash
		maxPayloadSize int
		maxValidators  int
		quorum         session.Quorum
		pipeline       *correction.Pipeline
		emitter        events.Emitter
		clock          func() time.Time
		validatorOpts  []validators.Option
	}

	Option func(*Options)

	// VoteReceipt describes the effect of a cast vote.
	VoteReceipt struct {
		// Counted is true when the vote is eligible at the time of the cast.
		Counted bool `json:"counted"`
		// Finalized is true when the vote completed the validation session.
		Finalized bool                  `json:"finalized"`
		Status    types.OperationStatus `json:"status"`
		Tally     types.Tally           `json:"tally"`
	}
)

func WithHashAlgorithm(h crypto.Hash) Option {
	return func(o *Options) {
		o.hashAlgorithm = h
	}
}

func WithMaxPayloadSize(size int) Option {
	return func(o *Options) {
		o.maxPayloadSize = size
	}
}

func WithMaxValidatorsPerOperation(n int) Option {
	return func(o *Options) {
		o.maxValidators = n
	}
}

func WithQuorum(q session.Quorum) Option {
	return func(o *Options) {
		o.quorum = q
	}
}

func WithPipeline(p *correction.Pipeline) Option {
	return func(o *Options) {
		o.pipeline = p
	}
}

func WithEmitter(e events.Emitter) Option {
	return func(o *Options) {
		o.emitter = e
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

func WithMinStake(stake *uint256.Int) Option {
	return func(o *Options) {
		o.validatorOpts = append(o.validatorOpts, validators.WithMinStake(stake))
	}
}

func WithMaxPublicKeySize(size int) Option {
	return func(o *Options) {
		o.validatorOpts = append(o.validatorOpts, validators.WithMaxPublicKeySize(size))
	}
}

func NewCoordinator(db keyvaluedb.KeyValueDB, blockHeight BlockHeightFn, opts ...Option) (*Coordinator, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	if blockHeight == nil {
		return nil, errors.New("block height function is nil")
	}
	o := &Options{
		hashAlgorithm:  types.DefaultHashAlgorithm,
		maxPayloadSize: DefaultMaxPayloadSize,
		maxValidators:  session.DefaultMaxValidatorsPerOperation,
		quorum:         session.DefaultQuorum,
		emitter:        events.Nop,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if !o.hashAlgorithm.Available() {
		return nil, fmt.Errorf("hash algorithm %v is not available", o.hashAlgorithm)
	}
	if o.maxPayloadSize < 1 {
		return nil, fmt.Errorf("max payload size must be positive, got %d", o.maxPayloadSize)
	}
	votes, err := session.NewVoteRegister(session.WithQuorum(o.quorum), session.WithMaxValidators(o.maxValidators))
	if err != nil {
		return nil, fmt.Errorf("creating vote register: %w", err)
	}
	if o.pipeline == nil {
		o.pipeline = correction.New()
	}
	c := &Coordinator{
		db:             db,
		blockHeight:    blockHeight,
		clock:          o.clock,
		hashAlgorithm:  o.hashAlgorithm,
		maxPayloadSize: o.maxPayloadSize,
		pipeline:       o.pipeline,
		validators:     validators.NewRegistry(o.validatorOpts...),
		votes:          votes,
		emitter:        o.emitter,
	}
	c.operations = operations.NewRegistry(operations.WithOnExpired(c.onExpired))
	return c, nil
}

func (c *Coordinator) BlockHeight() uint64 {
	return c.blockHeight()
}

func (c *Coordinator) HashAlgorithm() crypto.Hash {
	return c.hashAlgorithm
}

// SubmitOperation runs the payload through the correction pipeline and stores
// the operation as Pending in the operation set of the current block. The
// inclusion proof of the operation id in the block's operation set is
// generated in the same transaction.
func (c *Coordinator) SubmitOperation(ctx context.Context, initiator types.AccountID, targetChain uint32, kind types.OperationKind, payload []byte, expiresAt uint64) (types.OperationID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if initiator == "" {
		return nil, ErrMissingCaller
	}
	if len(payload) > c.maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), c.maxPayloadSize)
	}
	corrected, err := c.pipeline.Run(payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	op := &types.Operation{
		Initiator:   initiator,
		TargetChain: targetChain,
		Kind:        kind,
		Payload:     corrected,
		CreatedAt:   c.blockHeight(),
		ExpiresAt:   expiresAt,
		SubmittedAt: c.nowMillis(),
	}
	if err := op.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid operation: %w", err)
	}
	if op.ID, err = op.CalculateID(c.hashAlgorithm); err != nil {
		return nil, err
	}
	err = c.update(func(tx keyvaluedb.DBTransaction) error {
		return c.operations.Submit(tx, op, c.seal)
	})
	if err != nil {
		return nil, err
	}
	log.Debug("operation %s submitted by %s in block %d", op.ID, initiator, op.CreatedAt)
	c.emitter.Emit(events.OperationSubmittedEvent{OperationID: op.ID, Initiator: initiator, BlockNumber: op.CreatedAt})
	return op.ID, nil
}

// seal stores the root of the block operation set and the inclusion proof of
// the operation into the operation record.
func (c *Coordinator) seal(op *types.Operation, blockOps []types.OperationID) error {
	root, err := BuildRoot(blockOps, c.hashAlgorithm)
	if err != nil {
		return fmt.Errorf("building block operation set root: %w", err)
	}
	proof, err := GenerateProof(op.ID, blockOps, uint64(len(blockOps)-1), op.CreatedAt, c.hashAlgorithm)
	if err != nil {
		return fmt.Errorf("generating operation proof: %w", err)
	}
	op.BlockRoot = root
	op.Proofs = []*types.JamProof{proof}
	return nil
}

// CastVote records the attestation of the validator and finalizes the
// operation when the eligible votes reach the quorum threshold. Votes of
// registered but not Active validators and approvals with a proof which does
// not verify against the operation's block root are recorded, but not counted.
// An eligible vote over the attestation limit is not recorded, the operation
// is finalized from the attestations already counted.
func (c *Coordinator) CastVote(ctx context.Context, validator types.AccountID, id types.OperationID, vote types.Vote, proof *types.JamProof) (*VoteReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validator == "" {
		return nil, ErrMissingCaller
	}
	if err := vote.IsValid(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var receipt *VoteReceipt
	err := c.update(func(tx keyvaluedb.DBTransaction) error {
		blockNumber := c.blockHeight()
		op, err := c.operations.Touch(tx, id, blockNumber)
		if err != nil {
			return err
		}
		if op.Status.IsTerminal() {
			return fmt.Errorf("%w: vote on %s operation", operations.ErrInvalidTransition, op.Status)
		}
		v, err := c.validators.Get(tx, validator)
		if err != nil {
			return err
		}
		att := &types.Attestation{
			Validator:   validator,
			OperationID: id,
			Vote:        vote,
			Proof:       proof.Copy(),
			Timestamp:   c.nowMillis(),
			BlockNumber: blockNumber,
			ProofValid:  c.proofJustifies(proof, op),
		}
		isActive := func(account types.AccountID) (bool, error) {
			return c.validators.IsActive(tx, account)
		}
		stored := true
		atts, err := c.votes.InsertVote(tx, att, isActive)
		if errors.Is(err, session.ErrTooManyValidators) {
			// validators which voted while inactive became Active, the
			// counted attestations reach the threshold without this vote
			stored = false
			if atts, err = c.votes.Attestations(tx, id); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		counted := stored && session.Eligible(att, v.IsActive())
		if op.Status == types.OperationPending {
			if op, err = c.operations.BeginValidation(tx, id, blockNumber); err != nil {
				return err
			}
		}
		if stored && v.IsActive() {
			// a reject needs no proof, only failed approvals count against the validator
			if err := c.validators.RecordVote(tx, validator, counted, durationMs(op.SubmittedAt, att.Timestamp), blockNumber); err != nil {
				return err
			}
		}
		activeCount, err := c.validators.ActiveCount(tx)
		if err != nil {
			return err
		}
		outcome, err := c.votes.Tally(atts, activeCount, isActive)
		if err != nil {
			return err
		}
		receipt = &VoteReceipt{
			Counted: counted,
			Status:  op.Status,
			Tally:   outcome.Tally,
		}
		if !outcome.Finalized {
			if !stored {
				return fmt.Errorf("%w: operation %s", session.ErrTooManyValidators, id)
			}
			return nil
		}
		result, err := outcome.Result(id, blockNumber)
		if err != nil {
			return err
		}
		if op, err = c.operations.Finalize(tx, id, result, blockNumber); err != nil {
			return err
		}
		receipt.Finalized = true
		receipt.Status = op.Status
		log.Info("operation %s validated: %s (approve %d, reject %d, threshold %d)", id, result.Status, outcome.Tally.Approve, outcome.Tally.Reject, outcome.Tally.Threshold)
		c.pending = append(c.pending, events.OperationValidatedEvent{OperationID: id, Status: result.Status})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// proofJustifies reports whether the proof verifies against the block root
// of the operation and carries the operation id as the justified data.
func (c *Coordinator) proofJustifies(proof *types.JamProof, op *types.Operation) bool {
	if proof == nil || proof.BlockNumber != op.CreatedAt {
		return false
	}
	leaf, err := EncodeItem(op.ID)
	if err != nil || !bytes.Equal(proof.JustifiedData, leaf) {
		return false
	}
	if err := VerifyProof(proof, op.BlockRoot, c.hashAlgorithm); err != nil {
		log.Debug("operation %s: %v", op.ID, err)
		return false
	}
	return true
}

// BeginValidation moves the Pending operation to InProgress. The first cast
// vote does the same implicitly.
func (c *Coordinator) BeginValidation(ctx context.Context, id types.OperationID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.update(func(tx keyvaluedb.DBTransaction) error {
		_, err := c.operations.BeginValidation(tx, id, c.blockHeight())
		return err
	})
}

// GetOperation returns the operation record. An operation found past its
// expiration block is moved to Expired and returned with the Expired status.
func (c *Coordinator) GetOperation(ctx context.Context, id types.OperationID) (*types.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var op *types.Operation
	err := c.update(func(tx keyvaluedb.DBTransaction) (err error) {
		op, err = c.operations.Touch(tx, id, c.blockHeight())
		return err
	})
	if err != nil && !errors.Is(err, operations.ErrOperationExpired) {
		return nil, err
	}
	return op, nil
}

func (c *Coordinator) GetOperationStatus(ctx context.Context, id types.OperationID) (types.OperationStatus, error) {
	op, err := c.GetOperation(ctx, id)
	if err != nil {
		return 0, err
	}
	return op.Status, nil
}

// OperationProof returns the inclusion proof generated when the operation was submitted.
func (c *Coordinator) OperationProof(ctx context.Context, id types.OperationID) (*types.JamProof, error) {
	op, err := c.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(op.Proofs) == 0 {
		return nil, fmt.Errorf("%w: operation %s has no proof", ErrNotFound, id)
	}
	return op.Proofs[0].Copy(), nil
}

// ListOperations returns all operations in id order, the status of the
// operations past their expiration block is reported as Expired.
func (c *Coordinator) ListOperations(ctx context.Context) ([]*types.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	blockNumber := c.blockHeight()
	var res []*types.Operation
	err := c.operations.ForEach(c.db, func(op *types.Operation) bool {
		if op.IsExpired(blockNumber) {
			op.Status = types.OperationExpired
		}
		res = append(res, op)
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	return res, ctx.Err()
}

// GetValidationResult returns the result of the finalized operation. An
// operation found past its expiration block is moved to Expired and
// ErrOperationExpired is returned.
func (c *Coordinator) GetValidationResult(ctx context.Context, id types.OperationID) (*types.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var res *types.ValidationResult
	err := c.update(func(tx keyvaluedb.DBTransaction) (err error) {
		if _, err = c.operations.Touch(tx, id, c.blockHeight()); err != nil {
			return err
		}
		res, err = c.operations.Result(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetAttestations returns the attestations of the operation in cast order.
// Attestations of an expired operation are returned too, the expiry is
// recorded the same way as in GetOperation.
func (c *Coordinator) GetAttestations(ctx context.Context, id types.OperationID) ([]*types.Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.update(func(tx keyvaluedb.DBTransaction) error {
		_, err := c.operations.Touch(tx, id, c.blockHeight())
		return err
	})
	if err != nil && !errors.Is(err, operations.ErrOperationExpired) {
		return nil, err
	}
	return c.votes.Attestations(c.db, id)
}

// BlockOperations returns ids of the operations submitted in the block, in submission order.
func (c *Coordinator) BlockOperations(ctx context.Context, blockNumber uint64) ([]types.OperationID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operations.BlockOperations(c.db, blockNumber)
}

// RegisterValidator adds the caller as an Active validator.
func (c *Coordinator) RegisterValidator(ctx context.Context, id types.AccountID, stake *uint256.Int, keyType types.KeyType, publicKey []byte) (*types.ValidatorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var v *types.ValidatorState
	err := c.update(func(tx keyvaluedb.DBTransaction) (err error) {
		v, err = c.validators.Register(tx, id, stake, keyType, publicKey, c.blockHeight())
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emitter.Emit(events.ValidatorRegisteredEvent{Validator: id})
	return v, nil
}

func (c *Coordinator) RemoveValidator(ctx context.Context, id types.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.update(func(tx keyvaluedb.DBTransaction) error {
		return c.validators.Remove(tx, id)
	})
	if err != nil {
		return err
	}
	c.emitter.Emit(events.ValidatorRemovedEvent{Validator: id})
	return nil
}

func (c *Coordinator) UpdateValidatorStatus(ctx context.Context, id types.AccountID, status types.ValidatorStatus) (*types.ValidatorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var v *types.ValidatorState
	err := c.update(func(tx keyvaluedb.DBTransaction) (err error) {
		v, err = c.validators.SetStatus(tx, id, status, c.blockHeight())
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emitter.Emit(events.ValidatorUpdatedEvent{Validator: id, Status: status})
	return v, nil
}

// SlashValidator moves the validator to Slashed. Slashed is terminal, the
// validator can not change its status, leave or register again.
func (c *Coordinator) SlashValidator(ctx context.Context, id types.AccountID) (*types.ValidatorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var v *types.ValidatorState
	err := c.update(func(tx keyvaluedb.DBTransaction) (err error) {
		v, err = c.validators.Slash(tx, id, c.blockHeight())
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emitter.Emit(events.ValidatorUpdatedEvent{Validator: id, Status: types.ValidatorSlashed})
	return v, nil
}

func (c *Coordinator) GetValidator(ctx context.Context, id types.AccountID) (*types.ValidatorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validators.Get(c.db, id)
}

func (c *Coordinator) ListValidators(ctx context.Context) ([]*types.ValidatorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validators.List(c.db)
}

func (c *Coordinator) IsValidator(ctx context.Context, id types.AccountID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validators.IsValidator(c.db, id)
}

// update runs fn in a transaction, must be called holding c.mu. The
// transaction is rolled back when fn fails, except for ErrOperationExpired:
// the Expired status written by the registry is committed and the error is
// returned to the caller. Events queued by fn are emitted after commit.
func (c *Coordinator) update(fn func(tx keyvaluedb.DBTransaction) error) error {
	c.pending = c.pending[:0]
	tx, err := c.db.StartTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if !errors.Is(err, operations.ErrOperationExpired) {
			return errors.Join(err, tx.Rollback())
		}
		if cerr := tx.Commit(); cerr != nil {
			return errors.Join(err, fmt.Errorf("committing expired status: %w", cerr))
		}
		c.flush()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	c.flush()
	return nil
}

func (c *Coordinator) flush() {
	for _, e := range c.pending {
		c.emitter.Emit(e)
	}
	c.pending = c.pending[:0]
}

func (c *Coordinator) onExpired(op *types.Operation, blockNumber uint64) {
	c.pending = append(c.pending, events.OperationExpiredEvent{OperationID: op.ID, BlockNumber: blockNumber})
}

func (c *Coordinator) nowMillis() uint64 {
	return uint64(c.clock().UnixMilli())
}

func durationMs(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	return to - from
}
