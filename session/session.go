package session

import (
	"errors"
	"fmt"

	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/types"
	"golang.org/x/exp/slices"
)

const DefaultMaxValidatorsPerOperation = 10

var log = logger.CreateForPackage()

var (
	ErrAttestationIsNil  = errors.New("attestation is nil")
	ErrDuplicateVote     = errors.New("duplicate vote")
	ErrTooManyValidators = errors.New("too many validators")
)

var sessionPrefix = []byte("ses/")

type (
	// VoteRegister collects attestations of the operations under validation
	// and decides when an operation has enough votes to be finalized.
	VoteRegister struct {
		quorum        Quorum
		maxValidators int
	}

	Options struct {
		quorum        Quorum
		maxValidators int
	}

	Option func(*Options)

	// ActiveFn reports if the validator is Active.
	ActiveFn func(id types.AccountID) (bool, error)

	// Outcome is the state of the vote count after an attestation was added.
	Outcome struct {
		Tally types.Tally
		// Validators whose votes were counted, sorted.
		Validators []types.AccountID
		Finalized  bool
		// Status is InProgress until Finalized.
		Status types.ValidationStatus
	}
)

func WithQuorum(q Quorum) Option {
	return func(o *Options) {
		o.quorum = q
	}
}

func WithMaxValidators(n int) Option {
	return func(o *Options) {
		o.maxValidators = n
	}
}

func NewVoteRegister(opts ...Option) (*VoteRegister, error) {
	o := &Options{
		quorum:        DefaultQuorum,
		maxValidators: DefaultMaxValidatorsPerOperation,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.quorum.IsValid(); err != nil {
		return nil, err
	}
	if o.maxValidators < 1 {
		return nil, fmt.Errorf("max validators per operation must be positive, got %d", o.maxValidators)
	}
	return &VoteRegister{quorum: o.quorum, maxValidators: o.maxValidators}, nil
}

func (r *VoteRegister) Quorum() Quorum {
	return r.quorum
}

func sessionKey(id types.OperationID) []byte {
	return append(slices.Clone(sessionPrefix), id...)
}

// Attestations returns attestations of the operation in the order they were cast.
func (r *VoteRegister) Attestations(tx keyvaluedb.Reader, id types.OperationID) ([]*types.Attestation, error) {
	var atts []*types.Attestation
	if _, err := tx.Read(sessionKey(id), &atts); err != nil {
		return nil, fmt.Errorf("reading attestations: %w", err)
	}
	return atts, nil
}

// Threshold is the number of counted votes which finalizes the operation:
// the quorum fraction of the active validators, but never more than the
// attestation limit, so the operation can finalize with any number of
// validators.
func (r *VoteRegister) Threshold(activeCount uint64) uint64 {
	t := r.quorum.Threshold(activeCount)
	if limit := uint64(r.maxValidators); t > limit {
		return limit
	}
	return t
}

// Eligible reports if the attestation is counted: the validator is Active
// and, for approvals, the proof was valid when the vote was cast.
func Eligible(att *types.Attestation, active bool) bool {
	if !active {
		return false
	}
	switch att.Vote {
	case types.VoteApprove:
		return att.ProofValid
	case types.VoteReject:
		return true
	default:
		return false
	}
}

// InsertVote stores the attestation and returns all the attestations of the
// operation. Nothing is written when the validator has already voted or the
// new attestation is eligible while the operation already has the maximum
// number of eligible attestations. Ineligible attestations are kept for audit
// and do not use up the limit.
func (r *VoteRegister) InsertVote(tx keyvaluedb.DBTransaction, att *types.Attestation, isActive ActiveFn) ([]*types.Attestation, error) {
	if att == nil {
		return nil, ErrAttestationIsNil
	}
	if err := att.Vote.IsValid(); err != nil {
		return nil, err
	}
	atts, err := r.Attestations(tx, att.OperationID)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		if a.Validator == att.Validator {
			if a.Vote != att.Vote {
				log.Warning("validator %s changed vote on %s from %s to %s", att.Validator, att.OperationID, a.Vote, att.Vote)
			}
			return nil, fmt.Errorf("%w: validator %s on operation %s", ErrDuplicateVote, att.Validator, att.OperationID)
		}
	}
	eligible, err := r.isEligible(att, isActive)
	if err != nil {
		return nil, err
	}
	if eligible {
		count, err := r.eligibleCount(atts, isActive)
		if err != nil {
			return nil, err
		}
		if count >= r.maxValidators {
			return nil, fmt.Errorf("%w: operation %s has %d counted attestations", ErrTooManyValidators, att.OperationID, count)
		}
	}
	atts = append(atts, att)
	if err := tx.Write(sessionKey(att.OperationID), atts); err != nil {
		return nil, fmt.Errorf("storing attestations: %w", err)
	}
	return atts, nil
}

// Tally counts eligible votes at most up to the attestation limit, in the
// order the votes were cast. Eligibility is evaluated at the time of the
// count and the threshold is computed from activeCount. On quorum the
// majority decides, a tie fails the operation.
func (r *VoteRegister) Tally(atts []*types.Attestation, activeCount uint64, isActive ActiveFn) (*Outcome, error) {
	out := &Outcome{
		Tally:  types.Tally{Threshold: r.Threshold(activeCount), Active: activeCount},
		Status: types.ValidationInProgress,
	}
	for _, a := range atts {
		if len(out.Validators) == r.maxValidators {
			break
		}
		eligible, err := r.isEligible(a, isActive)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}
		if a.Vote == types.VoteApprove {
			out.Tally.Approve++
		} else {
			out.Tally.Reject++
		}
		out.Validators = append(out.Validators, a.Validator)
	}
	slices.Sort(out.Validators)
	if out.Tally.Approve+out.Tally.Reject < out.Tally.Threshold {
		return out, nil
	}
	out.Finalized = true
	if out.Tally.Approve > out.Tally.Reject {
		out.Status = types.ValidationSuccess
	} else {
		out.Status = types.ValidationFailed
	}
	return out, nil
}

func (r *VoteRegister) isEligible(att *types.Attestation, isActive ActiveFn) (bool, error) {
	active, err := isActive(att.Validator)
	if err != nil {
		return false, err
	}
	return Eligible(att, active), nil
}

func (r *VoteRegister) eligibleCount(atts []*types.Attestation, isActive ActiveFn) (int, error) {
	count := 0
	for _, a := range atts {
		eligible, err := r.isEligible(a, isActive)
		if err != nil {
			return 0, err
		}
		if eligible {
			count++
		}
	}
	return count, nil
}

// Result builds the validation result of a finalized outcome.
func (o *Outcome) Result(id types.OperationID, completedAt uint64) (*types.ValidationResult, error) {
	if !o.Finalized {
		return nil, errors.New("outcome is not final")
	}
	data, err := types.Cbor.Marshal(o.Tally)
	if err != nil {
		return nil, fmt.Errorf("encoding tally: %w", err)
	}
	return &types.ValidationResult{
		OperationID: id,
		Validators:  slices.Clone(o.Validators),
		Status:      o.Status,
		ResultData:  data,
		CompletedAt: completedAt,
	}, nil
}
