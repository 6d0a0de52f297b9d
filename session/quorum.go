package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidQuorum = errors.New("invalid quorum")

// DefaultQuorum requires two thirds of the active validators.
var DefaultQuorum = Quorum{Num: 2, Den: 3}

// Quorum is the fraction of active validators whose counted votes finalize
// an operation.
type Quorum struct {
	Num uint64
	Den uint64
}

func (q Quorum) IsValid() error {
	if q.Den == 0 {
		return fmt.Errorf("%w: denominator is zero", ErrInvalidQuorum)
	}
	if q.Num == 0 || q.Num > q.Den {
		return fmt.Errorf("%w: %d/%d", ErrInvalidQuorum, q.Num, q.Den)
	}
	return nil
}

// Threshold returns ceil(active*Num/Den), but at least 1.
func (q Quorum) Threshold(active uint64) uint64 {
	t := (active*q.Num + q.Den - 1) / q.Den
	if t < 1 {
		return 1
	}
	return t
}

func (q Quorum) String() string {
	return fmt.Sprintf("%d/%d", q.Num, q.Den)
}

// ParseQuorum parses quorum in the "num/den" form, ie "2/3".
func ParseQuorum(s string) (Quorum, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Quorum{}, fmt.Errorf("%w: expected num/den, got %q", ErrInvalidQuorum, s)
	}
	var q Quorum
	var err error
	if q.Num, err = strconv.ParseUint(num, 10, 64); err != nil {
		return Quorum{}, fmt.Errorf("%w: numerator: %w", ErrInvalidQuorum, err)
	}
	if q.Den, err = strconv.ParseUint(den, 10, 64); err != nil {
		return Quorum{}, fmt.Errorf("%w: denominator: %w", ErrInvalidQuorum, err)
	}
	return q, q.IsValid()
}
