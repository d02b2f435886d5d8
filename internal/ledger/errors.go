package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed reports an operation on a closed Ledger.
	ErrClosed = errors.New("ledger closed")

	// ErrInvalidJobLen reports a zero preferred job length.
	ErrInvalidJobLen = errors.New("preferred job length must be > 0")

	// ErrInvalidLayout reports a Layout that cannot partition the tweak axis.
	ErrInvalidLayout = errors.New("invalid layout")

	// ErrLayoutMismatch reports a store initialized with a different Layout.
	ErrLayoutMismatch = errors.New("layout mismatch")

	// ErrCorrupt reports a record or key of the wrong width, or a missing table.
	ErrCorrupt = errors.New("corrupt ledger")

	// ErrRangeNotFound reports a range id outside the layout.
	ErrRangeNotFound = errors.New("range not found")

	// ErrInvariant is matched by every [InvariantError].
	ErrInvariant = errors.New("ledger invariant violated")

	// ErrHalted is returned by every mutating call after an invariant violation.
	ErrHalted = errors.New("ledger halted")
)

// InvariantError is a bookkeeping bug inside the allocator: a zero-length
// job, a counter past the key space, or a saturated id space.
//
// It is never caused by caller input. The transaction that hit it is rolled
// back and the Ledger refuses further writes (see [ErrHalted]), so it must
// not be retried.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariant, e.Op, e.Detail)
}

// Is makes errors.Is(err, ErrInvariant) true.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

func invariantf(op string, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant) || errors.Is(err, ErrHalted)
}
