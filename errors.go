package stm

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for typed handling at the call site.
var (
	// ErrNoTransaction is the panic value raised when a transactional
	// operation is invoked outside Atomically.
	ErrNoTransaction = errors.New("stm: no active transaction")

	// ErrTxDone is the panic value raised when a transaction is used after
	// it has already committed, aborted, or rolled back.
	ErrTxDone = errors.New("stm: transaction already completed")

	// errValidationFailed is the internal sentinel the commit coordinator
	// uses to signal the retry driver that the attempt must be re-run. It
	// never escapes Atomically.
	errValidationFailed = errors.New("stm: validation failed")
)

// InvariantViolation reports an internal assertion failure -- e.g. a cell's
// history found with stamps that are not strictly decreasing. It is fatal
// and unrecoverable; callers should treat it like a panic value, not a
// retryable error.
type InvariantViolation struct {
	cause error
}

func newInvariantViolation(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{cause: pkgerrors.WithStack(fmt.Errorf(format, args...))}
}

func (e *InvariantViolation) Error() string {
	return "stm: invariant violation: " + e.cause.Error()
}

func (e *InvariantViolation) Unwrap() error { return e.cause }
