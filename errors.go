package stm

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for typed handling on the caller side, following the
// teacher's convention of a small var block of wrapped sentinels.
var (
	// ErrShutdown is returned by queue/hub operations performed after
	// shutdown has been requested.
	ErrShutdown = errors.New("stm: structure has been shut down")

	// ErrScopeReleased is returned when a scoped resource (e.g. a hub
	// subscription) is used after its owning scope has released it.
	ErrScopeReleased = errors.New("stm: resource used after scope release")

	// ErrRuntimeClosed is returned by Atomically when the runtime it was
	// submitted to has already been closed.
	ErrRuntimeClosed = errors.New("stm: runtime is closed")
)

// Defect marks a value carried by a Die outcome. It wraps the original
// panic/die value (which may or may not be an error) with a captured stack,
// using cockroachdb/errors rather than the teacher's plain fmt.Errorf("%w")
// chain, because defects are meant to propagate with full causal context —
// see DESIGN.md for why this diverges from the teacher's error style.
type Defect struct {
	Value any
	err   error // non-nil iff Value was itself an error
}

// Error implements the error interface so a Defect can flow through
// errors.Is/errors.As chains even though it is not itself an "error" in the
// transaction-outcome sense (Die is orthogonal to Failure).
func (d *Defect) Error() string {
	if d.err != nil {
		return d.err.Error()
	}
	return errors.Newf("stm: defect: %v", d.Value).Error()
}

// Unwrap exposes the wrapped error, if the defect's value was one.
func (d *Defect) Unwrap() error { return d.err }

// newDefect builds a Defect, capturing a stack trace via cockroachdb/errors
// and preserving the original value for inspection by fold handlers.
func newDefect(value any) *Defect {
	if err, ok := value.(error); ok {
		return &Defect{Value: value, err: errors.WithStack(err)}
	}
	return &Defect{Value: value, err: errors.WithStack(errors.Newf("stm: defect: %v", value))}
}

// ShutdownError wraps ErrShutdown with a component-specific message, mirroring
// the teacher's "%w: %w" nesting but via cockroachdb/errors.Wrap so the
// resulting stack trace points at the offending Offer/Publish call site.
// Collections in queue/hub/priorityqueue call this rather than returning the
// bare sentinel so errors.Is(err, ErrShutdown) still matches while the
// message identifies which operation observed the shutdown.
func ShutdownError(op string) error {
	return errors.Wrapf(ErrShutdown, "stm: %s", op)
}
