// Package dispatcher's error taxonomy, in the style of the teacher's
// cause-chain conventions: typed errors with Unwrap, matchable via
// errors.Is/errors.As.
package dispatcher

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy spec.md §7 names. Wrap these with
// WrapError to attach call-site context while preserving errors.Is.
var (
	// ErrInvalidArgument is returned synchronously by Sleep (sub-millisecond
	// interval) and IO (empty event set).
	ErrInvalidArgument = errors.New("dispatcher: invalid argument")

	// ErrMissingRegistration indicates a fatal invariant violation: a ready
	// Fd had no corresponding gotoTable entry. Not expected in correct
	// programs; the dispatcher does not attempt to recover from it.
	ErrMissingRegistration = errors.New("dispatcher: missing registration for ready event")

	// ErrOsError wraps a nonzero error code reported by the manager
	// selector. The dispatcher calls Stop before propagating it.
	ErrOsError = errors.New("dispatcher: os error from manager selector")

	// ErrNotStopped is returned by Run when the dispatcher is not in the
	// Stopped state.
	ErrNotStopped = errors.New("dispatcher: run requires Stopped state")

	// ErrNotRunning is returned by operations that require the dispatcher
	// to currently be Running.
	ErrNotRunning = errors.New("dispatcher: not running")
)

// WrapError wraps cause with a message, preserving errors.Is(result, cause).
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// invalidArgument builds an ErrInvalidArgument-rooted error with context.
func invalidArgument(message string) error {
	return WrapError(message, ErrInvalidArgument)
}

// missingRegistration builds an ErrMissingRegistration-rooted error for the
// given Fd/Id pair, used by poll() when the invariant is violated.
func missingRegistration(fd Fd, id Id) error {
	return WrapError(fmt.Sprintf("fd=%d id=%d", fd, id), ErrMissingRegistration)
}

// osError wraps a manager-selector-reported error code, satisfying
// errors.Is against both ErrOsError and the underlying cause.
func osError(cause error) error {
	return fmt.Errorf("dispatcher: manager selector reported an os error: %w: %w", ErrOsError, cause)
}
