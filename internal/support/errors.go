package support

import (
	"errors"
	"fmt"
)

// Error taxonomy for the core. Callers branch on these with errors.Is; the
// concrete error usually wraps one of the sentinels with operation detail.
var (
	// ErrValidation marks malformed or missing required input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown customer, booking, or route.
	ErrNotFound = errors.New("not found")

	// ErrPolicyViolation marks an operation disallowed by business rule,
	// e.g. a modification too close to departure. Surfaced to the customer
	// as an explanatory denial, never escalated as a system fault.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConcurrencyConflict marks lock contention on a booking. Mutating
	// ledger calls get exactly one internal retry before this propagates.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrRetrievalMiss marks a knowledge search where no chunk cleared the
	// similarity threshold. Degrades the reply to an explicit "not found in
	// policy" note rather than a fabricated answer.
	ErrRetrievalMiss = errors.New("retrieval miss")

	// ErrTimeout marks a dispatch branch that did not finish within its
	// budget. The synthesizer proceeds with partial results.
	ErrTimeout = errors.New("timeout")
)

// Validationf wraps ErrValidation with detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// PolicyViolationf wraps ErrPolicyViolation with detail.
func PolicyViolationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrPolicyViolation}, args...)...)
}

// UserFacing reports whether err should be phrased as a normal reply to the
// customer instead of a system failure.
func UserFacing(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrRetrievalMiss)
}
