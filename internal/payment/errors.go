package payment

import (
	"errors"
	"fmt"
)

var (
	ErrConflict       = errors.New("submitter already has an active request")
	ErrNotFound       = errors.New("request not found")
	ErrInvalidState   = errors.New("operation not allowed in current status")
	ErrAlreadyClaimed = errors.New("request already claimed")
	ErrNotClaimant    = errors.New("moderator does not hold the claim")
	ErrValidation     = errors.New("invalid field value")

	// ErrVersionConflict is returned by a Store when a conditional write lost
	// against a concurrent writer. The service retries on it.
	ErrVersionConflict = errors.New("request changed concurrently")
)

type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(f Field, reason string) error {
	return &ValidationError{Field: f, Reason: reason}
}

// ErrorKind maps err to a stable label used in logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotClaimant):
		return "not_claimant"
	default:
		return "internal"
	}
}

// IsExpected reports whether err is an actor-facing outcome rather than a
// storage or programming failure.
func IsExpected(err error) bool {
	k := ErrorKind(err)
	return k != "ok" && k != "internal"
}
