package domain

import "errors"

var (
	// ErrInvalidInput marks malformed or incomplete input. Never retry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by stores when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by a conditional write whose expected
	// version no longer matches the stored one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageUnavailable wraps transient store failures. Callers must
	// retry or report the assessment as incomplete.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrLockTimeout is returned when a per-key lock cannot be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrInvalidRule marks a custom rule that cannot be evaluated.
	ErrInvalidRule = errors.New("invalid rule")
)

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrVersionConflict)
}
