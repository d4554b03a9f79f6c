package vcs

import "errors"

// Common errors returned by revision sources.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // Handle case where we're outside any VCS repository
//	}
var (
	// ErrNotInVCS is returned when no repository encloses the given path.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the required VCS binary (git or
	// jj) is not installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrInvalidRevision is returned when a revision cannot be resolved.
	ErrInvalidRevision = errors.New("invalid revision")

	// ErrWorkspaceExists is returned when a scratch workspace directory is
	// already used by something else.
	ErrWorkspaceExists = errors.New("workspace already exists")

	// ErrNotSupported is returned when an operation is not supported by the
	// backend.
	ErrNotSupported = errors.New("operation not supported by this VCS")

	// ErrTimeout is returned when a VCS command exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrMalformedOutput is returned when VCS output cannot be parsed.
	ErrMalformedOutput = errors.New("malformed VCS output")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout)
}

// IsFatal returns true if the error indicates a state that cannot be fixed
// by retrying.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotInVCS) {
		return true
	}
	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}
	return errors.Is(err, ErrInvalidRevision)
}
