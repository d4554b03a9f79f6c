package sync

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidChangeRecord is returned when a change record names an
	// artifact that cannot be resolved. The update is aborted before any
	// change to the model.
	ErrInvalidChangeRecord = errors.New("invalid change record")

	// ErrBuilderUnavailable is returned when the builder cannot run at all.
	// The model is rolled back to its state before the update.
	ErrBuilderUnavailable = errors.New("builder unavailable")

	// ErrCancelled is returned when the context ends during an update. The
	// model is rolled back to its state before the update.
	ErrCancelled = errors.New("update cancelled")
)

// BuildError is a total build failure for one revision.
type BuildError struct {
	Revision string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of revision %s failed: %v", e.Revision, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is makes every BuildError match ErrBuilderUnavailable.
func (e *BuildError) Is(target error) bool { return target == ErrBuilderUnavailable }

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// IsRetryable returns true if resubmitting the same change set may succeed:
// the builder was unavailable or the cycle was cancelled.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBuilderUnavailable) || errors.Is(err, ErrCancelled) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal returns true if resubmitting the same change set cannot succeed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidChangeRecord)
}
