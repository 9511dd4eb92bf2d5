package engine

import (
	"errors"
	"fmt"
)

// InitializationError reports a failed Initialize step. Handles obtained
// before the failing step have already been freed.
type InitializationError struct {
	Op   string
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("initialize %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("initialize %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// IsInitialization reports whether err is (or wraps) an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrEngineBusy     = errors.New("engine is already generating")
	ErrInvalidContext = errors.New("native context handle is invalid")
	ErrPrimeFailed    = errors.New("prompt ingestion failed")
	ErrPoolClosed     = errors.New("resource pool closed")
	ErrReleased       = errors.New("engine released")

	// ErrUnhealthy is the cause attached when the health monitor gives up on a generation.
	ErrUnhealthy = errors.New("generation thread unhealthy")
	// ErrForcedTermination is reported to the caller of a generation that was forcibly ended.
	ErrForcedTermination = errors.New("generation forcibly terminated")
	// ErrInferenceTimeout is the cause attached when the overall inference budget is exceeded.
	ErrInferenceTimeout = errors.New("inference budget exceeded")
	// ErrTerminationFailed means a hung generation could not be ended within the
	// retry budget. The engine refuses further work until it is released and
	// initialized again.
	ErrTerminationFailed = errors.New("forced termination failed; restart the engine")
)

// IsTimeout reports whether err stems from an exceeded time budget rather than
// a hard failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrInferenceTimeout) || errors.Is(err, ErrUnhealthy)
}
