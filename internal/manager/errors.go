package manager

import (
	"errors"
	"fmt"
	"time"

	"edgelm/internal/engine"
	"edgelm/internal/native"
)

// conflictError signals that another call owns the manager. Map to 409.
type conflictError struct{ msg string }

func (e conflictError) Error() string { return "conflict: " + e.msg }

// IsConflict reports whether err indicates an overlapping or superseded call,
// including an engine that is still finishing a previous generation.
func IsConflict(err error) bool {
	var ce conflictError
	return errors.As(err, &ce) || errors.Is(err, engine.ErrEngineBusy)
}

// timeoutError signals an exceeded wait bound. Map to 504.
type timeoutError struct {
	op    string
	after time.Duration
}

func (e timeoutError) Error() string { return fmt.Sprintf("timeout: %s after %s", e.op, e.after) }

// IsTimeout reports whether err stems from an exceeded time budget, either a
// manager wait or an engine inference budget.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) || engine.IsTimeout(err)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model is neither in the
// registry nor an existing path.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf)
}

// dependencyUnavailableError signals a missing runtime dependency (no native
// backend compiled in, or no engine for the model format) so the HTTP layer
// can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de) || errors.Is(err, native.ErrUnavailable)
}

// loadError wraps the reason a model failed to load.
type loadError struct {
	model string
	err   error
}

func (e *loadError) Error() string { return fmt.Sprintf("load %s: %v", e.model, e.err) }
func (e *loadError) Unwrap() error { return e.err }

// IsLoadFailure reports whether err is a failed model load.
func IsLoadFailure(err error) bool {
	var le *loadError
	return errors.As(err, &le)
}

// invalidRequestError rejects malformed call parameters. Map to 400.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "invalid request: " + e.msg }

// IsInvalidRequest reports whether err rejects the request itself.
func IsInvalidRequest(err error) bool {
	var ie invalidRequestError
	return errors.As(err, &ie)
}
