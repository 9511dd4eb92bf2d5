// Package native describes the foreign inference library surface used by the
// engine. Handles are opaque values owned by the caller that created them;
// InvalidHandle is never a live handle.
//
// The go-llama.cpp implementation is compiled with -tags=llama. Without the tag
// New returns a library whose every allocation fails with ErrUnavailable.
package native

import (
	"errors"
	"fmt"
)

// Handle is an opaque native resource reference.
type Handle uintptr

// InvalidHandle marks a released or never-allocated handle.
const InvalidHandle Handle = 0

// Valid reports whether h refers to a live resource.
func (h Handle) Valid() bool { return h != InvalidHandle }

// StepKind classifies the outcome of a single decode step.
type StepKind int

const (
	// StepToken carries a complete text increment.
	StepToken StepKind = iota
	// StepPending means a multi-byte code point is still being assembled.
	StepPending
	// StepEnd means generation finished naturally.
	StepEnd
	// StepTruncated means the native output length limit was hit. Text holds
	// a human-readable notice.
	StepTruncated
)

func (k StepKind) String() string {
	switch k {
	case StepToken:
		return "token"
	case StepPending:
		return "pending"
	case StepEnd:
		return "end"
	case StepTruncated:
		return "truncated"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Step is the result of one DecodeStep call.
type Step struct {
	Kind StepKind
	Text string
}

// ContextParams configures CreateContext.
type ContextParams struct {
	ContextSize int
	Threads     int
	GPULayers   int
}

// SamplerParams configures CreateSampler. A nil *SamplerParams selects the
// library's default sampling chain.
type SamplerParams struct {
	Temperature       float64
	TopK              int
	TopP              float64
	RepetitionPenalty float64
	Seed              int
}

// Library is the native inference surface.
//
// DecodeStep may block for an unbounded duration and offers no cancellation
// point other than the stop flag, which the library observes at its own pace.
type Library interface {
	BackendInit() error
	LoadModel(path string) (Handle, error)
	CreateContext(model Handle, p ContextParams) (Handle, error)
	CreateBatch(size int) (Handle, error)
	CreateSampler(p *SamplerParams) (Handle, error)

	// Prime ingests prompt and returns the number of prompt tokens, or a
	// negative value on failure.
	Prime(ctx, batch Handle, prompt string, maxTokens int) int
	// DecodeStep advances generation by one step. pos is the decode position
	// and is advanced by the library.
	DecodeStep(ctx, batch, sampler Handle, maxTokens int, pos *int) (Step, error)
	ClearKVCache(ctx Handle) error

	SetStopFlag(stop bool)
	StopFlag() bool

	FreeBatch(h Handle)
	FreeSampler(h Handle)
	FreeContext(h Handle)
	FreeModel(h Handle)
}

var (
	// ErrUnavailable is returned when the binary was built without a native backend.
	ErrUnavailable = errors.New("native inference backend not compiled in (build with -tags=llama)")
	// ErrInvalidHandle is returned for operations on InvalidHandle or an unknown handle.
	ErrInvalidHandle = errors.New("invalid native handle")
)
