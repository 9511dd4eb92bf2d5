package engine

import (
	"runtime"
	"time"
)

// Config controls native allocation and the health/termination machinery.
// Zero values are replaced by defaults in withDefaults.
type Config struct {
	ContextSize int
	Threads     int
	GPULayers   int
	// MaxSeqLen caps per-call batch sizing. Defaults to ContextSize.
	MaxSeqLen int
	// BatchSize is the capacity of the preallocated batch.
	BatchSize int
	// Sampling is baked into the preallocated sampler and is the manual
	// fallback for parameter resolution.
	Sampling Sampling
	// PrioritizeManual ignores model sidecar parameters when set.
	PrioritizeManual bool

	HealthInterval time.Duration
	// StallTimeout is how long a generation may go without decoder progress
	// before it is considered blocked. A negative value disables the check.
	StallTimeout time.Duration
	// MaxRuntime bounds a single generation. Zero means no limit.
	MaxRuntime time.Duration
	// InferenceBudget arms an independent timer per generation. Zero disables it.
	InferenceBudget time.Duration

	MaxRetries        int
	CancelWait        time.Duration
	StopPollInterval  time.Duration
	StopPollTotal     time.Duration
	WorkerPingTimeout time.Duration
}

const (
	defaultContextSize    = 2048
	defaultBatchSize      = 512
	defaultHealthInterval = 5 * time.Second
	defaultStallTimeout   = 30 * time.Second
	defaultMaxRetries     = 3
	defaultCancelWait     = 500 * time.Millisecond
	defaultStopPollEvery  = 250 * time.Millisecond
	defaultStopPollTotal  = 5 * time.Second
	defaultPingTimeout    = time.Second
)

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config { return Config{}.withDefaults() }

func (c Config) withDefaults() Config {
	if c.ContextSize <= 0 {
		c.ContextSize = defaultContextSize
	}
	if c.Threads <= 0 {
		c.Threads = max(1, runtime.NumCPU()/2)
	}
	if c.MaxSeqLen <= 0 {
		c.MaxSeqLen = c.ContextSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = min(defaultBatchSize, c.MaxSeqLen)
	}
	if c.Sampling == (Sampling{}) {
		c.Sampling = DefaultSampling()
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = defaultStallTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.CancelWait <= 0 {
		c.CancelWait = defaultCancelWait
	}
	if c.StopPollInterval <= 0 {
		c.StopPollInterval = defaultStopPollEvery
	}
	if c.StopPollTotal <= 0 {
		c.StopPollTotal = defaultStopPollTotal
	}
	if c.WorkerPingTimeout <= 0 {
		c.WorkerPingTimeout = defaultPingTimeout
	}
	return c
}
