package engine

import (
	"sync/atomic"
	"time"
)

// threadRecord tracks the in-flight generation for the health monitor. All
// fields are atomics so the monitor can read them while the worker writes.
type threadRecord struct {
	generating atomic.Bool
	workerID   atomic.Uint64
	started    atomic.Int64
	progress   atomic.Int64
	lastCheck  atomic.Int64
	tokens     atomic.Int64
	retries    atomic.Int32
}

func (r *threadRecord) begin(workerID uint64, now time.Time) {
	r.workerID.Store(workerID)
	r.started.Store(now.UnixNano())
	r.progress.Store(now.UnixNano())
	r.lastCheck.Store(now.UnixNano())
	r.tokens.Store(0)
	r.generating.Store(true)
}

func (r *threadRecord) touch(now time.Time) { r.progress.Store(now.UnixNano()) }

func (r *threadRecord) reset() {
	r.generating.Store(false)
	r.workerID.Store(0)
	r.started.Store(0)
	r.progress.Store(0)
	r.lastCheck.Store(0)
	r.tokens.Store(0)
	r.retries.Store(0)
}

// HealthStatus is the verdict of one health check.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// healthMonitor decides whether an in-flight generation is still making
// progress.
type healthMonitor struct {
	interval     time.Duration
	stallTimeout time.Duration
	maxRuntime   time.Duration
	rec          *threadRecord
	workerAlive  func() bool
}

// due reports whether interval has elapsed since the previous check and, if
// so, claims this check.
func (h *healthMonitor) due(now time.Time) bool {
	last := h.rec.lastCheck.Load()
	if now.UnixNano()-last < int64(h.interval) {
		return false
	}
	return h.rec.lastCheck.CompareAndSwap(last, now.UnixNano())
}

func (h *healthMonitor) check(now time.Time) HealthStatus {
	if !h.rec.generating.Load() {
		return HealthStatus{Healthy: true}
	}
	if h.maxRuntime > 0 {
		if started := h.rec.started.Load(); started > 0 && now.UnixNano()-started > int64(h.maxRuntime) {
			return HealthStatus{Reason: "max runtime exceeded"}
		}
	}
	if h.workerAlive != nil && !h.workerAlive() {
		return HealthStatus{Reason: "worker terminated"}
	}
	if h.stallTimeout > 0 {
		if p := h.rec.progress.Load(); p > 0 && now.UnixNano()-p > int64(h.stallTimeout) {
			return HealthStatus{Reason: "worker blocked in native call"}
		}
	}
	return HealthStatus{Healthy: true}
}
