package engine

import (
	"fmt"
	"time"
)

// monitor watches g until it finishes and starts forced termination when the
// health check fails.
func (e *LlamaCpp) monitor(g *generation) {
	tick := time.NewTicker(e.health.interval)
	defer tick.Stop()
	for {
		select {
		case <-g.done:
			return
		case now := <-tick.C:
			if g.ended.Load() {
				return
			}
			st := e.health.check(now)
			if st.Healthy {
				continue
			}
			e.log.Warn().Str("reason", st.Reason).Msg("generation unhealthy")
			_ = e.forceTerminate(g, fmt.Errorf("%w: %s", ErrUnhealthy, st.Reason))
			return
		}
	}
}

// forceTerminate ends g by escalation: cancel the task, raise the stop flags
// and poll, then replace the worker. Each attempt runs the whole ladder; after
// MaxRetries attempts the engine is marked broken and the caller receives
// ErrTerminationFailed.
//
// Replacing the worker abandons the native call in flight. Whatever native
// memory that call holds stays allocated until it returns or the process
// exits.
func (e *LlamaCpp) forceTerminate(g *generation, cause error) error {
	e.termMu.Lock()
	defer e.termMu.Unlock()
	if g.ended.Load() {
		return nil
	}
	reason := fmt.Errorf("%w: %w", ErrForcedTermination, cause)
	e.log.Warn().Err(cause).Msg("forcing generation termination")

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		e.rec.retries.Store(int32(attempt))

		g.cancel(reason)
		if waitClosed(g.done, e.cfg.CancelWait) {
			e.settle(g, reason, "cancel", attempt)
			return nil
		}

		e.stop.Store(true)
		e.lib.SetStopFlag(true)
		if e.pollDone(g) {
			e.settle(g, reason, "stop_flag", attempt)
			return nil
		}

		if e.replaceWorker(g) {
			e.settle(g, reason, "worker_replace", attempt)
			return nil
		}
		e.log.Warn().Int("attempt", attempt).Msg("forced termination attempt failed")
	}

	forcedTerminationsTotal.WithLabelValues("failed").Inc()
	generationsTotal.WithLabelValues("forced").Inc()
	g.abandoned.Store(true)
	e.broken.Store(true)
	e.finish(g)
	err := fmt.Errorf("%w: %w", ErrTerminationFailed, cause)
	g.term.fail(err)
	e.log.Error().Err(err).Msg("forced termination failed")
	return ErrTerminationFailed
}

// settle makes sure bookkeeping is reset and the caller has been told, whether
// or not the worker task got to do it.
func (e *LlamaCpp) settle(g *generation, reason error, step string, attempt int) {
	if e.finish(g) {
		generationsTotal.WithLabelValues("forced").Inc()
	}
	g.term.fail(reason)
	forcedTerminationsTotal.WithLabelValues(step).Inc()
	e.log.Info().Str("step", step).Int("attempt", attempt).Msg("generation terminated")
}

func (e *LlamaCpp) pollDone(g *generation) bool {
	deadline := time.Now().Add(e.cfg.StopPollTotal)
	for time.Now().Before(deadline) {
		if waitClosed(g.done, e.cfg.StopPollInterval) {
			return true
		}
	}
	return false
}

// replaceWorker abandons g and swaps in a fresh worker once it answers a ping.
func (e *LlamaCpp) replaceWorker(g *generation) bool {
	g.abandoned.Store(true)
	e.mu.Lock()
	old := e.worker
	e.workerSeq++
	nw := e.spawn(e.workerSeq)
	e.mu.Unlock()

	if old != nil {
		old.shutdown()
	}
	if !nw.ping(e.cfg.WorkerPingTimeout) {
		nw.shutdown()
		return false
	}
	e.mu.Lock()
	e.worker = nw
	e.mu.Unlock()
	return true
}
