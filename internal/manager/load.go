package manager

import (
	"context"
	"time"

	"edgelm/internal/engine"
	"edgelm/internal/statsstore"
)

// startLoadLocked records name as the load target, moves to LOADING and
// initializes the engine in the background. Callers hold mu.
func (m *Manager) startLoadLocked(name, path string) {
	m.loadGen++
	gen := m.loadGen
	done := make(chan struct{})
	m.target = name
	m.loadDone = done
	m.loadRes = loadResult{}
	m.setStateLocked(StateLoading)
	cfg := m.engineConfig()
	go m.runLoad(gen, name, path, cfg, done)
}

func (m *Manager) runLoad(gen uint64, name, path string, cfg engine.Config, done chan struct{}) {
	defer close(done)
	start := time.Now()
	m.publish(EventLoadStart, name, map[string]any{"path": path})

	eng, err := m.factory(engine.DetectKind(path))
	if err == nil {
		err = eng.Initialize(path, cfg)
	}

	m.mu.Lock()
	if gen != m.loadGen {
		m.mu.Unlock()
		if eng != nil {
			_ = eng.Release()
		}
		loadsTotal.WithLabelValues("superseded").Inc()
		m.publish(EventLoadSuperseded, name, nil)
		m.recordLoad(name, path, "superseded", nil, time.Since(start))
		m.log.Info().Str("model", name).Msg("load superseded; engine released")
		return
	}
	if err != nil {
		lerr := &loadError{model: name, err: err}
		m.loadRes = loadResult{gen: gen, err: lerr}
		m.lastErr = lerr.Error()
		m.target = ""
		m.setStateLocked(StateUnloaded)
		m.mu.Unlock()
		if eng != nil {
			_ = eng.Release()
		}
		loadsTotal.WithLabelValues("failed").Inc()
		m.publish(EventLoadFailed, name, map[string]any{"error": err.Error()})
		m.recordLoad(name, path, "failed", err, time.Since(start))
		m.log.Error().Err(err).Str("model", name).Msg("load failed")
		return
	}
	m.eng = eng
	m.loaded = name
	m.target = ""
	m.loadRes = loadResult{gen: gen}
	m.lastErr = ""
	m.setStateLocked(StateReady)
	m.mu.Unlock()

	m.loads.Add(1)
	loadsTotal.WithLabelValues("ready").Inc()
	m.publish(EventLoadDone, name, map[string]any{"engine": eng.EngineType(), "duration_ms": time.Since(start).Milliseconds()})
	m.recordLoad(name, path, "ready", nil, time.Since(start))
	m.log.Info().Str("model", name).Str("engine", eng.EngineType()).Dur("took", time.Since(start)).Msg("model loaded")
}

// waitLoad blocks until load gen finishes, ctx ends or deadline passes.
func (m *Manager) waitLoad(ctx context.Context, done <-chan struct{}, gen uint64, name string, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return timeoutError{op: "waiting for " + name + " to load", after: m.cfg.LoadWait}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadGen != gen {
		return conflictError{msg: "load of " + name + " was superseded"}
	}
	if m.loadRes.gen == gen && m.loadRes.err != nil {
		return m.loadRes.err
	}
	return nil
}

// Load makes name the loaded model, waiting for the load to finish. It obeys
// the same admission rules as a call.
func (m *Manager) Load(ctx context.Context, name string) error {
	if m.closed.Load() {
		return ErrDependencyUnavailable("manager is shut down")
	}
	if name == "" {
		name = m.cfg.DefaultModel
	}
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	tok, err := m.admit(name, "")
	if err != nil {
		return err
	}
	defer m.guard.release(tok)
	return m.ensureReady(ctx, tok, name)
}

// Unload stops any in-flight generation and releases the engine. Loads in
// progress are superseded.
func (m *Manager) Unload() error {
	if m.State() == StateBusy {
		m.stopAndWait()
	}
	m.mu.Lock()
	eng, name := m.detachLocked()
	m.mu.Unlock()
	return m.releaseEngine(eng, name, "unload")
}

// detachLocked takes the engine out of the manager and moves to UNLOADED.
// Callers hold mu and release the returned engine after unlocking.
func (m *Manager) detachLocked() (engine.Engine, string) {
	eng, name := m.eng, m.loaded
	if name == "" {
		name = m.target
	}
	m.eng, m.loaded, m.target = nil, "", ""
	m.loadGen++
	m.setStateLocked(StateUnloaded)
	return eng, name
}

func (m *Manager) releaseEngine(eng engine.Engine, name, reason string) error {
	if eng == nil {
		return nil
	}
	err := eng.Release()
	if err != nil {
		m.log.Error().Err(err).Str("model", name).Msg("engine release failed")
	}
	m.publish(EventUnload, name, map[string]any{"reason": reason})
	m.log.Info().Str("model", name).Str("reason", reason).Msg("model unloaded")
	return err
}

// Stop requests cooperative cancellation of the current generation and
// returns immediately. A call that is still loading completes empty instead
// of starting inference. It reports whether there was anything to stop.
func (m *Manager) Stop() bool {
	st := m.State()
	if st != StateBusy && st != StateLoading {
		return false
	}
	m.stopRequested.Store(true)
	m.stopEngine()
	m.publish(EventStop, m.Snapshot().Model, map[string]any{"state": st.String()})
	return true
}

func (m *Manager) stopEngine() {
	m.mu.Lock()
	eng := m.eng
	m.mu.Unlock()
	if eng != nil {
		eng.StopInference()
	}
}

// stopAndWait stops the current generation and polls for the engine to leave
// BUSY. Past the bound the state is forced to READY.
func (m *Manager) stopAndWait() {
	m.stopEngine()
	deadline := time.Now().Add(m.cfg.StopWait)
	for time.Now().Before(deadline) {
		if m.State() != StateBusy {
			return
		}
		time.Sleep(m.cfg.StopPoll)
	}
	m.mu.Lock()
	forced := m.State() == StateBusy && m.setStateLocked(StateReady)
	model := m.loaded
	m.mu.Unlock()
	if forced {
		forcedCorrections.WithLabelValues("busy_to_ready").Inc()
		m.publish(EventForcedCorrection, model, map[string]any{"from": StateBusy.String(), "to": StateReady.String()})
		m.log.Warn().Str("model", model).Dur("waited", m.cfg.StopWait).Msg("engine did not settle after stop; forced state to ready")
	}
}

func (m *Manager) recordLoad(name, path, outcome string, err error, took time.Duration) {
	if m.cfg.Stats == nil {
		return
	}
	r := statsstore.LoadRecord{Model: name, Path: path, Outcome: outcome, Duration: took}
	if err != nil {
		r.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cfg.Stats.RecordLoad(ctx, r); err != nil {
		m.log.Warn().Err(err).Msg("record load stats")
	}
}
