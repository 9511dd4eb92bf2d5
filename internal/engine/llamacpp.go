package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/common/fsutil"
	"edgelm/internal/native"
)

// LlamaCpp is the native-library backed Engine.
type LlamaCpp struct {
	lib native.Library
	log zerolog.Logger

	mu          sync.Mutex
	cfg         Config
	initialized bool
	releasing   bool
	modelPath   string
	sidecar     Overrides
	pool        *Pool
	worker      *worker
	workerSeq   uint64
	cur         *generation
	lastParams  Params
	lastSource  ParamSource
	lastReport  *Report

	// Handles are swapped to InvalidHandle before they are freed.
	model atomic.Uintptr
	ctx   atomic.Uintptr

	stop   atomic.Bool
	broken atomic.Bool
	// nativeHeld is set while the native stop flag is left raised for a call
	// abandoned by worker replacement.
	nativeHeld atomic.Bool
	rec    threadRecord
	health healthMonitor
	termMu sync.Mutex

	spawn func(id uint64) *worker
}

// generation is the per-call state shared between Inference, the worker task,
// the health monitor and the termination controller.
type generation struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	term   *terminal
	// done is closed when the worker task returns.
	done      chan struct{}
	abandoned atomic.Bool
	ended     atomic.Bool
	budget    *time.Timer
}

// NewLlamaCpp returns an uninitialized engine bound to lib.
func NewLlamaCpp(lib native.Library, log zerolog.Logger) *LlamaCpp {
	e := &LlamaCpp{lib: lib, log: log.With().Str("engine", string(KindLlamaCpp)).Logger()}
	e.spawn = func(id uint64) *worker { return newWorker(id, e.log) }
	return e
}

func (e *LlamaCpp) EngineType() string { return string(KindLlamaCpp) }

func (e *LlamaCpp) Initialize(modelPath string, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.releasing {
		return &InitializationError{Op: "initialize", Path: modelPath, Err: ErrReleased}
	}
	if e.initialized {
		return nil
	}
	cfg = cfg.withDefaults()

	file, err := ModelFile(modelPath)
	if err != nil {
		return &InitializationError{Op: "locate model", Path: modelPath, Err: err}
	}
	if err := fsutil.CheckReadable(file); err != nil {
		return &InitializationError{Op: "open model", Path: file, Err: err}
	}
	side, err := LoadSidecar(ModelDir(modelPath))
	if err != nil {
		return &InitializationError{Op: "read parameters", Path: modelPath, Err: err}
	}
	if err := e.lib.BackendInit(); err != nil {
		return &InitializationError{Op: "backend init", Err: err}
	}
	m, err := e.lib.LoadModel(file)
	if err != nil || !m.Valid() {
		return &InitializationError{Op: "load model", Path: file, Err: orInvalid(err)}
	}
	c, err := e.lib.CreateContext(m, native.ContextParams{
		ContextSize: cfg.ContextSize,
		Threads:     cfg.Threads,
		GPULayers:   cfg.GPULayers,
	})
	if err != nil || !c.Valid() {
		e.lib.FreeModel(m)
		return &InitializationError{Op: "create context", Path: file, Err: orInvalid(err)}
	}
	pool, err := NewPool(e.lib, cfg.BatchSize, cfg.Sampling.native(), e.log)
	if err != nil {
		e.lib.FreeContext(c)
		e.lib.FreeModel(m)
		return &InitializationError{Op: "resource pool", Err: err}
	}

	e.model.Store(uintptr(m))
	e.ctx.Store(uintptr(c))
	e.cfg = cfg
	e.modelPath = file
	e.sidecar = side
	e.pool = pool
	e.health = healthMonitor{
		interval:     cfg.HealthInterval,
		stallTimeout: cfg.StallTimeout,
		maxRuntime:   cfg.MaxRuntime,
		rec:          &e.rec,
		workerAlive:  e.workerAlive,
	}
	e.workerSeq++
	e.worker = e.spawn(e.workerSeq)
	e.broken.Store(false)
	e.stop.Store(false)
	e.nativeHeld.Store(false)
	e.lib.SetStopFlag(false)
	e.initialized = true

	ev := e.log.Info().Str("model", file).Int("ctx", cfg.ContextSize).Int("threads", cfg.Threads).Int("batch", cfg.BatchSize)
	if side.Source != "" {
		ev = ev.Str("sidecar", side.Source)
	}
	ev.Msg("engine initialized")
	return nil
}

func (e *LlamaCpp) Inference(ctx context.Context, prompt string, p Params, cb Callback) error {
	t := newTerminal(cb)
	e.mu.Lock()
	switch {
	case !e.initialized:
		e.mu.Unlock()
		t.fail(ErrNotInitialized)
		return t.wait()
	case e.releasing:
		e.mu.Unlock()
		t.fail(ErrReleased)
		return t.wait()
	case e.broken.Load():
		e.mu.Unlock()
		t.fail(ErrTerminationFailed)
		return t.wait()
	case e.cur != nil:
		e.mu.Unlock()
		t.fail(ErrEngineBusy)
		return t.wait()
	}
	resolved, src := ResolveParams(p, e.sidecar, e.cfg.PrioritizeManual)
	e.lastParams, e.lastSource = resolved, src
	gctx, cancel := context.WithCancelCause(ctx)
	g := &generation{ctx: gctx, cancel: cancel, term: t, done: make(chan struct{})}
	e.cur = g
	w := e.worker
	e.rec.begin(w.id, time.Now())
	if e.cfg.InferenceBudget > 0 {
		g.budget = time.AfterFunc(e.cfg.InferenceBudget, func() {
			_ = e.forceTerminate(g, ErrInferenceTimeout)
		})
	}
	e.mu.Unlock()

	start := time.Now()
	task := func() {
		defer close(g.done)
		out := e.runGuarded(g, prompt, resolved, src)
		if g.abandoned.Load() {
			return
		}
		e.finish(g)
		generationSeconds.Observe(time.Since(start).Seconds())
		generationsTotal.WithLabelValues(out.label()).Inc()
		if out.err != nil {
			e.log.Debug().Err(out.err).Msg("generation failed")
			t.fail(out.err)
			return
		}
		t.complete(out.text)
	}
	go e.monitor(g)
	if err := w.submit(gctx, task); err != nil {
		e.finish(g)
		close(g.done)
		t.fail(fmt.Errorf("schedule generation: %w", err))
	}
	return t.wait()
}

func (e *LlamaCpp) runGuarded(g *generation, prompt string, p Params, src ParamSource) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("generation panic: %v", r)}
		}
	}()
	return e.runGeneration(g, prompt, p, src)
}

// finish clears generation bookkeeping and the stop flags. For an abandoned
// generation the native flag stays raised so the native call still in flight
// stops at its next check. It reports false when the generation had already
// been finished.
func (e *LlamaCpp) finish(g *generation) bool {
	if !g.ended.CompareAndSwap(false, true) {
		return false
	}
	if g.budget != nil {
		g.budget.Stop()
	}
	g.cancel(nil)
	e.mu.Lock()
	if e.cur == g {
		e.cur = nil
	}
	e.mu.Unlock()
	e.rec.reset()
	e.stop.Store(false)
	if g.abandoned.Load() {
		e.nativeHeld.Store(true)
	} else {
		e.lib.SetStopFlag(false)
	}
	return true
}

// StopInference raises both stop flags. The generation loop observes the local
// flag between steps; the native flag reaches code inside a decode call.
func (e *LlamaCpp) StopInference() {
	e.stop.Store(true)
	e.lib.SetStopFlag(true)
}

// ResetStop drops a stop request left over from an earlier generation.
// Inference itself never clears the flags, so a stop raised between ResetStop
// and the start of the next generation still ends it.
func (e *LlamaCpp) ResetStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != nil {
		return
	}
	e.stop.Store(false)
	if !e.nativeHeld.Load() {
		e.lib.SetStopFlag(false)
	}
}

func (e *LlamaCpp) Release() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.releasing = true
	g := e.cur
	cfg := e.cfg
	e.mu.Unlock()

	if g != nil {
		e.StopInference()
		if !waitClosed(g.done, cfg.CancelWait+cfg.StopPollTotal) && !g.ended.Load() {
			_ = e.forceTerminate(g, ErrReleased)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.releasing = false
	if !e.initialized {
		return nil
	}
	e.initialized = false
	if e.pool != nil {
		e.pool.Close()
	}
	if h := native.Handle(e.ctx.Swap(uintptr(native.InvalidHandle))); h.Valid() {
		e.lib.FreeContext(h)
	}
	if h := native.Handle(e.model.Swap(uintptr(native.InvalidHandle))); h.Valid() {
		e.lib.FreeModel(h)
	}
	if e.worker != nil {
		e.worker.shutdown()
	}
	e.sidecar = Overrides{}
	e.broken.Store(false)
	e.log.Info().Str("model", e.modelPath).Msg("engine released")
	return nil
}

func (e *LlamaCpp) workerAlive() bool {
	e.mu.Lock()
	w := e.worker
	e.mu.Unlock()
	return w != nil && w.Alive()
}

// ResolvedParams returns the parameters the latest generation actually used.
func (e *LlamaCpp) ResolvedParams() (Params, ParamSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastParams, e.lastSource
}

// LastReport returns the statistics of the latest completed generation.
func (e *LlamaCpp) LastReport() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastReport == nil {
		return Report{}, false
	}
	return *e.lastReport, true
}

// Status is a snapshot of engine internals for diagnostics.
type Status struct {
	Initialized bool         `json:"initialized"`
	ModelPath   string       `json:"model_path,omitempty"`
	Generating  bool         `json:"generating"`
	Broken      bool         `json:"broken"`
	WorkerID    uint64       `json:"worker_id"`
	Retries     int          `json:"termination_retries"`
	Health      HealthStatus `json:"health"`
	Pool        *PoolStats   `json:"pool,omitempty"`
	ParamSource ParamSource  `json:"param_source,omitempty"`
	Params      *Params      `json:"params,omitempty"`
}

func (e *LlamaCpp) Status() Status {
	e.mu.Lock()
	st := Status{
		Initialized: e.initialized,
		ModelPath:   e.modelPath,
		Generating:  e.cur != nil,
		Broken:      e.broken.Load(),
		Retries:     int(e.rec.retries.Load()),
		ParamSource: e.lastSource,
	}
	if e.worker != nil {
		st.WorkerID = e.worker.id
	}
	if e.pool != nil && e.initialized {
		ps := e.pool.Stats()
		st.Pool = &ps
	}
	if e.lastSource != "" {
		p := e.lastParams
		st.Params = &p
	}
	health := e.health
	e.mu.Unlock()
	if st.Initialized {
		st.Health = health.check(time.Now())
	} else {
		st.Health = HealthStatus{Healthy: true}
	}
	return st
}

type outcome struct {
	text    string
	err     error
	stopped bool
}

func (o outcome) label() string {
	switch {
	case o.err == nil && o.stopped:
		return "stopped"
	case o.err == nil:
		return "complete"
	case errors.Is(o.err, ErrForcedTermination):
		return "forced"
	default:
		return "error"
	}
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
