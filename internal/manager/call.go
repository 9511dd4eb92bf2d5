package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"edgelm/internal/engine"
	"edgelm/internal/statsstore"
)

// CallModel runs prompt against model with settings-derived parameters,
// loading or switching models as needed. cb receives zero or more tokens and
// then exactly one terminal event; the returned error equals the one passed
// to OnError.
func (m *Manager) CallModel(ctx context.Context, model, prompt string, cb engine.Callback) error {
	return m.Generate(ctx, Request{Model: model, Prompt: prompt}, cb)
}

// Generate is CallModel with explicit per-call parameters.
func (m *Manager) Generate(ctx context.Context, req Request, cb engine.Callback) error {
	sink := &callSink{cb: cb}
	if m.closed.Load() {
		return sink.fail(ErrDependencyUnavailable("manager is shut down"))
	}
	name := req.Model
	if name == "" {
		name = m.cfg.DefaultModel
	}
	if name == "" {
		return sink.fail(ErrModelNotFound("(unspecified)"))
	}
	tok, err := m.admit(name, req.ID)
	if err != nil {
		callsTotal.WithLabelValues("rejected").Inc()
		return sink.fail(err)
	}
	defer m.guard.release(tok)
	m.calls.Add(1)
	m.stopRequested.Store(false)

	p := m.DefaultParams()
	if req.Params != nil {
		p = *req.Params
	}
	prompt := req.Prompt
	if m.cfg.Formatter != nil {
		prompt = m.cfg.Formatter.FormatPrompt(name, prompt)
	}
	log := m.log.With().Str("call", tok.id).Str("model", name).Logger()
	start := time.Now()

	err = m.ensureReady(ctx, tok, name)
	if err == nil && m.stopRequested.Load() {
		log.Info().Msg("stop requested before inference started")
		sink.complete("")
	} else if err == nil {
		err = m.runInference(ctx, tok, name, prompt, p, sink)
	}
	if err != nil {
		sink.fail(err)
		log.Debug().Err(err).Msg("call failed")
	}

	outcome := sink.outcome(p.MaxTokens == 0)
	callsTotal.WithLabelValues(outcome).Inc()
	m.recordCall(tok.id, name, start, p, outcome, sink)
	m.publish(EventInferDone, name, map[string]any{"call": tok.id, "outcome": outcome, "tokens": sink.tokens.Load()})

	if !m.keepLoaded.Load() && m.guard.owns(tok) {
		m.mu.Lock()
		var eng engine.Engine
		if m.State() == StateReady && m.loaded == name {
			eng, _ = m.detachLocked()
		}
		m.mu.Unlock()
		_ = m.releaseEngine(eng, name, "keep_loaded=false")
	}
	return err
}

// admit takes the call guard for model, handling stale and switching holders.
func (m *Manager) admit(model, id string) (*callToken, error) {
	tok, prev, kind, err := m.guard.acquire(model, id, time.Now(), m.cfg.StaleCall)
	if err != nil {
		m.publish(EventCallRejected, model, map[string]any{"holder": prev.id})
		m.log.Info().Str("model", model).Str("holder", prev.id).Msg("rejected overlapping call")
		return nil, err
	}
	switch kind {
	case takeoverStale:
		forcedCorrections.WithLabelValues("stale_call").Inc()
		m.publish(EventForcedCorrection, model, map[string]any{"stale_call": prev.id, "age_s": time.Since(prev.since).Seconds()})
		m.log.Warn().Str("stale_call", prev.id).Dur("age", time.Since(prev.since)).Msg("force-reset stale call guard")
	case takeoverSwitch:
		m.log.Info().Str("from", prev.model).Str("to", model).Msg("model switch requested; preempting current call")
	}
	return tok, nil
}

// ensureReady drives the state machine until name is loaded and READY.
func (m *Manager) ensureReady(ctx context.Context, tok *callToken, name string) error {
	deadline := time.Now().Add(m.cfg.LoadWait)
	for {
		if !m.guard.owns(tok) {
			return conflictError{msg: "call for " + name + " was superseded"}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return timeoutError{op: "preparing " + name, after: m.cfg.LoadWait}
		}

		m.mu.Lock()
		st := m.State()
		switch {
		case st == StateReady && m.loaded == name:
			m.mu.Unlock()
			return nil

		case st == StateReady:
			eng, old := m.detachLocked()
			m.mu.Unlock()
			_ = m.releaseEngine(eng, old, "switch to "+name)

		case st == StateLoading && m.target == name:
			done, gen := m.loadDone, m.loadGen
			m.mu.Unlock()
			if err := m.waitLoad(ctx, done, gen, name, deadline); err != nil {
				return err
			}

		case st == StateLoading:
			prev := m.target
			m.target = ""
			m.loadGen++
			m.setStateLocked(StateUnloaded)
			m.mu.Unlock()
			m.log.Info().Str("from", prev).Str("to", name).Msg("load conflict; restarting load for requested model")

		case st == StateBusy:
			m.mu.Unlock()
			m.stopAndWait()

		default:
			path, err := m.resolveLocked(name)
			if err != nil {
				m.mu.Unlock()
				return err
			}
			m.startLoadLocked(name, path)
			m.mu.Unlock()
		}
	}
}

// runInference moves READY to BUSY, runs the engine and moves back. The
// state only returns to READY if nothing else changed it meanwhile.
func (m *Manager) runInference(ctx context.Context, tok *callToken, name, prompt string, p engine.Params, sink *callSink) error {
	m.mu.Lock()
	if !m.guard.owns(tok) {
		m.mu.Unlock()
		return conflictError{msg: "call for " + name + " was superseded"}
	}
	if m.State() != StateReady || m.loaded != name || m.eng == nil {
		m.mu.Unlock()
		return conflictError{msg: "model " + name + " is no longer loaded"}
	}
	eng := m.eng
	// Leftover stop requests are dropped before BUSY becomes visible; a Stop
	// that observes BUSY reaches the generation about to start.
	if r, ok := eng.(stopResetter); ok {
		r.ResetStop()
	}
	m.setStateLocked(StateBusy)
	m.mu.Unlock()

	m.publish(EventInferStart, name, map[string]any{"call": tok.id, "max_tokens": p.MaxTokens})
	err := eng.Inference(ctx, prompt, p, sink)
	sink.engine = eng

	m.mu.Lock()
	if m.State() == StateBusy && m.eng == eng {
		m.setStateLocked(StateReady)
	}
	m.mu.Unlock()
	return err
}

// callSink forwards to the caller's callback, guarantees a single terminal
// event and counts what passed through.
type callSink struct {
	cb     engine.Callback
	once   sync.Once
	tokens atomic.Int64
	engine engine.Engine

	mu     sync.Mutex
	report string
	err    error
}

func (s *callSink) OnToken(text string) {
	if strings.HasPrefix(text, engine.ReportPrefix) {
		s.mu.Lock()
		s.report = text
		s.mu.Unlock()
	} else {
		s.tokens.Add(1)
	}
	if s.cb != nil {
		s.cb.OnToken(text)
	}
}

func (s *callSink) OnComplete(full string) { s.complete(full) }
func (s *callSink) OnError(err error)      { s.fail(err) }

func (s *callSink) complete(full string) {
	s.once.Do(func() {
		if s.cb != nil {
			s.cb.OnComplete(full)
		}
	})
}

// fail delivers err unless a terminal event already fired, and returns err.
func (s *callSink) fail(err error) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.cb != nil {
			s.cb.OnError(err)
		}
	})
	return err
}

// outcome labels the call. A completion without a report was stopped, unless
// the call asked for zero tokens.
func (s *callSink) outcome(zeroBudget bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.err == nil && (s.report != "" || zeroBudget):
		return "complete"
	case s.err == nil:
		return "stopped"
	case errors.Is(s.err, engine.ErrForcedTermination):
		return "forced"
	case IsTimeout(s.err):
		return "timeout"
	case IsConflict(s.err):
		return "conflict"
	default:
		return "error"
	}
}

func (s *callSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type stopResetter interface {
	ResetStop()
}

type paramReporter interface {
	ResolvedParams() (engine.Params, engine.ParamSource)
	LastReport() (engine.Report, bool)
}

func (m *Manager) recordCall(id, model string, start time.Time, p engine.Params, outcome string, sink *callSink) {
	if m.cfg.Stats == nil {
		return
	}
	r := statsstore.Record{
		ID:                id,
		Model:             model,
		Outcome:           outcome,
		Tokens:            int(sink.tokens.Load()),
		Duration:          time.Since(start),
		Temperature:       p.Temperature,
		TopK:              p.TopK,
		TopP:              p.TopP,
		RepetitionPenalty: p.RepetitionPenalty,
		CreatedAt:         start,
	}
	if err := sink.failure(); err != nil {
		r.Error = err.Error()
	}
	if sink.engine != nil {
		r.Engine = sink.engine.EngineType()
		if pr, ok := sink.engine.(paramReporter); ok {
			rp, src := pr.ResolvedParams()
			r.Temperature, r.TopK, r.TopP, r.RepetitionPenalty = rp.Temperature, rp.TopK, rp.TopP, rp.RepetitionPenalty
			r.ParamSource = string(src)
			if rep, ok := pr.LastReport(); ok && outcome == "complete" {
				r.PromptTokens = rep.PromptTokens
				r.Duration = rep.Elapsed
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cfg.Stats.Record(ctx, r); err != nil {
		m.log.Warn().Err(err).Str("call", id).Msg("record call stats")
	}
}
