package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edgelm/internal/native"
)

// runGeneration drives one prompt through the native decoder on the worker
// thread. Pooled resources are always returned before it exits.
func (e *LlamaCpp) runGeneration(g *generation, prompt string, p Params, src ParamSource) outcome {
	start := time.Now()
	if p.MaxTokens == 0 {
		return outcome{}
	}
	if p.MaxTokens < 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	prompt = ApplyThinkingDirective(prompt, p.Thinking)

	e.mu.Lock()
	pool, cfg := e.pool, e.cfg
	e.mu.Unlock()

	batch, err := pool.AcquireBatch(BatchSize(len(prompt), cfg.MaxSeqLen))
	if err != nil {
		return outcome{err: err}
	}
	defer pool.ReleaseBatch(batch)
	sampler, err := pool.AcquireSampler(p.Sampling.native())
	if err != nil {
		return outcome{err: err}
	}
	defer pool.ReleaseSampler(sampler)

	ctxH := native.Handle(e.ctx.Load())
	if !ctxH.Valid() {
		return outcome{err: ErrInvalidContext}
	}
	// A native flag held for an abandoned call is dropped here unless a stop
	// for this generation is already pending.
	if e.nativeHeld.Swap(false) && !e.stop.Load() {
		e.lib.SetStopFlag(false)
	}
	if err := e.lib.ClearKVCache(ctxH); err != nil {
		return outcome{err: fmt.Errorf("clear kv cache: %w", err)}
	}
	promptTokens := e.lib.Prime(ctxH, batch, prompt, p.MaxTokens)
	if promptTokens < 0 {
		return outcome{err: fmt.Errorf("%w (code %d)", ErrPrimeFailed, promptTokens)}
	}

	var (
		sb        strings.Builder
		pos       = promptTokens
		steps     int
		tokens    int
		ended     bool
		truncated bool
		mem       memSampler
	)
	mem.sample()
	// Every decode step counts against MaxTokens, pending and truncation
	// steps included.
loop:
	for ; steps < p.MaxTokens; steps++ {
		if g.ctx.Err() != nil {
			e.lib.SetStopFlag(true)
			return outcome{err: context.Cause(g.ctx)}
		}
		if e.stop.Load() || e.lib.StopFlag() {
			e.lib.SetStopFlag(true)
			return outcome{text: sb.String(), stopped: true}
		}
		if now := time.Now(); e.health.due(now) {
			if st := e.health.check(now); !st.Healthy {
				cause := fmt.Errorf("%w: %w: %s", ErrForcedTermination, ErrUnhealthy, st.Reason)
				g.cancel(cause)
				e.lib.SetStopFlag(true)
				forcedTerminationsTotal.WithLabelValues("cancel").Inc()
				e.log.Warn().Str("reason", st.Reason).Msg("generation aborted by health check")
				return outcome{err: cause}
			}
		}

		step, err := e.lib.DecodeStep(ctxH, batch, sampler, p.MaxTokens, &pos)
		if g.abandoned.Load() {
			return outcome{}
		}
		if err != nil {
			return outcome{err: fmt.Errorf("decode step: %w", err)}
		}
		e.rec.touch(time.Now())

		switch step.Kind {
		case native.StepPending:
		case native.StepEnd:
			ended = true
			break loop
		case native.StepTruncated:
			truncated = true
			sb.WriteString(step.Text)
			g.term.token(step.Text)
		default:
			if step.Text == "" {
				ended = true
				break loop
			}
			text := RepairText(step.Text)
			sb.WriteString(text)
			tokens++
			e.rec.tokens.Add(1)
			tokensTotal.Inc()
			g.term.token(text)
			if tokens%32 == 0 {
				mem.sample()
			}
		}
	}

	mem.sample()
	rep := Report{
		Engine:       e.EngineType(),
		Tokens:       tokens,
		PromptTokens: promptTokens,
		Elapsed:      time.Since(start),
		HeapAlloc:    mem.last,
		PeakHeap:     mem.peak,
		Params:       p,
		ParamSource:  src,
		Truncated:    truncated || !ended,
	}
	e.mu.Lock()
	e.lastReport = &rep
	e.mu.Unlock()
	s := rep.String()
	sb.WriteString(s)
	g.term.token(s)
	return outcome{text: sb.String()}
}
