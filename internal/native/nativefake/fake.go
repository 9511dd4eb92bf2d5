// Package nativefake provides a scriptable in-memory native.Library for tests.
package nativefake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"edgelm/internal/native"
)

// StepFunc produces the step for decode call n (0-based) of the current prompt.
type StepFunc func(prompt string, n int) (native.Step, error)

// Tokens returns a StepFunc that emits toks in order and then ends.
func Tokens(toks ...string) StepFunc {
	return func(_ string, n int) (native.Step, error) {
		if n < len(toks) {
			return native.Step{Kind: native.StepToken, Text: toks[n]}, nil
		}
		return native.Step{Kind: native.StepEnd}, nil
	}
}

// Steps returns a StepFunc that replays steps in order and then ends.
func Steps(steps ...native.Step) StepFunc {
	return func(_ string, n int) (native.Step, error) {
		if n < len(steps) {
			return steps[n], nil
		}
		return native.Step{Kind: native.StepEnd}, nil
	}
}

// Endless returns a StepFunc that never ends on its own.
func Endless(tok string) StepFunc {
	return func(string, int) (native.Step, error) {
		return native.Step{Kind: native.StepToken, Text: tok}, nil
	}
}

// Library is a fake native.Library. Exported fields configure behavior and
// must be set before use; counters are safe to read concurrently.
type Library struct {
	// Steps drives DecodeStep. Defaults to Tokens("hello", " world").
	Steps StepFunc
	// StepDelay is slept before every decode step.
	StepDelay time.Duration
	// PrimeResult overrides Prime's return value when non-zero.
	PrimeResult int
	LoadErr     error
	ContextErr  error
	BatchErr    error
	SamplerErr  error
	ClearErr    error

	mu       sync.Mutex
	next     uintptr
	live     map[native.Handle]string
	batches  map[native.Handle]int
	samplers map[native.Handle]*native.SamplerParams
	prompts  map[native.Handle]string
	calls    map[native.Handle]int

	stop        atomic.Bool
	block       chan struct{}
	blocked     atomic.Int32
	doubleFrees atomic.Int32
	created     map[string]int
	freed       map[string]int
	lastSampler *native.SamplerParams
	lastPrompt  string
	batchSizes  []int
}

// New returns a fake with default steps.
func New() *Library {
	return &Library{
		Steps:    Tokens("hello", " world"),
		live:     make(map[native.Handle]string),
		batches:  make(map[native.Handle]int),
		samplers: make(map[native.Handle]*native.SamplerParams),
		prompts:  make(map[native.Handle]string),
		calls:    make(map[native.Handle]int),
		created:  make(map[string]int),
		freed:    make(map[string]int),
	}
}

// Block makes every subsequent DecodeStep hang until Unblock is called,
// ignoring the stop flag, like a stuck native call.
func (l *Library) Block() {
	l.mu.Lock()
	if l.block == nil {
		l.block = make(chan struct{})
	}
	l.mu.Unlock()
}

// Unblock releases all hung DecodeStep calls.
func (l *Library) Unblock() {
	l.mu.Lock()
	if l.block != nil {
		close(l.block)
		l.block = nil
	}
	l.mu.Unlock()
}

// SetSteps swaps the step script; safe while generations run.
func (l *Library) SetSteps(fn StepFunc) {
	l.mu.Lock()
	l.Steps = fn
	l.mu.Unlock()
}

// Blocked returns the number of DecodeStep calls currently hung.
func (l *Library) Blocked() int { return int(l.blocked.Load()) }

func (l *Library) alloc(kind string) native.Handle {
	l.next++
	h := native.Handle(l.next)
	l.live[h] = kind
	l.created[kind]++
	return h
}

func (l *Library) free(h native.Handle, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if k, ok := l.live[h]; !ok || k != kind {
		l.doubleFrees.Add(1)
		return
	}
	delete(l.live, h)
	delete(l.batches, h)
	delete(l.samplers, h)
	l.freed[kind]++
}

func (l *Library) BackendInit() error { return nil }

func (l *Library) LoadModel(path string) (native.Handle, error) {
	if l.LoadErr != nil {
		return native.InvalidHandle, l.LoadErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alloc("model"), nil
}

func (l *Library) CreateContext(model native.Handle, _ native.ContextParams) (native.Handle, error) {
	if l.ContextErr != nil {
		return native.InvalidHandle, l.ContextErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[model] != "model" {
		return native.InvalidHandle, native.ErrInvalidHandle
	}
	return l.alloc("context"), nil
}

func (l *Library) CreateBatch(size int) (native.Handle, error) {
	if l.BatchErr != nil {
		return native.InvalidHandle, l.BatchErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc("batch")
	l.batches[h] = size
	l.batchSizes = append(l.batchSizes, size)
	return h, nil
}

func (l *Library) CreateSampler(p *native.SamplerParams) (native.Handle, error) {
	if l.SamplerErr != nil {
		return native.InvalidHandle, l.SamplerErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc("sampler")
	if p != nil {
		cp := *p
		l.samplers[h] = &cp
	} else {
		l.samplers[h] = nil
	}
	return h, nil
}

func (l *Library) Prime(ctx, batch native.Handle, prompt string, _ int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[ctx] != "context" || l.live[batch] != "batch" {
		return -1
	}
	l.prompts[ctx] = prompt
	l.calls[ctx] = 0
	l.lastPrompt = prompt
	if l.PrimeResult != 0 {
		return l.PrimeResult
	}
	return len(prompt)/4 + 1
}

func (l *Library) DecodeStep(ctx, batch, sampler native.Handle, _ int, pos *int) (native.Step, error) {
	l.mu.Lock()
	if l.live[ctx] != "context" || l.live[batch] != "batch" || l.live[sampler] != "sampler" {
		l.mu.Unlock()
		return native.Step{}, native.ErrInvalidHandle
	}
	l.lastSampler = l.samplers[sampler]
	prompt := l.prompts[ctx]
	n := l.calls[ctx]
	l.calls[ctx] = n + 1
	block := l.block
	steps := l.Steps
	l.mu.Unlock()

	if block != nil {
		l.blocked.Add(1)
		<-block
		l.blocked.Add(-1)
	}
	if l.StepDelay > 0 {
		time.Sleep(l.StepDelay)
	}
	step, err := steps(prompt, n)
	if err == nil && pos != nil {
		*pos++
	}
	return step, err
}

func (l *Library) ClearKVCache(ctx native.Handle) error {
	if l.ClearErr != nil {
		return l.ClearErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[ctx] != "context" {
		return native.ErrInvalidHandle
	}
	return nil
}

func (l *Library) SetStopFlag(stop bool) { l.stop.Store(stop) }
func (l *Library) StopFlag() bool        { return l.stop.Load() }

func (l *Library) FreeBatch(h native.Handle)   { l.free(h, "batch") }
func (l *Library) FreeSampler(h native.Handle) { l.free(h, "sampler") }
func (l *Library) FreeContext(h native.Handle) { l.free(h, "context") }
func (l *Library) FreeModel(h native.Handle)   { l.free(h, "model") }

// Live returns the number of live handles of kind.
func (l *Library) Live(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.live {
		if k == kind {
			n++
		}
	}
	return n
}

// Created returns how many handles of kind were allocated.
func (l *Library) Created(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created[kind]
}

// Freed returns how many handles of kind were freed.
func (l *Library) Freed(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freed[kind]
}

// DoubleFrees counts frees of unknown or already-freed handles.
func (l *Library) DoubleFrees() int { return int(l.doubleFrees.Load()) }

// LastSampler returns the params of the sampler used by the latest decode
// step; nil means default sampling.
func (l *Library) LastSampler() *native.SamplerParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSampler
}

// LastPrompt returns the prompt passed to the latest Prime call.
func (l *Library) LastPrompt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPrompt
}

// BatchSizes returns the sizes of all batches created so far.
func (l *Library) BatchSizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.batchSizes...)
}

// ErrScripted is a convenience error for StepFuncs.
var ErrScripted = errors.New("scripted native failure")
