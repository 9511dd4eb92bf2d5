// Package engine runs streaming generations against a native inference
// library. An Engine owns its native handles, a resource pool for per-call
// batches and samplers, and a dedicated worker thread that can be replaced
// when a native call hangs.
package engine

import (
	"context"
	"sync"
)

// Engine is the contract the lifecycle manager drives.
type Engine interface {
	// Initialize loads the model at modelPath. It is a no-op when already
	// initialized.
	Initialize(modelPath string, cfg Config) error
	// Inference streams zero or more tokens and then exactly one terminal
	// event to cb. It blocks until the terminal event has been delivered and
	// returns the same error passed to OnError, or nil after OnComplete.
	Inference(ctx context.Context, prompt string, p Params, cb Callback) error
	// StopInference requests cooperative cancellation and returns immediately.
	StopInference()
	// Release stops any generation and frees all native resources. Safe to
	// call repeatedly.
	Release() error
	EngineType() string
}

// Callback receives the output of one generation.
type Callback interface {
	OnToken(text string)
	OnComplete(full string)
	OnError(err error)
}

// CallbackFuncs adapts plain functions to Callback. Nil funcs are skipped.
type CallbackFuncs struct {
	Token    func(string)
	Complete func(string)
	Error    func(error)
}

func (f CallbackFuncs) OnToken(s string) {
	if f.Token != nil {
		f.Token(s)
	}
}

func (f CallbackFuncs) OnComplete(s string) {
	if f.Complete != nil {
		f.Complete(s)
	}
}

func (f CallbackFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// terminal guards a Callback so that exactly one of OnComplete/OnError fires
// and no token follows it.
type terminal struct {
	cb   Callback
	mu   sync.Mutex
	once sync.Once
	done chan struct{}
	// fired is guarded by mu.
	fired bool
	err   error
}

func newTerminal(cb Callback) *terminal {
	if cb == nil {
		cb = CallbackFuncs{}
	}
	return &terminal{cb: cb, done: make(chan struct{})}
}

func (t *terminal) token(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.fired {
		t.cb.OnToken(s)
	}
}

func (t *terminal) complete(full string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.fired = true
		t.cb.OnComplete(full)
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *terminal) fail(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.fired = true
		t.err = err
		t.cb.OnError(err)
		t.mu.Unlock()
		close(t.done)
	})
}

// wait blocks until a terminal event fired and returns its error.
func (t *terminal) wait() error {
	<-t.done
	return t.err
}
