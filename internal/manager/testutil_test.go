package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/engine"
	"edgelm/internal/native"
	"edgelm/internal/native/nativefake"
	"edgelm/internal/statsstore"
	"edgelm/pkg/types"
)

// createModelFile writes a small .gguf file under dir/name/ and returns the
// model directory.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	mdir := filepath.Join(dir, name)
	if err := os.MkdirAll(mdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mdir, "model.gguf"), []byte("GGUF\x03\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return mdir
}

func fastEngineConfig() engine.Config {
	return engine.Config{
		ContextSize:       1024,
		HealthInterval:    10 * time.Millisecond,
		StallTimeout:      80 * time.Millisecond,
		CancelWait:        20 * time.Millisecond,
		StopPollInterval:  5 * time.Millisecond,
		StopPollTotal:     30 * time.Millisecond,
		WorkerPingTimeout: 200 * time.Millisecond,
	}
}

type harness struct {
	m     *Manager
	lib   *nativefake.Library
	pub   *MemoryPublisher
	stats *memStats
	dir   string
}

// newHarness builds a manager over models m1 and m2 backed by a fake native
// library. mutate may adjust the config before construction.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{lib: nativefake.New(), pub: NewMemoryPublisher(0), stats: &memStats{}, dir: dir}
	cfg := Config{
		Registry: []types.Model{
			{ID: "m1", Name: "Model One", Path: createModelFile(t, dir, "m1")},
			{ID: "m2", Name: "Model Two", Path: createModelFile(t, dir, "m2")},
		},
		Engine:     fastEngineConfig(),
		Factory:    NativeFactory(h.lib, zerolog.Nop()),
		Publisher:  h.pub,
		Stats:      h.stats,
		Logger:     zerolog.Nop(),
		KeepLoaded: true,
		StopWait:   time.Second,
		StopPoll:   5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.m = New(cfg)
	t.Cleanup(func() {
		h.lib.Unblock()
		_ = h.m.Close()
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func params(maxTokens int) *engine.Params {
	p := engine.DefaultParams()
	p.MaxTokens = maxTokens
	return &p
}

// slowSteps streams forever for prompts containing "slow" and a short answer
// otherwise.
func slowSteps(prompt string, n int) (native.Step, error) {
	if strings.Contains(prompt, "slow") {
		return nativefake.Endless("z")(prompt, n)
	}
	return nativefake.Tokens("a", "b", "c")(prompt, n)
}

// recorder is a Callback that keeps everything it receives.
type recorder struct {
	mu        sync.Mutex
	tokens    []string
	full      string
	err       error
	completes int
	errors    int
}

func (r *recorder) OnToken(s string) {
	r.mu.Lock()
	r.tokens = append(r.tokens, s)
	r.mu.Unlock()
}

func (r *recorder) OnComplete(full string) {
	r.mu.Lock()
	r.full = full
	r.completes++
	r.mu.Unlock()
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.errors++
	r.mu.Unlock()
}

func (r *recorder) terminals() (completes, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes, r.errors
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

// memStats is an in-memory StatsRecorder.
type memStats struct {
	mu    sync.Mutex
	calls []statsstore.Record
	loads []statsstore.LoadRecord
}

func (s *memStats) Record(_ context.Context, r statsstore.Record) error {
	s.mu.Lock()
	s.calls = append(s.calls, r)
	s.mu.Unlock()
	return nil
}

func (s *memStats) RecordLoad(_ context.Context, r statsstore.LoadRecord) error {
	s.mu.Lock()
	s.loads = append(s.loads, r)
	s.mu.Unlock()
	return nil
}

func (s *memStats) lastCall() (statsstore.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return statsstore.Record{}, false
	}
	return s.calls[len(s.calls)-1], true
}

// gatedFactory wraps inner so that Initialize for paths containing gated
// blocks until the returned channel is closed.
func gatedFactory(inner EngineFactory) (EngineFactory, func(path string) chan struct{}) {
	var mu sync.Mutex
	gates := map[string]chan struct{}{}
	gate := func(path string) chan struct{} {
		mu.Lock()
		defer mu.Unlock()
		ch := make(chan struct{})
		gates[path] = ch
		return ch
	}
	f := func(kind engine.Kind) (engine.Engine, error) {
		e, err := inner(kind)
		if err != nil {
			return nil, err
		}
		return &gatedEngine{Engine: e, gateFor: func(p string) chan struct{} {
			mu.Lock()
			defer mu.Unlock()
			return gates[p]
		}}, nil
	}
	return f, gate
}

type gatedEngine struct {
	engine.Engine
	gateFor func(path string) chan struct{}
}

func (g *gatedEngine) Initialize(path string, cfg engine.Config) error {
	if ch := g.gateFor(path); ch != nil {
		<-ch
	}
	return g.Engine.Initialize(path, cfg)
}

// hangEngine ignores StopInference and only returns from Inference when
// released.
type hangEngine struct {
	once     sync.Once
	released chan struct{}
	started  chan struct{}
}

func newHangEngine() *hangEngine {
	return &hangEngine{released: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (h *hangEngine) Initialize(string, engine.Config) error { return nil }
func (h *hangEngine) StopInference()                         {}
func (h *hangEngine) EngineType() string                     { return "hang" }

func (h *hangEngine) Inference(_ context.Context, _ string, _ engine.Params, cb engine.Callback) error {
	h.started <- struct{}{}
	<-h.released
	cb.OnError(engine.ErrReleased)
	return engine.ErrReleased
}

func (h *hangEngine) Release() error {
	h.once.Do(func() { close(h.released) })
	return nil
}
