package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/native/nativefake"
)

// createModelFile writes a small non-empty .gguf file and returns its path.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF\x03\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

// fastConfig shrinks every timing knob so termination tests run in well
// under a second.
func fastConfig() Config {
	return Config{
		ContextSize:       1024,
		HealthInterval:    10 * time.Millisecond,
		StallTimeout:      60 * time.Millisecond,
		CancelWait:        20 * time.Millisecond,
		StopPollInterval:  5 * time.Millisecond,
		StopPollTotal:     30 * time.Millisecond,
		WorkerPingTimeout: 200 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, lib *nativefake.Library, cfg Config) (*LlamaCpp, string) {
	t.Helper()
	dir := t.TempDir()
	path := createModelFile(t, dir, "m1.gguf")
	e := NewLlamaCpp(lib, zerolog.Nop())
	if err := e.Initialize(path, cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() {
		lib.Unblock()
		_ = e.Release()
	})
	return e, path
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
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

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.tokens, "")
}

func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes + r.errors
}

// contentTokens drops the trailing statistics report token.
func (r *recorder) contentTokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tokens))
	for _, tok := range r.tokens {
		if strings.HasPrefix(tok, ReportPrefix) {
			continue
		}
		out = append(out, tok)
	}
	return out
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
