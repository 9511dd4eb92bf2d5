package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/native"
	"edgelm/internal/native/nativefake"
)

func TestInference_HappyPath(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Tokens("a", "b", "c", "d", "e", "f", "g")
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 5
	var rec recorder
	if err := e.Inference(testCtx(t), "hello", p, &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	content := rec.contentTokens()
	if len(content) > 5 {
		t.Fatalf("expected at most 5 content tokens, got %d", len(content))
	}
	if rec.completes != 1 || rec.errors != 0 {
		t.Fatalf("terminal events: completes=%d errors=%d", rec.completes, rec.errors)
	}
	text, report := SplitReport(rec.full)
	if text != strings.Join(content, "") {
		t.Fatalf("reassembly mismatch: tokens=%q complete=%q", strings.Join(content, ""), text)
	}
	if !strings.Contains(report, "tokens=5") {
		t.Fatalf("report missing token count: %q", report)
	}
	if rec.joined() != rec.full {
		t.Fatalf("all tokens including the report should equal the completion")
	}
	if st := e.Status(); st.Generating || (st.Pool != nil && (st.Pool.BatchInUse || st.Pool.SamplerInUse)) {
		t.Fatalf("engine left busy or pool leaked: %+v", st)
	}
}

func TestInference_ZeroMaxTokens(t *testing.T) {
	lib := nativefake.New()
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 0
	var rec recorder
	if err := e.Inference(testCtx(t), "hello", p, &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if len(rec.tokens) != 0 || rec.full != "" || rec.completes != 1 {
		t.Fatalf("expected immediate empty completion, got tokens=%q full=%q", rec.tokens, rec.full)
	}
}

func TestInference_PendingAndTruncatedSteps(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Steps(
		native.Step{Kind: native.StepPending},
		native.Step{Kind: native.StepToken, Text: "é"},
		native.Step{Kind: native.StepTruncated, Text: "[truncated]"},
		native.Step{Kind: native.StepToken, Text: `x\ny`},
	)
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 8
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", p, &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	got := rec.contentTokens()
	want := []string{"é", "[truncated]", "x\ny"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
	text, report := SplitReport(rec.full)
	if text != "é[truncated]x\ny" {
		t.Fatalf("completion text = %q", text)
	}
	if rep, ok := e.LastReport(); !ok || !rep.Truncated || rep.Tokens != 2 {
		t.Fatalf("report = %+v (%q)", rep, report)
	}
}

func TestInference_EveryStepCountsAgainstMaxTokens(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Steps(
		native.Step{Kind: native.StepPending},
		native.Step{Kind: native.StepToken, Text: "é"},
		native.Step{Kind: native.StepToken, Text: "never"},
	)
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 2
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", p, &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if got := rec.contentTokens(); len(got) != 1 || got[0] != "é" {
		t.Fatalf("tokens = %q", got)
	}
}

func TestInference_EmptyTokenEndsGeneration(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Tokens("one", "", "never")
	e, _ := newTestEngine(t, lib, fastConfig())
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if got := rec.contentTokens(); len(got) != 1 || got[0] != "one" {
		t.Fatalf("tokens = %q", got)
	}
}

func TestInference_EndlessNonTokenStepsAreBounded(t *testing.T) {
	cases := []struct {
		name string
		step native.Step
	}{
		{"pending", native.Step{Kind: native.StepPending}},
		{"truncated", native.Step{Kind: native.StepTruncated, Text: "[truncated]"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			lib := nativefake.New()
			lib.Steps = func(string, int) (native.Step, error) { return c.step, nil }
			cfg := fastConfig()
			cfg.StallTimeout = -1
			e, _ := newTestEngine(t, lib, cfg)

			p := DefaultParams()
			p.MaxTokens = 5
			var rec recorder
			errc := make(chan error, 1)
			go func() { errc <- e.Inference(testCtx(t), "hi", p, &rec) }()
			select {
			case err := <-errc:
				if err != nil {
					t.Fatalf("inference: %v", err)
				}
			case <-time.After(2 * time.Second):
				e.StopInference()
				t.Fatalf("max tokens did not bound the loop: %d token events", len(rec.contentTokens()))
			}
			if n := len(rec.contentTokens()); n > 5 {
				t.Fatalf("%d token events for a budget of 5", n)
			}
			if rec.completes != 1 || rec.errors != 0 {
				t.Fatalf("terminal events: completes=%d errors=%d", rec.completes, rec.errors)
			}
			if rep, ok := e.LastReport(); !ok || !rep.Truncated {
				t.Fatalf("exhausted budget should be reported as truncated: %+v", rep)
			}
		})
	}
}

func TestInference_DecodeErrorReleasesPool(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = func(_ string, n int) (native.Step, error) {
		if n == 1 {
			return native.Step{}, nativefake.ErrScripted
		}
		return native.Step{Kind: native.StepToken, Text: "t"}, nil
	}
	e, _ := newTestEngine(t, lib, fastConfig())
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &rec); !errors.Is(err, nativefake.ErrScripted) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	st := e.Status()
	if st.Pool.BatchInUse || st.Pool.SamplerInUse {
		t.Fatalf("pooled resources not returned after error: %+v", st.Pool)
	}
	lib.SetSteps(nativefake.Tokens("ok"))
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{}); err != nil {
		t.Fatalf("engine not reusable after error: %v", err)
	}
}

func TestInference_PrimeFailure(t *testing.T) {
	lib := nativefake.New()
	lib.PrimeResult = -3
	e, _ := newTestEngine(t, lib, fastConfig())
	err := e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{})
	if !errors.Is(err, ErrPrimeFailed) {
		t.Fatalf("expected ErrPrimeFailed, got %v", err)
	}
}

func TestInference_AppliesThinkingDirective(t *testing.T) {
	lib := nativefake.New()
	e, _ := newTestEngine(t, lib, fastConfig())
	p := DefaultParams()
	p.Thinking = ThinkingOff
	if err := e.Inference(testCtx(t), "hi /no_think", p, &recorder{}); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if got := lib.LastPrompt(); got != "hi /no_think" {
		t.Fatalf("directive duplicated: %q", got)
	}
}

func TestInference_StopMidGeneration(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Endless("x")
	lib.StepDelay = 2 * time.Millisecond
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 100000
	var rec recorder
	errc := make(chan error, 1)
	go func() { errc <- e.Inference(testCtx(t), "hi", p, &rec) }()
	waitFor(t, time.Second, func() bool { return len(rec.contentTokens()) >= 3 }, "tokens")
	e.StopInference()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("stop should complete normally, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("generation did not stop")
	}
	if rec.completes != 1 || strings.Contains(rec.full, ReportPrefix) {
		t.Fatalf("stopped generation should complete without a report: %q", rec.full)
	}
	if rec.full != rec.joined() {
		t.Fatalf("partial completion should equal emitted tokens")
	}
	lib.SetSteps(nativefake.Tokens("again"))
	var next recorder
	if err := e.Inference(testCtx(t), "again", DefaultParams(), &next); err != nil {
		t.Fatalf("engine should accept work after a stop: %v", err)
	}
	if got := next.contentTokens(); len(got) != 1 || got[0] != "again" {
		t.Fatalf("stop flag leaked into the next generation: %q", got)
	}
}

func TestInference_RejectsConcurrentCall(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Endless("x")
	lib.StepDelay = time.Millisecond
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 100000
	var first recorder
	done := make(chan struct{})
	go func() {
		_ = e.Inference(testCtx(t), "hi", p, &first)
		close(done)
	}()
	waitFor(t, time.Second, func() bool { return len(first.contentTokens()) > 0 }, "first generation")
	var second recorder
	if err := e.Inference(testCtx(t), "hi", p, &second); !errors.Is(err, ErrEngineBusy) {
		t.Fatalf("expected ErrEngineBusy, got %v", err)
	}
	e.StopInference()
	<-done
}

func TestInference_StopBeforeStartIsHonoured(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Endless("x")
	e, _ := newTestEngine(t, lib, fastConfig())

	e.ResetStop()
	e.StopInference()
	p := DefaultParams()
	p.MaxTokens = 1000
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", p, &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if len(rec.tokens) != 0 || rec.completes != 1 {
		t.Fatalf("stop raised before the generation started was lost: %d tokens", len(rec.tokens))
	}

	// The finished generation cleared the request.
	lib.SetSteps(nativefake.Tokens("ok"))
	var next recorder
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &next); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if got := next.contentTokens(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("tokens = %q", got)
	}
}

func TestResetStop_DropsLeftoverRequest(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Tokens("ok")
	e, _ := newTestEngine(t, lib, fastConfig())

	e.StopInference()
	e.ResetStop()
	if lib.StopFlag() {
		t.Fatalf("native stop flag still raised after reset")
	}
	var rec recorder
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &rec); err != nil {
		t.Fatalf("inference: %v", err)
	}
	if got := rec.contentTokens(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("tokens = %q", got)
	}
}

func TestInference_CallerCancel(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Endless("x")
	lib.StepDelay = time.Millisecond
	e, _ := newTestEngine(t, lib, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultParams()
	p.MaxTokens = 100000
	var rec recorder
	errc := make(chan error, 1)
	go func() { errc <- e.Inference(ctx, "hi", p, &rec) }()
	waitFor(t, time.Second, func() bool { return len(rec.contentTokens()) > 0 }, "tokens")
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel not observed")
	}
}

func TestInference_SidecarParamsReachSampler(t *testing.T) {
	lib := nativefake.New()
	dir := t.TempDir()
	path := createModelFile(t, dir, "m1.gguf")
	if err := os.WriteFile(filepath.Join(dir, "params.json"), []byte(`{"temperature": 0.3}`), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	e := NewLlamaCpp(lib, zerolog.Nop())
	if err := e.Initialize(path, fastConfig()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer e.Release()

	manual := DefaultParams()
	manual.Temperature = 0.9
	if err := e.Inference(testCtx(t), "hi", manual, &recorder{}); err != nil {
		t.Fatalf("inference: %v", err)
	}
	sp := lib.LastSampler()
	if sp == nil || sp.Temperature != 0.3 {
		t.Fatalf("sampler temperature = %+v, want 0.3", sp)
	}
	if got, src := e.ResolvedParams(); got.Temperature != 0.3 || src != SourceSidecar {
		t.Fatalf("resolved = %+v (%s)", got, src)
	}
	rep, ok := e.LastReport()
	if !ok || rep.ParamSource != SourceSidecar || rep.Params.Temperature != 0.3 {
		t.Fatalf("report should record the parameters actually used: %+v", rep)
	}
}

func TestInference_PrioritizeManualIgnoresSidecar(t *testing.T) {
	lib := nativefake.New()
	dir := t.TempDir()
	path := createModelFile(t, dir, "m1.gguf")
	_ = os.WriteFile(filepath.Join(dir, "params.txt"), []byte("temperature=0.3\n"), 0o644)
	cfg := fastConfig()
	cfg.PrioritizeManual = true
	e := NewLlamaCpp(lib, zerolog.Nop())
	if err := e.Initialize(path, cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer e.Release()
	manual := DefaultParams()
	manual.Temperature = 0.9
	_ = e.Inference(testCtx(t), "hi", manual, &recorder{})
	if sp := lib.LastSampler(); sp == nil || sp.Temperature != 0.9 {
		t.Fatalf("sampler temperature = %+v, want 0.9", sp)
	}
}

func TestInitialize_Failures(t *testing.T) {
	dir := t.TempDir()
	good := createModelFile(t, dir, "m.gguf")

	e := NewLlamaCpp(nativefake.New(), zerolog.Nop())
	if err := e.Initialize(filepath.Join(dir, "missing.gguf"), fastConfig()); !IsInitialization(err) {
		t.Fatalf("missing model: expected InitializationError, got %v", err)
	}

	lib := nativefake.New()
	lib.ContextErr = nativefake.ErrScripted
	e = NewLlamaCpp(lib, zerolog.Nop())
	err := e.Initialize(good, fastConfig())
	if !IsInitialization(err) || !errors.Is(err, nativefake.ErrScripted) {
		t.Fatalf("context failure: %v", err)
	}
	if lib.Live("model") != 0 {
		t.Fatalf("model handle leaked after context failure")
	}

	lib = nativefake.New()
	lib.BatchErr = nativefake.ErrScripted
	e = NewLlamaCpp(lib, zerolog.Nop())
	if err := e.Initialize(good, fastConfig()); !IsInitialization(err) {
		t.Fatalf("pool failure: %v", err)
	}
	if lib.Live("model") != 0 || lib.Live("context") != 0 {
		t.Fatalf("handles leaked after pool failure")
	}
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	lib := nativefake.New()
	e, path := newTestEngine(t, lib, fastConfig())
	if err := e.Initialize(path, fastConfig()); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if lib.Created("model") != 1 {
		t.Fatalf("second initialize should not reload the model")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	lib := nativefake.New()
	e, _ := newTestEngine(t, lib, fastConfig())
	if err := e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{}); err != nil {
		t.Fatalf("inference: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Release(); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := e.Release(); err != nil {
		t.Fatalf("release again: %v", err)
	}
	if lib.DoubleFrees() != 0 {
		t.Fatalf("double free detected")
	}
	for _, kind := range []string{"model", "context", "batch", "sampler"} {
		if n := lib.Live(kind); n != 0 {
			t.Fatalf("%s handles still live: %d", kind, n)
		}
	}
}

func TestRelease_StopsInflightGeneration(t *testing.T) {
	lib := nativefake.New()
	lib.Steps = nativefake.Endless("x")
	lib.StepDelay = time.Millisecond
	e, _ := newTestEngine(t, lib, fastConfig())

	p := DefaultParams()
	p.MaxTokens = 100000
	var rec recorder
	done := make(chan struct{})
	go func() {
		_ = e.Inference(testCtx(t), "hi", p, &rec)
		close(done)
	}()
	waitFor(t, time.Second, func() bool { return len(rec.contentTokens()) > 0 }, "tokens")
	if err := e.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("inference did not return after release")
	}
	if rec.terminals() != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", rec.terminals())
	}
	if lib.Live("context") != 0 {
		t.Fatalf("context not freed")
	}
}

func TestRelease_RefusesInferenceWhileReleasing(t *testing.T) {
	lib := nativefake.New()
	lib.Block()
	cfg := fastConfig()
	cfg.StallTimeout = -1
	e, _ := newTestEngine(t, lib, cfg)

	done := make(chan struct{})
	go func() {
		_ = e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{})
		close(done)
	}()
	waitFor(t, time.Second, func() bool { return lib.Blocked() == 1 }, "hung decode step")

	released := make(chan error, 1)
	go func() { released <- e.Release() }()
	waitFor(t, time.Second, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.releasing
	}, "release started")

	err := e.Inference(testCtx(t), "hi", DefaultParams(), &recorder{})
	if !errors.Is(err, ErrReleased) && !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("inference during release: %v", err)
	}

	if err := <-released; err != nil {
		t.Fatalf("release: %v", err)
	}
	<-done
	lib.Unblock()
	if lib.DoubleFrees() != 0 || lib.Live("context") != 0 {
		t.Fatalf("handles not freed cleanly")
	}
}

func TestDetectKind(t *testing.T) {
	dir := t.TempDir()
	f := createModelFile(t, dir, "a.GGUF")
	if DetectKind(f) != KindLlamaCpp {
		t.Fatalf("gguf file should map to llama.cpp")
	}
	if DetectKind(dir) != KindLlamaCpp {
		t.Fatalf("dir with gguf should map to llama.cpp")
	}
	empty := t.TempDir()
	if DetectKind(empty) != KindUnknown {
		t.Fatalf("empty dir should be unknown")
	}
	if DetectKind(filepath.Join(dir, "nope")) != KindUnknown {
		t.Fatalf("missing path should be unknown")
	}
	got, err := ModelFile(dir)
	if err != nil || got != f {
		t.Fatalf("ModelFile(dir) = %q, %v", got, err)
	}
}
