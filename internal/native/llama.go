//go:build llama

package native

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	llama "github.com/go-skynet/go-llama.cpp"
)

// truncationNotice is emitted once when Predict stops at the token limit.
const truncationNotice = "\n\n[output truncated: token limit reached]"

// New returns the go-llama.cpp backed library.
func New() Library {
	return &llamaLibrary{
		models:   make(map[Handle]string),
		contexts: make(map[Handle]*llamaContext),
		batches:  make(map[Handle]int),
		samplers: make(map[Handle]SamplerParams),
	}
}

// Available reports whether a real backend is compiled into this binary.
func Available() bool { return true }

// llamaLibrary maps the step-wise surface onto go-llama.cpp's callback-driven
// Predict. A context owns one *llama.LLama; batches and samplers are Go-side
// records whose values are fed into PredictOptions.
type llamaLibrary struct {
	mu       sync.Mutex
	next     uintptr
	models   map[Handle]string
	contexts map[Handle]*llamaContext
	batches  map[Handle]int
	samplers map[Handle]SamplerParams
	stop     atomic.Bool
}

type llamaContext struct {
	model  *llama.LLama
	params ContextParams
	prompt string
	stream *predictStream
}

// predictStream bridges one Predict call to successive DecodeStep calls.
type predictStream struct {
	tokens   chan string
	done     chan error
	quit     chan struct{}
	quitOnce sync.Once
	running  atomic.Bool

	pending   []byte
	emitted   int
	finished  bool
	err       error
	truncated bool
}

func (s *predictStream) close() { s.quitOnce.Do(func() { close(s.quit) }) }

func (l *llamaLibrary) alloc() Handle {
	l.next++
	return Handle(l.next)
}

// BackendInit is a no-op; go-llama.cpp initializes the backend on first load.
func (l *llamaLibrary) BackendInit() error { return nil }

func (l *llamaLibrary) LoadModel(path string) (Handle, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return InvalidHandle, fmt.Errorf("load model: %w", err)
	}
	if fi.IsDir() {
		return InvalidHandle, fmt.Errorf("load model: %s is a directory", path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc()
	l.models[h] = path
	return h, nil
}

func (l *llamaLibrary) CreateContext(model Handle, p ContextParams) (Handle, error) {
	l.mu.Lock()
	path, ok := l.models[model]
	l.mu.Unlock()
	if !ok {
		return InvalidHandle, ErrInvalidHandle
	}
	opts := []llama.ModelOption{llama.SetContext(p.ContextSize)}
	if p.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(p.GPULayers))
	}
	m, err := llama.New(path, opts...)
	if err != nil {
		return InvalidHandle, fmt.Errorf("create context: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc()
	l.contexts[h] = &llamaContext{model: m, params: p}
	return h, nil
}

func (l *llamaLibrary) CreateBatch(size int) (Handle, error) {
	if size <= 0 {
		return InvalidHandle, fmt.Errorf("create batch: size %d", size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc()
	l.batches[h] = size
	return h, nil
}

func (l *llamaLibrary) CreateSampler(p *SamplerParams) (Handle, error) {
	sp := SamplerParams{
		Temperature:       float64(llama.DefaultOptions.Temperature),
		TopK:              llama.DefaultOptions.TopK,
		TopP:              float64(llama.DefaultOptions.TopP),
		RepetitionPenalty: float64(llama.DefaultOptions.Penalty),
	}
	if p != nil {
		sp = *p
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.alloc()
	l.samplers[h] = sp
	return h, nil
}

func (l *llamaLibrary) lookupContext(h Handle) *llamaContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contexts[h]
}

func (l *llamaLibrary) Prime(ctx, batch Handle, prompt string, maxTokens int) int {
	c := l.lookupContext(ctx)
	l.mu.Lock()
	size, okBatch := l.batches[batch]
	l.mu.Unlock()
	if c == nil || !okBatch {
		return -1
	}
	n, _, err := c.model.TokenizeString(prompt)
	if err != nil {
		return -1
	}
	if int(n) > c.params.ContextSize || int(n) > size {
		return -1
	}
	if c.stream != nil {
		c.stream.close()
	}
	c.prompt = prompt
	c.stream = nil
	return int(n)
}

func (l *llamaLibrary) DecodeStep(ctx, batch, sampler Handle, maxTokens int, pos *int) (Step, error) {
	c := l.lookupContext(ctx)
	l.mu.Lock()
	sp, okSampler := l.samplers[sampler]
	_, okBatch := l.batches[batch]
	l.mu.Unlock()
	if c == nil || !okSampler || !okBatch {
		return Step{}, ErrInvalidHandle
	}
	if c.stream == nil {
		c.stream = l.startPredict(c, sp, maxTokens)
	}
	s := c.stream

	if !s.finished {
		if tok, ok := <-s.tokens; ok {
			s.pending = append(s.pending, tok...)
			s.emitted++
			if pos != nil {
				*pos++
			}
			if !utf8.Valid(s.pending) && len(s.pending) < 2*utf8.UTFMax {
				return Step{Kind: StepPending}, nil
			}
			text := string(s.pending)
			s.pending = s.pending[:0]
			return Step{Kind: StepToken, Text: text}, nil
		}
		s.err = <-s.done
		s.finished = true
	}
	if len(s.pending) > 0 {
		text := string(s.pending)
		s.pending = s.pending[:0]
		return Step{Kind: StepToken, Text: text}, nil
	}
	if s.err != nil {
		return Step{}, fmt.Errorf("predict: %w", s.err)
	}
	if !s.truncated && maxTokens > 0 && s.emitted >= maxTokens {
		s.truncated = true
		return Step{Kind: StepTruncated, Text: truncationNotice}, nil
	}
	return Step{Kind: StepEnd}, nil
}

func (l *llamaLibrary) startPredict(c *llamaContext, sp SamplerParams, maxTokens int) *predictStream {
	s := &predictStream{
		tokens: make(chan string),
		done:   make(chan error, 1),
		quit:   make(chan struct{}),
	}
	c.model.SetTokenCallback(func(tok string) bool {
		if l.stop.Load() {
			return false
		}
		select {
		case s.tokens <- tok:
			return !l.stop.Load()
		case <-s.quit:
			return false
		}
	})
	opts := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetThreads(max(1, c.params.Threads)),
		llama.SetTopK(sp.TopK),
		llama.SetTopP(float32(sp.TopP)),
		llama.SetTemperature(float32(sp.Temperature)),
		llama.SetPenalty(float32(sp.RepetitionPenalty)),
	}
	if sp.Seed != 0 {
		opts = append(opts, llama.SetSeed(sp.Seed))
	}
	prompt := c.prompt
	model := c.model
	s.running.Store(true)
	go func() {
		defer s.running.Store(false)
		_, err := model.Predict(prompt, opts...)
		close(s.tokens)
		s.done <- err
	}()
	return s
}

// ClearKVCache drops any in-progress stream; the next Predict re-evaluates
// the prompt from an empty cache.
func (l *llamaLibrary) ClearKVCache(ctx Handle) error {
	c := l.lookupContext(ctx)
	if c == nil {
		return ErrInvalidHandle
	}
	if c.stream != nil {
		c.stream.close()
		c.stream = nil
	}
	return nil
}

func (l *llamaLibrary) SetStopFlag(stop bool) { l.stop.Store(stop) }
func (l *llamaLibrary) StopFlag() bool        { return l.stop.Load() }

func (l *llamaLibrary) FreeBatch(h Handle) {
	l.mu.Lock()
	delete(l.batches, h)
	l.mu.Unlock()
}

func (l *llamaLibrary) FreeSampler(h Handle) {
	l.mu.Lock()
	delete(l.samplers, h)
	l.mu.Unlock()
}

// FreeContext releases the llama model unless a Predict call is still running
// on it, in which case the memory is abandoned.
func (l *llamaLibrary) FreeContext(h Handle) {
	l.mu.Lock()
	c := l.contexts[h]
	delete(l.contexts, h)
	l.mu.Unlock()
	if c == nil {
		return
	}
	if c.stream != nil {
		c.stream.close()
		if c.stream.running.Load() {
			return
		}
	}
	c.model.Free()
}

func (l *llamaLibrary) FreeModel(h Handle) {
	l.mu.Lock()
	delete(l.models, h)
	l.mu.Unlock()
}
