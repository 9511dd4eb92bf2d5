package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"edgelm/internal/engine"
	"edgelm/pkg/types"
)

// Infer runs an HTTP inference request and streams NDJSON to w: one
// TokenLine per token and a final DoneLine. Errors are returned without
// writing, so the caller can choose between a status code and an ErrorLine.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	p, err := m.RequestParams(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := uuid.NewString()
	sink := &ndjsonSink{enc: json.NewEncoder(w), flush: flush, cancel: cancel}
	if err := m.Generate(ctx, Request{ID: id, Model: req.Model, Prompt: req.Prompt, Params: &p}, sink); err != nil {
		if werr := sink.writeErr(); werr != nil {
			return werr
		}
		return err
	}
	if werr := sink.writeErr(); werr != nil {
		return werr
	}

	text, report := engine.SplitReport(sink.fullText())
	finish := "stop"
	if report == "" && p.MaxTokens != 0 {
		finish = "cancelled"
	}
	return sink.write(types.DoneLine{
		Done:         true,
		Content:      text,
		Stats:        strings.TrimPrefix(report, engine.ReportPrefix),
		FinishReason: finish,
		CallID:       id,
	})
}

// RequestParams overlays the request's optional fields on the
// settings-derived defaults and validates them.
func (m *Manager) RequestParams(req types.InferRequest) (engine.Params, error) {
	p := m.DefaultParams()
	if strings.TrimSpace(req.Prompt) == "" {
		return p, invalidRequestError{msg: "prompt is required"}
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 0 {
			return p, invalidRequestError{msg: "max_tokens must be >= 0"}
		}
		p.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 {
			return p, invalidRequestError{msg: "temperature must be >= 0"}
		}
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		if *req.TopP <= 0 || *req.TopP > 1 {
			return p, invalidRequestError{msg: "top_p must be in (0, 1]"}
		}
		p.TopP = *req.TopP
	}
	if req.TopK != nil {
		if *req.TopK < 0 {
			return p, invalidRequestError{msg: "top_k must be >= 0"}
		}
		p.TopK = *req.TopK
	}
	if req.RepeatPenalty != nil {
		if *req.RepeatPenalty <= 0 {
			return p, invalidRequestError{msg: "repeat_penalty must be > 0"}
		}
		p.RepetitionPenalty = *req.RepeatPenalty
	}
	if req.Seed != 0 {
		p.Seed = req.Seed
	}
	if req.Thinking != "" {
		mode, err := engine.ParseThinkingMode(strings.ToLower(req.Thinking))
		if err != nil {
			return p, invalidRequestError{msg: err.Error()}
		}
		if mode != engine.ThinkingUnset {
			p.Thinking = mode
		}
	}
	return p, nil
}

// ndjsonSink encodes tokens as they arrive. A failed write cancels the call.
type ndjsonSink struct {
	enc    *json.Encoder
	flush  func()
	cancel context.CancelFunc

	mu   sync.Mutex
	full string
	werr error
}

func (s *ndjsonSink) OnToken(text string) {
	if strings.HasPrefix(text, engine.ReportPrefix) {
		return
	}
	_ = s.write(types.TokenLine{Token: text})
}

func (s *ndjsonSink) OnComplete(full string) {
	s.mu.Lock()
	s.full = full
	s.mu.Unlock()
}

func (s *ndjsonSink) OnError(error) {}

func (s *ndjsonSink) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.werr != nil {
		return s.werr
	}
	if err := s.enc.Encode(v); err != nil {
		s.werr = fmt.Errorf("write stream: %w", err)
		s.cancel()
		return s.werr
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func (s *ndjsonSink) fullText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}

func (s *ndjsonSink) writeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.werr
}
