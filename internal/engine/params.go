package engine

import (
	"fmt"

	"edgelm/internal/native"
)

// ThinkingMode selects the generation-mode directive appended to prompts.
type ThinkingMode int

const (
	// ThinkingUnset leaves the prompt untouched.
	ThinkingUnset ThinkingMode = iota
	ThinkingOn
	ThinkingOff
)

func (m ThinkingMode) String() string {
	switch m {
	case ThinkingOn:
		return "on"
	case ThinkingOff:
		return "off"
	default:
		return "unset"
	}
}

// ParseThinkingMode accepts "on", "off" and "" (unset).
func ParseThinkingMode(s string) (ThinkingMode, error) {
	switch s {
	case "", "unset", "default":
		return ThinkingUnset, nil
	case "on", "true", "think":
		return ThinkingOn, nil
	case "off", "false", "no_think":
		return ThinkingOff, nil
	}
	return ThinkingUnset, fmt.Errorf("unknown thinking mode %q", s)
}

// Sampling is the token-selection part of Params.
type Sampling struct {
	Temperature       float64 `json:"temperature"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Seed              int     `json:"seed,omitempty"`
}

// DefaultSampling mirrors common llama.cpp defaults.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.7, TopK: 40, TopP: 0.9, RepetitionPenalty: 1.1}
}

func (s Sampling) native() native.SamplerParams {
	return native.SamplerParams{
		Temperature:       s.Temperature,
		TopK:              s.TopK,
		TopP:              s.TopP,
		RepetitionPenalty: s.RepetitionPenalty,
		Seed:              s.Seed,
	}
}

// Params are the per-call inference parameters. They are immutable once a
// call starts.
type Params struct {
	MaxTokens int          `json:"max_tokens"`
	Thinking  ThinkingMode `json:"-"`
	Sampling
}

// DefaultMaxTokens is used when the caller leaves MaxTokens negative.
const DefaultMaxTokens = 256

// DefaultParams returns DefaultMaxTokens with DefaultSampling.
func DefaultParams() Params {
	return Params{MaxTokens: DefaultMaxTokens, Sampling: DefaultSampling()}
}
