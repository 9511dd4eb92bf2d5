package manager

import (
	"context"
	"fmt"

	"edgelm/internal/engine"
	"edgelm/internal/statsstore"
)

// State is the lifecycle state of the single managed engine.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateBusy
)

var stateNames = [...]string{"unloaded", "loading", "ready", "busy"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// validTransition lists the edges of the lifecycle state machine. Every state
// may drop to unloaded; a stuck busy state is corrected to ready.
func validTransition(from, to State) bool {
	if to == StateUnloaded {
		return true
	}
	switch from {
	case StateUnloaded:
		return to == StateLoading
	case StateLoading:
		return to == StateReady
	case StateReady:
		return to == StateBusy
	case StateBusy:
		return to == StateReady
	}
	return false
}

// Request is one logical call.
type Request struct {
	// ID names the call in logs, events and stats; empty assigns a uuid.
	ID     string
	Model  string
	Prompt string
	// Params replaces the settings-derived defaults when non-nil.
	Params *engine.Params
}

// SettingsProvider supplies user settings. It is consulted on every load and
// every call, so changes apply without restarting.
type SettingsProvider interface {
	Settings() Settings
}

// Settings are the knobs a host application exposes to users.
type Settings struct {
	MaxSeqLen        int
	Threads          int
	MaxNewTokens     int
	UseGPU           bool
	GPULayers        int
	Sampling         engine.Sampling
	PrioritizeManual bool
	NoThinking       bool
}

// StaticSettings is a SettingsProvider with fixed values.
type StaticSettings Settings

func (s StaticSettings) Settings() Settings { return Settings(s) }

// PromptFormatter turns a raw user prompt into the model's chat format.
type PromptFormatter interface {
	FormatPrompt(model, prompt string) string
}

// PromptFormatterFunc adapts a function to PromptFormatter.
type PromptFormatterFunc func(model, prompt string) string

func (f PromptFormatterFunc) FormatPrompt(model, prompt string) string { return f(model, prompt) }

// StatsRecorder persists call and load statistics. *statsstore.Store
// implements it.
type StatsRecorder interface {
	Record(ctx context.Context, r statsstore.Record) error
	RecordLoad(ctx context.Context, r statsstore.LoadRecord) error
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State   State
	Model   string
	Loading string
}
