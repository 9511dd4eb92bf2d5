package manager

import (
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/engine"
	"edgelm/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultLoadWait  = 30 * time.Second
	defaultStopWait  = 5 * time.Second
	defaultStopPoll  = 100 * time.Millisecond
	defaultStaleCall = 60 * time.Second
	defaultGPULayers = 99
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry     []types.Model
	DefaultModel string
	// Engine is the base engine configuration; Settings override parts of it.
	Engine   engine.Config
	Settings SettingsProvider
	// Factory builds engines; nil uses the native library compiled into the binary.
	Factory   EngineFactory
	Formatter PromptFormatter
	Stats     StatsRecorder
	Publisher EventPublisher
	Logger    zerolog.Logger
	// KeepLoaded retains the model after a call. When false each call unloads
	// it on completion.
	KeepLoaded bool

	// LoadWait bounds waiting for an in-progress load of the requested model.
	LoadWait time.Duration
	// StopWait bounds waiting for a busy engine to settle after a stop.
	StopWait time.Duration
	StopPoll time.Duration
	// StaleCall is the age after which a held call guard is force-reset.
	StaleCall time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoadWait <= 0 {
		c.LoadWait = defaultLoadWait
	}
	if c.StopWait <= 0 {
		c.StopWait = defaultStopWait
	}
	if c.StopPoll <= 0 {
		c.StopPoll = defaultStopPoll
	}
	if c.StaleCall <= 0 {
		c.StaleCall = defaultStaleCall
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Settings == nil {
		c.Settings = StaticSettings{}
	}
	return c
}

// engineConfig merges current settings into the base engine configuration.
func (m *Manager) engineConfig() engine.Config {
	cfg := m.cfg.Engine
	s := m.cfg.Settings.Settings()
	if s.MaxSeqLen > 0 {
		cfg.MaxSeqLen = s.MaxSeqLen
		if cfg.ContextSize < s.MaxSeqLen {
			cfg.ContextSize = s.MaxSeqLen
		}
	}
	if s.Threads > 0 {
		cfg.Threads = s.Threads
	}
	switch {
	case !s.UseGPU:
		cfg.GPULayers = 0
	case s.GPULayers > 0:
		cfg.GPULayers = s.GPULayers
	case cfg.GPULayers == 0:
		cfg.GPULayers = defaultGPULayers
	}
	if s.Sampling != (engine.Sampling{}) {
		cfg.Sampling = s.Sampling
	}
	cfg.PrioritizeManual = cfg.PrioritizeManual || s.PrioritizeManual
	return cfg
}

// DefaultParams returns the per-call parameters derived from current settings.
func (m *Manager) DefaultParams() engine.Params {
	s := m.cfg.Settings.Settings()
	p := engine.DefaultParams()
	if s.MaxNewTokens > 0 {
		p.MaxTokens = s.MaxNewTokens
	}
	switch {
	case s.Sampling != (engine.Sampling{}):
		p.Sampling = s.Sampling
	case m.cfg.Engine.Sampling != (engine.Sampling{}):
		p.Sampling = m.cfg.Engine.Sampling
	}
	if s.NoThinking {
		p.Thinking = engine.ThinkingOff
	}
	return p
}
