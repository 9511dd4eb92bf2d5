package config

import (
	"edgelm/internal/engine"
	"edgelm/internal/manager"
)

// EngineConfig maps the file/env settings onto the engine's configuration.
// Unset values stay zero so the engine applies its own defaults.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		ContextSize:      c.Engine.ContextSize,
		Threads:          c.Engine.Threads,
		GPULayers:        c.Engine.GPULayers,
		MaxSeqLen:        c.Engine.MaxSeqLen,
		Sampling:         c.EngineSampling(),
		PrioritizeManual: c.Engine.PrioritizeManual,
		HealthInterval:   c.Engine.HealthInterval.Std(),
		StallTimeout:     c.Engine.StallTimeout.Std(),
		MaxRuntime:       c.Engine.MaxRuntime.Std(),
		InferenceBudget:  c.Engine.InferenceBudget.Std(),
		MaxRetries:       c.Engine.MaxRetries,
	}
}

func (c Config) EngineSampling() engine.Sampling {
	return engine.Sampling{
		Temperature:       c.Sampling.Temperature,
		TopK:              c.Sampling.TopK,
		TopP:              c.Sampling.TopP,
		RepetitionPenalty: c.Sampling.RepetitionPenalty,
		Seed:              c.Sampling.Seed,
	}
}

// ManagerSettings projects the user-facing knobs the manager consults on
// every load and call.
func (c Config) ManagerSettings() manager.Settings {
	useGPU := c.Engine.UseGPU == nil || *c.Engine.UseGPU
	return manager.Settings{
		MaxSeqLen:        c.Engine.MaxSeqLen,
		Threads:          c.Engine.Threads,
		MaxNewTokens:     c.Engine.MaxNewTokens,
		UseGPU:           useGPU,
		GPULayers:        c.Engine.GPULayers,
		Sampling:         c.EngineSampling(),
		PrioritizeManual: c.Engine.PrioritizeManual,
		NoThinking:       c.Engine.NoThinking,
	}
}

// ManagerConfig returns the manager configuration without the runtime
// collaborators (factory, stats, publisher, logger), which the caller wires.
func (c Config) ManagerConfig() manager.Config {
	keep := c.KeepLoaded == nil || *c.KeepLoaded
	return manager.Config{
		DefaultModel: c.DefaultModel,
		Engine:       c.EngineConfig(),
		Settings:     manager.StaticSettings(c.ManagerSettings()),
		KeepLoaded:   keep,
		LoadWait:     c.Engine.LoadWait.Std(),
		StopWait:     c.Engine.StopWait.Std(),
	}
}
