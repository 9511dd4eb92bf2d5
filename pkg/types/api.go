package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: qwen3-0.6b-q4
	Model string `json:"model,omitempty" example:"qwen3-0.6b-q4"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate. Omitted uses the server setting; 0 returns immediately.
	// example: 128
	MaxTokens *int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK *int `json:"top_k,omitempty" example:"40"`
	// Repetition penalty.
	// example: 1.1
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Random seed for reproducibility; 0 or omitted lets the backend choose.
	// example: 42
	Seed int `json:"seed,omitempty" example:"42"`
	// Thinking directive: "on", "off" or empty for the server default.
	// example: off
	Thinking string `json:"thinking,omitempty" example:"off"`
}

// TokenLine is one NDJSON line of a streaming /infer response.
type TokenLine struct {
	// Generated text increment.
	// example: Hello
	Token string `json:"token"`
}

// DoneLine is the final NDJSON line of a successful /infer response.
type DoneLine struct {
	// Always true.
	// example: true
	Done bool `json:"done" example:"true"`
	// Generated text without the statistics report.
	Content string `json:"content"`
	// Statistics report appended by the engine; empty when the generation was stopped.
	Stats string `json:"stats,omitempty"`
	// Why generation ended: "stop" (natural end or budget), "cancelled".
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
	// Call identifier, also used as the stats record id.
	CallID string `json:"call_id,omitempty"`
}

// ErrorLine is written when a stream fails after it started.
type ErrorLine struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Done  bool   `json:"done"`
}

// LoadRequest asks the server to load a model and keep it resident.
type LoadRequest struct {
	// example: qwen3-0.6b-q4
	Model string `json:"model" example:"qwen3-0.6b-q4"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// CallStatus describes the call currently holding the manager.
type CallStatus struct {
	// example: 6f1c2a0e-2b9e-4f9e-9c55-5d1c7f0c2d11
	ID string `json:"id"`
	// example: qwen3-0.6b-q4
	Model string `json:"model"`
	// Start time (unix seconds).
	StartedUnix int64 `json:"started_unix"`
}

// EngineStatus summarizes the loaded engine.
type EngineStatus struct {
	// example: llama.cpp
	Type        string `json:"type"`
	Initialized bool   `json:"initialized"`
	Generating  bool   `json:"generating"`
	// Broken is set after forced termination exhausted its retries; unload and load again.
	Broken bool `json:"broken"`
	// Health of the generation thread.
	Healthy      bool   `json:"healthy"`
	HealthReason string `json:"health_reason,omitempty"`
	// Identifier of the current worker thread; it changes when a hung worker is replaced.
	WorkerID           uint64 `json:"worker_id"`
	TerminationRetries int    `json:"termination_retries"`
	// Where the latest resolved sampling parameters came from: manual or sidecar.
	ParamSource string  `json:"param_source,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	// Resource pool counters.
	BatchReuses   int `json:"batch_reuses"`
	BatchAllocs   int `json:"batch_allocs"`
	SamplerReuses int `json:"sampler_reuses"`
	SamplerAllocs int `json:"sampler_allocs"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state: unloaded, loading, ready or busy.
	// example: ready
	State string `json:"state" example:"ready"`
	// Model currently loaded.
	// example: qwen3-0.6b-q4
	Model string `json:"model,omitempty" example:"qwen3-0.6b-q4"`
	// Model currently loading.
	Loading string `json:"loading,omitempty"`
	// Whether the model stays loaded between calls.
	KeepLoaded bool `json:"keep_loaded"`
	// Whether a stop was requested and not yet consumed.
	StopRequested bool `json:"stop_requested"`
	// Call currently holding the manager, if any.
	ActiveCall *CallStatus `json:"active_call,omitempty"`
	// Engine details when a model is loaded.
	Engine *EngineStatus `json:"engine,omitempty"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Total number of successful model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of calls accepted.
	// example: 40
	CallsTotal uint64 `json:"calls_total" example:"40"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// StopResponse is returned by POST /stop.
type StopResponse struct {
	// Whether a generation or load was in progress and got the stop request.
	// example: true
	Stopped bool `json:"stopped" example:"true"`
}
