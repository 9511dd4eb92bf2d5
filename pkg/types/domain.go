package types

// Model represents a discoverable or loadable LLM model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: qwen3-0.6b-q4
	ID string `json:"id" example:"qwen3-0.6b-q4"`
	// Human-friendly name.
	// example: Qwen3 0.6B (Q4_K_M)
	Name string `json:"name" example:"Qwen3 0.6B (Q4_K_M)"`
	// Absolute path to the model file or model directory on disk.
	// example: /home/user/models/Qwen3-0.6B-Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/Qwen3-0.6B-Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, qwen3, phi).
	// example: qwen3
	Family string `json:"family,omitempty" example:"qwen3"`
	// Engine kind able to serve the artifact; empty when unsupported.
	// example: llama.cpp
	Engine string `json:"engine,omitempty" example:"llama.cpp"`
	// Size of the weights on disk in bytes.
	// example: 484220320
	SizeBytes int64 `json:"size_bytes" example:"484220320"`
	// True when a sampling parameter sidecar sits next to the weights.
	// example: true
	HasSidecar bool `json:"has_sidecar,omitempty" example:"true"`
}
