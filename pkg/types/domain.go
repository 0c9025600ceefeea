package types

// Model represents a resolvable model file in the models directory.
type Model struct {
	// Identifier used by POST /sessions: the file name.
	// example: tinyllama.Q4_K_M.gguf
	ID string `json:"id"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama.Q4_K_M.gguf
	Path string `json:"path"`
	// File format: gguf or reference.
	// example: gguf
	Format string `json:"format"`
	// Declared context length in tokens; 0 when unknown.
	// example: 2048
	ContextLength int `json:"context_length,omitempty"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty"`
	// Chat template declared by the sidecar metadata.
	// example: chatml
	Template string `json:"template,omitempty"`
	// Provider that would load this model.
	// example: llamacpp
	Provider string `json:"provider,omitempty"`
	// File size in bytes.
	SizeBytes int64 `json:"size_bytes"`
}

// Session summarizes one session for GET /sessions.
type Session struct {
	// example: 6f1c1b9e-7b8e-4c0a-9a53-2f7f6c1c1c11
	ID string `json:"id"`
	// example: tinyllama.Q4_K_M.gguf
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
	// Backend variant the session was loaded with.
	// example: x86-avx2
	Variant string `json:"variant"`
	// Lifecycle state: loading, ready, generating, evicting, closed.
	// example: ready
	State       string `json:"state"`
	ContextSize int    `json:"context_size"`
	Threads     int    `json:"threads"`
	Template    string `json:"template"`
	// Estimated resident bytes charged against the memory budget.
	EstimatedBytes int64 `json:"estimated_bytes"`
	CreatedUnix    int64 `json:"created_unix"`
	LastUsedUnix   int64 `json:"last_used_unix"`
	QueueLen       int   `json:"queue_len"`
	Inflight       int   `json:"inflight"`
}
