package types

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	// Model identifier as listed by GET /models.
	// example: tinyllama.Q4_K_M.gguf
	Model string `json:"model"`
	// Context size in tokens; capped at the model limit. 0 uses the default.
	// example: 2048
	ContextSize int `json:"context_size,omitempty"`
	// CPU threads; 0 uses the default.
	Threads int `json:"threads,omitempty"`
	// Chat template id (chatml, llama3, phi3, plain).
	// example: chatml
	Template string `json:"template,omitempty"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string  `json:"session_id"`
	Session   Session `json:"session"`
}

// Message is one conversation turn.
type Message struct {
	// system, user or assistant
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of POST /sessions/{id}/generate. The last
// message is the new input.
type GenerateRequest struct {
	Messages []Message `json:"messages"`
	// Maximum number of new tokens; 0 uses the server default.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty"`
	// Sampling temperature; 0 selects greedy decoding.
	// example: 0.7
	Temperature float32 `json:"temperature,omitempty"`
	// example: 40
	TopK int `json:"top_k,omitempty"`
	// example: 0.05
	MinP float32 `json:"min_p,omitempty"`
	// Random seed for reproducibility.
	Seed int64 `json:"seed,omitempty"`
	// Optional stop sequences in addition to the template end markers.
	Stop []string `json:"stop,omitempty"`
	// Wall-clock limit in milliseconds; 0 uses the server default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Chunk is one NDJSON line of a generation stream.
type Chunk struct {
	Text       string `json:"text"`
	TokenIndex int    `json:"token_index"`
	Final      bool   `json:"final,omitempty"`
	// completed, cancelled, context_exceeded or error; set on the final chunk.
	FinishReason string   `json:"finish_reason,omitempty"`
	Error        string   `json:"error,omitempty"`
	Metrics      *Metrics `json:"metrics,omitempty"`
}

// Metrics are attached to the final chunk.
type Metrics struct {
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	TokensPerSecond    float64 `json:"tokens_per_second"`
	TimeToFirstTokenMS int64   `json:"time_to_first_token_ms"`
	DurationMS         int64   `json:"duration_ms"`
	StopCause          string  `json:"stop_cause,omitempty"`
}

// SessionsResponse is returned by GET /sessions.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// MemoryResponse is returned by GET /memory.
type MemoryResponse struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalBytes     int64 `json:"total_bytes"`
	BudgetBytes    int64 `json:"budget_bytes"`
}

// MemoryBudgetRequest is the body of PUT /memory/budget.
type MemoryBudgetRequest struct {
	BudgetMB int64 `json:"budget_mb"`
}

// MemoryBudgetResponse lists the sessions evicted by a budget change.
type MemoryBudgetResponse struct {
	MemoryResponse
	Evicted []string `json:"evicted"`
}

// CapabilitiesResponse is returned by GET /capabilities.
type CapabilitiesResponse struct {
	// Detected CPU features.
	Features []string `json:"features"`
	// Best supported variant.
	// example: x86-avx2
	Variant string `json:"variant"`
	// Supported variants in load order, ending with baseline.
	Ranked []string `json:"ranked"`
	// Registered providers, highest priority first.
	Providers []string `json:"providers"`
	// Probe error, when detection fell back to baseline.
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: invalid JSON body
	Error string `json:"error"`
	// example: 400
	Code int `json:"code"`
}
