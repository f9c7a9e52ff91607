package model

import "time"

// TokenUsage tracks LLM token consumption across calls.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// LLMUsage is one logged oracle invocation with cost accounting. Written on
// every accepted call regardless of whether the response was usable.
type LLMUsage struct {
	ID           string     `json:"id"`
	FirmID       string     `json:"firm_id"`
	ProjectID    string     `json:"project_id"`
	Model        string     `json:"model"`
	TaskType     string     `json:"task_type"`
	Usage        TokenUsage `json:"usage"`
	CostUSD      float64    `json:"cost_usd"`
	LatencyMS    int64      `json:"latency_ms"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AuditEntry is one audit-log row. Writes are best-effort.
type AuditEntry struct {
	ID         string         `json:"id"`
	FirmID     string         `json:"firm_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
