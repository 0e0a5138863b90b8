// Package gateway defines domain types and interfaces for the AI request gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"time"
)

// --- Completion provider ---

// Endpoint is the resolved upstream target for one call: where to send it
// and the decrypted bearer key to send with it.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// Completer is the interface the invoker uses to reach a chat-completion API.
type Completer interface {
	// Complete sends a single non-streaming chat completion request.
	// A non-200 response is returned as an error carrying the HTTP status.
	Complete(ctx context.Context, ep Endpoint, req *ChatRequest) (*ChatResult, error)
	// Verify sends a minimal request to check that the key and URL work.
	Verify(ctx context.Context, ep Endpoint, model string) error
}

// ChatRequest is the wire body for POST {base_url}/chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"` // always false; serialized explicitly
}

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the parsed part of a successful completion response.
type ChatResult struct {
	Content string
	Usage   Usage
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// --- Governed prompt ---

// Feature tags select a system prompt template.
const (
	FeatureTherapy   = "therapy"
	FeatureSimulator = "simulator"
	FeatureInsights  = "insights"
	FeatureGeneral   = "general"
)

// DefaultFeatures is the feature set enabled on a fresh profile.
var DefaultFeatures = []string{FeatureTherapy, FeatureSimulator, FeatureInsights}

// Prompt is a caller's request to the gateway.
type Prompt struct {
	Text    string `json:"prompt"`
	Feature string `json:"feature,omitempty"`
	Context any    `json:"context,omitempty"` // serialized compactly, truncated
}

// Completion is the successful outcome of a governed prompt.
type Completion struct {
	Content          string  `json:"content"`
	Model            string  `json:"model"`
	CostUSD          float64 `json:"cost_usd"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	DurationMs       int64   `json:"duration_ms"`
	Attempts         int     `json:"attempts"`
}

// Status is the read-only view of current spend and credential state.
type Status struct {
	Configured          bool     `json:"configured"`
	Provider            string   `json:"provider,omitempty"`
	Model               string   `json:"model,omitempty"`
	BaseURL             string   `json:"base_url,omitempty"`
	MaskedKey           string   `json:"masked_key,omitempty"`
	Features            []string `json:"features,omitempty"`
	MonthSpendUSD       float64  `json:"month_spend_usd"`
	MonthlyBudgetUSD    float64  `json:"monthly_budget_usd"`
	BudgetUsedPct       float64  `json:"budget_used_pct"`
	RateLimitRemaining  int64    `json:"rate_limit_remaining"`
	EncryptionAvailable bool     `json:"encryption_available"`
	Warning             string   `json:"warning,omitempty"`
}

// --- Persisted state ---

// CredentialProfile is one saved provider configuration. At most one profile
// is active; saving a new one supersedes the previous rows.
type CredentialProfile struct {
	ID            int64     `json:"id"`
	Provider      string    `json:"provider"`
	APIKeyEnc     string    `json:"-"` // vault ciphertext, empty = unset
	Model         string    `json:"model"`
	BaseURL       string    `json:"base_url"`
	MonthlyBudget float64   `json:"monthly_budget"` // USD
	Features      []string  `json:"features"`
	Active        bool      `json:"active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FeatureEnabled reports whether tag is enabled on the profile.
// The general feature is always enabled.
func (p *CredentialProfile) FeatureEnabled(tag string) bool {
	if tag == FeatureGeneral || tag == "" {
		return true
	}
	for _, f := range p.Features {
		if f == tag {
			return true
		}
	}
	return false
}

// UsageRecord is one ledger entry per completed invocation flow.
type UsageRecord struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Feature          string    `json:"feature"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"` // set iff !Success
	DurationMs       int64     `json:"duration_ms"`
	Attempts         int       `json:"attempts"`
	RequestID        string    `json:"request_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageFilter selects ledger records. Since/Until are RFC3339 strings.
type UsageFilter struct {
	Model   string
	Feature string
	Since   string
	Until   string
	Offset  int
	Limit   int
}

// UsageRollup is a derived per-day aggregate of ledger records.
type UsageRollup struct {
	Day              string  `json:"day"` // YYYY-MM-DD (UTC)
	Model            string  `json:"model"`
	Feature          string  `json:"feature"`
	RequestCount     int     `json:"request_count"`
	SuccessCount     int     `json:"success_count"`
	FailureCount     int     `json:"failure_count"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// RollupFilter selects rollups. Since/Until are YYYY-MM-DD day strings.
type RollupFilter struct {
	Model   string
	Feature string
	Since   string
	Until   string
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
