package backend

import (
	"context"
	"time"
)

// Chat message roles, matching the OpenAI wire values.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingParams control generation randomness.
type SamplingParams struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
}

// Usage is the token accounting an endpoint reported for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Request describes one completion call.
type Request struct {
	Model     string
	Messages  []Message
	Stream    bool
	MaxTokens int
	Sampling  SamplingParams
	// Timeout bounds the whole call when above zero.
	Timeout time.Duration
}

// Result is the outcome of a successful completion call. FirstToken is nil
// when no non-empty content unit was observed (non-streaming calls, empty
// streams). Usage is nil when the endpoint reported none.
type Result struct {
	Text       string
	FirstToken *time.Duration
	Usage      *Usage
}

// CompletionBackend generates one completion per call. Implementations must
// treat context cancellation observed between stream chunks as a normal stop:
// the partial text and any captured first-token time come back without error.
type CompletionBackend interface {
	Complete(ctx context.Context, req Request) (Result, error)
}
