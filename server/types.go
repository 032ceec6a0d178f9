package server

import (
	"time"

	"llmqualitybench/internal/harness"
	"llmqualitybench/internal/report"
)

// VendorSummary is the serializable view of a configured vendor. Credentials
// never leave the process; only the env var names that hold them do.
type VendorSummary struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"` // "chat" or "prediction"
	BaseURL    string   `json:"baseUrl,omitempty"`
	PredictURL string   `json:"predictUrl,omitempty"`
	APIKeyEnv  string   `json:"apiKeyEnv,omitempty"`
	Models     []string `json:"models,omitempty"`
	Source     string   `json:"source"` // "config" or "environment"
}

// RunRequest is the payload that starts a quality-run job. Either a named
// vendor or a direct baseUrl+apiKeyEnv pair selects the endpoint.
type RunRequest struct {
	Vendor      string   `json:"vendor,omitempty"`
	BaseURL     string   `json:"baseUrl,omitempty"`
	APIKeyEnv   string   `json:"apiKeyEnv,omitempty"`
	Model       string   `json:"model" binding:"required,min=1"`
	Feature     string   `json:"feature,omitempty"`
	Prompts     []string `json:"prompts" binding:"required,min=1"`
	Concurrency int      `json:"concurrency,omitempty" binding:"omitempty,min=1,max=512"`
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"topP,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty" binding:"omitempty,min=1,max=32768"`
	Stream      *bool    `json:"stream,omitempty"`
	TimeoutSec  int      `json:"timeoutSec,omitempty" binding:"omitempty,min=0,max=3600"`
}

// RunResult bundles everything a finished run produced.
type RunResult struct {
	Model      string           `json:"model"`
	Vendor     string           `json:"vendor,omitempty"`
	Feature    string           `json:"feature"`
	NumUsers   int              `json:"numUsers"`
	OutputPath string           `json:"outputPath,omitempty"`
	Summary    report.Summary   `json:"summary"`
	Records    []harness.Record `json:"records"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// VendorsResponse lists the vendors runs can reference
type VendorsResponse struct {
	Vendors []VendorSummary `json:"vendors"`
	Count   int             `json:"count"`
}
