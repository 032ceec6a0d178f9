package main

import (
	"time"

	"llmqualitybench/internal/config"
	"llmqualitybench/internal/harness"
	"llmqualitybench/internal/prompts"
	"llmqualitybench/internal/report"
)

// QualityRun holds everything a run needs once flags and config resolve.
type QualityRun struct {
	Vendor        *config.Resolved
	Feature       *config.Feature
	FeatureName   string
	ModelName     string
	TokenizerType string
	Prompts       []prompts.Prompt

	NumUsers      int
	Temperature   float32
	TopP          float32
	MaxTokens     int
	Stream        bool
	Timeout       time.Duration
	OutputDir     string
	SkipTLSVerify bool
}

// RunResult is the machine-readable payload for --format output.
type RunResult struct {
	ModelName  string           `json:"model_name" yaml:"model-name"`
	Feature    string           `json:"feature" yaml:"feature"`
	NumUsers   int              `json:"num_users" yaml:"num-users"`
	OutputPath string           `json:"output_path,omitempty" yaml:"output-path,omitempty"`
	Summary    report.Summary   `json:"summary" yaml:"summary"`
	Records    []harness.Record `json:"records" yaml:"records"`
}
