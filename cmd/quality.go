package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"llmqualitybench/internal/backend"
	"llmqualitybench/internal/harness"
	"llmqualitybench/internal/report"
)

func (q *QualityRun) buildBackend() (backend.CompletionBackend, error) {
	if q.Vendor.Prediction() {
		return backend.NewPredictionBackend(backend.PredictionConfig{
			PredictURL: q.Vendor.PredictURL,
			Tokens:     q.Vendor.Tokens,
		}), nil
	}
	return backend.NewOpenAIBackend(backend.OpenAIConfig{
		BaseURL:               q.Vendor.APIBase,
		APIKey:                q.Vendor.APIKey,
		InsecureSkipTLSVerify: q.SkipTLSVerify,
	})
}

func (q *QualityRun) tokenizer() *harness.Tokenizer {
	tok, err := harness.TokenizerFor(q.ModelName, q.Vendor.APIBase, q.TokenizerType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load tokenizer for model %s: %v. Token-based metrics will not be available.\n",
			q.ModelName, err)
		return nil
	}
	return tok
}

// recorderBase picks the URL the audit filename derives its domain from.
func (q *QualityRun) recorderBase() string {
	if q.Vendor.APIBase != "" {
		return q.Vendor.APIBase
	}
	return q.Vendor.PredictURL
}

// execute runs all prompts once and aggregates the records. The audit file
// path comes back alongside so callers can announce it.
func (q *QualityRun) execute(bar *progressbar.ProgressBar) ([]harness.Record, report.Summary, string, error) {
	llm, err := q.buildBackend()
	if err != nil {
		return nil, report.Summary{}, "", err
	}

	recorder, err := harness.NewRecorder(harness.RecorderConfig{
		Dir:                q.OutputDir,
		APIBase:            q.recorderBase(),
		Model:              q.ModelName,
		Feature:            q.FeatureName,
		Temperature:        q.Temperature,
		MaxTokens:          q.MaxTokens,
		SystemPrompt:       q.Feature.SystemPrompt,
		UserPromptTemplate: q.Feature.UserPromptTemplate,
	})
	if err != nil {
		return nil, report.Summary{}, "", err
	}
	defer recorder.Close()

	runner := &harness.Runner{
		Backend:            llm,
		Model:              q.ModelName,
		SystemPrompt:       q.Feature.SystemPrompt,
		UserPromptTemplate: q.Feature.UserPromptTemplate,
		Sampling:           backend.SamplingParams{Temperature: q.Temperature, TopP: q.TopP},
		MaxTokens:          q.MaxTokens,
		Stream:             q.Stream,
		Timeout:            q.Timeout,
		Concurrency:        q.NumUsers,
		Recorder:           recorder,
		Tokenizer:          q.tokenizer(),
		Bar:                bar,
	}

	records := runner.Run(context.Background(), q.Prompts)
	return records, report.Aggregate(records), recorder.Path(), nil
}

func newRunBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("req"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// runCli runs the quality test and prints the summary report. It returns the
// failure count for the process exit code.
func (q *QualityRun) runCli() (int, error) {
	bar := newRunBar(len(q.Prompts), fmt.Sprintf("Feature %s", q.FeatureName))

	_, summary, path, err := q.execute(bar)

	bar.Finish()
	bar.Clear()
	bar.Close()

	if err != nil {
		return 0, err
	}

	report.Render(os.Stdout, summary)
	fmt.Printf("\nResults saved to: %s\n", path)
	return summary.Failures, nil
}

// run runs the quality test for --format output.
func (q *QualityRun) run() (*RunResult, error) {
	bar := newRunBar(len(q.Prompts), fmt.Sprintf("Feature %s", q.FeatureName))

	records, summary, path, err := q.execute(bar)

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n")
	bar.Close()

	if err != nil {
		return nil, err
	}

	return &RunResult{
		ModelName:  q.ModelName,
		Feature:    q.FeatureName,
		NumUsers:   q.NumUsers,
		OutputPath: path,
		Summary:    summary,
		Records:    records,
	}, nil
}
