package harness

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"llmqualitybench/internal/backend"
	"llmqualitybench/internal/prompts"
)

// Runner drives a prompt list through a backend under a concurrency limit.
// The zero limit runs sequentially.
type Runner struct {
	Backend            backend.CompletionBackend
	Model              string
	SystemPrompt       string
	UserPromptTemplate string
	Sampling           backend.SamplingParams
	MaxTokens          int
	Stream             bool
	Timeout            time.Duration
	Concurrency        int

	// Recorder, Tokenizer, Bar and OnProgress are all optional.
	Recorder   *Recorder
	Tokenizer  *Tokenizer
	Bar        *progressbar.ProgressBar
	OnProgress func(done, total int)

	completed atomic.Int64
}

// Completed reports how many requests have finished so far. It never blocks
// dispatch.
func (r *Runner) Completed() int {
	return int(r.completed.Load())
}

// Run dispatches every prompt and returns exactly one record per prompt, in
// completion order. Requests are admitted through a semaphore so at most
// Concurrency of them are outstanding at any time. Cancelling the context
// stops in-flight streams cooperatively; their records keep the partial
// output seen so far.
func (r *Runner) Run(ctx context.Context, list []prompts.Prompt) []Record {
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}

	collector := &Collector{}
	sem := make(chan struct{}, limit)
	total := len(list)

	var wg sync.WaitGroup
	for _, p := range list {
		wg.Add(1)
		go func(p prompts.Prompt) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			rec := r.runOne(ctx, p, limit)
			collector.Add(rec)

			done := int(r.completed.Add(1))
			if r.Bar != nil {
				r.Bar.Add(1)
			}
			if r.OnProgress != nil {
				r.OnProgress(done, total)
			}
		}(p)
	}
	wg.Wait()

	return collector.Records()
}

func (r *Runner) runOne(ctx context.Context, p prompts.Prompt, limit int) Record {
	messages := []backend.Message{
		{Role: backend.RoleSystem, Content: r.SystemPrompt},
		{Role: backend.RoleUser, Content: strings.ReplaceAll(r.UserPromptTemplate, "{text}", p.Text)},
	}

	rec := Record{
		Session: p.Index % limit,
		Query:   p.Index,
	}

	start := time.Now()
	res, err := r.Backend.Complete(ctx, backend.Request{
		Model:     r.Model,
		Messages:  messages,
		Stream:    r.Stream,
		MaxTokens: r.MaxTokens,
		Sampling:  r.Sampling,
		Timeout:   r.Timeout,
	})
	if err != nil {
		rec.Error = err.Error()
		if r.Recorder != nil {
			_ = r.Recorder.Record(Outcome{RecordID: p.Index, Messages: messages, Err: rec.Error})
		}
		return rec
	}

	rec.Success = true
	rec.TotalTime = time.Since(start).Seconds()
	if res.FirstToken != nil {
		ttft := res.FirstToken.Seconds()
		rec.TTFT = &ttft
	}

	var promptTokens int
	switch {
	case res.Usage != nil:
		promptTokens = res.Usage.PromptTokens
		rec.OutputTokens = res.Usage.CompletionTokens
		rec.HasTokenCounts = true
	case r.Tokenizer != nil:
		for _, m := range messages {
			promptTokens += r.Tokenizer.Count(m.Content)
		}
		rec.OutputTokens = r.Tokenizer.Count(res.Text)
		rec.HasTokenCounts = true
	}

	if rec.OutputTokens > 0 && rec.TotalTime > 0 {
		rec.TokensPerSec = float64(rec.OutputTokens) / rec.TotalTime
	}

	if r.Recorder != nil {
		_ = r.Recorder.Record(Outcome{
			RecordID:         p.Index,
			Messages:         messages,
			GeneratedText:    res.Text,
			PromptTokens:     promptTokens,
			GenerationTokens: rec.OutputTokens,
			LatencySec:       rec.TotalTime,
			TTFTSec:          rec.TTFT,
			TokensPerSecond:  rec.TokensPerSec,
		})
	}
	return rec
}
