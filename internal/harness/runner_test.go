package harness

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"

	"llmqualitybench/internal/backend"
	"llmqualitybench/internal/prompts"
)

// fakeBackend records every request and delegates to a configurable complete
// function
type fakeBackend struct {
	mu       sync.Mutex
	requests []backend.Request
	complete func(ctx context.Context, req backend.Request) (backend.Result, error)
}

func (f *fakeBackend) Complete(ctx context.Context, req backend.Request) (backend.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.complete != nil {
		return f.complete(ctx, req)
	}
	return backend.Result{Text: "ok"}, nil
}

func (f *fakeBackend) recorded() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func promptList(texts ...string) []prompts.Prompt {
	out := make([]prompts.Prompt, len(texts))
	for i, text := range texts {
		out[i] = prompts.Prompt{Index: i, Text: text}
	}
	return out
}

func TestRunOneRecordPerPrompt(t *testing.T) {
	r := &Runner{
		Backend:            &fakeBackend{},
		Model:              "fake-model",
		UserPromptTemplate: "{text}",
		Concurrency:        2,
	}

	records := r.Run(context.Background(), promptList("a", "b", "c", "d", "e"))
	if len(records) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(records))
	}

	seen := map[int]bool{}
	for _, rec := range records {
		if seen[rec.Query] {
			t.Errorf("Expected unique query indexes, saw %d twice", rec.Query)
		}
		seen[rec.Query] = true
		if !rec.Success {
			t.Errorf("Expected success for query %d, got error '%s'", rec.Query, rec.Error)
		}
		if rec.Session != rec.Query%2 {
			t.Errorf("Expected session %d for query %d, got %d", rec.Query%2, rec.Query, rec.Session)
		}
	}
	if r.Completed() != 5 {
		t.Errorf("Expected 5 completed, got %d", r.Completed())
	}
}

func TestRunConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	current, peak := 0, 0

	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return backend.Result{Text: "ok"}, nil
		},
	}

	r := &Runner{
		Backend:            fake,
		UserPromptTemplate: "{text}",
		Concurrency:        3,
	}
	records := r.Run(context.Background(), promptList("a", "b", "c", "d", "e", "f", "g", "h"))

	if len(records) != 8 {
		t.Fatalf("Expected 8 records, got %d", len(records))
	}
	if peak > 3 {
		t.Errorf("Expected at most 3 in flight, saw %d", peak)
	}
	if peak < 2 {
		t.Errorf("Expected concurrent dispatch, saw peak %d", peak)
	}
}

func TestRunSequentialWithoutConcurrency(t *testing.T) {
	var mu sync.Mutex
	current, peak := 0, 0

	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return backend.Result{Text: "ok"}, nil
		},
	}

	r := &Runner{Backend: fake, UserPromptTemplate: "{text}"}
	r.Run(context.Background(), promptList("a", "b", "c"))

	if peak != 1 {
		t.Errorf("Expected sequential execution with zero concurrency, saw peak %d", peak)
	}
}

func TestRunBuildsMessages(t *testing.T) {
	fake := &fakeBackend{}
	r := &Runner{
		Backend:            fake,
		Model:              "fake-model",
		SystemPrompt:       "You are terse.",
		UserPromptTemplate: "Question: {text}",
		Sampling:           backend.SamplingParams{Temperature: 0.3, TopP: 0.9},
		MaxTokens:          128,
		Stream:             true,
		Concurrency:        1,
	}
	r.Run(context.Background(), promptList("What is Go?"))

	requests := fake.recorded()
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}

	req := requests[0]
	if req.Model != "fake-model" {
		t.Errorf("Expected model 'fake-model', got '%s'", req.Model)
	}
	if !req.Stream {
		t.Error("Expected stream flag to carry over")
	}
	if req.MaxTokens != 128 {
		t.Errorf("Expected max tokens 128, got %d", req.MaxTokens)
	}
	if req.Sampling.Temperature != 0.3 {
		t.Errorf("Expected temperature 0.3, got %f", req.Sampling.Temperature)
	}

	if len(req.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != backend.RoleSystem || req.Messages[0].Content != "You are terse." {
		t.Errorf("Expected system message, got %+v", req.Messages[0])
	}
	if req.Messages[1].Role != backend.RoleUser || req.Messages[1].Content != "Question: What is Go?" {
		t.Errorf("Expected templated user message, got %+v", req.Messages[1])
	}
}

func TestRunRecordsFailures(t *testing.T) {
	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			if strings.Contains(req.Messages[1].Content, "bad") {
				return backend.Result{}, errors.New("status 500: internal error")
			}
			return backend.Result{Text: "ok"}, nil
		},
	}

	r := &Runner{Backend: fake, UserPromptTemplate: "{text}", Concurrency: 1}
	records := r.Run(context.Background(), promptList("good", "bad"))

	byQuery := map[int]Record{}
	for _, rec := range records {
		byQuery[rec.Query] = rec
	}

	if !byQuery[0].Success {
		t.Errorf("Expected query 0 to succeed, got '%s'", byQuery[0].Error)
	}
	if byQuery[1].Success {
		t.Error("Expected query 1 to fail")
	}
	if !strings.Contains(byQuery[1].Error, "status 500") {
		t.Errorf("Expected backend error message, got '%s'", byQuery[1].Error)
	}
	if byQuery[1].TTFT != nil {
		t.Error("Expected no TTFT on a failed record")
	}
}

func TestRunTokenMetricsFromUsage(t *testing.T) {
	firstToken := 5 * time.Millisecond
	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			time.Sleep(10 * time.Millisecond)
			return backend.Result{
				Text:       "generated",
				FirstToken: &firstToken,
				Usage:      &backend.Usage{PromptTokens: 10, CompletionTokens: 50},
			}, nil
		},
	}

	r := &Runner{Backend: fake, UserPromptTemplate: "{text}", Concurrency: 1}
	records := r.Run(context.Background(), promptList("a"))

	rec := records[0]
	if !rec.Success {
		t.Fatalf("Expected success, got '%s'", rec.Error)
	}
	if rec.OutputTokens != 50 {
		t.Errorf("Expected 50 output tokens from usage, got %d", rec.OutputTokens)
	}
	if !rec.HasTokenCounts {
		t.Error("Expected token counts to be marked available")
	}
	if rec.TTFT == nil {
		t.Fatal("Expected a TTFT value")
	}
	if *rec.TTFT != firstToken.Seconds() {
		t.Errorf("Expected TTFT %f, got %f", firstToken.Seconds(), *rec.TTFT)
	}
	if rec.TotalTime <= 0 {
		t.Errorf("Expected positive total time, got %f", rec.TotalTime)
	}
	if rec.TokensPerSec <= 0 {
		t.Errorf("Expected positive tokens/sec, got %f", rec.TokensPerSec)
	}
}

func TestRunWithoutTokenInfo(t *testing.T) {
	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			return backend.Result{Text: "no usage reported"}, nil
		},
	}

	r := &Runner{Backend: fake, UserPromptTemplate: "{text}", Concurrency: 1}
	records := r.Run(context.Background(), promptList("a"))

	rec := records[0]
	if rec.HasTokenCounts {
		t.Error("Expected no token counts without usage or tokenizer")
	}
	if rec.OutputTokens != 0 {
		t.Errorf("Expected 0 output tokens, got %d", rec.OutputTokens)
	}
	if rec.TokensPerSec != 0 {
		t.Errorf("Expected 0 tokens/sec, got %f", rec.TokensPerSec)
	}
}

func TestRunOnProgress(t *testing.T) {
	var mu sync.Mutex
	var doneValues []int
	var totals []int

	r := &Runner{
		Backend:            &fakeBackend{},
		UserPromptTemplate: "{text}",
		Concurrency:        2,
		OnProgress: func(done, total int) {
			mu.Lock()
			doneValues = append(doneValues, done)
			totals = append(totals, total)
			mu.Unlock()
		},
	}
	r.Run(context.Background(), promptList("a", "b", "c", "d"))

	mu.Lock()
	defer mu.Unlock()

	if len(doneValues) != 4 {
		t.Fatalf("Expected 4 progress callbacks, got %d", len(doneValues))
	}
	sort.Ints(doneValues)
	for i, done := range doneValues {
		if done != i+1 {
			t.Errorf("Expected done value %d, got %d", i+1, done)
		}
	}
	for _, total := range totals {
		if total != 4 {
			t.Errorf("Expected total 4, got %d", total)
		}
	}
}

func TestRunCancellationKeepsPartials(t *testing.T) {
	fake := &fakeBackend{
		complete: func(ctx context.Context, req backend.Request) (backend.Result, error) {
			// Behave like a stream: block until cancelled, then hand back
			// whatever was generated so far
			<-ctx.Done()
			return backend.Result{Text: "partial output"}, nil
		},
	}

	r := &Runner{Backend: fake, UserPromptTemplate: "{text}", Concurrency: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan []Record, 1)
	go func() {
		done <- r.Run(ctx, promptList("a", "b", "c", "d"))
	}()

	select {
	case records := <-done:
		if len(records) != 4 {
			t.Fatalf("Expected 4 records after cancellation, got %d", len(records))
		}
		for _, rec := range records {
			if !rec.Success {
				t.Errorf("Expected partial result for query %d, got error '%s'", rec.Query, rec.Error)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected run to finish after cancellation")
	}
}

func TestRunWithProgressBar(t *testing.T) {
	bar := progressbar.NewOptions(3,
		progressbar.OptionSetWriter(io.Discard),
		progressbar.OptionSetDescription("test run"),
	)

	r := &Runner{
		Backend:            &fakeBackend{},
		UserPromptTemplate: "{text}",
		Concurrency:        3,
		Bar:                bar,
	}
	records := r.Run(context.Background(), promptList("a", "b", "c"))

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
}
