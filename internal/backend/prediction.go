package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sampling defaults applied when the request carries zero-valued params.
const (
	defaultPredictionTemperature = 0.1
	defaultPredictionTopP        = 0.01
)

// PredictionConfig configures the prediction-endpoint backend variant.
type PredictionConfig struct {
	// PredictURL is the full :predict endpoint URL.
	PredictURL string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// PredictionBackend talks to bearer-token prediction endpoints that wrap
// generation in an instances/predictions envelope.
type PredictionBackend struct {
	url    string
	tokens TokenSource
	client *http.Client
}

func NewPredictionBackend(cfg PredictionConfig) *PredictionBackend {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &PredictionBackend{
		url:    cfg.PredictURL,
		tokens: cfg.Tokens,
		client: client,
	}
}

type predictionRequest struct {
	Instances  []predictionInstance `json:"instances"`
	Parameters predictionParameters `json:"parameters"`
}

type predictionInstance struct {
	Text string `json:"text"`
}

type predictionParameters struct {
	SamplingParams predictionSampling `json:"sampling_params"`
}

type predictionSampling struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
}

type predictionResponse struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	Text     string          `json:"text"`
	MetaInfo *predictionMeta `json:"meta_info"`
}

type predictionMeta struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// streamChunk accepts both chunk shapes prediction endpoints emit.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Predictions []struct {
		Text string `json:"text"`
	} `json:"predictions"`
}

// flattenChatML renders chat messages into the single text field prediction
// endpoints expect, ending with an open assistant turn.
func flattenChatML(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("\n<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func (b *PredictionBackend) Complete(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	token, err := b.tokens.Token()
	if err != nil {
		var refreshErr *TokenRefreshError
		if errors.As(err, &refreshErr) {
			return Result{}, err
		}
		return Result{}, &TokenRefreshError{Err: err}
	}

	sampling := predictionSampling{
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
	}
	if sampling.Temperature == 0 && sampling.TopP == 0 {
		sampling.Temperature = defaultPredictionTemperature
		sampling.TopP = defaultPredictionTopP
	}

	payload := predictionRequest{
		Instances:  []predictionInstance{{Text: flattenChatML(req.Messages)}},
		Parameters: predictionParameters{SamplingParams: sampling},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encoding prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building prediction request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Op: "predict", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, &Error{
			Op:     "predict",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(detail))),
		}
	}

	if req.Stream {
		return b.readStream(ctx, resp.Body, start)
	}
	return b.readPrediction(resp.Body)
}

func (b *PredictionBackend) readPrediction(body io.Reader) (Result, error) {
	var parsed predictionResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return Result{}, &ParseError{Op: "predict", Err: err}
	}
	if len(parsed.Predictions) == 0 {
		return Result{}, &ParseError{Op: "predict", Err: errors.New("response has no predictions")}
	}

	res := Result{Text: parsed.Predictions[0].Text}
	if meta := parsed.Predictions[0].MetaInfo; meta != nil {
		res.Usage = &Usage{
			PromptTokens:     meta.PromptTokens,
			CompletionTokens: meta.CompletionTokens,
		}
	}
	return res, nil
}

// readStream consumes a line-framed stream. Lines may carry an SSE-style
// "data: " prefix; malformed lines are skipped. The call fails only when the
// whole stream yields no parseable chunk.
func (b *PredictionBackend) readStream(ctx context.Context, body io.Reader, start time.Time) (Result, error) {
	var (
		firstToken *time.Duration
		text       strings.Builder
		parsedAny  bool
		lastErr    error
	)

	partial := func() Result {
		return Result{Text: text.String(), FirstToken: firstToken}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return partial(), nil
			}
			return Result{}, &Error{Op: "predict stream", Err: ctx.Err()}
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		content, err := parseStreamLine(line)
		if err != nil {
			lastErr = err
			continue
		}
		parsedAny = true

		if firstToken == nil && strings.TrimSpace(content) != "" {
			d := time.Since(start)
			firstToken = &d
		}
		if content != "" {
			text.WriteString(content)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return partial(), nil
		}
		return Result{}, &Error{Op: "predict stream", Err: err}
	}

	if !parsedAny {
		if lastErr == nil {
			lastErr = errors.New("stream contained no chunks")
		}
		return Result{}, &ParseError{Op: "predict stream", Err: lastErr}
	}
	return partial(), nil
}

func parseStreamLine(line string) (string, error) {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) > 0 {
		return chunk.Choices[0].Delta.Content, nil
	}
	if len(chunk.Predictions) > 0 {
		return chunk.Predictions[0].Text, nil
	}
	return "", errors.New("chunk has neither choices nor predictions")
}
