package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible backend variant.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// InsecureSkipTLSVerify disables certificate verification. Insecure,
	// for self-signed test endpoints only.
	InsecureSkipTLSVerify bool
}

// OpenAIBackend talks to OpenAI-compatible chat completion endpoints.
type OpenAIBackend struct {
	client *openai.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.InsecureSkipTLSVerify {
		// Clone the default Transport to preserve its settings
		defaultTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("http.DefaultTransport is not an *http.Transport")
		}
		tr := defaultTransport.Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		clientConfig.HTTPClient = &http.Client{Transport: tr}
	}

	return &OpenAIBackend{client: openai.NewClientWithConfig(clientConfig)}, nil
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if req.Stream {
		return b.completeStream(ctx, req)
	}
	return b.complete(ctx, req)
}

func (b *OpenAIBackend) chatRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		// The deprecated `MaxTokens` stays set for backward compatibility
		// with some older API servers.
		MaxTokens:           req.MaxTokens,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Sampling.Temperature,
		TopP:                req.Sampling.TopP,
	}
}

func (b *OpenAIBackend) completeStream(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	chatReq := b.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return Result{}, wrapOpenAIError("chat completion stream", err)
	}
	defer stream.Close()

	var (
		firstToken *time.Duration
		usage      *Usage
		text       strings.Builder
	)

	partial := func() Result {
		return Result{Text: text.String(), FirstToken: firstToken, Usage: usage}
	}

	for {
		// Check for cancellation between chunks. A cancelled run keeps the
		// partial output it has seen so far.
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return partial(), nil
			}
			return Result{}, wrapOpenAIError("chat completion stream", ctx.Err())
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return partial(), nil
			}
			return Result{}, wrapOpenAIError("chat completion stream", err)
		}

		if len(resp.Choices) > 0 {
			content := resp.Choices[0].Delta.Content
			if firstToken == nil && strings.TrimSpace(content) != "" {
				d := time.Since(start)
				firstToken = &d
			}
			if content != "" {
				text.WriteString(content)
			}
		}

		if resp.Usage != nil {
			usage = &Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}
		}
	}

	return partial(), nil
}

func (b *OpenAIBackend) complete(ctx context.Context, req Request) (Result, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.chatRequest(req))
	if err != nil {
		return Result{}, wrapOpenAIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, &ParseError{Op: "chat completion", Err: errors.New("response has no choices")}
	}
	return Result{
		Text: resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// FirstAvailableModel retrieves the first model the endpoint advertises.
func (b *OpenAIBackend) FirstAvailableModel(ctx context.Context) (string, error) {
	modelList, err := b.client.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list models: %w", err)
	}

	if len(modelList.Models) == 0 {
		return "", fmt.Errorf("no models available")
	}

	return modelList.Models[0].ID, nil
}
