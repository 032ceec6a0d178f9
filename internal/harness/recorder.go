package harness

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"llmqualitybench/internal/backend"
)

var unsafeNameChars = regexp.MustCompile(`[^\w.-]+`)

// OutputFilename builds {domain}_{model}_{feature}_{timestamp}.jsonl with
// runs of unsafe characters collapsed to underscores. The domain is the host
// of the API base URL, "default_openai" when there is none.
func OutputFilename(apiBase, model, feature string, now time.Time) string {
	domain := "default_openai"
	if apiBase != "" {
		if u, err := url.Parse(apiBase); err == nil && u.Host != "" {
			domain = u.Host
		}
	}
	sanitize := func(s string) string {
		return unsafeNameChars.ReplaceAllString(s, "_")
	}
	return fmt.Sprintf("%s_%s_%s_%s.jsonl",
		sanitize(domain), sanitize(model), sanitize(feature),
		now.Format("2006-01-02_15-04-05"))
}

// RecorderConfig describes the run an audit log belongs to. The run-level
// fields are repeated into every success record.
type RecorderConfig struct {
	Dir                string
	APIBase            string
	Model              string
	Feature            string
	Temperature        float32
	MaxTokens          int
	SystemPrompt       string
	UserPromptTemplate string
}

// Recorder appends one JSON line per request outcome to an audit file.
// Writes are serialized, one Write call per line.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	path string
	cfg  RecorderConfig
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(dir, OutputFilename(cfg.APIBase, cfg.Model, cfg.Feature, time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return &Recorder{f: f, path: path, cfg: cfg}, nil
}

// Path is the audit file location.
func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Close() error { return r.f.Close() }

// Outcome carries the per-request fields the audit log needs. A non-empty
// Err marks the request failed and switches to the failure record shape.
type Outcome struct {
	RecordID         int
	Messages         []backend.Message
	GeneratedText    string
	PromptTokens     int
	GenerationTokens int
	LatencySec       float64
	TTFTSec          *float64
	TokensPerSecond  float64
	Err              string
}

type successRecord struct {
	RecordID           int               `json:"record_id"`
	ModelName          string            `json:"model_name"`
	Temperature        float32           `json:"temperature"`
	MaxTokens          int               `json:"max_tokens"`
	Messages           []backend.Message `json:"messages"`
	SystemPrompt       string            `json:"system_prompt"`
	UserPromptTemplate string            `json:"user_prompt_template"`
	GeneratedText      string            `json:"generated_text"`
	PromptTokens       int               `json:"prompt_tokens"`
	GenerationTokens   int               `json:"generation_tokens"`
	LatencySec         float64           `json:"latency_sec"`
	TTFTSec            *float64          `json:"ttft_sec"`
	TokensPerSecond    float64           `json:"tokens_per_second"`
	Success            bool              `json:"success"`
}

type failureRecord struct {
	RecordID  int               `json:"record_id"`
	ModelName string            `json:"model_name"`
	Messages  []backend.Message `json:"messages"`
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
}

// Record appends the outcome as one JSON line.
func (r *Recorder) Record(o Outcome) error {
	if o.Err != "" {
		return r.write(failureRecord{
			RecordID:  o.RecordID,
			ModelName: r.cfg.Model,
			Messages:  o.Messages,
			Success:   false,
			Error:     o.Err,
		})
	}
	return r.write(successRecord{
		RecordID:           o.RecordID,
		ModelName:          r.cfg.Model,
		Temperature:        r.cfg.Temperature,
		MaxTokens:          r.cfg.MaxTokens,
		Messages:           o.Messages,
		SystemPrompt:       r.cfg.SystemPrompt,
		UserPromptTemplate: r.cfg.UserPromptTemplate,
		GeneratedText:      o.GeneratedText,
		PromptTokens:       o.PromptTokens,
		GenerationTokens:   o.GenerationTokens,
		LatencySec:         o.LatencySec,
		TTFTSec:            o.TTFTSec,
		TokensPerSecond:    o.TokensPerSecond,
		Success:            true,
	})
}

func (r *Recorder) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.Write(data); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}
