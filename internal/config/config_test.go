package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfigYAML = `vendors:
  openai:
    api_base: https://api.openai.com/v1
    api_key_env: TEST_OPENAI_KEY
    models:
      gpt-4:
        tokenizer_type: tiktoken
      gpt-3.5-turbo: {}
  vertex:
    predict_url: https://vertex.example.com/v1/endpoints/123:predict
    token_env: TEST_VERTEX_TOKEN
features:
  default:
    system_prompt: You are a helpful assistant.
    user_prompt_template: "{text}"
  summarize:
    system_prompt: Summarize the following text.
    user_prompt_template: "Text: {text}"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Expected config write to succeed, got: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(f.Vendors) != 2 {
		t.Errorf("Expected 2 vendors, got %d", len(f.Vendors))
	}
	openai := f.Vendors["openai"]
	if openai.APIBase != "https://api.openai.com/v1" {
		t.Errorf("Expected OpenAI api_base, got '%s'", openai.APIBase)
	}
	if openai.APIKeyEnv != "TEST_OPENAI_KEY" {
		t.Errorf("Expected api_key_env 'TEST_OPENAI_KEY', got '%s'", openai.APIKeyEnv)
	}
	if openai.Models["gpt-4"].TokenizerType != "tiktoken" {
		t.Errorf("Expected tokenizer_type 'tiktoken', got '%s'", openai.Models["gpt-4"].TokenizerType)
	}

	vertex := f.Vendors["vertex"]
	if vertex.PredictURL == "" || vertex.TokenEnv != "TEST_VERTEX_TOKEN" {
		t.Errorf("Expected vertex prediction settings, got %+v", vertex)
	}

	if len(f.Features) != 2 {
		t.Errorf("Expected 2 features, got %d", len(f.Features))
	}
	if f.Features["summarize"].SystemPrompt != "Summarize the following text." {
		t.Errorf("Expected summarize system prompt, got '%s'", f.Features["summarize"].SystemPrompt)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected a config error, got %T", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "vendors: [not: a: map"))
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

func TestVendorChat(t *testing.T) {
	os.Setenv("TEST_OPENAI_KEY", "sk-test-123")
	defer os.Unsetenv("TEST_OPENAI_KEY")

	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	r, err := f.Vendor("openai")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r.Name != "openai" {
		t.Errorf("Expected name 'openai', got '%s'", r.Name)
	}
	if r.APIKey != "sk-test-123" {
		t.Errorf("Expected resolved API key, got '%s'", r.APIKey)
	}
	if r.Prediction() {
		t.Error("Expected a chat vendor, not a prediction vendor")
	}
}

func TestVendorChatMissingKey(t *testing.T) {
	os.Unsetenv("TEST_OPENAI_KEY")

	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = f.Vendor("openai")
	if err == nil {
		t.Fatal("Expected error when the key env var is not set")
	}
	if !strings.Contains(err.Error(), "TEST_OPENAI_KEY") {
		t.Errorf("Expected error to name the env var, got: %v", err)
	}
}

func TestVendorPrediction(t *testing.T) {
	os.Setenv("TEST_VERTEX_TOKEN", "ya29.token")
	defer os.Unsetenv("TEST_VERTEX_TOKEN")

	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	r, err := f.Vendor("vertex")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !r.Prediction() {
		t.Error("Expected a prediction vendor")
	}
	if r.Tokens == nil {
		t.Fatal("Expected a token source")
	}

	token, err := r.Tokens.Token()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if token != "ya29.token" {
		t.Errorf("Expected token from env, got '%s'", token)
	}
}

func TestVendorUnknown(t *testing.T) {
	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = f.Vendor("nowhere")
	if err == nil {
		t.Fatal("Expected error for unknown vendor")
	}
	if !strings.Contains(err.Error(), "openai, vertex") {
		t.Errorf("Expected sorted vendor list in error, got: %v", err)
	}
}

func TestResolveVendorValidation(t *testing.T) {
	tests := []struct {
		name    string
		vendor  Vendor
		wantErr string
	}{
		{
			name:    "both api_base and predict_url",
			vendor:  Vendor{APIBase: "https://a/v1", PredictURL: "https://b:predict"},
			wantErr: "sets both",
		},
		{
			name:    "api_base without api_key_env",
			vendor:  Vendor{APIBase: "https://a/v1"},
			wantErr: "no api_key_env",
		},
		{
			name:    "predict_url without token source",
			vendor:  Vendor{PredictURL: "https://b:predict"},
			wantErr: "token_env or token_file",
		},
		{
			name:    "neither url",
			vendor:  Vendor{},
			wantErr: "neither api_base nor predict_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveVendor("bad", tt.vendor)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing '%s', got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestVendorPredictionTokenFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("file-token\n"), 0o600); err != nil {
		t.Fatalf("Expected token write to succeed, got: %v", err)
	}

	r, err := resolveVendor("vertex", Vendor{
		PredictURL: "https://vertex.example.com:predict",
		TokenFile:  tokenPath,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	token, err := r.Tokens.Token()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if token != "file-token" {
		t.Errorf("Expected trimmed file token, got '%s'", token)
	}
}

func TestFeature(t *testing.T) {
	f, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	feat, err := f.Feature("summarize")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if feat.UserPromptTemplate != "Text: {text}" {
		t.Errorf("Expected summarize template, got '%s'", feat.UserPromptTemplate)
	}

	_, err = f.Feature("translate")
	if err == nil {
		t.Fatal("Expected error for unknown feature")
	}
	if !strings.Contains(err.Error(), "default, summarize") {
		t.Errorf("Expected sorted feature list in error, got: %v", err)
	}
}

func TestDefaultFeature(t *testing.T) {
	feat := DefaultFeature()
	if feat.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("Expected default system prompt, got '%s'", feat.SystemPrompt)
	}
	if feat.UserPromptTemplate != "{text}" {
		t.Errorf("Expected default template '{text}', got '%s'", feat.UserPromptTemplate)
	}
}

func TestModelSetting(t *testing.T) {
	open := &Resolved{Name: "adhoc"}
	if _, err := open.ModelSetting("anything"); err != nil {
		t.Errorf("Expected vendor without models to accept any name, got: %v", err)
	}

	r := &Resolved{
		Name: "openai",
		Models: map[string]Model{
			"gpt-4":         {TokenizerType: "tiktoken"},
			"gpt-3.5-turbo": {},
		},
	}

	m, err := r.ModelSetting("gpt-4")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if m.TokenizerType != "tiktoken" {
		t.Errorf("Expected tokenizer_type 'tiktoken', got '%s'", m.TokenizerType)
	}

	_, err = r.ModelSetting("mystery")
	if err == nil {
		t.Fatal("Expected error for unlisted model")
	}
	if !strings.Contains(err.Error(), "gpt-3.5-turbo, gpt-4") {
		t.Errorf("Expected sorted model list in error, got: %v", err)
	}
}

func TestAdHoc(t *testing.T) {
	originalEnv := map[string]string{
		"OPENAI_API_KEY": os.Getenv("OPENAI_API_KEY"),
	}
	defer func() {
		for key, value := range originalEnv {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	os.Unsetenv("OPENAI_API_KEY")

	r, err := AdHoc("http://localhost:8000/v1", "sk-explicit")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r.APIKey != "sk-explicit" {
		t.Errorf("Expected explicit key, got '%s'", r.APIKey)
	}
	if r.Name != "default" {
		t.Errorf("Expected name 'default', got '%s'", r.Name)
	}

	os.Setenv("OPENAI_API_KEY", "sk-from-env")
	r, err = AdHoc("http://localhost:8000/v1", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r.APIKey != "sk-from-env" {
		t.Errorf("Expected key from OPENAI_API_KEY, got '%s'", r.APIKey)
	}

	os.Unsetenv("OPENAI_API_KEY")
	_, err = AdHoc("http://localhost:8000/v1", "")
	if err == nil {
		t.Fatal("Expected error without any key")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("Expected error to mention OPENAI_API_KEY, got: %v", err)
	}
}
