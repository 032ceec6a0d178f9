package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v4"

	"llmqualitybench/internal/backend"
)

// Error is a configuration problem detected before any request is made.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// File is the on-disk configuration: named vendors (endpoints plus
// credential sources) and named features (prompt templates).
type File struct {
	Vendors  map[string]Vendor  `yaml:"vendors" json:"vendors"`
	Features map[string]Feature `yaml:"features" json:"features"`
}

// Vendor describes one endpoint. Chat vendors set api_base + api_key_env;
// prediction vendors set predict_url plus token_env or token_file.
type Vendor struct {
	APIBase    string           `yaml:"api_base" json:"api_base,omitempty"`
	APIKeyEnv  string           `yaml:"api_key_env" json:"api_key_env,omitempty"`
	PredictURL string           `yaml:"predict_url" json:"predict_url,omitempty"`
	TokenEnv   string           `yaml:"token_env" json:"token_env,omitempty"`
	TokenFile  string           `yaml:"token_file" json:"token_file,omitempty"`
	Models     map[string]Model `yaml:"models" json:"models,omitempty"`
}

// Model holds per-model settings inside a vendor.
type Model struct {
	TokenizerType string `yaml:"tokenizer_type" json:"tokenizer_type,omitempty"`
}

// Feature pairs a system prompt with a user prompt template. The template's
// "{text}" placeholder receives each prompt's text.
type Feature struct {
	SystemPrompt       string `yaml:"system_prompt" json:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template" json:"user_prompt_template"`
}

// Load reads and parses a config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Errorf("reading config %s: %v", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, Errorf("parsing config %s: %v", path, err)
	}
	return &f, nil
}

// Resolved is a vendor after validation, with secrets pulled from the
// environment and the prediction token source wrapped in its cache.
type Resolved struct {
	Name       string
	APIBase    string
	APIKey     string
	PredictURL string
	Tokens     backend.TokenSource
	Models     map[string]Model
}

// Prediction reports whether the vendor uses the prediction-endpoint variant.
func (r *Resolved) Prediction() bool { return r.PredictURL != "" }

// ModelSetting returns the vendor's entry for the model. Vendors that list
// models accept only those; vendors without a models map accept any name.
func (r *Resolved) ModelSetting(model string) (Model, error) {
	if len(r.Models) == 0 {
		return Model{}, nil
	}
	m, ok := r.Models[model]
	if !ok {
		names := make([]string, 0, len(r.Models))
		for name := range r.Models {
			names = append(names, name)
		}
		sort.Strings(names)
		return Model{}, Errorf("model %q is not supported by vendor %s (supported: %s)",
			model, r.Name, strings.Join(names, ", "))
	}
	return m, nil
}

// Vendor validates and resolves the named vendor.
func (f *File) Vendor(name string) (*Resolved, error) {
	v, ok := f.Vendors[name]
	if !ok {
		return nil, Errorf("vendor %q is not defined in the config (available: %s)",
			name, strings.Join(sortedKeys(f.Vendors), ", "))
	}
	return resolveVendor(name, v)
}

// Feature returns the named feature.
func (f *File) Feature(name string) (*Feature, error) {
	feat, ok := f.Features[name]
	if !ok {
		return nil, Errorf("feature %q is not defined in the config (available: %s)",
			name, strings.Join(sortedKeys(f.Features), ", "))
	}
	return &feat, nil
}

// DefaultFeature is used when no config file is present.
func DefaultFeature() *Feature {
	return &Feature{
		SystemPrompt:       "You are a helpful assistant.",
		UserPromptTemplate: "{text}",
	}
}

// AdHoc builds a chat vendor from a direct base URL and API key, falling
// back to the OPENAI_API_KEY environment variable.
func AdHoc(apiBase, apiKey string) (*Resolved, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, Errorf("no API key: pass --api-key or set OPENAI_API_KEY")
	}
	return &Resolved{Name: "default", APIBase: apiBase, APIKey: apiKey}, nil
}

func resolveVendor(name string, v Vendor) (*Resolved, error) {
	switch {
	case v.APIBase != "" && v.PredictURL != "":
		return nil, Errorf("vendor %q sets both api_base and predict_url", name)

	case v.APIBase != "":
		if v.APIKeyEnv == "" {
			return nil, Errorf("vendor %q has no api_key_env", name)
		}
		key := os.Getenv(v.APIKeyEnv)
		if key == "" {
			return nil, Errorf("API key for vendor %q not found: environment variable %s is not set",
				name, v.APIKeyEnv)
		}
		return &Resolved{Name: name, APIBase: v.APIBase, APIKey: key, Models: v.Models}, nil

	case v.PredictURL != "":
		var src backend.TokenSource
		switch {
		case v.TokenEnv != "":
			src = backend.EnvTokenSource{Var: v.TokenEnv}
		case v.TokenFile != "":
			src = backend.FileTokenSource{Path: v.TokenFile}
		default:
			return nil, Errorf("vendor %q needs token_env or token_file for its prediction endpoint", name)
		}
		return &Resolved{
			Name:       name,
			PredictURL: v.PredictURL,
			Tokens:     backend.NewCachedTokenSource(src),
			Models:     v.Models,
		}, nil

	default:
		return nil, Errorf("vendor %q sets neither api_base nor predict_url", name)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
