package server

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"llmqualitybench/internal/config"
)

// Vendors can be configured without a YAML file through environment
// variables:
//
//	VENDOR1_NAME, VENDOR1_BASE_URL, VENDOR1_API_KEY_ENV, VENDOR1_MODELS,
//	VENDOR1_TOKENIZER (and the same under VENDOR2_*)
//	VENDOR1_PREDICT_URL, VENDOR1_TOKEN_ENV, VENDOR1_TOKEN_FILE for
//	prediction endpoints
//
// plus a generic fallback when neither block is set:
//
//	BASE_URL, API_KEY or OPENAI_API_KEY, MODELS
var envVendorPrefixes = []string{"VENDOR1", "VENDOR2"}

// VendorsFromEnvironment assembles vendor definitions from environment
// variables. The returned map is empty when nothing is configured.
func VendorsFromEnvironment() map[string]config.Vendor {
	vendors := make(map[string]config.Vendor)

	for _, prefix := range envVendorPrefixes {
		name, vendor, err := parseEnvVendor(prefix)
		if err != nil {
			if name != "" {
				AppLogger.Warn("Skipping %s configuration: %v", prefix, err)
			}
			continue
		}
		vendors[name] = vendor
	}

	if len(vendors) > 0 {
		return vendors
	}

	if name, vendor, ok := genericEnvVendor(); ok {
		vendors[name] = vendor
	}
	return vendors
}

// parseEnvVendor reads one VENDORn_* block. The name comes back even on
// error so callers can tell "unset" from "misconfigured".
func parseEnvVendor(prefix string) (string, config.Vendor, error) {
	name := os.Getenv(prefix + "_NAME")
	if name == "" {
		return "", config.Vendor{}, fmt.Errorf("%s_NAME not set", prefix)
	}

	baseURL := os.Getenv(prefix + "_BASE_URL")
	predictURL := os.Getenv(prefix + "_PREDICT_URL")

	v := config.Vendor{APIBase: baseURL, PredictURL: predictURL}

	switch {
	case baseURL != "" && predictURL != "":
		return name, config.Vendor{}, fmt.Errorf("%s_BASE_URL and %s_PREDICT_URL are mutually exclusive", prefix, prefix)
	case baseURL != "":
		if !isValidURL(baseURL) {
			return name, config.Vendor{}, fmt.Errorf("invalid %s_BASE_URL: %s", prefix, baseURL)
		}
		v.APIKeyEnv = os.Getenv(prefix + "_API_KEY_ENV")
		if v.APIKeyEnv == "" {
			v.APIKeyEnv = "OPENAI_API_KEY"
		}
	case predictURL != "":
		if !isValidURL(predictURL) {
			return name, config.Vendor{}, fmt.Errorf("invalid %s_PREDICT_URL: %s", prefix, predictURL)
		}
		v.TokenEnv = os.Getenv(prefix + "_TOKEN_ENV")
		v.TokenFile = os.Getenv(prefix + "_TOKEN_FILE")
		if v.TokenEnv == "" && v.TokenFile == "" {
			return name, config.Vendor{}, fmt.Errorf("%s_PREDICT_URL requires %s_TOKEN_ENV or %s_TOKEN_FILE", prefix, prefix, prefix)
		}
	default:
		return name, config.Vendor{}, fmt.Errorf("%s_BASE_URL or %s_PREDICT_URL is required", prefix, prefix)
	}

	if models := parseEnvModels(os.Getenv(prefix+"_MODELS"), os.Getenv(prefix+"_TOKENIZER")); len(models) > 0 {
		v.Models = models
	}

	return name, v, nil
}

// genericEnvVendor builds the "default" vendor from BASE_URL plus whichever
// key variable is populated.
func genericEnvVendor() (string, config.Vendor, bool) {
	baseURL := os.Getenv("BASE_URL")
	hasAPIKey := os.Getenv("API_KEY") != ""
	hasOpenAIKey := os.Getenv("OPENAI_API_KEY") != ""

	if baseURL == "" && !hasAPIKey && !hasOpenAIKey {
		return "", config.Vendor{}, false
	}

	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if !isValidURL(baseURL) {
		AppLogger.Warn("Skipping generic configuration: invalid BASE_URL: %s", baseURL)
		return "", config.Vendor{}, false
	}

	keyEnv := "OPENAI_API_KEY"
	if hasAPIKey {
		keyEnv = "API_KEY"
	}

	v := config.Vendor{APIBase: baseURL, APIKeyEnv: keyEnv}
	if models := parseEnvModels(os.Getenv("MODELS"), ""); len(models) > 0 {
		v.Models = models
	}
	return "default", v, true
}

// parseEnvModels splits a comma-separated model list, applying the same
// tokenizer type to every entry.
func parseEnvModels(modelsStr, tokenizer string) map[string]config.Model {
	if modelsStr == "" {
		return nil
	}
	models := make(map[string]config.Model)
	for _, m := range strings.Split(modelsStr, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			models[m] = config.Model{TokenizerType: tokenizer}
		}
	}
	return models
}

// IsEnvironmentConfigAvailable checks if any vendor can come from the
// environment
func IsEnvironmentConfigAvailable() bool {
	for _, prefix := range envVendorPrefixes {
		if os.Getenv(prefix+"_NAME") != "" {
			return true
		}
	}
	return os.Getenv("BASE_URL") != "" || os.Getenv("API_KEY") != "" || os.Getenv("OPENAI_API_KEY") != ""
}

// ValidateEnvironmentConfig reports misconfigured vendor variables without
// resolving any secrets
func ValidateEnvironmentConfig() []string {
	var errors []string

	for _, prefix := range envVendorPrefixes {
		if os.Getenv(prefix+"_NAME") == "" {
			continue
		}
		if _, _, err := parseEnvVendor(prefix); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if baseURL := os.Getenv("BASE_URL"); baseURL != "" && !isValidURL(baseURL) {
		errors = append(errors, fmt.Sprintf("invalid BASE_URL: %s", baseURL))
	}

	return errors
}

// isValidURL validates if a URL is properly formatted
func isValidURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	// Check if it has a scheme and host
	return parsedURL.Scheme != "" && parsedURL.Host != ""
}
