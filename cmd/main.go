package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"llmqualitybench/internal/backend"
	"llmqualitybench/internal/config"
	"llmqualitybench/internal/prompts"
	"llmqualitybench/internal/utils"
)

const defaultConfigPath = "config.yaml"

func main() {
	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	configPath := pflag.String("config", defaultConfigPath, "Path to the vendors/features config file")
	vendorName := pflag.String("vendor", "", "Named vendor from the config file")
	baseURL := pflag.StringP("base-url", "u", "", "Base URL of an OpenAI-compatible API (ad-hoc vendor)")
	apiKey := pflag.StringP("api-key", "k", "", "API key for ad-hoc vendors (falls back to OPENAI_API_KEY)")
	model := pflag.StringP("model", "m", "", "Model to be used for the requests (discovered when empty)")
	featureName := pflag.String("feature", "default", "Feature (prompt template pair) to exercise")
	csvPath := pflag.String("csv", "", "CSV file with one prompt per row")
	csvColumn := pflag.String("csv-column", "text", "CSV column holding the prompt text")
	numUsers := pflag.IntP("num-users", "n", 10, "Number of concurrent users")
	temperature := pflag.Float32("temperature", 0.7, "Sampling temperature")
	topP := pflag.Float32("top-p", 1.0, "Top-p sampling value")
	maxTokens := pflag.IntP("max-tokens", "t", 2000, "Maximum number of tokens to generate")
	stream := pflag.Bool("stream", true, "Stream responses and measure time to first token")
	timeoutSec := pflag.Int("timeout", 0, "Per-request timeout in seconds (0 disables)")
	outputDir := pflag.StringP("output", "o", "", "Directory for the JSONL audit log")
	sweepStr := pflag.StringP("sweep", "c", "", "Comma-separated concurrency levels; switches to sweep mode")
	sweepOutput := pflag.String("sweep-output", "stats.csv", "Stats CSV written by sweep mode")
	numWords := pflag.Int("num-words", 0, "Generate a synthetic prompt of this many words instead of reading a CSV (sweep mode)")
	format := pflag.StringP("format", "f", "", "Output format (optional)")
	insecureSkipTLSVerify := pflag.Bool("insecure-skip-tls-verify", false, "Skip TLS certificate verification. Use with caution, this is insecure.")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}

	if *vendorName != "" && (*apiKey != "" || *baseURL != "") {
		log.Fatalf("--vendor cannot be combined with --api-key or --base-url")
	}

	// Resolve the vendor: named from the config file, or ad-hoc from flags.
	cfgFile, cfgErr := config.Load(*configPath)
	var vendor *config.Resolved
	var err error
	if *vendorName != "" {
		if cfgErr != nil {
			log.Fatalf("%v", cfgErr)
		}
		vendor, err = cfgFile.Vendor(*vendorName)
		if err != nil {
			log.Fatalf("%v", err)
		}
	} else {
		vendor, err = config.AdHoc(*baseURL, *apiKey)
		if err != nil {
			log.Fatalf("%v", err)
		}
	}

	var feature *config.Feature
	switch {
	case cfgErr == nil:
		feature, err = cfgFile.Feature(*featureName)
		if err != nil {
			log.Fatalf("%v", err)
		}
	case *featureName == "default":
		feature = config.DefaultFeature()
	default:
		log.Fatalf("feature %q needs a config file: %v", *featureName, cfgErr)
	}

	// Discover the model name if not provided.
	modelName := *model
	if modelName == "" {
		if vendor.Prediction() {
			log.Fatalf("--model is required for prediction vendors")
		}
		discovery, err := backend.NewOpenAIBackend(backend.OpenAIConfig{
			BaseURL:               vendor.APIBase,
			APIKey:                vendor.APIKey,
			InsecureSkipTLSVerify: *insecureSkipTLSVerify,
		})
		if err != nil {
			log.Fatalf("Error building client: %v", err)
		}
		modelName, err = discovery.FirstAvailableModel(context.Background())
		if err != nil {
			log.Fatalf("Error discovering model: %v", err)
		}
	}

	setting, err := vendor.ModelSetting(modelName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	sweep := *sweepStr != ""

	var list []prompts.Prompt
	switch {
	case *csvPath != "":
		list, err = prompts.FromCSV(*csvPath, *csvColumn)
		if err != nil {
			log.Fatalf("%v", err)
		}
	case sweep && *numWords > 0:
		list = prompts.Synthetic(1, *numWords)
	case sweep:
		log.Fatalf("--csv or --num-words is required for sweep mode")
	default:
		log.Fatalf("--csv is required")
	}

	q := &QualityRun{
		Vendor:        vendor,
		Feature:       feature,
		FeatureName:   *featureName,
		ModelName:     modelName,
		TokenizerType: setting.TokenizerType,
		Prompts:       list,
		NumUsers:      *numUsers,
		Temperature:   *temperature,
		TopP:          *topP,
		MaxTokens:     *maxTokens,
		Stream:        *stream,
		Timeout:       time.Duration(*timeoutSec) * time.Second,
		OutputDir:     *outputDir,
		SkipTLSVerify: *insecureSkipTLSVerify,
	}

	if sweep {
		levels, err := utils.ParseConcurrencyLevels(*sweepStr)
		if err != nil {
			log.Fatalf("Invalid concurrency levels: %v", err)
		}
		if err := q.runSweep(levels, *sweepOutput); err != nil {
			log.Fatalf("Error running sweep: %v", err)
		}
		return
	}

	if *format == "" {
		failures, err := q.runCli()
		if err != nil {
			log.Fatalf("Error running quality test: %v", err)
		}
		os.Exit(failures)
	}

	result, err := q.run()
	if err != nil {
		log.Fatalf("Error running quality test: %v", err)
	}

	var output string
	switch *format {
	case "json":
		output, err = result.Json()
	case "yaml":
		output, err = result.Yaml()
	default:
		log.Fatalf("Invalid format specified")
	}
	if err != nil {
		log.Fatalf("Error formatting result: %v", err)
	}
	fmt.Println(output)
	os.Exit(result.Summary.Failures)
}
