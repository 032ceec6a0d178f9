package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"llmqualitybench/internal/harness"
	"llmqualitybench/internal/report"
)

func newAPIRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/health", HealthHandler)
	router.GET("/api/vendors", VendorsHandler)
	router.POST("/api/export/json", ExportJSONHandler)
	router.POST("/api/export/csv", ExportCSVHandler)
	return router
}

func exportResultFixture() RunResult {
	ttft := 0.25
	return RunResult{
		Model:   "gpt-4",
		Vendor:  "openai",
		Feature: "default",
		Records: []harness.Record{
			{Session: 0, Query: 1, Success: true, TTFT: &ttft, TotalTime: 1.5, OutputTokens: 42, TokensPerSec: 28},
			{Session: 1, Query: 2, Success: false, Error: "connection refused, retry later"},
		},
		Summary: report.Summary{
			Total:            2,
			Successes:        1,
			Failures:         1,
			TTFT:             report.MetricSummary{Mean: 0.25, Samples: 1},
			TokensPerSec:     report.MetricSummary{Mean: 28, Samples: 1},
			RoundTrip:        report.MetricSummary{Mean: 1.5, Samples: 1},
			GlobalThroughput: 28,
			TotalDuration:    1.5,
		},
		OutputPath: "results/run.jsonl",
		Timestamp:  time.Date(2025, 3, 14, 9, 30, 5, 0, time.UTC),
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newAPIRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected health JSON, got: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got '%s'", resp.Version)
	}
	if resp.Timestamp.IsZero() {
		t.Error("Expected a non-zero timestamp")
	}
}

func TestVendorsEndpoint(t *testing.T) {
	defer clearVendorEnv()()
	withConfigPath(t, writeTestConfig(t, discoveryTestConfig))

	os.Setenv("DISCOVERY_TEST_KEY", "sk-handler-secret")
	defer os.Unsetenv("DISCOVERY_TEST_KEY")

	router := newAPIRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/vendors", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp VendorsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected vendors JSON, got: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 vendors, got %d", resp.Count)
	}

	if strings.Contains(w.Body.String(), "sk-handler-secret") {
		t.Error("Expected API key value to never appear in the response")
	}
	if !strings.Contains(w.Body.String(), "DISCOVERY_TEST_KEY") {
		t.Error("Expected the env var name in the response")
	}
}

func TestExportJSONEndpoint(t *testing.T) {
	router := newAPIRouter()

	body, err := json.Marshal(exportResultFixture())
	if err != nil {
		t.Fatalf("Expected fixture to marshal, got: %v", err)
	}

	w := postJSON(router, "/api/export/json", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	disposition := w.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment; filename=run_results_") {
		t.Errorf("Expected attachment disposition, got '%s'", disposition)
	}
	if !strings.HasSuffix(disposition, ".json") {
		t.Errorf("Expected a .json filename, got '%s'", disposition)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("Expected JSON content type, got '%s'", ct)
	}

	var roundTrip RunResult
	if err := json.Unmarshal(w.Body.Bytes(), &roundTrip); err != nil {
		t.Fatalf("Expected result JSON, got: %v", err)
	}
	if roundTrip.Model != "gpt-4" {
		t.Errorf("Expected model 'gpt-4', got '%s'", roundTrip.Model)
	}
	if len(roundTrip.Records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(roundTrip.Records))
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	router := newAPIRouter()

	body, err := json.Marshal(exportResultFixture())
	if err != nil {
		t.Fatalf("Expected fixture to marshal, got: %v", err)
	}

	w := postJSON(router, "/api/export/csv", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	disposition := w.Header().Get("Content-Disposition")
	if !strings.HasSuffix(disposition, ".csv") {
		t.Errorf("Expected a .csv filename, got '%s'", disposition)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Errorf("Expected CSV content type, got '%s'", ct)
	}
	if !strings.Contains(w.Body.String(), "Model,Vendor,Feature") {
		t.Errorf("Expected CSV header in body, got '%s'", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "gpt-4,openai,default") {
		t.Error("Expected record rows in the CSV body")
	}
}

func TestExportBadPayload(t *testing.T) {
	router := newAPIRouter()

	for _, path := range []string{"/api/export/json", "/api/export/csv"} {
		w := postJSON(router, path, "{not json")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", path, w.Code)
		}

		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Expected error JSON for %s, got: %v", path, err)
		}
		if resp.Error != "Bad Request" {
			t.Errorf("Expected error 'Bad Request' for %s, got '%s'", path, resp.Error)
		}
	}
}

func TestGenerateCSV(t *testing.T) {
	csv := generateCSV(exportResultFixture())
	lines := strings.Split(csv, "\n")

	wantHeader := "Model,Vendor,Feature,Session,Query,Success,TTFT (s),Total Time (s),Output Tokens,Tokens/s,Error"
	if lines[0] != wantHeader {
		t.Errorf("Expected header '%s', got '%s'", wantHeader, lines[0])
	}
	if lines[1] != "gpt-4,openai,default,0,1,true,0.250,1.500,42,28.00," {
		t.Errorf("Unexpected success row: '%s'", lines[1])
	}
	if lines[2] != `gpt-4,openai,default,1,2,false,,0.000,0,0.00,"connection refused, retry later"` {
		t.Errorf("Unexpected failure row: '%s'", lines[2])
	}

	for _, want := range []string{
		"Summary",
		"Total Queries,2",
		"Successful Queries,1",
		"Failed Queries,1",
		"TTFT Mean (s),0.250",
		"Tokens/s Mean,28.00",
		"Round Trip Mean (s),1.500",
		"Global Throughput (tokens/s),28.00",
		"Total Duration (s),1.50",
		"Audit Log,results/run.jsonl",
		"Timestamp,2025-03-14T09:30:05Z",
	} {
		if !strings.Contains(csv, want) {
			t.Errorf("Expected CSV to contain '%s'", want)
		}
	}
}

func TestGenerateCSVSanitizesFloats(t *testing.T) {
	results := RunResult{
		Model:   "m",
		Feature: "default",
		Records: []harness.Record{
			{Session: 0, Query: 1, Success: true, TotalTime: math.Inf(1), TokensPerSec: math.NaN()},
		},
		Summary: report.Summary{
			Total:            1,
			Successes:        1,
			TTFT:             report.MetricSummary{Mean: math.NaN()},
			GlobalThroughput: math.Inf(-1),
		},
		Timestamp: time.Now(),
	}

	csv := generateCSV(results)
	if strings.Contains(csv, "NaN") {
		t.Error("Expected NaN values to be sanitized")
	}
	if strings.Contains(csv, "Inf") {
		t.Error("Expected Inf values to be sanitized")
	}
}

func TestSanitizeFloat(t *testing.T) {
	if got := sanitizeFloat(1.5); got != 1.5 {
		t.Errorf("Expected 1.5 to pass through, got %v", got)
	}
	if got := sanitizeFloat(math.Inf(1)); got != math.MaxFloat64 {
		t.Errorf("Expected +Inf to clamp to MaxFloat64, got %v", got)
	}
	if got := sanitizeFloat(math.Inf(-1)); got != 0 {
		t.Errorf("Expected -Inf to clamp to 0, got %v", got)
	}
	if got := sanitizeFloat(math.NaN()); got != 0 {
		t.Errorf("Expected NaN to clamp to 0, got %v", got)
	}
}

func TestEscapeCsvField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has,comma", `"has,comma"`},
		{`has "quote"`, `"has ""quote"""`},
		{"has\nnewline", "\"has\nnewline\""},
	}

	for _, tt := range tests {
		if got := escapeCsvField(tt.in); got != tt.want {
			t.Errorf("Expected escapeCsvField(%q) = %q, got %q", tt.in, tt.want, got)
		}
	}
}
