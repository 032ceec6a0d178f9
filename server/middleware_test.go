package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestLoadCORSConfigDefaults(t *testing.T) {
	os.Unsetenv("CORS_ORIGIN")
	os.Unsetenv("CORS_ALLOW_ORIGINS")

	config := LoadCORSConfigFromEnv()
	if len(config.AllowOrigins) != 1 || config.AllowOrigins[0] != "*" {
		t.Errorf("Expected wildcard origin by default, got %v", config.AllowOrigins)
	}
	if !config.AllowCredentials {
		t.Error("Expected credentials to be allowed by default")
	}
	if config.MaxAge != 86400 {
		t.Errorf("Expected max age 86400, got %d", config.MaxAge)
	}
}

func TestLoadCORSConfigFromEnv(t *testing.T) {
	os.Setenv("CORS_ORIGIN", "http://a.example.com, http://b.example.com")
	defer os.Unsetenv("CORS_ORIGIN")

	config := LoadCORSConfigFromEnv()
	if len(config.AllowOrigins) != 2 {
		t.Fatalf("Expected 2 origins, got %d", len(config.AllowOrigins))
	}
	if config.AllowOrigins[1] != "http://b.example.com" {
		t.Errorf("Expected trimmed origin, got '%s'", config.AllowOrigins[1])
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware())
	router.POST("/api/export/json", ExportJSONHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/export/json", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard allow origin, got '%s'", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials header on preflight response")
	}
}

func TestRequestValidationRejectsNonJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestValidationMiddleware())
	router.POST("/api/echo", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/webhook", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("Expected status 415, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected error JSON, got: %v", err)
	}
	if resp.Error != "Unsupported Media Type" {
		t.Errorf("Expected error 'Unsupported Media Type', got '%s'", resp.Error)
	}

	// JSON bodies pass
	if w := postJSON(router, "/api/echo", "{}"); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for JSON body, got %d", w.Code)
	}

	// Paths outside /api are not guarded
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 outside /api, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Errorf("Expected %s '%s', got '%s'", name, want, got)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware())
	router.GET("/boom", func(c *gin.Context) { panic("handler exploded") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected error JSON, got: %v", err)
	}
	if resp.Error != "Internal Server Error" {
		t.Errorf("Expected error 'Internal Server Error', got '%s'", resp.Error)
	}
}
