package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(router *gin.Engine) {
	jobManager := GetJobManager()
	sseHandler := NewSSEHandler(jobManager)
	jobHandlers := NewJobHandlers(jobManager)

	// Apply global middleware in order
	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())

	// API routes group
	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", HealthHandler)

		api.GET("/status", func(c *gin.Context) {
			SystemStatusHandler(c, jobManager)
		})

		// Vendor discovery endpoint
		api.GET("/vendors", VendorsHandler)

		// Quality run execution
		api.POST("/runs", jobHandlers.StartRun)

		// Job management endpoints
		api.GET("/jobs/:jobId", jobHandlers.GetJobStatus)
		api.POST("/jobs/:jobId/cancel", jobHandlers.CancelJob)
		api.GET("/jobs", jobHandlers.ListJobs)
		api.POST("/jobs/cleanup", jobHandlers.CleanupJobs)

		// SSE endpoints for real-time progress
		api.OPTIONS("/jobs/:jobId/stream", func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Cache-Control")
			c.Status(200)
		})
		api.GET("/jobs/:jobId/stream", sseHandler.StreamJobProgress)
		api.GET("/system-status/stream", sseHandler.StreamSystemStatus)

		// Export endpoints
		api.POST("/export/json", ExportJSONHandler)
		api.POST("/export/csv", ExportCSVHandler)
	}

	// WebSocket endpoint for typed progress envelopes
	router.GET("/ws", jobManager.Hub().HandleWebSocket)

	// Configure static file serving for the frontend
	staticPath := os.Getenv("STATIC_PATH")
	if staticPath == "" {
		staticPath = "dist"
	}

	// Root endpoint shows API info when no frontend is built
	router.GET("/", func(c *gin.Context) {
		indexPath := filepath.Join(staticPath, "index.html")
		if _, err := os.Stat(indexPath); os.IsNotExist(err) {
			c.JSON(200, gin.H{
				"message": "LLM Quality Bench API",
				"version": "1.0.0",
				"status":  "ok",
				"endpoints": gin.H{
					"health":  "/api/health",
					"vendors": "/api/vendors",
					"runs":    "/api/runs",
					"jobs":    "/api/jobs",
					"export": gin.H{
						"json": "/api/export/json",
						"csv":  "/api/export/csv",
					},
					"websocket": "/ws",
					"ui":        "/ui (frontend not built)",
				},
			})
			return
		}

		c.Redirect(http.StatusMovedPermanently, "/ui/")
	})

	// Serve static files from /ui path
	router.StaticFS("/ui", http.Dir(staticPath))

	router.NoRoute(func(c *gin.Context) {
		// API requests get a JSON 404
		if len(c.Request.URL.Path) >= 4 && c.Request.URL.Path[:4] == "/api" {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}

		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}
