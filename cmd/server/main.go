package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"llmqualitybench/server"
)

// Run starts the HTTP server and blocks until shutdown
func Run() error {
	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	// Initialize structured logger first
	server.AppLogger = server.NewLogger()

	// Surface vendor misconfiguration early, but keep running; the config
	// file may still provide vendors.
	for _, warning := range server.ValidateEnvironmentConfig() {
		server.AppLogger.Warn("Environment config: %s", warning)
	}

	// Set Gin mode based on environment
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin router without default middleware (we use custom middleware)
	router := gin.New()

	server.SetupRoutes(router)

	// Periodically drop finished jobs so long-lived servers don't
	// accumulate them
	cleanupTicker := time.NewTicker(15 * time.Minute)
	defer cleanupTicker.Stop()
	go func() {
		for range cleanupTicker.C {
			server.GetJobManager().CleanupOldJobs()
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", port),
		Handler:        router,
		ReadTimeout:    5 * time.Minute, // long-running run submissions
		WriteTimeout:   0,               // disabled for SSE connections
		MaxHeaderBytes: 1 << 20,         // 1 MB
	}

	// Start server in goroutine
	go func() {
		server.AppLogger.Info("Server starting on port %s", port)
		server.AppLogger.Info("API endpoints available at http://localhost:%s/api", port)
		server.AppLogger.Info("UI available at http://localhost:%s/ui", port)
		server.AppLogger.Info("WebSocket endpoint available at ws://localhost:%s/ws", port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.AppLogger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	server.AppLogger.Info("Shutting down server...")

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		server.AppLogger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	server.AppLogger.Info("Server exited gracefully")
	return nil
}
