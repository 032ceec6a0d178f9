package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JobHandlers contains the HTTP handlers for the async job API
type JobHandlers struct {
	jobManager *JobManager
}

// NewJobHandlers creates handlers bound to a job manager
func NewJobHandlers(jobManager *JobManager) *JobHandlers {
	return &JobHandlers{
		jobManager: jobManager,
	}
}

// StartRun starts a new quality run job and returns the job ID
func (h *JobHandlers) StartRun(c *gin.Context) {
	AppLogger.InfoWithFields("StartRun received request", map[string]interface{}{
		"clientIP": c.ClientIP(),
	})

	// Keep the raw body around so bind errors can be diagnosed
	body, _ := c.GetRawData()
	AppLogger.Debug("StartRun raw request body: %s", string(body))
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var request RunRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		AppLogger.Error("StartRun failed to bind JSON: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := validateRunRequest(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Validation Error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	request = request.withDefaults()

	jobID := h.jobManager.CreateJob(request)
	go h.jobManager.RunJob(jobID, request)

	AppLogger.InfoWithFields("Started run job", map[string]interface{}{
		"jobId":   jobID,
		"vendor":  request.Vendor,
		"model":   request.Model,
		"prompts": len(request.Prompts),
	})

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":   jobID,
		"status":  "started",
		"message": "Run started successfully",
		"sse": gin.H{
			"url":     "/api/jobs/" + jobID + "/stream",
			"message": "Connect to SSE endpoint for progress updates",
		},
		"websocket": gin.H{
			"url":     "/ws",
			"message": "Connect to WebSocket for real-time progress updates",
		},
	})
}

// validateRunRequest checks the constraints gin bindings cannot express
func validateRunRequest(request *RunRequest) error {
	if request.Vendor == "" && request.BaseURL == "" {
		return fmt.Errorf("either vendor or baseUrl is required")
	}
	if request.Vendor != "" && request.BaseURL != "" {
		return fmt.Errorf("vendor and baseUrl are mutually exclusive")
	}
	if request.APIKeyEnv != "" && request.BaseURL == "" {
		return fmt.Errorf("apiKeyEnv is only valid together with baseUrl")
	}
	for i, p := range request.Prompts {
		if p == "" {
			return fmt.Errorf("prompt %d is empty", i)
		}
	}
	return nil
}

// GetJobStatus returns the current state of a job
func (h *JobHandlers) GetJobStatus(c *gin.Context) {
	jobID := c.Param("jobId")

	job, exists := h.jobManager.Snapshot(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: fmt.Sprintf("Job %s not found", jobID),
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs returns all known jobs
func (h *JobHandlers) ListJobs(c *gin.Context) {
	jobs := h.jobManager.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob cancels a running job
func (h *JobHandlers) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")

	if !h.jobManager.CancelJob(jobID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: fmt.Sprintf("Job %s not found or not running", jobID),
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":   jobID,
		"status":  "cancelled",
		"message": "Job cancelled successfully",
	})
}

// CleanupJobs removes old finished jobs
func (h *JobHandlers) CleanupJobs(c *gin.Context) {
	h.jobManager.CleanupOldJobs()
	c.JSON(http.StatusOK, gin.H{
		"message": "Cleanup completed",
	})
}
