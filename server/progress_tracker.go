package server

import (
	"sync"
	"time"
)

// ProgressTracker manages progress reporting for quality-run jobs
type ProgressTracker struct {
	JobID            string
	StartTime        time.Time
	TotalQueries     int
	CompletedQueries int
	Model            string
	Feature          string
	Status           string // "running", "completed", "failed", "cancelled"
	Hub              *Hub
	mutex            sync.RWMutex
	lastBroadcast    time.Time
	throttleInterval time.Duration
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(jobID string, totalQueries int, hub *Hub) *ProgressTracker {
	return &ProgressTracker{
		JobID:            jobID,
		StartTime:        time.Now(),
		TotalQueries:     totalQueries,
		Status:           "running",
		Hub:              hub,
		throttleInterval: 1 * time.Second, // Throttle to max 1 update per second
	}
}

// SetRun records which model and feature the job is exercising
func (pt *ProgressTracker) SetRun(model, feature string) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.Model = model
	pt.Feature = feature
}

// UpdateProgress updates the completed-query count and broadcasts if
// throttling allows. The final update always goes out so clients see 100%.
func (pt *ProgressTracker) UpdateProgress(completed, total int) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.CompletedQueries = completed
	if total > 0 {
		pt.TotalQueries = total
	}

	now := time.Now()
	if completed >= pt.TotalQueries || now.Sub(pt.lastBroadcast) >= pt.throttleInterval {
		pt.broadcastProgress()
		pt.lastBroadcast = now
	}
}

// SetStatus updates the job status and broadcasts immediately
func (pt *ProgressTracker) SetStatus(status string, message string) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.Status = status

	// Status changes always go out immediately (no throttling)
	pt.broadcastStatus(message)
}

// GetProgress returns the current progress information
func (pt *ProgressTracker) GetProgress() ProgressUpdate {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	return pt.progressLocked()
}

// progressLocked builds a ProgressUpdate. Callers must hold the mutex.
func (pt *ProgressTracker) progressLocked() ProgressUpdate {
	elapsed := time.Since(pt.StartTime).Seconds()

	var progress float64
	if pt.TotalQueries > 0 {
		progress = float64(pt.CompletedQueries) / float64(pt.TotalQueries) * 100
	}

	// Estimate remaining time based on current progress
	var estimatedRemaining float64
	if progress > 0 {
		estimatedRemaining = (elapsed / progress) * (100 - progress)
	}

	return ProgressUpdate{
		JobID:                  pt.JobID,
		Status:                 pt.Status,
		Model:                  pt.Model,
		Feature:                pt.Feature,
		CompletedQueries:       pt.CompletedQueries,
		TotalQueries:           pt.TotalQueries,
		Progress:               progress,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: estimatedRemaining,
	}
}

// broadcastProgress sends a progress update to all connected clients.
// Callers must hold the mutex.
func (pt *ProgressTracker) broadcastProgress() {
	message := NewProgressMessage(pt.JobID, pt.progressLocked())
	if data, err := message.ToJSON(); err == nil {
		pt.Hub.BroadcastMessage(data)
	}
}

// broadcastStatus sends a status update to all connected clients.
// Callers must hold the mutex.
func (pt *ProgressTracker) broadcastStatus(message string) {
	status := StatusUpdate{
		JobID:     pt.JobID,
		Status:    pt.Status,
		Message:   message,
		CreatedAt: pt.StartTime,
		UpdatedAt: time.Now(),
	}

	wsMessage := NewStatusMessage(pt.JobID, status)
	if data, err := wsMessage.ToJSON(); err == nil {
		pt.Hub.BroadcastMessage(data)
	}
}

// Complete marks the run as completed and broadcasts final results
func (pt *ProgressTracker) Complete(results interface{}) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.Status = "completed"
	pt.CompletedQueries = pt.TotalQueries

	duration := time.Since(pt.StartTime).Seconds()

	completion := CompletionMessage{
		JobID:     pt.JobID,
		Status:    "completed",
		Results:   results,
		Duration:  duration,
		Completed: time.Now(),
	}

	message := NewCompletionMessage(pt.JobID, completion)
	if data, err := message.ToJSON(); err == nil {
		pt.Hub.BroadcastMessage(data)
	}
}

// Fail marks the run as failed and broadcasts error information
func (pt *ProgressTracker) Fail(errorMsg string, details string) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.Status = "failed"

	errorMessage := ErrorMessage{
		JobID:   pt.JobID,
		Error:   "Run failed",
		Message: errorMsg,
		Details: details,
	}

	message := NewErrorMessage(pt.JobID, errorMessage)
	if data, err := message.ToJSON(); err == nil {
		pt.Hub.BroadcastMessage(data)
	}
}

// Cancel marks the run as cancelled and broadcasts cancellation information
func (pt *ProgressTracker) Cancel(reason string) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	pt.Status = "cancelled"

	cancellation := CancellationMessage{
		JobID:     pt.JobID,
		Status:    "cancelled",
		Message:   "Run cancelled",
		Cancelled: time.Now(),
		Reason:    reason,
	}

	message := NewCancellationMessage(pt.JobID, cancellation)
	if data, err := message.ToJSON(); err == nil {
		pt.Hub.BroadcastMessage(data)
	}
}
