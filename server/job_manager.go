package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"llmqualitybench/internal/backend"
	"llmqualitybench/internal/config"
	"llmqualitybench/internal/harness"
	"llmqualitybench/internal/prompts"
	"llmqualitybench/internal/report"
)

// Singleton pattern for JobManager
var (
	jobManagerInstance *JobManager
	jobManagerOnce     sync.Once
)

// Job represents one quality run with basic status tracking
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`   // "running", "completed", "failed", "cancelled"
	Progress    int        `json:"progress"` // 0-100
	Message     string     `json:"message"`
	Result      *RunResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Request     RunRequest `json:"request"`

	ctx        context.Context
	cancelFunc context.CancelFunc
	tracker    *ProgressTracker
}

// JobManager owns every run job, the SSE listener registry and the
// WebSocket hub
type JobManager struct {
	jobs                  map[string]*Job
	listeners             map[string][]chan Job
	systemStatusListeners []chan map[string]interface{}
	activeJobCount        int
	hub                   *Hub
	mutex                 sync.RWMutex
}

// NewJobManager creates a job manager around an already-running hub
func NewJobManager(hub *Hub) *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan Job),
		hub:       hub,
	}
}

// GetJobManager returns the singleton JobManager instance, starting its
// WebSocket hub on first use
func GetJobManager() *JobManager {
	jobManagerOnce.Do(func() {
		hub := NewHub()
		go hub.Run()
		jobManagerInstance = NewJobManager(hub)
		AppLogger.Info("Singleton JobManager instance created")
	})
	return jobManagerInstance
}

// Hub exposes the WebSocket hub for route setup
func (jm *JobManager) Hub() *Hub {
	return jm.hub
}

// withDefaults fills the optional request fields the way the CLI does
func (r RunRequest) withDefaults() RunRequest {
	if r.Feature == "" {
		r.Feature = "default"
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 10
	}
	if r.Temperature == 0 {
		r.Temperature = 0.7
	}
	if r.TopP == 0 {
		r.TopP = 1.0
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 2000
	}
	return r
}

// CreateJob registers a new job and returns its ID
func (jm *JobManager) CreateJob(request RunRequest) string {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Status:    "running",
		Progress:  0,
		Message:   "Starting run...",
		CreatedAt: time.Now(),
		Request:   request,
		tracker:   NewProgressTracker(jobID, len(request.Prompts), jm.hub),
	}

	jm.jobs[jobID] = job
	jm.activeJobCount++
	AppLogger.InfoWithFields("Job created", map[string]interface{}{
		"jobId":      jobID,
		"model":      request.Model,
		"prompts":    len(request.Prompts),
		"activeJobs": jm.activeJobCount,
	})

	go jm.broadcastSystemStatus()

	return jobID
}

// GetJob retrieves a job by ID
func (jm *JobManager) GetJob(jobID string) (*Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	job, exists := jm.jobs[jobID]
	return job, exists
}

// Snapshot returns a copy of the job safe to serialize outside the lock
func (jm *JobManager) Snapshot(jobID string) (Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	if job, exists := jm.jobs[jobID]; exists {
		return *job, true
	}
	return Job{}, false
}

// setJobContext attaches the cancellable context driving the run
func (jm *JobManager) setJobContext(jobID string, ctx context.Context, cancelFunc context.CancelFunc) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	if job, exists := jm.jobs[jobID]; exists {
		job.ctx = ctx
		job.cancelFunc = cancelFunc
	}
}

// UpdateJobProgress updates job progress and message
func (jm *JobManager) UpdateJobProgress(jobID string, progress int, message string) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for progress update")
		return
	}

	job.Progress = progress
	job.Message = message

	AppLogger.DebugWithContext(&LogContext{JobID: jobID}, "Job progress updated: %d%% - %s", progress, message)

	jm.broadcastUpdate(jobID)
}

// CompleteJob marks a running job as completed with its results
func (jm *JobManager) CompleteJob(jobID string, result *RunResult) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for completion")
		return
	}
	if job.Status != "running" {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Job already %s, ignoring completion", job.Status)
		return
	}

	job.Status = "completed"
	job.Progress = 100
	job.Message = fmt.Sprintf("Run completed: %d/%d queries succeeded",
		result.Summary.Successes, result.Summary.Total)
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now

	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.InfoWithFields("Job completed", map[string]interface{}{
		"jobId":      jobID,
		"successes":  result.Summary.Successes,
		"failures":   result.Summary.Failures,
		"activeJobs": jm.activeJobCount,
	})

	jm.broadcastUpdate(jobID)

	go jm.broadcastSystemStatus()
}

// AttachResult stores partial results on a job without changing its status.
// Cancelled runs keep what they measured before the abort.
func (jm *JobManager) AttachResult(jobID string, result *RunResult) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for result attachment")
		return
	}

	job.Result = result
	AppLogger.InfoWithFields("Partial results attached", map[string]interface{}{
		"jobId":   jobID,
		"status":  job.Status,
		"records": len(result.Records),
	})

	jm.broadcastUpdate(jobID)
}

// FailJob marks a running job as failed with an error message
func (jm *JobManager) FailJob(jobID string, errorMsg string) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for failure")
		return
	}
	if job.Status != "running" {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Job already %s, ignoring failure", job.Status)
		return
	}

	job.Status = "failed"
	job.Message = "Run failed"
	job.Error = errorMsg
	now := time.Now()
	job.CompletedAt = &now

	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.ErrorWithFields("Job failed", map[string]interface{}{
		"jobId":      jobID,
		"error":      errorMsg,
		"activeJobs": jm.activeJobCount,
	})

	jm.broadcastUpdate(jobID)

	go jm.broadcastSystemStatus()
}

// CancelJob cancels a running job by cancelling its context. In-flight
// streams stop cooperatively and keep their partial output.
func (jm *JobManager) CancelJob(jobID string) bool {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for cancellation")
		return false
	}
	if job.Status != "running" || job.cancelFunc == nil {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Job cannot be cancelled (status: %s)", job.Status)
		return false
	}

	job.cancelFunc()
	job.Status = "cancelled"
	job.Message = "Job cancelled by user"
	now := time.Now()
	job.CompletedAt = &now

	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.InfoWithFields("Job cancelled", map[string]interface{}{
		"jobId":      jobID,
		"activeJobs": jm.activeJobCount,
	})

	jm.broadcastUpdate(jobID)
	job.tracker.Cancel("Job cancelled by user")

	go jm.broadcastSystemStatus()

	return true
}

// ListJobs returns snapshots of all jobs
func (jm *JobManager) ListJobs() []Job {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// CleanupOldJobs removes finished jobs older than 1 hour
func (jm *JobManager) CleanupOldJobs() {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	cutoff := time.Now().Add(-1 * time.Hour)
	for id, job := range jm.jobs {
		if job.Status != "running" && job.CreatedAt.Before(cutoff) {
			delete(jm.jobs, id)
			AppLogger.DebugWithContext(&LogContext{JobID: id}, "Removed old job")
		}
	}
}

// ToJSON converts a job snapshot to JSON for SSE streaming
func (job Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		AppLogger.ErrorWithContext(&LogContext{JobID: job.ID}, "JSON marshal failed: %v", err)
		minimal := Job{
			ID:          job.ID,
			Status:      job.Status,
			Progress:    job.Progress,
			Message:     job.Message,
			Error:       "results could not be serialized",
			CreatedAt:   job.CreatedAt,
			CompletedAt: job.CompletedAt,
		}
		return json.Marshal(minimal)
	}
	return data, nil
}

// ToSSEMessage formats a job snapshot as an SSE message
func (job Job) ToSSEMessage() string {
	data, err := job.ToJSON()
	if err != nil {
		errorMsg := fmt.Sprintf(`{"error":"JSON marshal failed","jobId":"%s","status":"%s"}`, job.ID, job.Status)
		return fmt.Sprintf("data: %s\n\n", errorMsg)
	}
	return fmt.Sprintf("data: %s\n\n", string(data))
}

// RegisterSSEListener registers a channel to receive job updates
func (jm *JobManager) RegisterSSEListener(jobID string, updateChan chan Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	jm.listeners[jobID] = append(jm.listeners[jobID], updateChan)
}

// UnregisterSSEListener removes a channel from job updates
func (jm *JobManager) UnregisterSSEListener(jobID string, updateChan chan Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listeners, exists := jm.listeners[jobID]
	if !exists {
		return
	}
	for i, ch := range listeners {
		if ch == updateChan {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(updateChan)
			break
		}
	}
	if len(jm.listeners[jobID]) == 0 {
		delete(jm.listeners, jobID)
	}
}

// broadcastUpdate sends a job snapshot to its SSE listeners. Callers must
// hold the mutex.
func (jm *JobManager) broadcastUpdate(jobID string) {
	job, exists := jm.jobs[jobID]
	if !exists {
		return
	}
	snapshot := *job
	for _, ch := range jm.listeners[jobID] {
		select {
		case ch <- snapshot:
		default:
			// Listener can't keep up, skip this update
			AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Listener channel full, skipping update")
		}
	}
}

// GetActiveJobCount returns the number of currently running jobs
func (jm *JobManager) GetActiveJobCount() int {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.activeJobCount
}

// IsSystemBusy returns true if there are any active jobs
func (jm *JobManager) IsSystemBusy() bool {
	return jm.GetActiveJobCount() > 0
}

// GetSystemStatus returns the global system status
func (jm *JobManager) GetSystemStatus() map[string]interface{} {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.systemStatusLocked()
}

// systemStatusLocked builds the status map. Callers must hold the mutex.
func (jm *JobManager) systemStatusLocked() map[string]interface{} {
	return map[string]interface{}{
		"activeJobs": jm.activeJobCount,
		"isBusy":     jm.activeJobCount > 0,
		"totalJobs":  len(jm.jobs),
		"timestamp":  time.Now(),
	}
}

// RegisterSystemStatusListener registers a listener for system status changes
func (jm *JobManager) RegisterSystemStatusListener() chan map[string]interface{} {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listener := make(chan map[string]interface{}, 10)
	jm.systemStatusListeners = append(jm.systemStatusListeners, listener)

	// The fresh buffer always has room for the initial status
	listener <- jm.systemStatusLocked()

	return listener
}

// UnregisterSystemStatusListener removes a system status listener
func (jm *JobManager) UnregisterSystemStatusListener(listener chan map[string]interface{}) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	for i, l := range jm.systemStatusListeners {
		if l == listener {
			jm.systemStatusListeners = append(jm.systemStatusListeners[:i], jm.systemStatusListeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// broadcastSystemStatus sends system status to all listeners
func (jm *JobManager) broadcastSystemStatus() {
	jm.mutex.RLock()
	status := jm.systemStatusLocked()
	listeners := make([]chan map[string]interface{}, len(jm.systemStatusListeners))
	copy(listeners, jm.systemStatusListeners)
	jm.mutex.RUnlock()

	for _, listener := range listeners {
		select {
		case listener <- status:
		default:
			// Skip if channel is full
		}
	}
}

// RunJob executes the quality run for a job. It is meant to run in its own
// goroutine; every outcome is reported through the job state and broadcasts.
func (jm *JobManager) RunJob(jobID string, request RunRequest) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for execution")
		return
	}
	tracker := job.tracker

	defer func() {
		if r := recover(); r != nil {
			AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job panicked: %v", r)
			jm.FailJob(jobID, fmt.Sprintf("internal error: %v", r))
			tracker.Fail("Internal error", fmt.Sprintf("panic: %v", r))
		}
	}()

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()
	jm.setJobContext(jobID, ctx, cancelFunc)

	fail := func(msg string) {
		jm.FailJob(jobID, msg)
		tracker.Fail("Run failed", msg)
	}

	jm.UpdateJobProgress(jobID, 2, "Resolving vendor...")

	vendor, err := jm.resolveVendor(request)
	if err != nil {
		fail(err.Error())
		return
	}

	feature, err := LookupFeature(request.Feature)
	if err != nil {
		fail(err.Error())
		return
	}

	setting, err := vendor.ModelSetting(request.Model)
	if err != nil {
		fail(err.Error())
		return
	}

	tracker.SetRun(request.Model, request.Feature)
	jm.UpdateJobProgress(jobID, 4, "Preparing run...")

	var llm backend.CompletionBackend
	if vendor.Prediction() {
		llm = backend.NewPredictionBackend(backend.PredictionConfig{
			PredictURL: vendor.PredictURL,
			Tokens:     vendor.Tokens,
		})
	} else {
		llm, err = backend.NewOpenAIBackend(backend.OpenAIConfig{
			BaseURL: vendor.APIBase,
			APIKey:  vendor.APIKey,
		})
		if err != nil {
			fail(err.Error())
			return
		}
	}

	tokenizer, err := harness.TokenizerFor(request.Model, vendor.APIBase, setting.TokenizerType)
	if err != nil {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID, Model: request.Model},
			"Could not load tokenizer: %v. Token-based metrics will not be available.", err)
		tokenizer = nil
	}

	recorderBase := vendor.APIBase
	if recorderBase == "" {
		recorderBase = vendor.PredictURL
	}
	recorder, err := harness.NewRecorder(harness.RecorderConfig{
		Dir:                resultsDir(),
		APIBase:            recorderBase,
		Model:              request.Model,
		Feature:            request.Feature,
		Temperature:        request.Temperature,
		MaxTokens:          request.MaxTokens,
		SystemPrompt:       feature.SystemPrompt,
		UserPromptTemplate: feature.UserPromptTemplate,
	})
	if err != nil {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Audit log unavailable: %v", err)
		recorder = nil
	} else {
		defer recorder.Close()
	}

	list := make([]prompts.Prompt, len(request.Prompts))
	for i, text := range request.Prompts {
		list[i] = prompts.Prompt{Index: i, Text: text}
	}

	stream := true
	if request.Stream != nil {
		stream = *request.Stream
	}

	// Server logs share stderr with the bar, same as the CLI
	bar := progressbar.NewOptions(len(list),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("Job %.8s", jobID)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("req"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)

	var lastPercent atomic.Int64
	lastPercent.Store(-1)

	runner := &harness.Runner{
		Backend:            llm,
		Model:              request.Model,
		SystemPrompt:       feature.SystemPrompt,
		UserPromptTemplate: feature.UserPromptTemplate,
		Sampling: backend.SamplingParams{
			Temperature: request.Temperature,
			TopP:        request.TopP,
		},
		MaxTokens:   request.MaxTokens,
		Stream:      stream,
		Timeout:     time.Duration(request.TimeoutSec) * time.Second,
		Concurrency: request.Concurrency,
		Recorder:    recorder,
		Tokenizer:   tokenizer,
		Bar:         bar,
		OnProgress: func(done, total int) {
			tracker.UpdateProgress(done, total)
			percent := int64(done * 100 / total)
			for {
				prev := lastPercent.Load()
				if percent <= prev {
					return
				}
				if lastPercent.CompareAndSwap(prev, percent) {
					jm.UpdateJobProgress(jobID, int(percent),
						fmt.Sprintf("Completed %d/%d queries", done, total))
					return
				}
			}
		},
	}

	AppLogger.InfoWithFields("Starting run", map[string]interface{}{
		"jobId":       jobID,
		"vendor":      vendor.Name,
		"model":       request.Model,
		"feature":     request.Feature,
		"prompts":     len(list),
		"concurrency": request.Concurrency,
		"stream":      stream,
	})

	records := runner.Run(ctx, list)
	bar.Finish()
	bar.Close()
	summary := report.Aggregate(records)

	result := &RunResult{
		Model:     request.Model,
		Vendor:    request.Vendor,
		Feature:   request.Feature,
		NumUsers:  request.Concurrency,
		Summary:   summary,
		Records:   records,
		Timestamp: time.Now(),
	}
	if recorder != nil {
		result.OutputPath = recorder.Path()
	}

	if ctx.Err() != nil {
		AppLogger.InfoWithContext(&LogContext{JobID: jobID},
			"Run aborted after %d records, keeping partial results", len(records))
		jm.AttachResult(jobID, result)
		return
	}

	jm.CompleteJob(jobID, result)
	tracker.Complete(result)
}

// resolveVendor picks the endpoint for a request: a named vendor from
// discovery, or an ad-hoc chat vendor from baseUrl+apiKeyEnv.
func (jm *JobManager) resolveVendor(request RunRequest) (*config.Resolved, error) {
	if request.Vendor != "" {
		return LookupVendor(request.Vendor)
	}
	if request.BaseURL != "" {
		key := ""
		if request.APIKeyEnv != "" {
			key = os.Getenv(request.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("environment variable %s is not set", request.APIKeyEnv)
			}
		}
		return config.AdHoc(request.BaseURL, key)
	}
	return nil, fmt.Errorf("either vendor or baseUrl is required")
}

// resultsDir is where server runs write their JSONL audit files
func resultsDir() string {
	if dir := os.Getenv("RESULTS_DIR"); dir != "" {
		return dir
	}
	return "results"
}
