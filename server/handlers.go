package server

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler returns server health status
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	})
}

// VendorsHandler returns the discovered vendor catalog. API keys never
// appear in the response, only the env var names that hold them.
func VendorsHandler(c *gin.Context) {
	vendors, err := DiscoverVendors()
	if err != nil {
		AppLogger.Error("Vendor discovery failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Discovery Error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, VendorsResponse{
		Vendors: vendors,
		Count:   len(vendors),
	})
}

// SystemStatusHandler returns the global system status
func SystemStatusHandler(c *gin.Context, jobManager *JobManager) {
	status := jobManager.GetSystemStatus()
	c.JSON(http.StatusOK, status)
}

// ExportJSONHandler exports posted run results as a JSON file download
func ExportJSONHandler(c *gin.Context) {
	var results RunResult

	if err := c.ShouldBindJSON(&results); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return
	}

	filename := fmt.Sprintf("run_results_%s.json", time.Now().Format("20060102_150405"))

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "application/json")

	c.JSON(http.StatusOK, results)
}

// ExportCSVHandler exports posted run results as a CSV file download
func ExportCSVHandler(c *gin.Context) {
	var results RunResult

	if err := c.ShouldBindJSON(&results); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return
	}

	filename := fmt.Sprintf("run_results_%s.csv", time.Now().Format("20060102_150405"))

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "text/csv")

	c.String(http.StatusOK, generateCSV(results))
}

// generateCSV flattens run results to CSV: one row per query plus a
// summary section
func generateCSV(results RunResult) string {
	var csv strings.Builder

	csv.WriteString("Model,Vendor,Feature,Session,Query,Success,TTFT (s),Total Time (s),Output Tokens,Tokens/s,Error\n")

	for _, rec := range results.Records {
		ttft := ""
		if rec.TTFT != nil {
			ttft = fmt.Sprintf("%.3f", sanitizeFloat(*rec.TTFT))
		}
		csv.WriteString(fmt.Sprintf("%s,%s,%s,%d,%d,%t,%s,%.3f,%d,%.2f,%s\n",
			escapeCsvField(results.Model),
			escapeCsvField(results.Vendor),
			escapeCsvField(results.Feature),
			rec.Session,
			rec.Query,
			rec.Success,
			ttft,
			sanitizeFloat(rec.TotalTime),
			rec.OutputTokens,
			sanitizeFloat(rec.TokensPerSec),
			escapeCsvField(rec.Error),
		))
	}

	summary := results.Summary
	csv.WriteString("\nSummary\n")
	csv.WriteString(fmt.Sprintf("Total Queries,%d\n", summary.Total))
	csv.WriteString(fmt.Sprintf("Successful Queries,%d\n", summary.Successes))
	csv.WriteString(fmt.Sprintf("Failed Queries,%d\n", summary.Failures))
	csv.WriteString(fmt.Sprintf("TTFT Mean (s),%.3f\n", sanitizeFloat(summary.TTFT.Mean)))
	csv.WriteString(fmt.Sprintf("Tokens/s Mean,%.2f\n", sanitizeFloat(summary.TokensPerSec.Mean)))
	csv.WriteString(fmt.Sprintf("Round Trip Mean (s),%.3f\n", sanitizeFloat(summary.RoundTrip.Mean)))
	csv.WriteString(fmt.Sprintf("Global Throughput (tokens/s),%.2f\n", sanitizeFloat(summary.GlobalThroughput)))
	csv.WriteString(fmt.Sprintf("Total Duration (s),%.2f\n", sanitizeFloat(summary.TotalDuration)))
	if results.OutputPath != "" {
		csv.WriteString(fmt.Sprintf("Audit Log,%s\n", escapeCsvField(results.OutputPath)))
	}
	csv.WriteString(fmt.Sprintf("Timestamp,%s\n", results.Timestamp.Format(time.RFC3339)))

	return csv.String()
}

// sanitizeFloat ensures float values are CSV- and JSON-safe (no Inf or NaN)
func sanitizeFloat(value float64) float64 {
	if math.IsInf(value, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(value, -1) {
		return 0
	}
	if math.IsNaN(value) {
		return 0
	}
	return value
}

// escapeCsvField escapes CSV field if it contains special characters
func escapeCsvField(field string) string {
	if strings.ContainsAny(field, ",\"\n") {
		return fmt.Sprintf(`"%s"`, strings.ReplaceAll(field, `"`, `""`))
	}
	return field
}
