package utils

import (
	"fmt"
	"net/http"
	"time"
)

// MeasureLatency averages the round-trip time of lightweight GET requests
// against the endpoint base URL, in milliseconds. Any HTTP status counts;
// only the round trip is timed.
func MeasureLatency(baseURL string, samples int) (float64, error) {
	if samples < 1 {
		samples = 1
	}
	client := &http.Client{Timeout: 10 * time.Second}

	var total time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		resp, err := client.Get(baseURL)
		if err != nil {
			return 0, fmt.Errorf("latency probe failed: %w", err)
		}
		resp.Body.Close()
		total += time.Since(start)
	}
	return float64(total.Microseconds()) / 1000.0 / float64(samples), nil
}
