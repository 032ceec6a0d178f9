package harness

import "sync"

// Record is the outcome of a single dispatched prompt.
type Record struct {
	Session      int      `json:"session"`
	Query        int      `json:"query"`
	Success      bool     `json:"success"`
	TTFT         *float64 `json:"ttft,omitempty"`
	TotalTime    float64  `json:"total_time"`
	OutputTokens int      `json:"output_tokens"`
	TokensPerSec float64  `json:"tps"`
	Error        string   `json:"error,omitempty"`

	// HasTokenCounts is false when neither the endpoint nor a tokenizer
	// could count tokens for this request.
	HasTokenCounts bool `json:"-"`
}

// Collector accumulates records in completion order.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

func (c *Collector) Add(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

// Records returns a copy of everything collected so far.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}
