package report

import (
	"math"
	"sort"

	"llmqualitybench/internal/harness"
)

// MetricSummary holds mean/median/P90 over an observed sample set. Samples
// is 0 when nothing was observed; the values are then meaningless and render
// as "-".
type MetricSummary struct {
	Mean    float64 `json:"mean" yaml:"mean"`
	P50     float64 `json:"p50" yaml:"p50"`
	P90     float64 `json:"p90" yaml:"p90"`
	Samples int     `json:"samples" yaml:"samples"`
}

// ErrorDetail pinpoints the first failed request of a run.
type ErrorDetail struct {
	Session int    `json:"session" yaml:"session"`
	Query   int    `json:"query" yaml:"query"`
	Error   string `json:"error" yaml:"error"`
}

// Summary aggregates one run's records.
type Summary struct {
	Total     int  `json:"total_queries" yaml:"total-queries"`
	Successes int  `json:"successful_queries" yaml:"successful-queries"`
	Failures  int  `json:"failed_queries" yaml:"failed-queries"`
	Success   bool `json:"success" yaml:"success"`

	TTFT         MetricSummary `json:"ttft_sec" yaml:"ttft-sec"`
	TokensPerSec MetricSummary `json:"tokens_per_sec" yaml:"tokens-per-sec"`
	RoundTrip    MetricSummary `json:"round_trip_sec" yaml:"round-trip-sec"`

	// GlobalThroughput is the total successful output token count divided
	// by the summed request time, 0 when either is 0.
	GlobalThroughput float64 `json:"global_throughput" yaml:"global-throughput"`
	TotalDuration    float64 `json:"total_duration_sec" yaml:"total-duration-sec"`

	TokenMetricsAvailable bool `json:"token_metrics_available" yaml:"token-metrics-available"`

	FirstError *ErrorDetail `json:"first_error,omitempty" yaml:"first-error,omitempty"`
}

// Aggregate computes a Summary. Metric summaries cover successful records
// only; TTFT skips records that never saw a token and tokens/sec skips zero
// values, so empty streams never drag the averages.
func Aggregate(records []harness.Record) Summary {
	s := Summary{Total: len(records)}

	var (
		ttfts, tpss, trips []float64
		outTokens          int
		timeSum            float64
		firstErr           *harness.Record
	)
	for i := range records {
		r := records[i]
		if !r.Success {
			s.Failures++
			if firstErr == nil || r.Query < firstErr.Query {
				firstErr = &records[i]
			}
			continue
		}

		s.Successes++
		if r.TTFT != nil {
			ttfts = append(ttfts, *r.TTFT)
		}
		if r.TokensPerSec > 0 {
			tpss = append(tpss, r.TokensPerSec)
		}
		if r.HasTokenCounts {
			s.TokenMetricsAvailable = true
		}
		trips = append(trips, r.TotalTime)
		outTokens += r.OutputTokens
		timeSum += r.TotalTime
	}

	s.Success = s.Failures == 0
	s.TTFT = summarize(ttfts)
	s.TokensPerSec = summarize(tpss)
	s.RoundTrip = summarize(trips)
	s.TotalDuration = round2(timeSum)
	if outTokens > 0 && timeSum > 0 {
		s.GlobalThroughput = round2(float64(outTokens) / timeSum)
	}
	if firstErr != nil {
		s.FirstError = &ErrorDetail{
			Session: firstErr.Session,
			Query:   firstErr.Query,
			Error:   firstErr.Error,
		}
	}
	return s
}

func summarize(values []float64) MetricSummary {
	if len(values) == 0 {
		return MetricSummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	return MetricSummary{
		Mean:    round2(sum / float64(len(values))),
		P50:     round2(percentile(sorted, 50)),
		P90:     round2(percentile(sorted, 90)),
		Samples: len(values),
	}
}

// percentile expects sorted input and interpolates linearly between
// neighboring ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
