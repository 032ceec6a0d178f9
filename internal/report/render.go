package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Render writes the human-readable summary report.
func Render(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- SUMMARY REPORT ---")
	fmt.Fprintf(w, "Total Queries: %d\n", s.Total)
	fmt.Fprintf(w, "Successful Queries: %d\n", s.Successes)
	fmt.Fprintf(w, "Failed Queries: %d\n", s.Failures)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "| %-24s | %10s | %10s | %10s |\n", "Metric", "Mean", "P50", "P90")
	fmt.Fprintf(w, "|%s|%s|%s|%s|\n",
		dashes(26), dashes(12), dashes(12), dashes(12))
	fmt.Fprintf(w, "| %-24s | %10s | %10s | %10s |\n", "Time to First Token (s)",
		cell(s.TTFT.Mean, s.TTFT.Samples),
		cell(s.TTFT.P50, s.TTFT.Samples),
		cell(s.TTFT.P90, s.TTFT.Samples))
	fmt.Fprintf(w, "| %-24s | %10s | %10s | %10s |\n", "Tokens/sec (Per Query)",
		cell(s.TokensPerSec.Mean, s.TokensPerSec.Samples),
		cell(s.TokensPerSec.P50, s.TokensPerSec.Samples),
		cell(s.TokensPerSec.P90, s.TokensPerSec.Samples))

	fmt.Fprintf(w, "\nGlobal Throughput: %.2f tokens/sec across %.2f seconds\n",
		s.GlobalThroughput, s.TotalDuration)
	if !s.TokenMetricsAvailable && s.Successes > 0 {
		fmt.Fprintln(w, "Note: Token-based metrics (TPS, Global Throughput) are not available as a tokenizer could not be loaded.")
	}

	fmt.Fprintln(w)
	if s.Success {
		fmt.Fprintln(w, "SUCCESS")
	} else {
		fmt.Fprintln(w, "FAILURE: Some queries failed")
	}

	if s.FirstError != nil {
		fmt.Fprintln(w, "\n--- FIRST ERROR ---")
		fmt.Fprintf(w, "Session %d - Query %d\n", s.FirstError.Session, s.FirstError.Query)
		fmt.Fprintf(w, "Error: %s\n", s.FirstError.Error)
	}
}

func cell(v float64, samples int) string {
	if samples == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}

// SweepPoint is one concurrency level's row in a sweep stats table. Metric
// cells are preformatted so missing values carry the "-" sentinel.
type SweepPoint struct {
	NumUsers        int
	TTFTAvg         string
	TokensPerSecAvg string
	RoundTripAvg    string
	Failures        int
}

// NewSweepPoint condenses a level's Summary into its stats row.
func NewSweepPoint(numUsers int, s Summary) SweepPoint {
	return SweepPoint{
		NumUsers:        numUsers,
		TTFTAvg:         cell(s.TTFT.Mean, s.TTFT.Samples),
		TokensPerSecAvg: cell(s.TokensPerSec.Mean, s.TokensPerSec.Samples),
		RoundTripAvg:    cell(s.RoundTrip.Mean, s.RoundTrip.Samples),
		Failures:        s.Failures,
	}
}

// WriteSweepCSV writes the per-level stats table.
func WriteSweepCSV(path string, points []SweepPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating sweep stats file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"num_users", "ttft_avg", "tokens_per_sec_avg", "round_trip_avg", "failures"}); err != nil {
		return fmt.Errorf("writing sweep stats header: %w", err)
	}
	for _, p := range points {
		row := []string{
			strconv.Itoa(p.NumUsers),
			p.TTFTAvg,
			p.TokensPerSecAvg,
			p.RoundTripAvg,
			strconv.Itoa(p.Failures),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing sweep stats row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
