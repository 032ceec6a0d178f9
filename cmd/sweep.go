package main

import (
	"fmt"
	"os"
	"strings"

	"llmqualitybench/internal/prompts"
	"llmqualitybench/internal/report"
	"llmqualitybench/internal/utils"
)

// runSweep runs the quality test once per concurrency level and writes the
// per-level stats CSV. Each level dispatches exactly level requests, cycling
// the prompt list as needed.
func (q *QualityRun) runSweep(levels []int, statsPath string) error {
	latency := q.probeLatency()

	fmt.Println(strings.Repeat("=", 112))
	fmt.Printf("Model: %s | Feature: %s | Max Tokens: %d | Base Latency: %.2f ms\n",
		q.ModelName, q.FeatureName, q.MaxTokens, latency)
	fmt.Println(strings.Repeat("=", 112))

	fmt.Println("| Concurrency | TTFT avg (s) | Tokens/s avg | Round Trip avg (s) | Failures |")
	fmt.Println("|-------------|--------------|--------------|--------------------|----------|")

	points := make([]report.SweepPoint, 0, len(levels))
	for _, level := range levels {
		run := *q
		run.NumUsers = level
		run.Prompts = prompts.Cycle(q.Prompts, level)

		bar := newRunBar(level, fmt.Sprintf("Concurrency %d", level))
		_, summary, _, err := run.execute(bar)
		bar.Finish()
		bar.Clear()
		bar.Close()
		if err != nil {
			return fmt.Errorf("concurrency %d: %w", level, err)
		}

		point := report.NewSweepPoint(level, summary)
		fmt.Printf("| %11d | %12s | %12s | %18s | %8d |\n",
			point.NumUsers, point.TTFTAvg, point.TokensPerSecAvg, point.RoundTripAvg, point.Failures)
		points = append(points, point)
	}

	fmt.Println("\n" + strings.Repeat("=", 112))

	if err := report.WriteSweepCSV(statsPath, points); err != nil {
		return err
	}
	fmt.Printf("Sweep stats saved to %s\n", statsPath)
	return nil
}

func (q *QualityRun) probeLatency() float64 {
	latency, err := utils.MeasureLatency(q.recorderBase(), 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: latency probe failed: %v\n", err)
		return 0
	}
	return latency
}
