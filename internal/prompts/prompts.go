package prompts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
)

// Prompt is one unit of work for the harness.
type Prompt struct {
	Index int
	Text  string
}

// FromCSV reads the named column from a CSV file with a header row and
// returns its rows in file order.
func FromCSV(path, column string) ([]Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening prompt CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header from %s: %w", path, err)
	}

	col := -1
	for i, name := range header {
		if name == column {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, fmt.Errorf("column %q not found in %s. Available columns: %s",
			column, path, strings.Join(header, ", "))
	}

	var out []Prompt
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		out = append(out, Prompt{Index: len(out), Text: rec[col]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no prompts found in column %q of %s", column, path)
	}
	return out, nil
}

var wordPool = []string{
	"system", "river", "window", "market", "signal", "garden", "engine",
	"harbor", "letter", "mountain", "pattern", "quarter", "station", "thread",
	"valley", "weather", "bridge", "circle", "dinner", "effort", "fabric",
	"gravel", "hollow", "island", "jungle", "kernel", "ladder", "meadow",
	"needle", "orbit", "pencil", "quiver", "ribbon", "shadow", "timber",
	"useful", "violet", "walnut", "yellow", "zephyr",
}

// Synthetic returns n prompts of wordCount random words each.
func Synthetic(n, wordCount int) []Prompt {
	if wordCount < 1 {
		wordCount = 1
	}
	out := make([]Prompt, n)
	for i := range out {
		words := make([]string, wordCount)
		for j := range words {
			words[j] = wordPool[rand.Intn(len(wordPool))]
		}
		out[i] = Prompt{Index: i, Text: strings.Join(words, " ")}
	}
	return out
}

// Cycle returns exactly n prompts, repeating the source list as needed.
func Cycle(list []Prompt, n int) []Prompt {
	if len(list) == 0 {
		return nil
	}
	out := make([]Prompt, n)
	for i := 0; i < n; i++ {
		out[i] = Prompt{Index: i, Text: list[i%len(list)].Text}
	}
	return out
}
