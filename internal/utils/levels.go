package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseConcurrencyLevels parses a comma-separated list like "1,2,4,8".
func ParseConcurrencyLevels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	levels := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid concurrency level %q", part)
		}
		if n < 1 {
			return nil, fmt.Errorf("concurrency level must be positive, got %d", n)
		}
		levels = append(levels, n)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("no concurrency levels specified")
	}
	return levels, nil
}
