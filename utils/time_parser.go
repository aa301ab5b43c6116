package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var longUnits = map[byte]time.Duration{
	'w': 7 * 24 * time.Hour,
	'd': 24 * time.Hour,
}

// ParseDuration extends time.ParseDuration with day (d) and week (w) units,
// so values such as "7d", "2w" or "1d12h" are accepted. Negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative duration: %s", s)
	}

	var total time.Duration
	rest := s
	for {
		i := strings.IndexAny(rest, "wd")
		if i < 0 {
			break
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid %c value in %q", rest[i], s)
		}
		unit := longUnits[rest[i]]
		if n < 0 || time.Duration(n) > (math.MaxInt64-total)/unit {
			return 0, fmt.Errorf("duration out of range: %s", s)
		}
		total += time.Duration(n) * unit
		rest = rest[i+1:]
	}
	if rest == "" {
		return total, nil
	}

	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, err
	}
	if d > math.MaxInt64-total {
		return 0, fmt.Errorf("duration out of range: %s", s)
	}
	return total + d, nil
}
