package moderation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is wrapped by every ParseDuration failure.
var ErrInvalidDuration = errors.New("invalid time string, expected _d_h_m_s with at least one time specifier")

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseDuration reads ban lengths such as "1d", "90m" or "10h-30m+2m". Each
// term is a signed integer followed by one of d, h, m or s and the terms are
// summed. A bare number is rejected. Spaces are ignored.
func ParseDuration(raw string) (time.Duration, error) {
	input := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if input == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}

	var (
		total time.Duration
		terms int
		start int
	)
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c == '+' || c == '-' || (c >= '0' && c <= '9') {
			continue
		}

		unit, ok := durationUnits[c]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q in %q", ErrInvalidDuration, c, raw)
		}
		n, err := strconv.Atoi(input[start:i])
		if err != nil {
			return 0, fmt.Errorf("%w: bad number before %q in %q", ErrInvalidDuration, c, raw)
		}
		if int64(n) > math.MaxInt64/int64(unit) || int64(n) < math.MinInt64/int64(unit) {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, raw)
		}
		term := time.Duration(n) * unit
		if (term > 0 && total > math.MaxInt64-term) || (term < 0 && total < math.MinInt64-term) {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, raw)
		}
		total += term
		terms++
		start = i + 1
	}

	if start != len(input) {
		return 0, fmt.Errorf("%w: %q has a number without a unit", ErrInvalidDuration, raw)
	}
	if terms == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return total, nil
}
