package admin

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration is used when a command gives no duration.
const DefaultDuration = time.Hour

var durationRegex = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseDuration reads durations like 30m, 12h or 7d. An empty string means
// DefaultDuration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultDuration, nil
	}
	m := durationRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: duration %q, use a number followed by m, h or d", ErrInvalidInput, s)
	}
	unit := time.Minute
	switch m[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: duration %q is too long", ErrInvalidInput, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: duration %q must be positive", ErrInvalidInput, s)
	}
	return time.Duration(n) * unit, nil
}
