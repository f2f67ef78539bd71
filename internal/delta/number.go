package delta

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseNumber converts a numeric string. Surrounding whitespace is ignored
// and a blank string is 0. NaN and infinities are rejected.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}
