package session

import (
	"math"
	"time"
)

// EstimateRemaining projects the time left in a stage from its elapsed time
// and completion percentage: remaining = elapsed * (100 - p) / p.
// It reports false when the estimate is undefined (p <= 0 or non-finite).
func EstimateRemaining(elapsed time.Duration, percent float64) (time.Duration, bool) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) || percent <= 0 {
		return 0, false
	}
	if percent >= 100 {
		return 0, true
	}
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := elapsed.Seconds() * (100 - percent) / percent
	if math.IsNaN(remaining) || math.IsInf(remaining, 0) || remaining > math.MaxInt64/float64(time.Second) {
		return 0, false
	}
	return time.Duration(remaining * float64(time.Second)), true
}
