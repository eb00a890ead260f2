package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns base doubled per attempt (attempt 1 == base), spread by ±jitterPct.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(1, min(attempt, 30))
	d := base << uint(attempt-1)
	if d <= 0 || d>>uint(attempt-1) != base {
		d = time.Duration(math.MaxInt64)
	}
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// CappedBackoff is Backoff limited to ceiling. A zero ceiling means no limit.
func CappedBackoff(base, ceiling time.Duration, attempt int, jitterPct float64) time.Duration {
	d := Backoff(base, attempt, jitterPct)
	if ceiling > 0 && (d > ceiling || d <= 0) {
		return ceiling
	}
	return d
}
