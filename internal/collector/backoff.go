package collector

import (
	"math"
	"math/rand"
	"time"
)

// Backoff shapes retry delays after failed poll cycles.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// Delay returns the wait before retry attempt N (1-based). With jitter
// enabled the delay spreads over [0.5x, 1.5x) so a fleet of collectors
// restarted together does not hammer one server in lockstep.
func (b Backoff) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt <= 1 {
		return b.Initial
	}
	multiplier := b.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	delay := float64(b.Initial) * math.Pow(multiplier, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
