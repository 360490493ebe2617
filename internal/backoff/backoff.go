package backoff

import "time"

// MaxMultiplier bounds the exponential growth independently of the ceiling.
const MaxMultiplier = 16

// Delay returns base * 2^(failures-1), with the multiplier capped at
// MaxMultiplier and the result capped at ceiling. Zero or one failure
// yields base. A non-positive ceiling disables the ceiling.
func Delay(base, ceiling time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}

	multiplier := 1
	for i := 1; i < failures && multiplier < MaxMultiplier; i++ {
		multiplier *= 2
	}
	if multiplier > MaxMultiplier {
		multiplier = MaxMultiplier
	}

	d := base * time.Duration(multiplier)
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}
