package utils

import (
	"math/rand/v2"
	"time"
)

// Jitter spreads base by up to ±fraction so replicas sharing a schedule do
// not fire together. Jitter(time.Minute, 0.1) lands in [54s, 66s].
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || base <= 0 {
		return base
	}
	fraction = min(fraction, 1)
	spread := float64(base) * fraction
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

// NextTick returns a timer for the next run of a periodic job. The caller
// owns the timer.
func NextTick(interval time.Duration, fraction float64) *time.Timer {
	return time.NewTimer(Jitter(interval, fraction))
}
