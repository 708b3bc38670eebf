// Package backoff computes jittered exponential retry delays, shared
// by connection lifecycle and discovery reconnect loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config shapes an exponential backoff: Initial × Multiplier^(n-1),
// capped at Max, multiplied by a random factor in [0.5, 1.5) when
// Jitter is enabled.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	NoJitter   bool
}

// WithDefaults fills zero fields: 1s initial, 30s cap, ×2 growth.
func (c Config) WithDefaults() Config {
	if c.Initial <= 0 {
		c.Initial = time.Second
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = 2.0
	}
	return c
}

// Delay returns the retry delay for attempt n (1-based).
func (c Config) Delay(attempt int, rng *rand.Rand) time.Duration {
	c = c.WithDefaults()
	if attempt <= 1 {
		return c.Initial
	}
	delay := float64(c.Initial) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.Max) {
		delay = float64(c.Max)
	}
	if !c.NoJitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
