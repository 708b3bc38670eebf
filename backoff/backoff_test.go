package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2, NoJitter: true}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		if got := cfg.Delay(i+1, nil); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}
	rng := rand.New(rand.NewSource(42))
	base := 4 * time.Second
	for i := 0; i < 100; i++ {
		d := cfg.Delay(3, rng)
		if d < base/2 || d >= base*3/2 {
			t.Fatalf("jittered delay %v outside [%v, %v)", d, base/2, base*3/2)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Initial != time.Second || cfg.Max != 30*time.Second || cfg.Multiplier != 2.0 {
		t.Fatalf("defaults = %+v", cfg)
	}
}
