package recovery

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for retry delays.
type BackoffConfig struct {
	Initial    time.Duration // First delay
	Max        time.Duration // Upper bound on any delay
	Multiplier float64       // Growth per attempt; 1 gives a fixed interval
	JitterPct  float64       // Jitter as a fraction of the delay (0.2 = ±10%)
}

// FixedInterval returns a config that always yields d.
func FixedInterval(d time.Duration) BackoffConfig {
	return BackoffConfig{
		Initial:    d,
		Max:        d,
		Multiplier: 1,
	}
}

// DefaultBackoffConfig is the audio retry schedule: every 30s, no growth.
func DefaultBackoffConfig() BackoffConfig {
	return FixedInterval(30 * time.Second)
}

// Backoff calculates retry delays. Jitter is drawn from a seeded source so a
// given seed always produces the same sequence.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff with a deterministic jitter source.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if b.config.Max > 0 && delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}
