package recovery

import (
	"testing"
	"time"
)

func TestFixedInterval(t *testing.T) {
	b := NewBackoff(0, FixedInterval(30*time.Second))

	for i := 0; i < 25; i++ {
		if d := b.Next(); d != 30*time.Second {
			t.Fatalf("Next() #%d = %v, want 30s", i, d)
		}
	}
	if b.Attempts() != 25 {
		t.Errorf("Attempts() = %d, want 25", b.Attempts())
	}
}

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		cfg      BackoffConfig
		want     time.Duration
	}{
		{
			name:     "first attempt",
			attempts: 0,
			cfg:      BackoffConfig{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2},
			want:     100 * time.Millisecond,
		},
		{
			name:     "third attempt doubles twice",
			attempts: 2,
			cfg:      BackoffConfig{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2},
			want:     400 * time.Millisecond,
		},
		{
			name:     "capped at max",
			attempts: 10,
			cfg:      BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2},
			want:     time.Second,
		},
		{
			name:     "multiplier 1.5",
			attempts: 2,
			cfg:      BackoffConfig{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Multiplier: 1.5},
			want:     225 * time.Millisecond,
		},
		{
			name:     "zero multiplier treated as fixed",
			attempts: 4,
			cfg:      BackoffConfig{Initial: time.Second},
			want:     time.Second,
		},
		{
			name:     "zero initial",
			attempts: 3,
			cfg:      BackoffConfig{Max: time.Second, Multiplier: 2},
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(0, tt.cfg)
			for i := 0; i < tt.attempts; i++ {
				b.Next()
			}
			if got := b.Calculate(); got != tt.want {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2})
	b.Next()
	b.Next()

	b.Reset()

	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
	if d := b.Next(); d != 100*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 100ms", d)
	}
}

func TestBackoff_JitterBoundsAndDeterminism(t *testing.T) {
	cfg := BackoffConfig{
		Initial:    time.Second,
		Max:        10 * time.Second,
		Multiplier: 1,
		JitterPct:  0.4, // ±20%
	}

	b1 := NewBackoff(42, cfg)
	b2 := NewBackoff(42, cfg)
	other := NewBackoff(7, cfg)

	allSame := true
	for i := 0; i < 10; i++ {
		d1, d2, d3 := b1.Calculate(), b2.Calculate(), other.Calculate()
		if d1 != d2 {
			t.Errorf("iteration %d: %v != %v for the same seed", i, d1, d2)
		}
		if d1 != d3 {
			allSame = false
		}
		if d1 < 800*time.Millisecond || d1 > 1200*time.Millisecond {
			t.Errorf("iteration %d: %v outside ±20%% of 1s", i, d1)
		}
	}
	if allSame {
		t.Error("different seeds should produce different jitter")
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	if cfg.Initial != 30*time.Second || cfg.Max != 30*time.Second || cfg.Multiplier != 1 {
		t.Errorf("DefaultBackoffConfig() = %+v", cfg)
	}
}
