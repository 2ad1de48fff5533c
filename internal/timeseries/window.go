// Package timeseries provides time-windowed sample tracking.
//
// A Window is a fixed-capacity ring buffer of timestamped samples. It backs
// the recovery attempt counter and the health monitor's bitrate baseline.
//
// Thread-safe: all methods acquire the window's lock.
package timeseries

import (
	"sync"
	"time"
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now() for production.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// Sample is a single timestamped value.
type Sample struct {
	At    time.Time
	Value float64
}

// Window retains the most recent samples up to a fixed capacity.
// Older samples are overwritten once the buffer is full.
type Window struct {
	mu       sync.RWMutex
	samples  []Sample
	writeIdx int // Next write position in ring buffer
	count    int

	clock Clock
}

// NewWindow creates a window with the real clock.
func NewWindow(capacity int) *Window {
	return NewWindowWithClock(capacity, RealClock{})
}

// NewWindowWithClock creates a window with a custom clock for testing.
func NewWindowWithClock(capacity int, clock Clock) *Window {
	if capacity < 1 {
		capacity = 1
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Window{
		samples: make([]Sample, capacity),
		clock:   clock,
	}
}

// Add records v at the clock's current time.
func (w *Window) Add(v float64) {
	w.AddAt(w.clock.Now(), v)
}

// AddAt records v at an explicit time.
func (w *Window) AddAt(at time.Time, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.writeIdx] = Sample{At: at, Value: v}
	w.writeIdx = (w.writeIdx + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// Snapshot returns the retained samples, oldest first.
func (w *Window) Snapshot() []Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

func (w *Window) snapshotLocked() []Sample {
	out := make([]Sample, 0, w.count)
	start := (w.writeIdx - w.count + len(w.samples)) % len(w.samples)
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%len(w.samples)])
	}
	return out
}

// Values returns the retained sample values, oldest first.
func (w *Window) Values() []float64 {
	snap := w.Snapshot()
	out := make([]float64, len(snap))
	for i, s := range snap {
		out[i] = s.Value
	}
	return out
}

// CountSince returns how many retained samples were recorded at or after t.
func (w *Window) CountSince(t time.Time) int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, s := range w.snapshotLocked() {
		if !s.At.Before(t) {
			n++
		}
	}
	return n
}

// Last returns the most recent sample.
func (w *Window) Last() (Sample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return Sample{}, false
	}
	idx := (w.writeIdx - 1 + len(w.samples)) % len(w.samples)
	return w.samples[idx], true
}

// Len returns the number of retained samples.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.samples)
}

// Reset discards all samples.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.samples {
		w.samples[i] = Sample{}
	}
	w.writeIdx = 0
	w.count = 0
}
