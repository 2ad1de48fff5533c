package timeseries

import (
	"sync"
	"testing"
	"time"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{time: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

func TestWindow_AddAndSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		adds     []float64
		want     []float64
	}{
		{"empty", 3, nil, []float64{}},
		{"partial", 3, []float64{1, 2}, []float64{1, 2}},
		{"exactly full", 3, []float64{1, 2, 3}, []float64{1, 2, 3}},
		{"wraps", 3, []float64{1, 2, 3, 4, 5}, []float64{3, 4, 5}},
		{"zero capacity clamps to 1", 0, []float64{7, 8}, []float64{8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindowWithClock(tt.capacity, newMockClock(time.Unix(1000, 0)))
			for _, v := range tt.adds {
				w.Add(v)
			}

			got := w.Values()
			if len(got) != len(tt.want) {
				t.Fatalf("Values() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Values()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
			if w.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", w.Len(), len(tt.want))
			}
		})
	}
}

func TestWindow_CountSince(t *testing.T) {
	clock := newMockClock(time.Unix(1000, 0))
	w := NewWindowWithClock(10, clock)

	for i := 0; i < 5; i++ {
		w.Add(1)
		clock.Advance(10 * time.Second)
	}
	// Samples at t=1000,1010,1020,1030,1040; now=1050

	tests := []struct {
		since time.Time
		want  int
	}{
		{time.Unix(0, 0), 5},
		{time.Unix(1020, 0), 3},
		{time.Unix(1041, 0), 0},
		{time.Unix(1040, 0), 1},
	}
	for _, tt := range tests {
		if got := w.CountSince(tt.since); got != tt.want {
			t.Errorf("CountSince(%v) = %d, want %d", tt.since.Unix(), got, tt.want)
		}
	}
}

func TestWindow_LastAndReset(t *testing.T) {
	clock := newMockClock(time.Unix(1000, 0))
	w := NewWindowWithClock(2, clock)

	if _, ok := w.Last(); ok {
		t.Error("Last() on empty window returned ok")
	}

	w.Add(1)
	clock.Advance(time.Second)
	w.Add(2)
	clock.Advance(time.Second)
	w.Add(3)

	last, ok := w.Last()
	if !ok || last.Value != 3 || !last.At.Equal(time.Unix(1002, 0)) {
		t.Errorf("Last() = %+v,%v; want value 3 at 1002", last, ok)
	}

	w.Reset()
	if w.Len() != 0 {
		t.Errorf("Len() after Reset = %d", w.Len())
	}
	if w.Cap() != 2 {
		t.Errorf("Cap() = %d, want 2", w.Cap())
	}
}

func TestWindow_ConcurrentAdd(t *testing.T) {
	w := NewWindow(100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				w.Add(float64(i))
				_ = w.Snapshot()
			}
		}()
	}
	wg.Wait()

	if w.Len() != 100 {
		t.Errorf("Len() = %d, want 100", w.Len())
	}
}
