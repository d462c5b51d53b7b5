package timeseries

import (
	"math"
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

func approx(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestBlockRate_Add(t *testing.T) {
	tests := []struct {
		name string
		adds []uint64
		want uint64
	}{
		{"single", []uint64{1}, 1},
		{"epoch then singles", []uint64{21, 1, 1}, 23},
		{"zero", []uint64{0}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBlockRateWithClock(newMockClock(time.Unix(0, 0)))
			for _, n := range tt.adds {
				r.Add(n)
			}
			if got := r.Rates().Total; got != tt.want {
				t.Errorf("Total = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBlockRate_SteadyRate(t *testing.T) {
	clock := newMockClock(time.Unix(1000, 0))
	r := NewBlockRateWithClock(clock)

	// One block every 6 seconds for 4 minutes: 10 blocks per minute.
	for i := 0; i < 240; i++ {
		clock.Advance(time.Second)
		if i%6 == 5 {
			r.Add(1)
		}
		r.Sample()
	}

	rates := r.Rates()
	if rates.Total != 40 {
		t.Fatalf("Total = %d, want 40", rates.Total)
	}
	for name, got := range map[string]float64{"1m": rates.Last1m, "5m": rates.Last5m, "overall": rates.Overall} {
		if !approx(got, 10) {
			t.Errorf("%s = %.3f blocks/min, want 10", name, got)
		}
	}
}

func TestBlockRate_BurstFadesFromShortWindow(t *testing.T) {
	clock := newMockClock(time.Unix(1000, 0))
	r := NewBlockRateWithClock(clock)

	r.Add(21)
	for i := 0; i < 120; i++ {
		clock.Advance(time.Second)
		r.Sample()
	}

	rates := r.Rates()
	if rates.Last1m != 0 {
		t.Errorf("Last1m = %.3f, want 0 after a quiet minute", rates.Last1m)
	}
	// History is shorter than 5m: falls back to the oldest sample.
	if !approx(rates.Last5m, 10.5) {
		t.Errorf("Last5m = %.3f, want 10.5", rates.Last5m)
	}
}

func TestBlockRate_NoElapsedTime(t *testing.T) {
	r := NewBlockRateWithClock(newMockClock(time.Unix(0, 0)))
	r.Add(5)

	rates := r.Rates()
	if rates.Last1m != 0 || rates.Overall != 0 {
		t.Errorf("rates with zero elapsed time = %+v", rates)
	}
}

func TestBlockRate_RingBufferWraps(t *testing.T) {
	clock := newMockClock(time.Unix(0, 0))
	r := NewBlockRateWithClock(clock)

	for i := 0; i < ringBufferSize*2; i++ {
		clock.Advance(time.Second)
		r.Add(1)
		r.Sample()
	}

	if got := r.SampleCount(); got != ringBufferSize {
		t.Errorf("SampleCount() = %d, want %d", got, ringBufferSize)
	}
	if rates := r.Rates(); !approx(rates.Last5m, 60) {
		t.Errorf("Last5m = %.3f, want 60", rates.Last5m)
	}
}

func TestBlockRate_Reset(t *testing.T) {
	clock := newMockClock(time.Unix(0, 0))
	r := NewBlockRateWithClock(clock)
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		r.Add(3)
		r.Sample()
	}

	r.Reset()

	if rates := r.Rates(); rates.Total != 0 || rates.Last1m != 0 {
		t.Errorf("Rates() after Reset = %+v", rates)
	}
	if got := r.SampleCount(); got != 1 {
		t.Errorf("SampleCount() after Reset = %d, want 1", got)
	}
}

func TestBlockRate_ConcurrentAdd(t *testing.T) {
	r := NewBlockRate()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Add(1)
				if j%100 == 0 {
					r.Sample()
					r.Rates()
				}
			}
		}()
	}
	wg.Wait()

	if got := r.Rates().Total; got != 8000 {
		t.Errorf("Total = %d, want 8000", got)
	}
}
