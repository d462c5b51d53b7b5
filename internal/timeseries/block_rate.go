// Package timeseries tracks block production over rolling time windows.
//
// Add is lock-free; Sample and Rates take the ring buffer lock. At one
// sample per second the ring holds five minutes of history.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (5 minutes at 1 sample/sec)
	ringBufferSize = 300

	windowShort = time.Minute
	windowLong  = 5 * time.Minute
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is the cumulative block count at a point in time.
type sample struct {
	at     time.Time
	blocks uint64
}

// BlockRate counts generated blocks and reports blocks per minute.
//
//	rate := NewBlockRate()
//	rate.Add(1)       // per generate-blocks call
//	rate.Sample()     // once a second
//	r := rate.Rates() // for the dashboard and exit summary
type BlockRate struct {
	total atomic.Uint64

	mu       sync.RWMutex
	samples  []sample
	writeIdx int
	start    time.Time
	clock    Clock
}

// Rates are blocks per minute at a point in time.
type Rates struct {
	Total   uint64
	Last1m  float64
	Last5m  float64
	Overall float64
}

// NewBlockRate creates a tracker using the wall clock.
func NewBlockRate() *BlockRate {
	return NewBlockRateWithClock(realClock{})
}

// NewBlockRateWithClock creates a tracker reading time from clock.
func NewBlockRateWithClock(clock Clock) *BlockRate {
	now := clock.Now()
	r := &BlockRate{
		samples: make([]sample, 0, ringBufferSize),
		start:   now,
		clock:   clock,
	}
	r.samples = append(r.samples, sample{at: now})
	return r
}

// Add counts n generated blocks.
func (r *BlockRate) Add(n uint64) {
	r.total.Add(n)
}

// Sample records the current total. Call it periodically.
func (r *BlockRate) Sample() {
	s := sample{at: r.clock.Now(), blocks: r.total.Load()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < ringBufferSize {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.writeIdx] = s
	r.writeIdx = (r.writeIdx + 1) % ringBufferSize
}

// Rates computes blocks per minute over the last minute, the last five
// minutes and the whole run. Windows longer than the recorded history use
// the oldest sample available.
func (r *BlockRate) Rates() Rates {
	now := r.clock.Now()
	total := r.total.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	rates := Rates{
		Total:   total,
		Last1m:  r.perMinuteSince(now, total, windowShort),
		Last5m:  r.perMinuteSince(now, total, windowLong),
		Overall: perMinute(total, now.Sub(r.start)),
	}
	return rates
}

// perMinuteSince must be called with mu held.
func (r *BlockRate) perMinuteSince(now time.Time, total uint64, window time.Duration) float64 {
	cutoff := now.Add(-window)

	// Latest sample at or before the cutoff, else the oldest one.
	var base *sample
	for i := range r.samples {
		s := &r.samples[i]
		if s.at.After(cutoff) {
			continue
		}
		if base == nil || s.at.After(base.at) {
			base = s
		}
	}
	if base == nil {
		base = r.oldest()
	}
	if base == nil || total < base.blocks {
		return 0
	}
	return perMinute(total-base.blocks, now.Sub(base.at))
}

// oldest must be called with mu held.
func (r *BlockRate) oldest() *sample {
	if len(r.samples) == 0 {
		return nil
	}
	if len(r.samples) < ringBufferSize {
		return &r.samples[0]
	}
	return &r.samples[r.writeIdx]
}

func perMinute(blocks uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(blocks) / elapsed.Minutes()
}

// Reset clears all counts and history.
func (r *BlockRate) Reset() {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.total.Store(0)
	r.samples = append(r.samples[:0], sample{at: now})
	r.writeIdx = 0
	r.start = now
}

// SampleCount returns the number of samples held.
func (r *BlockRate) SampleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}
