package comm

import (
	"sync"
	"time"
)

// Throttler is a token-bucket bitrate limiter (spec §4.3 "Throttling").
// Tokens accumulate at MaxBitrate bits/sec up to a fixed capacity, so an
// idle bucket saturates rather than allowing an unbounded burst once
// traffic resumes, and a bucket that never sends never stalls future
// sends indefinitely.
//
// No repo in the example corpus imports golang.org/x/time/rate directly
// (only transitively through grpc), and the teacher's own style is to
// hand-roll protocol-specific algorithms (CRC16, framing) rather than reach
// for a library, so this stays on stdlib time arithmetic.
type Throttler struct {
	mu         sync.Mutex
	enabled    bool
	maxBitrate float64 // bits per second
	capacity   float64 // bits
	tokens     float64
	last       time.Time
}

// NewThrottler builds a disabled throttler; call SetEnabled to turn it on.
// window sizes the bucket capacity (how much instantaneous burst the
// estimator tolerates) as maxBitrate * window.
func NewThrottler(maxBitrate float64, window time.Duration) *Throttler {
	capacity := maxBitrate * window.Seconds()
	return &Throttler{
		maxBitrate: maxBitrate,
		capacity:   capacity,
		tokens:     capacity,
		last:       time.Now(),
	}
}

func (t *Throttler) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if enabled {
		t.last = time.Now()
	}
}

// SetMaxBitrate reconfigures the bucket's fill rate and capacity. The device
// handler calls it with the target's advertised max bitrate on entering
// WaitDataloggingReady, after info polling has finished (§4.8).
func (t *Throttler) SetMaxBitrate(maxBitrate float64, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxBitrate = maxBitrate
	t.capacity = maxBitrate * window.Seconds()
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
}

func (t *Throttler) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(t.last).Seconds()
	t.last = now
	if elapsed <= 0 {
		return
	}
	t.tokens += elapsed * t.maxBitrate
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
}

// Allow reports whether bits may be sent now. When it returns true the
// tokens are consumed; a false result consumes nothing so the caller may
// retry the same request next tick.
func (t *Throttler) Allow(bits int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return true
	}
	t.refillLocked()
	if t.tokens >= float64(bits) {
		t.tokens -= float64(bits)
		return true
	}
	return false
}

// Backlog returns the number of bits currently due but not yet admitted,
// i.e. how far into negative territory the bucket would go if it allowed
// the given pending request through. Used to bound instantaneous backlog
// per §8 scenario 2.
func (t *Throttler) Backlog(bits int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return 0
	}
	t.refillLocked()
	deficit := float64(bits) - t.tokens
	if deficit < 0 {
		return 0
	}
	return deficit
}
