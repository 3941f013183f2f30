package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	evictInterval = time.Minute
	evictAfter    = 10 * time.Minute
)

// tokenBucket tracks the remaining allowance for one key. Refill happens
// lazily on access, proportional to the time since the last touch.
type tokenBucket struct {
	remaining float64
	touched   time.Time
}

func (b *tokenBucket) take(now time.Time, rate, burst float64) bool {
	b.remaining += now.Sub(b.touched).Seconds() * rate
	if b.remaining > burst {
		b.remaining = burst
	}
	b.touched = now

	if b.remaining < 1 {
		return false
	}
	b.remaining--
	return true
}

// MemoryLimiter is a per-key token bucket held in process memory. Suited to
// single-instance deployments; multi-instance setups share counters through
// the Redis limiter instead.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of requests
// per second per key with the given burst capacity. A janitor goroutine drops
// keys idle past ten minutes; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow consumes one token for key, reporting whether the request may
// proceed. Never returns an error.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		// New key starts from a full bucket.
		m.buckets[key] = &tokenBucket{remaining: m.burst - 1, touched: now}
		return true, nil
	}
	return b.take(now, m.rate, m.burst), nil
}

// Close stops the janitor. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *MemoryLimiter) evictIdle() {
	cutoff := time.Now().Add(-evictAfter)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.touched.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
