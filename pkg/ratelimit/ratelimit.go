// Package ratelimit implements JStorage's per-user token bucket.
// Refill resolution is nanoseconds, and the bucket is driven by an
// injected config.Clock so tests can advance time deterministically
// instead of sleeping.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cuemby/jstorage/pkg/config"
)

// Limiter is a token bucket: buckets tokens refill linearly over window,
// one bucket added every window/buckets nanoseconds.
type Limiter struct {
	mu sync.Mutex

	clock       config.Clock
	capacity    int64
	refillEvery int64 // nanoseconds per single-bucket refill

	available  int64
	lastRefill int64 // nanoseconds
}

// New creates a Limiter that refills to capacity buckets once every window
// duration, at a steady rate of one bucket per window/buckets.
func New(clock config.Clock, window time.Duration, buckets int) *Limiter {
	if buckets <= 0 {
		buckets = 1
	}
	refillEvery := window.Nanoseconds() / int64(buckets)
	if refillEvery <= 0 {
		refillEvery = 1
	}
	return &Limiter{
		clock:       clock,
		capacity:    int64(buckets),
		refillEvery: refillEvery,
		available:   int64(buckets),
		lastRefill:  clock.NowNanos(),
	}
}

// Take attempts to consume one bucket, returning false without mutating
// state when none is available.
func (l *Limiter) Take() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.available <= 0 {
		return false
	}
	l.available--
	return true
}

func (l *Limiter) refillLocked() {
	now := l.clock.NowNanos()
	elapsed := now - l.lastRefill
	if elapsed <= 0 {
		return
	}
	refilled := elapsed / l.refillEvery
	if refilled <= 0 {
		return
	}
	l.available += refilled
	if l.available > l.capacity {
		l.available = l.capacity
	}
	l.lastRefill += refilled * l.refillEvery
}

// GetRefillTime returns the epoch-millis at which the bucket will next be
// full, given its current state.
func (l *Limiter) GetRefillTime() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.available >= l.capacity {
		return l.clock.NowMillis()
	}
	missing := l.capacity - l.available
	remainingNanos := missing * l.refillEvery
	nowNanos := l.clock.NowNanos()
	return (nowNanos + remainingNanos) / int64(time.Millisecond)
}
