// Package usage implements JStorage's UsageTracker: rolling
// 10-minute per-operation counters that feed Table.optimize()'s
// access-correlation ordering. Counters are kept as per-key timestamp
// slices and trimmed lazily on read, driven by an injected config.Clock
// so tests can advance time deterministically instead of sleeping.
package usage

import (
	"sync"
	"time"

	"github.com/cuemby/jstorage/pkg/config"
)

const defaultWindow = 10 * time.Minute

// Tracker counts how many times each key (typically a record identifier)
// has been accessed within the trailing window.
type Tracker struct {
	mu     sync.Mutex
	clock  config.Clock
	window time.Duration
	events map[string][]int64
}

// New creates a Tracker with the default 10-minute rolling window.
func New(clock config.Clock) *Tracker {
	return NewWithWindow(clock, defaultWindow)
}

// NewWithWindow creates a Tracker with an explicit window, mainly for tests.
func NewWithWindow(clock config.Clock, window time.Duration) *Tracker {
	return &Tracker{
		clock:  clock,
		window: window,
		events: make(map[string][]int64),
	}
}

// Record marks one access to key at the current time.
func (t *Tracker) Record(key string) {
	now := t.clock.NowMillis()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[key] = append(trim(t.events[key], now, t.window), now)
}

// Count returns the number of accesses to key within the trailing window.
func (t *Tracker) Count(key string) int {
	now := t.clock.NowMillis()
	t.mu.Lock()
	defer t.mu.Unlock()
	trimmed := trim(t.events[key], now, t.window)
	t.events[key] = trimmed
	return len(trimmed)
}

// Counts returns the trailing-window access count for every key currently
// tracked, used by Table.optimize() to rank records in one pass.
func (t *Tracker) Counts() map[string]int {
	now := t.clock.NowMillis()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.events))
	for k, ts := range t.events {
		trimmed := trim(ts, now, t.window)
		t.events[k] = trimmed
		if len(trimmed) > 0 {
			out[k] = len(trimmed)
		}
	}
	return out
}

func trim(timestamps []int64, now int64, window time.Duration) []int64 {
	cutoff := now - window.Milliseconds()
	i := 0
	for i < len(timestamps) && timestamps[i] < cutoff {
		i++
	}
	if i == 0 {
		return timestamps
	}
	return append([]int64{}, timestamps[i:]...)
}
