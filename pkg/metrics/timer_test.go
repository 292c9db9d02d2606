package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDurationGrowsMonotonically(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	if first < 20*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 20ms", first)
	}

	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()
	if second <= first {
		t.Errorf("Duration should grow between calls: first=%v, second=%v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_shard_load_duration_seconds",
		Help:    "Test histogram standing in for ShardLoadDuration",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if timer.Duration() == 0 {
		t.Error("Timer.ObserveDuration() recorded zero duration")
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_operation_duration_seconds",
			Help:    "Test histogram vec with a per-table label",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "posts")

	if timer.Duration() == 0 {
		t.Error("Timer.ObserveDurationVec() recorded zero duration")
	}
}

func TestTimersAreIndependent(t *testing.T) {
	older := NewTimer()
	time.Sleep(20 * time.Millisecond)
	newer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	if older.Duration() <= newer.Duration() {
		t.Errorf("older timer should report the longer duration: older=%v, newer=%v", older.Duration(), newer.Duration())
	}
}
