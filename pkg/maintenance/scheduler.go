package maintenance

import (
	"sync"
	"time"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/cuemby/jstorage/pkg/log"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler runs JStorage's three periodic maintenance tasks on one
// dedicated goroutine, executed sequentially so they never race each
// other.
type Scheduler struct {
	registry *jstorage.Registry
	clock    config.Clock
	logger   zerolog.Logger

	idleThreshold      time.Duration
	snapshotInterval   time.Duration
	cacheSweepInterval time.Duration

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler bound to registry. Call Start to begin the
// background goroutine.
func New(registry *jstorage.Registry, clock config.Clock, idleThreshold, snapshotInterval, cacheSweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		registry:           registry,
		clock:              clock,
		logger:             log.WithComponent("maintenance"),
		idleThreshold:      idleThreshold,
		snapshotInterval:   snapshotInterval,
		cacheSweepInterval: cacheSweepInterval,
		stopCh:             make(chan struct{}),
	}
}

// Start begins the background goroutine. Safe to call once.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the background goroutine and waits for it to exit.
// Safe to call more
// than once, so a caller that stops collaborators explicitly on a clean
// shutdown path and again via defer on every path never double-closes
// stopCh.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	unloadTicker := time.NewTicker(s.idleThreshold / 4)
	defer unloadTicker.Stop()
	snapshotTicker := time.NewTicker(s.snapshotInterval)
	defer snapshotTicker.Stop()
	sweepTicker := time.NewTicker(s.cacheSweepInterval)
	defer sweepTicker.Stop()

	s.logger.Info().Msg("maintenance scheduler started")

	for {
		select {
		case <-unloadTicker.C:
			s.runCycle("unload", s.UnloadIdleShards)
		case <-snapshotTicker.C:
			s.runCycle("snapshot", s.SnapshotLoadedShards)
		case <-sweepTicker.C:
			s.runCycle("cache_sweep", s.SweepCaches)
		case <-s.stopCh:
			s.logger.Info().Msg("maintenance scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) runCycle(name string, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	task()
	timer.ObserveDuration(metrics.MaintenanceCycleDuration)
	metrics.MaintenanceCyclesTotal.Inc()
	s.logger.Debug().Str("task", name).Msg("maintenance cycle completed")
}

// UnloadIdleShards unloads (with a save) every ready shard of every
// adaptive-load table whose lastAccess is older than idleThreshold.
func (s *Scheduler) UnloadIdleShards() {
	now := s.clock.NowMillis()
	cutoff := now - s.idleThreshold.Milliseconds()

	for _, db := range s.registry.Databases() {
		for _, table := range db.Tables() {
			if !table.AdaptiveLoad() {
				continue
			}
			for _, shard := range table.Shards() {
				if shard.Status() != types.ShardReady {
					continue
				}
				if shard.LastAccess() > cutoff {
					continue
				}
				if err := shard.UnloadData(true, true, false); err != nil {
					s.logger.Warn().Err(err).Str("shard", shard.ID).Msg("failed to unload idle shard")
				}
			}
		}
	}
}

// SnapshotLoadedShards saves every currently ready shard to disk without
// unloading it from memory.
func (s *Scheduler) SnapshotLoadedShards() {
	for _, db := range s.registry.Databases() {
		for _, table := range db.Tables() {
			for _, shard := range table.Shards() {
				if shard.Status() != types.ShardReady {
					continue
				}
				if err := shard.UnloadData(false, true, false); err != nil {
					s.logger.Warn().Err(err).Str("shard", shard.ID).Msg("failed to snapshot shard")
				}
			}
		}
	}
}

// SweepCaches removes expired entries from every currently loaded cache
// bucket.
func (s *Scheduler) SweepCaches() {
	now := s.clock.NowMillis()
	for _, bucket := range s.registry.Caches() {
		if bucket.Status() != types.ShardReady {
			continue
		}
		if removed := bucket.Sweep(now); removed > 0 {
			s.logger.Debug().Str("cache", bucket.Name).Int("removed", removed).Msg("swept expired cache entries")
		}
	}
}
