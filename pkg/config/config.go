// Package config holds JStorage's bootstrap configuration and the small
// collaborator interfaces (Clock, Random) the storage core consumes so
// that TTL and refill behavior can be driven deterministically in tests.
package config

import (
	"crypto/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Clock supplies the current time to TTL and refill logic. Production code
// uses SystemClock; tests inject a FakeClock to advance time deterministically.
type Clock interface {
	NowMillis() int64
	NowNanos() int64
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }
func (SystemClock) NowNanos() int64  { return time.Now().UnixNano() }

// Random supplies random bytes for shard identifiers and update tokens.
type Random interface {
	Bytes(n int) ([]byte, error)
}

// SystemRandom is the production Random backed by crypto/rand.
type SystemRandom struct{}

func (SystemRandom) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Config is the top-level bootstrap configuration for cmd/jstoraged.
// Flags are parsed into this struct once, at startup,
// and threaded through constructors instead of read from globals.
type Config struct {
	DataDir string `yaml:"dataDir"`

	// DefaultShardCap is read from the config file (default 500). Table
	// creation does not consult it: tables take --cap, or 500 when that
	// is 0.
	DefaultShardCap int `yaml:"defaultShardCap"`

	// UnloadIdleAfter is the idle duration after which an adaptive table's
	// shards become eligible for unloading.
	UnloadIdleAfter time.Duration `yaml:"unloadIdleAfter"`

	// SnapshotInterval is how often the maintenance scheduler snapshots
	// loaded shards to disk.
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`

	// CacheSweepInterval is how often expired cache entries are purged.
	CacheSweepInterval time.Duration `yaml:"cacheSweepInterval"`

	// RateLimitWindow/RateLimitBuckets configure the default per-user
	// RateLimiter.
	RateLimitWindow  time.Duration `yaml:"rateLimitWindow"`
	RateLimitBuckets int           `yaml:"rateLimitBuckets"`
}

// Default returns the configuration used when no bootstrap file is given.
func Default() Config {
	return Config{
		DataDir:            "./jstorage",
		DefaultShardCap:    500,
		UnloadIdleAfter:    15 * time.Minute,
		SnapshotInterval:   5 * time.Minute,
		CacheSweepInterval: 30 * time.Second,
		RateLimitWindow:    time.Minute,
		RateLimitBuckets:   60,
	}
}

// Load reads an optional YAML bootstrap file (e.g. jstoraged.yaml) and
// overlays it onto Default(). A missing file is not an error: cobra flags
// alone are a complete configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
