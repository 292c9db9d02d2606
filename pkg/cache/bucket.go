package cache

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/types"
)

// Bucket is a TTL-bound JSON blob store backed by one on-disk file,
// mirroring the Shard state machine.
type Bucket struct {
	Name string

	mu           sync.RWMutex
	status       types.ShardStatus
	entries      map[string]*types.CachedEntry
	adaptiveLoad bool

	path  string
	clock config.Clock
}

// NewBucket creates an empty, unloaded cache bucket backed by
// <dataDir>/data/cache/<name>_cache.
func NewBucket(name, dataDir string, clock config.Clock) *Bucket {
	return &Bucket{
		Name:    name,
		status:  types.ShardUnloaded,
		entries: make(map[string]*types.CachedEntry),
		path:    filepath.Join(dataDir, "data", "cache", name+"_cache"),
		clock:   clock,
	}
}

// Status reports the bucket's current lifecycle state.
func (b *Bucket) Status() types.ShardStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetAdaptiveLoad sets the bucket's adaptive-load flag, which the registry
// persists in the cachemanager manifest. The maintenance scheduler's
// idle-unload sweep covers table shards only and does not unload buckets.
func (b *Bucket) SetAdaptiveLoad(adaptive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adaptiveLoad = adaptive
}

// AdaptiveLoad reports the bucket's current adaptive-load flag.
func (b *Bucket) AdaptiveLoad() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.adaptiveLoad
}

// LoadData reads the bucket's file, one JSON object per line, and
// reconstructs its entry map.
func (b *Bucket) LoadData() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadDataLocked()
}

// loadDataLocked is LoadData's core, callable with b.mu already held for
// writing so a caller (Insert) can run its whole load-then-retry under a
// single lock acquisition.
func (b *Bucket) loadDataLocked() error {
	if b.status == types.ShardReady {
		return nil
	}
	b.status = types.ShardLoading

	entries, err := readCacheFile(b.path)
	if err != nil {
		b.status = types.ShardError
		return err
	}

	// Entries already expired on disk are dropped during load rather than
	// carried until the next sweep.
	now := b.clock.NowMillis()
	members := make(map[string]*types.CachedEntry, len(entries))
	for _, e := range entries {
		if !e.IsValid(now) {
			continue
		}
		members[e.ID] = e
	}
	b.entries = members
	b.status = types.ShardReady
	return nil
}

// UnloadData mirrors Shard.UnloadData's three orthogonal flags.
func (b *Bucket) UnloadData(unload, save, delete bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if delete {
		b.entries = make(map[string]*types.CachedEntry)
		_ = os.Remove(b.path)
		b.status = types.ShardUnloaded
		return nil
	}

	if save {
		records := make([]*types.CachedEntry, 0, len(b.entries))
		for _, e := range b.entries {
			records = append(records, e)
		}
		if err := writeCacheFile(b.path, records); err != nil {
			b.status = types.ShardError
			return err
		}
	}

	if unload {
		b.entries = make(map[string]*types.CachedEntry)
		b.status = types.ShardUnloaded
		return nil
	}

	b.status = types.ShardReady
	return nil
}

// ensureReadyLocked requires b.mu already held for writing. It loads the
// bucket in place if needed, so the entire load-then-retry sequence
// happens under one lock acquisition.
func (b *Bucket) ensureReadyLocked() error {
	if b.status == types.ShardReady {
		return nil
	}
	if err := b.loadDataLocked(); err != nil {
		return err
	}
	if b.status != types.ShardReady {
		return jserr.New(jserr.NotFound, "cache bucket %s not loaded", b.Name)
	}
	return nil
}

// Get returns the entry for id if present and currently valid, applying a
// single bounded load-retry when the bucket isn't ready.
func (b *Bucket) Get(id string) (*types.CachedEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureReadyLocked(); err != nil {
		return nil, err
	}

	e, ok := b.entries[id]
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(b.Name).Inc()
		return nil, jserr.New(jserr.NotFound, "cache entry %s not present in bucket %s", id, b.Name)
	}
	if !e.IsValid(b.clock.NowMillis()) {
		metrics.CacheMissesTotal.WithLabelValues(b.Name).Inc()
		return nil, jserr.New(jserr.NotFound, "cache entry %s expired in bucket %s", id, b.Name)
	}
	metrics.CacheHitsTotal.WithLabelValues(b.Name).Inc()
	return e, nil
}

// Insert rejects only when an entry exists and is still valid; otherwise
// it overwrites. The whole load-then-insert retry runs under the write
// lock throughout; the lock is never released mid-operation.
func (b *Bucket) Insert(id string, data types.JSONObject, validUntil int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureReadyLocked(); err != nil {
		return err
	}

	if existing, ok := b.entries[id]; ok && existing.IsValid(b.clock.NowMillis()) {
		return jserr.New(jserr.AlreadyExists, "cache entry %s still valid in bucket %s", id, b.Name)
	}

	b.entries[id] = &types.CachedEntry{
		CacheIdentifier: b.Name,
		ID:              id,
		Data:            data,
		ValidUntil:      validUntil,
	}
	return nil
}

// Delete removes an entry unconditionally, failing NotFound if absent.
func (b *Bucket) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[id]; !ok {
		return jserr.New(jserr.NotFound, "cache entry %s not present in bucket %s", id, b.Name)
	}
	delete(b.entries, id)
	return nil
}

// Sweep removes every entry that has expired as of now, returning the
// count removed. Used by the maintenance scheduler's periodic TTL sweep.
func (b *Bucket) Sweep(nowMillis int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, e := range b.entries {
		if !e.IsValid(nowMillis) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of entries currently resident in memory.
func (b *Bucket) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func readCacheFile(path string) ([]*types.CachedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*types.CachedEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := types.UnmarshalCacheLine(line)
		if err != nil {
			return nil, jserr.Wrap(jserr.LoadFailed, err, "parse cache line: %s", path)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, jserr.Wrap(jserr.LoadFailed, err, "read cache file: %s", path)
	}
	return out, nil
}

func writeCacheFile(path string, entries []*types.CachedEntry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "create cache directory: %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "create temp file: %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		line, err := types.MarshalCacheLine(e)
		if err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "marshal cache entry %s", e.ID)
		}
		if _, err := w.Write(line); err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "write cache entry %s", e.ID)
		}
		if err := w.WriteByte('\n'); err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "write cache entry %s", e.ID)
		}
	}
	if err := w.Flush(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "flush cache file: %s", path)
	}
	if err := tmp.Close(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "close cache file: %s", path)
	}
	return os.Rename(tmpName, path)
}
