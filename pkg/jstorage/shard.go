package jstorage

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/google/uuid"
)

// maxMemoryFraction is the fraction of free memory a shard file is allowed
// to consume before loadData refuses with ShardOOM.
const maxMemoryFraction = 0.8

// Shard is a bounded, file-backed container of DataSets owned exclusively
// by one Table. Its state machine is guarded by mu:
// status queries take the read-lock; record access only proceeds when
// status is ShardReady, and lookups (which update lastAccess) as well as
// load/unload/insert/delete take the write-lock.
type Shard struct {
	ID       string
	Database string
	Table    string
	Cap      int

	mu         sync.RWMutex
	status     types.ShardStatus
	lastAccess int64
	members    map[string]*DataSet

	path      string
	encrypted bool
	crypt     *crypt.CryptTool
	clock     config.Clock
}

// NewShard allocates a fresh, unloaded shard identified by a random
// 16-byte identifier.
func NewShard(database, table, dataDir string, cap int, encrypted bool, ct *crypt.CryptTool, clock config.Clock) *Shard {
	id := uuid.New().String()
	return &Shard{
		ID:         id,
		Database:   database,
		Table:      table,
		Cap:        cap,
		status:     types.ShardUnloaded,
		members:    make(map[string]*DataSet),
		path:       filepath.Join(dataDir, "data", "db", database, table, id),
		encrypted:  encrypted,
		crypt:      ct,
		clock:      clock,
		lastAccess: clock.NowMillis(),
	}
}

// reopenShard reconstructs a Shard handle for an identifier already known
// to the table's index or manifest, without loading its contents.
func reopenShard(id, database, table, dataDir string, cap int, encrypted bool, ct *crypt.CryptTool, clock config.Clock) *Shard {
	return &Shard{
		ID:         id,
		Database:   database,
		Table:      table,
		Cap:        cap,
		status:     types.ShardUnloaded,
		members:    make(map[string]*DataSet),
		path:       filepath.Join(dataDir, "data", "db", database, table, id),
		encrypted:  encrypted,
		crypt:      ct,
		clock:      clock,
		lastAccess: clock.NowMillis(),
	}
}

// Status reports the shard's current lifecycle state.
func (s *Shard) Status() types.ShardStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Count reports the number of DataSets currently resident in memory.
func (s *Shard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// LastAccess reports the epoch-millis of the shard's last successful
// record access, used by the maintenance scheduler's idle-unload sweep.
func (s *Shard) LastAccess() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

func freeMemoryBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys > m.HeapInuse {
		return m.Sys - m.HeapInuse
	}
	return m.Sys
}

// LoadData transitions unloaded/error → loading, checks the file wouldn't
// blow the memory budget, then reads it one JSON object per line
// (transparently decoding JS2-encrypted lines), reconstructing the
// in-memory member map.
func (s *Shard) LoadData() error {
	s.mu.Lock()
	if s.status == types.ShardReady {
		s.mu.Unlock()
		return nil
	}
	s.status = types.ShardLoading
	s.mu.Unlock()

	timer := metrics.NewTimer()

	info, statErr := os.Stat(s.path)
	if statErr == nil {
		free := freeMemoryBytes()
		if free > 0 && uint64(info.Size()) > uint64(float64(free)*maxMemoryFraction) {
			s.mu.Lock()
			s.status = types.ShardOOM
			s.mu.Unlock()
			return jserr.New(jserr.LoadFailed, "shard %s file would exceed memory budget", s.ID)
		}
	}

	records, err := readShardFile(s.path, s.crypt)
	if err != nil {
		s.mu.Lock()
		s.status = types.ShardError
		s.mu.Unlock()
		return err
	}

	members := make(map[string]*DataSet, len(records))
	for _, ds := range records {
		if ds.Database != s.Database || ds.Table != s.Table {
			continue
		}
		members[ds.ID] = ds
	}

	s.mu.Lock()
	s.members = members
	s.status = types.ShardReady
	s.lastAccess = s.clock.NowMillis()
	s.mu.Unlock()
	metrics.ShardsResident.Inc()

	timer.ObserveDuration(metrics.ShardLoadDuration)
	metrics.ShardsLoadedTotal.WithLabelValues(s.Database, s.Table).Inc()
	return nil
}

// UnloadData pages this shard out. delete supersedes
// the other two flags; save snapshots the in-memory map to disk first;
// unload then clears the in-memory map. All three false is a no-op
// ("snapshot dry-run"): a ready or unloaded shard keeps its status, and a
// shard in error or oom is set back to ready.
func (s *Shard) UnloadData(unload, save, delete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delete {
		if s.status == types.ShardReady {
			metrics.ShardsResident.Dec()
		}
		s.members = make(map[string]*DataSet)
		_ = os.Remove(s.path)
		s.status = types.ShardUnloaded
		metrics.ShardsUnloadedTotal.WithLabelValues(s.Database, s.Table).Inc()
		return nil
	}

	if s.status == types.ShardLoading || s.status == types.ShardUnloading {
		return jserr.New(jserr.NotReady, "shard %s busy loading/unloading", s.ID)
	}

	prevStatus := s.status
	s.status = types.ShardUnloading

	if save {
		records := make([]*DataSet, 0, len(s.members))
		for _, ds := range s.members {
			records = append(records, ds)
		}
		if err := writeShardFile(s.path, records, s.activeCryptTool()); err != nil {
			s.status = types.ShardError
			return err
		}
	}

	if unload {
		if prevStatus == types.ShardReady {
			metrics.ShardsResident.Dec()
		}
		s.members = make(map[string]*DataSet)
		s.status = types.ShardUnloaded
		metrics.ShardsUnloadedTotal.WithLabelValues(s.Database, s.Table).Inc()
		return nil
	}

	s.status = prevStatus
	if s.status != types.ShardReady && s.status != types.ShardUnloaded {
		s.status = types.ShardReady
	}
	return nil
}

// activeCryptTool returns the CryptTool to encode with, or nil if this
// shard's database does not currently have encryption enabled. Checked at
// save time (not load time) so SetEncryption's lazy migration takes
// effect on the very next snapshot or unload.
func (s *Shard) activeCryptTool() *crypt.CryptTool {
	if !s.encrypted {
		return nil
	}
	return s.crypt
}

// SetEncrypted flips whether future snapshots of this shard encode with
// CryptTool. It does not rewrite the shard's existing file.
func (s *Shard) SetEncrypted(encrypted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encrypted = encrypted
}

// ensureReady implements the bounded, single-re-entry load-then-retry
// policy for read operations: a non-ready status triggers exactly one
// load attempt before failing (the load's own error, or NotFound if the
// shard is still not ready afterwards).
func (s *Shard) ensureReady() error {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status == types.ShardReady {
		return nil
	}

	if err := s.LoadData(); err != nil {
		return err
	}

	s.mu.RLock()
	status = s.status
	s.mu.RUnlock()
	if status != types.ShardReady {
		return jserr.New(jserr.NotFound, "shard %s not loaded", s.ID)
	}
	return nil
}

// GetDataSet performs a direct map lookup, updating lastAccess on success.
func (s *Shard) GetDataSet(id string) (*DataSet, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.members[id]
	if !ok {
		return nil, jserr.New(jserr.NotFound, "record %s not present in shard %s", id, s.ID)
	}
	s.lastAccess = s.clock.NowMillis()
	return ds, nil
}

// InsertDataSet rejects a parent mismatch, a duplicate identifier, or a
// shard already at capacity.
func (s *Shard) InsertDataSet(ds *DataSet) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds.Database != s.Database || ds.Table != s.Table {
		return jserr.New(jserr.DoesNotFit, "record %s belongs to %s/%s, not shard's %s/%s", ds.ID, ds.Database, ds.Table, s.Database, s.Table)
	}
	if _, exists := s.members[ds.ID]; exists {
		return jserr.New(jserr.AlreadyExists, "record %s already present in shard %s", ds.ID, s.ID)
	}
	if len(s.members) >= s.Cap {
		return jserr.New(jserr.DoesNotFit, "shard %s at capacity %d", s.ID, s.Cap)
	}
	s.members[ds.ID] = ds
	s.lastAccess = s.clock.NowMillis()
	return nil
}

// DeleteDataSet removes a record unconditionally, failing NotFound if it
// is absent.
func (s *Shard) DeleteDataSet(id string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[id]; !exists {
		return jserr.New(jserr.NotFound, "record %s not present in shard %s", id, s.ID)
	}
	delete(s.members, id)
	s.lastAccess = s.clock.NowMillis()
	return nil
}

// Snapshot returns every member DataSet under the read lock, used by the
// table's optimize() and inconsistency resolver to enumerate a shard's
// contents without racing a concurrent writer.
func (s *Shard) Snapshot() []*DataSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*DataSet, 0, len(s.members))
	for _, ds := range s.members {
		out = append(out, ds)
	}
	return out
}

// Contains reports whether id is currently resident in the shard's
// in-memory map, without triggering a load.
func (s *Shard) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

// markReady moves a freshly created, empty shard straight to ready so it
// can accept inserts without a load round-trip.
func (s *Shard) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != types.ShardReady {
		s.status = types.ShardReady
		metrics.ShardsResident.Inc()
	}
}

// Path returns the shard's on-disk file path.
func (s *Shard) Path() string { return s.path }
