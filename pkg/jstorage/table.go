package jstorage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/cuemby/jstorage/pkg/usage"
)

// defaultShardCap is used when a Table is constructed without an explicit
// cap.
const defaultShardCap = 500

// Table owns the identifier→shard index and the shard pool for one
// (database, name) pair. A single reader-writer lock
// guards both maps; table mutations hold this lock and then, only after
// acquiring it, the target shard's lock — never the reverse order, so
// the two levels never deadlock against each other.
type Table struct {
	Database string
	Name     string
	Cap      int

	dataDir   string
	encrypted bool
	crypt     *crypt.CryptTool
	clock     config.Clock
	random    config.Random
	bus       *notify.Bus
	usage     *usage.Tracker

	secureModifications bool

	mu               sync.RWMutex
	index            map[string]string // record id -> shard id
	shardPool        map[string]*Shard
	adaptiveLoad     bool
	defaultStructure types.JSONObject
	inconsistent     bool
}

// NewTable creates an empty Table ready to accept inserts.
func NewTable(database, name, dataDir string, cap int, encrypted bool, ct *crypt.CryptTool, clock config.Clock, random config.Random, bus *notify.Bus, tracker *usage.Tracker) *Table {
	if cap <= 0 {
		cap = defaultShardCap
	}
	return &Table{
		Database:  database,
		Name:      name,
		Cap:       cap,
		dataDir:   dataDir,
		encrypted: encrypted,
		crypt:     ct,
		clock:     clock,
		random:    random,
		bus:       bus,
		usage:     tracker,
		index:     make(map[string]string),
		shardPool: make(map[string]*Shard),
	}
}

// Inconsistent reports the table's index-divergence flag.
func (t *Table) Inconsistent() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inconsistent
}

// SetAdaptiveLoad toggles idle-shard unloading eligibility for this table.
func (t *Table) SetAdaptiveLoad(adaptive bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adaptiveLoad = adaptive
}

// AdaptiveLoad reports whether this table's shards are eligible for the
// maintenance scheduler's idle-unload sweep.
func (t *Table) AdaptiveLoad() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.adaptiveLoad
}

// SetDefaultStructure installs (or clears, with nil) the structural
// template every inserted record must match.
func (t *Table) SetDefaultStructure(structure types.JSONObject) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultStructure = structure
}

// SetSecureModifications toggles secure mode. In secure mode
// UpdateDataType on a dataType the record does not yet have fails NoToken
// instead of creating it; InsertDataType does not consult the flag.
func (t *Table) SetSecureModifications(secure bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.secureModifications = secure
}

func (t *Table) secureMode() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.secureModifications
}

// GetDataType looks up id and forwards to DataSet.Get.
func (t *Table) GetDataType(id, dataType string, requestToken bool) (types.JSONObject, error) {
	ds, err := t.GetDataSet(id)
	if err != nil {
		return nil, err
	}
	return ds.Get(dataType, requestToken, t.random)
}

// InsertDataType looks up id and forwards to DataSet.Insert.
func (t *Table) InsertDataType(id, dataType string, payload types.JSONObject, origin string) error {
	ds, err := t.GetDataSet(id)
	if err != nil {
		return err
	}
	return ds.Insert(dataType, payload, t.clock, t.bus, origin)
}

// UpdateDataType looks up id and forwards to DataSet.Update, passing this
// table's secure-modifications flag: updates of an existing dataType
// always need the pending token, and on a table created with --secure an
// update of a dataType the record lacks fails NoToken rather than
// creating it.
func (t *Table) UpdateDataType(id, dataType string, payload types.JSONObject, origin string) error {
	ds, err := t.GetDataSet(id)
	if err != nil {
		return err
	}
	return ds.Update(dataType, payload, t.secureMode(), t.clock, t.bus, origin)
}

// DeleteDataType looks up id and forwards to DataSet.Delete.
func (t *Table) DeleteDataType(id, dataType string, origin string) error {
	ds, err := t.GetDataSet(id)
	if err != nil {
		return err
	}
	return ds.Delete(dataType, t.clock, t.bus, origin)
}

// GetDataSet resolves id through the index and routes to its shard.
// An index entry whose shard returns NotFound marks the
// table inconsistent and surfaces IndexDivergence, since the index and
// the shard's own contents have drifted apart.
func (t *Table) GetDataSet(id string) (*DataSet, error) {
	id = strings.ToLower(id)
	t.mu.RLock()
	shardID, ok := t.index[id]
	if !ok {
		t.mu.RUnlock()
		return nil, jserr.New(jserr.NotFound, "record %s not present in table %s/%s", id, t.Database, t.Name)
	}
	shard, ok := t.shardPool[shardID]
	t.mu.RUnlock()
	if !ok {
		t.markInconsistent()
		return nil, jserr.New(jserr.IndexDivergence, "index points record %s at missing shard %s", id, shardID)
	}

	ds, err := shard.GetDataSet(id)
	if err != nil {
		if jserr.Is(err, jserr.NotFound) {
			t.markInconsistent()
			return nil, jserr.New(jserr.IndexDivergence, "index points record %s at shard %s which does not contain it", id, shardID)
		}
		return nil, err
	}
	if t.usage != nil {
		t.usage.Record(id)
	}
	metrics.RecordReadsTotal.WithLabelValues(t.Database, t.Name).Inc()
	return ds, nil
}

func (t *Table) markInconsistent() {
	t.mu.Lock()
	t.inconsistent = true
	t.mu.Unlock()
}

// ContainsDataSet reports whether id appears in the index.
func (t *Table) ContainsDataSet(id string) bool {
	id = strings.ToLower(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[id]
	return ok
}

// InsertDataSet applies the insertion policy: reject an
// inconsistent table, reject a structural mismatch, reject a duplicate
// identifier, then route to a target shard chosen by the documented
// preference order, finally recording the new index entry.
func (t *Table) InsertDataSet(ds *DataSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inconsistent {
		return jserr.New(jserr.IndexDivergence, "table %s/%s is inconsistent; call resolveInconsistency first", t.Database, t.Name)
	}
	if len(t.defaultStructure) > 0 {
		for _, obj := range ds.DataTypes {
			if !structuralMatch(obj, t.defaultStructure) {
				return jserr.New(jserr.StructureMismatch, "record %s does not match table %s/%s default structure", ds.ID, t.Database, t.Name)
			}
		}
	}
	if _, exists := t.index[ds.ID]; exists {
		return jserr.New(jserr.AlreadyExists, "record %s already present in table %s/%s", ds.ID, t.Database, t.Name)
	}

	shard := t.chooseTargetShardLocked()
	if err := shard.InsertDataSet(ds); err != nil {
		return err
	}
	t.index[ds.ID] = shard.ID
	metrics.RecordWritesTotal.WithLabelValues(t.Database, t.Name).Inc()
	return nil
}

// chooseTargetShardLocked picks the target in preference order: a loaded shard
// with spare capacity, else any shard with spare capacity (may be
// unloaded), else a freshly created shard. Must be called with t.mu held.
func (t *Table) chooseTargetShardLocked() *Shard {
	var anyWithRoom *Shard
	for _, shard := range t.shardPool {
		if shard.Count() >= shard.Cap {
			continue
		}
		if shard.Status() == types.ShardReady {
			return shard
		}
		if anyWithRoom == nil {
			anyWithRoom = shard
		}
	}
	if anyWithRoom != nil {
		return anyWithRoom
	}
	shard := NewShard(t.Database, t.Name, t.dataDir, t.Cap, t.encrypted, t.crypt, t.clock)
	shard.markReady()
	t.shardPool[shard.ID] = shard
	return shard
}

// DeleteDataSet routes to the owning shard, removes the index entry, and
// if the shard is now empty, clears any file-backed residue without
// writing and drops it from the pool.
func (t *Table) DeleteDataSet(id string) error {
	id = strings.ToLower(id)
	t.mu.Lock()
	defer t.mu.Unlock()

	shardID, ok := t.index[id]
	if !ok {
		return jserr.New(jserr.NotFound, "record %s not present in table %s/%s", id, t.Database, t.Name)
	}
	shard, ok := t.shardPool[shardID]
	if !ok {
		t.inconsistent = true
		return jserr.New(jserr.IndexDivergence, "index points record %s at missing shard %s", id, shardID)
	}
	if err := shard.DeleteDataSet(id); err != nil {
		return err
	}
	delete(t.index, id)

	if shard.Count() == 0 {
		_ = shard.UnloadData(false, false, true)
		delete(t.shardPool, shardID)
	}
	return nil
}

// ResolveInconsistency clears the table's divergence flag using one of
// four resolver modes of increasing aggressiveness.
func (t *Table) ResolveInconsistency(mode int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case 0:
		t.inconsistent = false
		return nil
	case 1:
		t.dropMissingShardEntriesLocked()
		t.inconsistent = false
		return nil
	case 2:
		t.dropMissingShardEntriesLocked()
		t.dropEntriesNotInLoadedShardLocked()
		t.inconsistent = false
		return nil
	case 3:
		return t.fullRebuildLocked()
	default:
		return jserr.New(jserr.Unknown, "unknown inconsistency resolver mode %d", mode)
	}
}

func (t *Table) dropMissingShardEntriesLocked() {
	for id, shardID := range t.index {
		if _, ok := t.shardPool[shardID]; !ok {
			delete(t.index, id)
		}
	}
}

func (t *Table) dropEntriesNotInLoadedShardLocked() {
	for id, shardID := range t.index {
		shard, ok := t.shardPool[shardID]
		if !ok {
			continue
		}
		if shard.Status() == types.ShardReady && !shard.Contains(id) {
			delete(t.index, id)
		}
	}
}

// fullRebuildLocked implements mode 3: enumerate every on-disk shard file
// plus every currently loaded DataSet, union them keyed by identifier
// (in-memory entries win on conflict), delete all current shard files and
// the index, then repack into fresh shards of size Cap and snapshot them.
func (t *Table) fullRebuildLocked() error {
	union := make(map[string]*DataSet)

	tableDir := filepath.Join(t.dataDir, "data", "db", t.Database, t.Name)
	entries, _ := os.ReadDir(tableDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		records, err := readShardFile(filepath.Join(tableDir, entry.Name()), t.crypt)
		if err != nil {
			continue
		}
		for _, ds := range records {
			union[ds.ID] = ds
		}
	}

	for _, shard := range t.shardPool {
		for _, ds := range shard.Snapshot() {
			union[ds.ID] = ds // in-memory entries win on conflict
		}
	}

	for _, shard := range t.shardPool {
		_ = os.Remove(shard.Path())
	}
	_ = os.RemoveAll(tableDir)

	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t.shardPool = make(map[string]*Shard)
	t.index = make(map[string]string)

	var current *Shard
	for _, id := range ids {
		if current == nil || current.Count() >= t.Cap {
			current = NewShard(t.Database, t.Name, t.dataDir, t.Cap, t.encrypted, t.crypt, t.clock)
			current.markReady()
			t.shardPool[current.ID] = current
		}
		ds := union[id]
		if err := current.InsertDataSet(ds); err != nil {
			return jserr.Wrap(jserr.Unknown, err, "repack record %s during rebuild", id)
		}
		t.index[id] = current.ID
	}

	for _, shard := range t.shardPool {
		if err := shard.UnloadData(false, true, false); err != nil {
			return err
		}
	}

	t.inconsistent = false
	return nil
}

// Optimize repacks records so frequently accessed ones cohabit a shard:
// sort records by recent UsageTracker count descending (ties broken by
// identifier ascending), then refill shards up to Cap in that order. The
// whole operation runs under the table's write lock, so it is atomic from
// a reader's perspective.
func (t *Table) Optimize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make(map[string]*DataSet)
	for _, shard := range t.shardPool {
		if err := shard.ensureReady(); err != nil {
			return err
		}
		for _, ds := range shard.Snapshot() {
			all[ds.ID] = ds
		}
	}

	var counts map[string]int
	if t.usage != nil {
		counts = t.usage.Counts()
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := counts[ids[i]], counts[ids[j]]
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})

	for _, shard := range t.shardPool {
		_ = os.Remove(shard.Path())
	}
	t.shardPool = make(map[string]*Shard)
	t.index = make(map[string]string)

	var current *Shard
	for _, id := range ids {
		if current == nil || current.Count() >= t.Cap {
			current = NewShard(t.Database, t.Name, t.dataDir, t.Cap, t.encrypted, t.crypt, t.clock)
			current.markReady()
			t.shardPool[current.ID] = current
		}
		if err := current.InsertDataSet(all[id]); err != nil {
			return jserr.Wrap(jserr.Unknown, err, "repack record %s during optimize", id)
		}
		t.index[id] = current.ID
	}

	for _, shard := range t.shardPool {
		if err := shard.UnloadData(false, true, false); err != nil {
			return err
		}
	}
	return nil
}

// structuralMatch checks structural conformance:
// for every key in template, candidate must have a value of matching
// JSON type; object exemplars recurse, array exemplars check every
// element against the template array's first element. Extra keys in
// candidate are allowed; missing keys are rejected.
func structuralMatch(candidate, template types.JSONObject) bool {
	for key, exemplar := range template {
		value, ok := candidate[key]
		if !ok {
			return false
		}
		if !valueMatches(value, exemplar) {
			return false
		}
	}
	return true
}

func valueMatches(value, exemplar interface{}) bool {
	switch ex := exemplar.(type) {
	case map[string]interface{}:
		v, ok := value.(map[string]interface{})
		if !ok {
			return false
		}
		return structuralMatch(types.JSONObject(v), types.JSONObject(ex))
	case []interface{}:
		v, ok := value.([]interface{})
		if !ok {
			return false
		}
		if len(ex) == 0 {
			return true
		}
		for _, elem := range v {
			if !valueMatches(elem, ex[0]) {
				return false
			}
		}
		return true
	case string:
		_, ok := value.(string)
		return ok
	case float64:
		_, ok := value.(float64)
		return ok
	case bool:
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// IndexSnapshot returns the table's adaptive-load flag and its index
// grouped by shard identifier (including shards with no current members),
// used by the registry to write the table's manifest at shutdown.
func (t *Table) IndexSnapshot() (bool, map[string][]string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byShard := make(map[string][]string, len(t.shardPool))
	for shardID := range t.shardPool {
		byShard[shardID] = nil
	}
	for id, shardID := range t.index {
		byShard[shardID] = append(byShard[shardID], id)
	}
	return t.adaptiveLoad, byShard
}

// ShardCount reports how many shards currently back this table (used by
// tests and the maintenance scheduler's metrics).
func (t *Table) ShardCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.shardPool)
}

// Shards returns a snapshot slice of every shard currently in the pool.
func (t *Table) Shards() []*Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Shard, 0, len(t.shardPool))
	for _, shard := range t.shardPool {
		out = append(out, shard)
	}
	return out
}

// Delete removes every shard file owned by this table and clears the
// in-memory index, used by Database.delete()'s cascade.
func (t *Table) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, shard := range t.shardPool {
		_ = shard.UnloadData(false, false, true)
	}
	t.shardPool = make(map[string]*Shard)
	t.index = make(map[string]string)
	return os.RemoveAll(filepath.Join(t.dataDir, "data", "db", t.Database, t.Name))
}
