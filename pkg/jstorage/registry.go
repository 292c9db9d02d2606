package jstorage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/jstorage/pkg/cache"
	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/log"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/cuemby/jstorage/pkg/usage"
)

// Registry is the process-wide container tying databases and cache
// buckets together. It is the only component allowed to
// create top-level names; Setup and Shutdown serialise against the same
// lock that guards CreateDatabase/CreateCache, while GetDatabase/GetCache
// only take the read side of it.
type Registry struct {
	dataDir string
	clock   config.Clock
	random  config.Random
	bus     *notify.Bus
	crypt   *crypt.CryptTool

	mu        sync.RWMutex
	databases map[string]*Database
	caches    map[string]*cache.Bucket
}

// NewRegistry constructs an empty Registry. Call Setup to reconstruct
// prior state from dataDir before serving requests.
func NewRegistry(dataDir string, clock config.Clock, random config.Random, bus *notify.Bus, ct *crypt.CryptTool) *Registry {
	return &Registry{
		dataDir:   dataDir,
		clock:     clock,
		random:    random,
		bus:       bus,
		crypt:     ct,
		databases: make(map[string]*Database),
		caches:    make(map[string]*cache.Bucket),
	}
}

// --- on-disk manifest shapes ---

type registryManifest struct {
	Databases []databaseManifestEntry `json:"databases"`
	Caches    []string                `json:"caches"`
}

type databaseManifestEntry struct {
	Name      string `json:"name"`
	Encrypted bool   `json:"encrypted"`
}

type dbSettingsFile struct {
	Database  string   `json:"database"`
	Encrypted bool     `json:"encrypted"`
	Tables    []string `json:"tables"`
}

type tableIndexFile struct {
	Database     string            `json:"database"`
	Table        string            `json:"table"`
	AdaptiveLoad bool              `json:"adaptiveLoad"`
	Cap          int               `json:"cap"`
	Shards       []tableIndexShard `json:"shards"`
}

type tableIndexShard struct {
	ShardID  string   `json:"shardId"`
	DataSets []string `json:"dataSets"`
}

type cacheManagerFile struct {
	Caches []cacheManifestEntry `json:"caches"`
}

type cacheManifestEntry struct {
	Identifier   string `json:"identifier"`
	AdaptiveLoad bool   `json:"adaptiveLoad"`
}

// GetDatabase returns the named database, or NotFound. Database names are
// lowercase; lookups normalise their argument the same way CreateDatabase
// does.
func (r *Registry) GetDatabase(name string) (*Database, error) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[name]
	if !ok {
		return nil, jserr.New(jserr.NotFound, "database %s not present", name)
	}
	return db, nil
}

// ContainsDatabase reports whether name has been registered.
func (r *Registry) ContainsDatabase(name string) bool {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.databases[name]
	return ok
}

// CreateDatabase registers a new, empty Database, or AlreadyExists.
func (r *Registry) CreateDatabase(name string) (*Database, error) {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.databases[name]; exists {
		return nil, jserr.New(jserr.AlreadyExists, "database %s already present", name)
	}
	db := NewDatabase(name, r.dataDir, r.clock, r.random, r.bus, r.crypt)
	r.databases[name] = db
	return db, nil
}

// DeleteDatabase cascades Database.Delete and drops the registry entry.
func (r *Registry) DeleteDatabase(name string) error {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.databases[name]
	if !ok {
		return jserr.New(jserr.NotFound, "database %s not present", name)
	}
	if err := db.Delete(); err != nil {
		return err
	}
	delete(r.databases, name)
	return nil
}

// Databases returns a snapshot of every registered database.
func (r *Registry) Databases() []*Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Database, 0, len(r.databases))
	for _, db := range r.databases {
		out = append(out, db)
	}
	return out
}

// GetCache returns the named cache bucket, or NotFound.
func (r *Registry) GetCache(name string) (*cache.Bucket, error) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.caches[name]
	if !ok {
		return nil, jserr.New(jserr.NotFound, "cache bucket %s not present", name)
	}
	return b, nil
}

// CreateCache registers a new, empty cache bucket, or AlreadyExists.
func (r *Registry) CreateCache(name string) (*cache.Bucket, error) {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caches[name]; exists {
		return nil, jserr.New(jserr.AlreadyExists, "cache bucket %s already present", name)
	}
	b := cache.NewBucket(name, r.dataDir, r.clock)
	r.caches[name] = b
	return b, nil
}

// DeleteCache unloads and deletes a cache bucket's file and drops the entry.
func (r *Registry) DeleteCache(name string) error {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.caches[name]
	if !ok {
		return jserr.New(jserr.NotFound, "cache bucket %s not present", name)
	}
	if err := b.UnloadData(false, false, true); err != nil {
		return err
	}
	delete(r.caches, name)
	return nil
}

// Caches returns a snapshot of every registered cache bucket.
func (r *Registry) Caches() []*cache.Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*cache.Bucket, 0, len(r.caches))
	for _, b := range r.caches {
		out = append(out, b)
	}
	return out
}

// Resolve is the name-lookup entry point for external dispatchers: it
// always resolves database, and additionally resolves table when table
// is non-empty. Internally it builds a two-level actionNode tree and
// walks it rather than chaining nested ifs, so an external dispatcher
// built on top of Resolve can extend the tree with further segments
// without touching this method's shape.
func (r *Registry) Resolve(database, table string) (*Database, *Table, error) {
	root := &actionNode{
		branch: map[string]*actionNode{
			database: leafNode(func() (*Database, *Table, error) {
				db, err := r.GetDatabase(database)
				if err != nil {
					return nil, nil, err
				}
				if table == "" {
					return db, nil, nil
				}
				t, err := db.GetTable(table)
				if err != nil {
					return nil, nil, err
				}
				return db, t, nil
			}),
		},
	}
	return root.walk([]string{database})
}

// Setup reads ./config/* and ./data/** under dataDir and reconstructs
// every database, table and cache bucket they describe. A
// missing top-level manifest means a fresh install; Setup is then a no-op.
func (r *Registry) Setup() error {
	logger := log.WithComponent("registry")

	manifestPath := filepath.Join(r.dataDir, "config", "registry")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return jserr.Wrap(jserr.LoadFailed, err, "read registry manifest: %s", manifestPath)
	}
	var manifest registryManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return jserr.Wrap(jserr.LoadFailed, err, "parse registry manifest: %s", manifestPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range manifest.Databases {
		db, err := r.restoreDatabaseLocked(entry)
		if err != nil {
			return err
		}
		r.databases[entry.Name] = db
	}

	cacheFlags := make(map[string]bool)
	cacheNames := manifest.Caches
	managerPath := filepath.Join(r.dataDir, "data", "cache", "cachemanager")
	if data, err := os.ReadFile(managerPath); err == nil {
		var cm cacheManagerFile
		if err := json.Unmarshal(data, &cm); err == nil {
			cacheNames = make([]string, 0, len(cm.Caches))
			for _, c := range cm.Caches {
				cacheNames = append(cacheNames, c.Identifier)
				cacheFlags[c.Identifier] = c.AdaptiveLoad
			}
		} else {
			logger.Warn().Err(err).Msg("cachemanager manifest unreadable, falling back to registry manifest")
		}
	}
	for _, name := range cacheNames {
		b := cache.NewBucket(name, r.dataDir, r.clock)
		b.SetAdaptiveLoad(cacheFlags[name])
		r.caches[name] = b
	}
	return nil
}

func (r *Registry) restoreDatabaseLocked(entry databaseManifestEntry) (*Database, error) {
	db := NewDatabase(entry.Name, r.dataDir, r.clock, r.random, r.bus, r.crypt)
	db.encrypted = entry.Encrypted

	tables := []string{}
	settingsPath := filepath.Join(r.dataDir, "data", "db", entry.Name, entry.Name+"_settings")
	if data, err := os.ReadFile(settingsPath); err == nil {
		var settings dbSettingsFile
		if err := json.Unmarshal(data, &settings); err == nil {
			db.encrypted = settings.Encrypted
			tables = settings.Tables
		}
	}

	for _, tableName := range tables {
		t, err := r.restoreTableLocked(db, tableName)
		if err != nil {
			return nil, err
		}
		db.tables[tableName] = t
	}
	return db, nil
}

func (r *Registry) restoreTableLocked(db *Database, name string) (*Table, error) {
	indexPath := filepath.Join(r.dataDir, "data", "db", db.Name, name+"_index")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTable(db.Name, name, r.dataDir, 0, db.encrypted, r.crypt, r.clock, r.random, r.bus, usage.New(r.clock)), nil
		}
		return nil, jserr.Wrap(jserr.LoadFailed, err, "read table index: %s", indexPath)
	}
	var tif tableIndexFile
	if err := json.Unmarshal(data, &tif); err != nil {
		return nil, jserr.Wrap(jserr.LoadFailed, err, "parse table index: %s", indexPath)
	}

	t := NewTable(db.Name, name, r.dataDir, tif.Cap, db.encrypted, r.crypt, r.clock, r.random, r.bus, usage.New(r.clock))
	t.adaptiveLoad = tif.AdaptiveLoad
	for _, sh := range tif.Shards {
		shard := reopenShard(sh.ShardID, db.Name, name, r.dataDir, t.Cap, db.encrypted, r.crypt, r.clock)
		t.shardPool[sh.ShardID] = shard
		for _, id := range sh.DataSets {
			t.index[id] = sh.ShardID
		}
	}
	return t, nil
}

// Shutdown writes the top-level manifest (databases, their encryption
// flags, and the cache list), asks every database and cache to flush and
// unload, and persists each database's and table's own manifest.
// Per-entry write failures are logged but do not abort the
// shutdown sweep; only a failure writing the top-level manifest is
// returned to the caller.
func (r *Registry) Shutdown() error {
	logger := log.WithComponent("registry")

	r.mu.Lock()
	defer r.mu.Unlock()

	manifest := registryManifest{}
	for name, db := range r.databases {
		db.Shutdown()
		if err := r.writeDatabaseManifestLocked(db); err != nil {
			logger.Warn().Err(err).Str("database", name).Msg("failed to persist database manifest")
		}
		manifest.Databases = append(manifest.Databases, databaseManifestEntry{Name: name, Encrypted: db.Encrypted()})
	}
	sort.Slice(manifest.Databases, func(i, j int) bool { return manifest.Databases[i].Name < manifest.Databases[j].Name })

	cm := cacheManagerFile{}
	for name, b := range r.caches {
		if err := b.UnloadData(true, true, false); err != nil {
			logger.Warn().Err(err).Str("cache", name).Msg("failed to unload cache bucket")
		}
		cm.Caches = append(cm.Caches, cacheManifestEntry{Identifier: name, AdaptiveLoad: b.AdaptiveLoad()})
		manifest.Caches = append(manifest.Caches, name)
	}
	sort.Strings(manifest.Caches)
	sort.Slice(cm.Caches, func(i, j int) bool { return cm.Caches[i].Identifier < cm.Caches[j].Identifier })

	if err := writeJSONFile(filepath.Join(r.dataDir, "data", "cache", "cachemanager"), cm); err != nil {
		logger.Warn().Err(err).Msg("failed to persist cachemanager manifest")
	}

	return writeJSONFile(filepath.Join(r.dataDir, "config", "registry"), manifest)
}

func (r *Registry) writeDatabaseManifestLocked(db *Database) error {
	tables := db.Tables()
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
		if err := writeTableIndexFile(r.dataDir, db.Name, t); err != nil {
			logger := log.WithComponent("registry")
			logger.Warn().Err(err).Str("database", db.Name).Str("table", t.Name).Msg("failed to persist table index")
		}
	}
	sort.Strings(names)

	settings := dbSettingsFile{Database: db.Name, Encrypted: db.Encrypted(), Tables: names}
	path := filepath.Join(r.dataDir, "data", "db", db.Name, db.Name+"_settings")
	return writeJSONFile(path, settings)
}

func writeTableIndexFile(dataDir, database string, t *Table) error {
	adaptive, byShard := t.IndexSnapshot()
	shards := make([]tableIndexShard, 0, len(byShard))
	for shardID, ids := range byShard {
		sort.Strings(ids)
		shards = append(shards, tableIndexShard{ShardID: shardID, DataSets: ids})
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].ShardID < shards[j].ShardID })

	tif := tableIndexFile{
		Database:     database,
		Table:        t.Name,
		AdaptiveLoad: adaptive,
		Cap:          t.Cap,
		Shards:       shards,
	}
	path := filepath.Join(dataDir, "data", "db", database, t.Name+"_index")
	return writeJSONFile(path, tif)
}

// writeJSONFile marshals v as indented JSON and writes it atomically via a
// temp-file-then-rename in the same directory.
func writeJSONFile(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "create directory: %s", dir)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "marshal manifest: %s", path)
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
	if _, err := tmp.Write(data); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "write manifest: %s", path)
	}
	if err := tmp.Sync(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "sync manifest: %s", path)
	}
	if err := tmp.Close(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "close manifest: %s", path)
	}
	return os.Rename(tmpName, path)
}
