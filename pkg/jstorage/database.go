package jstorage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/log"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/cuemby/jstorage/pkg/usage"
)

// Database owns a set of Tables and carries the encryption flag that
// propagates to shards created beneath it.
type Database struct {
	Name string

	dataDir string
	clock   config.Clock
	random  config.Random
	bus     *notify.Bus
	crypt   *crypt.CryptTool

	mu                  sync.RWMutex
	tables              map[string]*Table
	encrypted           bool
	secureModifications bool
}

// NewDatabase creates an empty Database. Tables are added with
// InsertTable; GetTable never creates one.
func NewDatabase(name, dataDir string, clock config.Clock, random config.Random, bus *notify.Bus, ct *crypt.CryptTool) *Database {
	return &Database{
		Name:    name,
		dataDir: dataDir,
		clock:   clock,
		random:  random,
		bus:     bus,
		crypt:   ct,
		tables:  make(map[string]*Table),
	}
}

// GetTable returns the named table, or NotFound.
func (db *Database) GetTable(name string) (*Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, jserr.New(jserr.NotFound, "table %s not present in database %s", name, db.Name)
	}
	return t, nil
}

// ContainsTable reports whether name is a table of this database.
func (db *Database) ContainsTable(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.tables[name]
	return ok
}

// InsertTable creates and registers a new table, or AlreadyExists if the
// name is already taken. The new table inherits the database's current
// encryption and secure-modification flags.
func (db *Database) InsertTable(name string, cap int) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[name]; exists {
		return nil, jserr.New(jserr.AlreadyExists, "table %s already present in database %s", name, db.Name)
	}
	usageTracker := usage.New(db.clock)
	t := NewTable(db.Name, name, db.dataDir, cap, db.encrypted, db.crypt, db.clock, db.random, db.bus, usageTracker)
	t.SetSecureModifications(db.secureModifications)
	db.tables[name] = t
	return t, nil
}

// DeleteTable removes a table and its on-disk files.
func (db *Database) DeleteTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return jserr.New(jserr.NotFound, "table %s not present in database %s", name, db.Name)
	}
	if err := t.Delete(); err != nil {
		return err
	}
	delete(db.tables, name)
	return nil
}

// Tables returns a snapshot of every table currently owned by this
// database, used by the maintenance scheduler and the manifest writer.
func (db *Database) Tables() []*Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Table, 0, len(db.tables))
	for _, t := range db.tables {
		out = append(out, t)
	}
	return out
}

// SetEncryption fails CryptNotReady if the
// CryptTool has not been initialised, and does not rewrite any existing
// shard file; the flag takes effect the next time each shard is saved
// (snapshot or unload), a lazy migration.
func (db *Database) SetEncryption(enabled bool) error {
	if enabled && (db.crypt == nil || !db.crypt.Ready()) {
		return jserr.New(jserr.CryptNotReady, "cannot enable encryption on database %s: crypt tool not initialised", db.Name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.encrypted = enabled
	for _, t := range db.tables {
		t.encrypted = enabled
		for _, shard := range t.Shards() {
			shard.SetEncrypted(enabled)
		}
	}
	return nil
}

// Encrypted reports the database's current encryption flag.
func (db *Database) Encrypted() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.encrypted
}

// SetSecureModifications propagates the secure-mutation-mode
// flag to every table already owned by this database, and to tables
// created afterward.
func (db *Database) SetSecureModifications(secure bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.secureModifications = secure
	for _, t := range db.tables {
		t.SetSecureModifications(secure)
	}
}

// Shutdown asks every table to flush and unload its loaded shards.
func (db *Database) Shutdown() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, t := range db.tables {
		for _, shard := range t.Shards() {
			if shard.Status() != types.ShardReady {
				continue
			}
			_ = shard.UnloadData(true, true, false)
		}
	}
}

// Delete cascades: every table is told to delete, then the database
// directory is removed recursively. A per-table failure is logged but
// never aborts the cascade; the in-memory view is always cleared.
func (db *Database) Delete() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	logger := log.WithComponent("database")
	for name, t := range db.tables {
		if err := t.Delete(); err != nil {
			logger.Warn().Err(err).Str("database", db.Name).Str("table", name).Msg("failed to delete table during database cascade")
		}
	}
	db.tables = make(map[string]*Table)
	return os.RemoveAll(filepath.Join(db.dataDir, "data", "db", db.Name))
}
