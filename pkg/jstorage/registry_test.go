package jstorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/types"
)

func TestRegistryCreateGetDeleteDatabase(t *testing.T) {
	r := NewRegistry(t.TempDir(), config.NewFakeClock(0), &config.FakeRandom{}, nil, nil)

	if _, err := r.CreateDatabase("blog"); err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	if _, err := r.CreateDatabase("blog"); !jserr.Is(err, jserr.AlreadyExists) {
		t.Fatalf("second CreateDatabase() error = %v, want AlreadyExists", err)
	}
	if _, err := r.GetDatabase("blog"); err != nil {
		t.Fatalf("GetDatabase() error = %v", err)
	}
	if err := r.DeleteDatabase("blog"); err != nil {
		t.Fatalf("DeleteDatabase() error = %v", err)
	}
	if r.ContainsDatabase("blog") {
		t.Fatal("ContainsDatabase() should be false after delete")
	}
}

func TestRegistryCreateGetDeleteCache(t *testing.T) {
	r := NewRegistry(t.TempDir(), config.NewFakeClock(0), &config.FakeRandom{}, nil, nil)

	if _, err := r.CreateCache("sessions"); err != nil {
		t.Fatalf("CreateCache() error = %v", err)
	}
	b, err := r.GetCache("sessions")
	if err != nil {
		t.Fatalf("GetCache() error = %v", err)
	}
	if err := b.Insert("s1", types.JSONObject{"user": "a"}, -1); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := r.DeleteCache("sessions"); err != nil {
		t.Fatalf("DeleteCache() error = %v", err)
	}
	if _, err := r.GetCache("sessions"); !jserr.Is(err, jserr.NotFound) {
		t.Fatalf("GetCache() after delete error = %v, want NotFound", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(t.TempDir(), config.NewFakeClock(0), &config.FakeRandom{}, nil, nil)
	db, err := r.CreateDatabase("blog")
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	if _, err := db.InsertTable("posts", 500); err != nil {
		t.Fatalf("InsertTable() error = %v", err)
	}

	gotDB, gotTable, err := r.Resolve("blog", "posts")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotDB != db || gotTable == nil || gotTable.Name != "posts" {
		t.Fatalf("Resolve() = %v, %v, want blog/posts", gotDB, gotTable)
	}

	if _, _, err := r.Resolve("missing", ""); !jserr.Is(err, jserr.NotFound) {
		t.Fatalf("Resolve() of missing database error = %v, want NotFound", err)
	}
}

func TestRegistryShutdownThenSetupRestoresState(t *testing.T) {
	dir := t.TempDir()
	clock := config.NewFakeClock(0)

	r1 := NewRegistry(dir, clock, &config.FakeRandom{}, nil, nil)
	db, err := r1.CreateDatabase("blog")
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	tbl, err := db.InsertTable("posts", 500)
	if err != nil {
		t.Fatalf("InsertTable() error = %v", err)
	}
	ds := NewDataSet("blog", "posts", "post1", clock.NowMillis())
	ds.DataTypes["meta"] = types.JSONObject{"title": "x"}
	if err := tbl.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}
	if _, err := r1.CreateCache("sessions"); err != nil {
		t.Fatalf("CreateCache() error = %v", err)
	}

	if err := r1.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config", "registry")); err != nil {
		t.Fatalf("registry manifest should exist: %v", err)
	}

	r2 := NewRegistry(dir, clock, &config.FakeRandom{}, nil, nil)
	if err := r2.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	restoredDB, restoredTable, err := r2.Resolve("blog", "posts")
	if err != nil {
		t.Fatalf("Resolve() after Setup() error = %v", err)
	}
	if restoredDB.Name != "blog" || restoredTable.Name != "posts" {
		t.Fatalf("Resolve() after restore = %v/%v", restoredDB.Name, restoredTable.Name)
	}
	got, err := restoredTable.GetDataSet("post1")
	if err != nil {
		t.Fatalf("GetDataSet() after restore error = %v", err)
	}
	if got.DataTypes["meta"]["title"] != "x" {
		t.Errorf("restored record meta.title = %v, want x", got.DataTypes["meta"]["title"])
	}

	if _, err := r2.GetCache("sessions"); err != nil {
		t.Fatalf("GetCache() after restore error = %v", err)
	}
}
