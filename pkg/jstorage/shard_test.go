package jstorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/types"
)

func TestShardInsertGetDelete(t *testing.T) {
	clock := config.NewFakeClock(0)
	dir := t.TempDir()
	s := NewShard("blog", "posts", dir, 2, false, nil, clock)
	s.status = types.ShardReady

	ds := NewDataSet("blog", "posts", "post1", clock.NowMillis())
	if err := s.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}

	got, err := s.GetDataSet("post1")
	if err != nil {
		t.Fatalf("GetDataSet() error = %v", err)
	}
	if got.ID != "post1" {
		t.Errorf("GetDataSet() returned %s, want post1", got.ID)
	}

	if err := s.DeleteDataSet("post1"); err != nil {
		t.Fatalf("DeleteDataSet() error = %v", err)
	}
	if _, err := s.GetDataSet("post1"); !jserr.Is(err, jserr.NotFound) {
		t.Fatalf("GetDataSet() after delete error = %v, want NotFound", err)
	}
}

func TestShardInsertRejectsParentMismatch(t *testing.T) {
	clock := config.NewFakeClock(0)
	s := NewShard("blog", "posts", t.TempDir(), 2, false, nil, clock)
	s.status = types.ShardReady

	ds := NewDataSet("blog", "comments", "c1", 0)
	if err := s.InsertDataSet(ds); !jserr.Is(err, jserr.DoesNotFit) {
		t.Fatalf("InsertDataSet() with mismatched parent error = %v, want DoesNotFit", err)
	}
}

func TestShardInsertRejectsAtCapacity(t *testing.T) {
	clock := config.NewFakeClock(0)
	s := NewShard("blog", "posts", t.TempDir(), 1, false, nil, clock)
	s.status = types.ShardReady

	if err := s.InsertDataSet(NewDataSet("blog", "posts", "post1", 0)); err != nil {
		t.Fatalf("first InsertDataSet() error = %v", err)
	}
	if err := s.InsertDataSet(NewDataSet("blog", "posts", "post2", 0)); !jserr.Is(err, jserr.DoesNotFit) {
		t.Fatalf("InsertDataSet() over capacity error = %v, want DoesNotFit", err)
	}
}

func TestShardUnloadSaveLoadRoundTrip(t *testing.T) {
	clock := config.NewFakeClock(0)
	dir := t.TempDir()
	s := NewShard("blog", "posts", dir, 10, false, nil, clock)
	s.status = types.ShardReady

	ds := NewDataSet("blog", "posts", "post1", 0)
	ds.DataTypes["meta"] = types.JSONObject{"title": "x"}
	if err := s.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}

	if err := s.UnloadData(true, true, false); err != nil {
		t.Fatalf("UnloadData(save+unload) error = %v", err)
	}
	if s.Status() != types.ShardUnloaded {
		t.Fatalf("Status() after unload = %v, want unloaded", s.Status())
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "db", "blog", "posts", s.ID)); err != nil {
		t.Fatalf("shard file should exist after save: %v", err)
	}

	reloaded, err := s.GetDataSet("post1")
	if err != nil {
		t.Fatalf("GetDataSet() after unload (auto-load) error = %v", err)
	}
	if reloaded.DataTypes["meta"]["title"] != "x" {
		t.Errorf("reloaded record meta.title = %v, want x", reloaded.DataTypes["meta"]["title"])
	}
}

func TestShardDeleteRemovesFile(t *testing.T) {
	clock := config.NewFakeClock(0)
	dir := t.TempDir()
	s := NewShard("blog", "posts", dir, 10, false, nil, clock)
	s.status = types.ShardReady
	_ = s.InsertDataSet(NewDataSet("blog", "posts", "post1", 0))
	_ = s.UnloadData(true, true, false)

	if err := s.UnloadData(false, false, true); err != nil {
		t.Fatalf("UnloadData(delete) error = %v", err)
	}
	if _, err := os.Stat(s.Path()); err == nil {
		t.Fatal("shard file should no longer exist after delete")
	}
	if s.Status() != types.ShardUnloaded {
		t.Errorf("Status() after delete = %v, want unloaded", s.Status())
	}
}
