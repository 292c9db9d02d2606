package jstorage

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/cuemby/jstorage/pkg/usage"
)

func newTestTable(t *testing.T, cap int) *Table {
	t.Helper()
	clock := config.NewFakeClock(0)
	return NewTable("blog", "posts", t.TempDir(), cap, false, nil, clock, &config.FakeRandom{}, nil, usage.New(clock))
}

func TestTableInsertGetDelete(t *testing.T) {
	tbl := newTestTable(t, 500)
	ds := NewDataSet("blog", "posts", "post1", 0)
	if err := tbl.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}
	if !tbl.ContainsDataSet("post1") {
		t.Fatal("ContainsDataSet() should be true after insert")
	}
	got, err := tbl.GetDataSet("post1")
	if err != nil {
		t.Fatalf("GetDataSet() error = %v", err)
	}
	if got.ID != "post1" {
		t.Errorf("GetDataSet() = %s, want post1", got.ID)
	}

	if err := tbl.DeleteDataSet("post1"); err != nil {
		t.Fatalf("DeleteDataSet() error = %v", err)
	}
	if tbl.ContainsDataSet("post1") {
		t.Fatal("ContainsDataSet() should be false after delete")
	}
	if tbl.ShardCount() != 0 {
		t.Errorf("ShardCount() after emptying shard = %d, want 0", tbl.ShardCount())
	}
}

func TestTableInsertDuplicateFails(t *testing.T) {
	tbl := newTestTable(t, 500)
	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "post1", 0))
	err := tbl.InsertDataSet(NewDataSet("blog", "posts", "post1", 0))
	if !jserr.Is(err, jserr.AlreadyExists) {
		t.Fatalf("duplicate InsertDataSet() error = %v, want AlreadyExists", err)
	}
}

func TestTableInsertFillsShardsBeforeOpeningNew(t *testing.T) {
	tbl := newTestTable(t, 2)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := tbl.InsertDataSet(NewDataSet("blog", "posts", id, 0)); err != nil {
			t.Fatalf("InsertDataSet(%s) error = %v", id, err)
		}
	}
	if got := tbl.ShardCount(); got != 3 {
		t.Errorf("ShardCount() for 5 records at cap 2 = %d, want 3", got)
	}
}

func TestTableStructuralMismatchRejected(t *testing.T) {
	tbl := newTestTable(t, 500)
	tbl.SetDefaultStructure(types.JSONObject{"title": "exemplar", "published": true})

	ds := NewDataSet("blog", "posts", "post1", 0)
	ds.DataTypes["meta"] = types.JSONObject{"title": "x"} // missing "published"
	if err := tbl.InsertDataSet(ds); !jserr.Is(err, jserr.StructureMismatch) {
		t.Fatalf("InsertDataSet() with missing key error = %v, want StructureMismatch", err)
	}

	ds2 := NewDataSet("blog", "posts", "post2", 0)
	ds2.DataTypes["meta"] = types.JSONObject{"title": "x", "published": true, "extra": 1}
	if err := tbl.InsertDataSet(ds2); err != nil {
		t.Fatalf("InsertDataSet() with extra key should be allowed, error = %v", err)
	}
}

func TestTableGetThroughMissingShardMarksInconsistent(t *testing.T) {
	tbl := newTestTable(t, 500)
	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "post1", 0))

	// Simulate drift: drop the shard from the pool while the index still
	// points at it.
	tbl.mu.Lock()
	for id := range tbl.shardPool {
		delete(tbl.shardPool, id)
	}
	tbl.mu.Unlock()

	_, err := tbl.GetDataSet("post1")
	if !jserr.Is(err, jserr.IndexDivergence) {
		t.Fatalf("GetDataSet() through dangling index error = %v, want IndexDivergence", err)
	}
	if !tbl.Inconsistent() {
		t.Fatal("table should be marked inconsistent")
	}

	if err := tbl.InsertDataSet(NewDataSet("blog", "posts", "post2", 0)); !jserr.Is(err, jserr.IndexDivergence) {
		t.Fatalf("InsertDataSet() on inconsistent table error = %v, want IndexDivergence", err)
	}
}

func TestResolveInconsistencyMode1DropsMissingShardEntries(t *testing.T) {
	tbl := newTestTable(t, 500)
	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "post1", 0))

	tbl.mu.Lock()
	for id := range tbl.shardPool {
		delete(tbl.shardPool, id)
	}
	tbl.mu.Unlock()

	if err := tbl.ResolveInconsistency(1); err != nil {
		t.Fatalf("ResolveInconsistency(1) error = %v", err)
	}
	if tbl.Inconsistent() {
		t.Fatal("table should no longer be inconsistent")
	}
	if tbl.ContainsDataSet("post1") {
		t.Fatal("dangling index entry should have been dropped")
	}
}

func TestResolveInconsistencyMode3FullRebuild(t *testing.T) {
	tbl := newTestTable(t, 2)
	for i := 0; i < 7; i++ {
		id := string(rune('a' + i))
		_ = tbl.InsertDataSet(NewDataSet("blog", "posts", id, 0))
	}

	// Corrupt: drop one index entry while the shard is still loaded.
	tbl.mu.Lock()
	delete(tbl.index, "a")
	tbl.inconsistent = true
	tbl.mu.Unlock()

	if err := tbl.ResolveInconsistency(3); err != nil {
		t.Fatalf("ResolveInconsistency(3) error = %v", err)
	}
	if tbl.Inconsistent() {
		t.Fatal("table should no longer be inconsistent after full rebuild")
	}
	// "a" survives because it was still present in its loaded shard's
	// in-memory member map, just missing from the index.
	if !tbl.ContainsDataSet("a") {
		t.Fatal("record reachable only through a loaded shard should survive rebuild")
	}
	for _, shard := range tbl.Shards() {
		if shard.Count() > tbl.Cap {
			t.Errorf("shard %s holds %d records, exceeds cap %d", shard.ID, shard.Count(), tbl.Cap)
		}
	}
}

func TestOptimizeOrdersByUsageDescending(t *testing.T) {
	clock := config.NewFakeClock(0)
	tracker := usage.New(clock)
	tbl := NewTable("blog", "posts", t.TempDir(), 2, false, nil, clock, &config.FakeRandom{}, nil, tracker)

	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "cold", 0))
	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "hot", 0))
	_ = tbl.InsertDataSet(NewDataSet("blog", "posts", "a", 0))
	tracker.Record("hot")
	tracker.Record("hot")
	tracker.Record("cold")

	if err := tbl.Optimize(); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if !tbl.ContainsDataSet("hot") || !tbl.ContainsDataSet("cold") || !tbl.ContainsDataSet("a") {
		t.Fatal("every record should survive Optimize()")
	}
	// Usage order is hot(2), cold(1), a(0), so with cap 2 hot and cold
	// share the first shard and a is alone; identifier order would have
	// paired a with cold instead.
	if tbl.index["hot"] != tbl.index["cold"] {
		t.Error("hot and cold should share a shard after Optimize()")
	}
	if tbl.index["a"] == tbl.index["hot"] {
		t.Error("a should be repacked into its own shard after Optimize()")
	}
}

func TestTablePublishesMutationEvents(t *testing.T) {
	bus := notify.New()
	bus.Start()
	defer bus.Stop()
	listener := bus.Subscribe("observer", notify.Filter{"blog": {}})
	defer bus.Unsubscribe(listener)

	clock := config.NewFakeClock(0)
	tbl := NewTable("blog", "posts", t.TempDir(), 500, false, nil, clock, &config.FakeRandom{}, bus, usage.New(clock))

	ds := NewDataSet("blog", "posts", "post1", 0)
	if err := tbl.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}
	if err := ds.Insert("meta", types.JSONObject{"title": "x"}, clock, bus, "writer"); err != nil {
		t.Fatalf("DataSet.Insert() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := listener.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Kind != types.MutationCreated || ev.DataSet != "post1" {
		t.Errorf("event = %+v, want created/post1", ev)
	}
}

func TestTableDataTypeWrappersRoundTrip(t *testing.T) {
	tbl := newTestTable(t, 500)
	ds := NewDataSet("blog", "posts", "post1", 0)
	if err := tbl.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}

	if err := tbl.InsertDataType("post1", "meta", types.JSONObject{"title": "x"}, "writer"); err != nil {
		t.Fatalf("InsertDataType() error = %v", err)
	}

	got, err := tbl.GetDataType("post1", "meta", false)
	if err != nil {
		t.Fatalf("GetDataType() error = %v", err)
	}
	if got["meta"] == nil {
		t.Fatalf("GetDataType() = %+v, want meta present", got)
	}

	tokResp, err := tbl.GetDataType("post1", "meta", true)
	if err != nil {
		t.Fatalf("GetDataType(requestToken) error = %v", err)
	}
	tok, _ := tokResp["utoken"].(string)
	if tok == "" {
		t.Fatal("expected a non-empty token")
	}
	if err := tbl.UpdateDataType("post1", "meta", types.JSONObject{"utoken": tok, "meta": map[string]interface{}{"title": "y"}}, "writer"); err != nil {
		t.Fatalf("UpdateDataType() error = %v", err)
	}

	if err := tbl.DeleteDataType("post1", "meta", "writer"); err != nil {
		t.Fatalf("DeleteDataType() error = %v", err)
	}
}

// TestSecureModificationsRequiresTokenOnNewDataType proves that
// SetSecureModifications actually changes DataSet.Update's behavior when
// routed through Table.UpdateDataType, not just that the flag is stored.
func TestSecureModificationsRequiresTokenOnNewDataType(t *testing.T) {
	openTbl := newTestTable(t, 500)
	ds := NewDataSet("blog", "posts", "post1", 0)
	if err := openTbl.InsertDataSet(ds); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}
	// Open mode: introducing a brand-new dataType through update() needs no
	// token, matching insert()'s optional-payload shape.
	if err := openTbl.UpdateDataType("post1", "meta", types.JSONObject{"meta": map[string]interface{}{"title": "x"}}, "writer"); err != nil {
		t.Fatalf("open-mode UpdateDataType() on new dataType error = %v", err)
	}

	secureTbl := newTestTable(t, 500)
	secureTbl.SetSecureModifications(true)
	ds2 := NewDataSet("blog", "posts", "post2", 0)
	if err := secureTbl.InsertDataSet(ds2); err != nil {
		t.Fatalf("InsertDataSet() error = %v", err)
	}
	// Secure mode: the same new-dataType update with no token must fail.
	err := secureTbl.UpdateDataType("post2", "meta", types.JSONObject{"meta": map[string]interface{}{"title": "x"}}, "writer")
	if !jserr.Is(err, jserr.NoToken) {
		t.Fatalf("secure-mode UpdateDataType() on new dataType error = %v, want NoToken", err)
	}
}
