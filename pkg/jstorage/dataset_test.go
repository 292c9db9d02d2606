package jstorage

import (
	"testing"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/types"
)

func TestGetWithoutTokenReturnsValue(t *testing.T) {
	ds := NewDataSet("blog", "posts", "post1", 1000)
	ds.DataTypes["meta"] = types.JSONObject{"title": "x"}

	got, err := ds.Get("meta", false, &config.FakeRandom{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	meta, _ := got["meta"].(types.JSONObject)
	if meta["title"] != "x" {
		t.Errorf("Get() = %v, want title=x", got)
	}
}

func TestGetMissingDataTypeReturnsEmpty(t *testing.T) {
	ds := NewDataSet("blog", "posts", "post1", 1000)
	got, err := ds.Get("meta", false, &config.FakeRandom{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get() of absent dataType = %v, want empty", got)
	}
}

func TestGetWithTokenReturnsTokenOnly(t *testing.T) {
	ds := NewDataSet("blog", "posts", "post1", 1000)
	ds.DataTypes["meta"] = types.JSONObject{"title": "x"}

	got, err := ds.Get("meta", true, &config.FakeRandom{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	token, ok := got["utoken"].(string)
	if !ok || token == "" {
		t.Fatalf("Get(requestToken=true) = %v, want a utoken", got)
	}
	if _, hasValue := got["meta"]; hasValue {
		t.Error("Get(requestToken=true) should not also return the value")
	}
	if ds.PendingTokens["meta"] != token {
		t.Error("pending token was not recorded")
	}
}

func TestUpdateScenario(t *testing.T) {
	clock := config.NewFakeClock(1000)
	rnd := &config.FakeRandom{}
	ds := NewDataSet("blog", "posts", "post1", 1000)

	if err := ds.Insert("meta", types.JSONObject{"title": "x"}, clock, nil, ""); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := ds.Get("meta", true, rnd)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	token := got["utoken"].(string)

	clock.Advance(1)
	err = ds.Update("meta", types.JSONObject{"utoken": token, "meta": map[string]interface{}{"title": "y"}}, false, clock, nil, "")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	after, err := ds.Get("meta", false, rnd)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	meta := after["meta"].(types.JSONObject)
	if meta["title"] != "y" {
		t.Errorf("after update, title = %v, want y", meta["title"])
	}

	// Reusing the consumed token must fail StaleToken and leave the
	// record unchanged.
	err = ds.Update("meta", types.JSONObject{"utoken": token, "meta": map[string]interface{}{"title": "z"}}, false, clock, nil, "")
	if !jserr.Is(err, jserr.StaleToken) {
		t.Fatalf("Update() with reused token error = %v, want StaleToken", err)
	}
	after, _ = ds.Get("meta", false, rnd)
	meta = after["meta"].(types.JSONObject)
	if meta["title"] != "y" {
		t.Errorf("record should still show y after rejected stale update, got %v", meta["title"])
	}
}

func TestUpdateWithoutTokenOnExistingFails(t *testing.T) {
	clock := config.NewFakeClock(0)
	ds := NewDataSet("blog", "posts", "post1", 0)
	_ = ds.Insert("meta", types.JSONObject{"title": "x"}, clock, nil, "")

	err := ds.Update("meta", types.JSONObject{"meta": map[string]interface{}{"title": "y"}}, false, clock, nil, "")
	if !jserr.Is(err, jserr.NoToken) {
		t.Fatalf("Update() without utoken error = %v, want NoToken", err)
	}
}

func TestInsertDuplicateDataTypeFails(t *testing.T) {
	clock := config.NewFakeClock(0)
	ds := NewDataSet("blog", "posts", "post1", 0)
	if err := ds.Insert("meta", nil, clock, nil, ""); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := ds.Insert("meta", nil, clock, nil, ""); !jserr.Is(err, jserr.AlreadyExists) {
		t.Fatalf("second Insert() error = %v, want AlreadyExists", err)
	}
}

func TestDeleteDataType(t *testing.T) {
	clock := config.NewFakeClock(0)
	ds := NewDataSet("blog", "posts", "post1", 0)
	_ = ds.Insert("meta", nil, clock, nil, "")

	if err := ds.Delete("meta", clock, nil, ""); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := ds.Delete("meta", clock, nil, ""); !jserr.Is(err, jserr.NotFound) {
		t.Fatalf("second Delete() error = %v, want NotFound", err)
	}
}
