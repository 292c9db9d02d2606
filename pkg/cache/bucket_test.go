package cache

import (
	"testing"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetDeleteRoundTrip(t *testing.T) {
	b := NewBucket("sessions", t.TempDir(), config.NewFakeClock(1000))

	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, -1))
	assert.Equal(t, types.ShardReady, b.Status())

	e, err := b.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", e.Data["user"])

	require.NoError(t, b.Delete("s1"))
	_, err = b.Get("s1")
	assert.True(t, jserr.Is(err, jserr.NotFound))
}

func TestInsertRejectsStillValidEntry(t *testing.T) {
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", t.TempDir(), clock)

	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, 5000))
	err := b.Insert("s1", types.JSONObject{"user": "bob"}, 5000)
	assert.True(t, jserr.Is(err, jserr.AlreadyExists))
}

func TestInsertOverwritesExpiredEntry(t *testing.T) {
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", t.TempDir(), clock)

	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, 500))
	clock.Advance(1000)

	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "bob"}, 5000))
	e, err := b.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "bob", e.Data["user"])
}

func TestGetExpiredEntryIsNotFound(t *testing.T) {
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", t.TempDir(), clock)
	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, 1500))

	clock.Advance(1000)
	_, err := b.Get("s1")
	assert.True(t, jserr.Is(err, jserr.NotFound))
}

func TestUnloadSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", dir, clock)
	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, -1))

	require.NoError(t, b.UnloadData(true, true, false))
	assert.Equal(t, types.ShardUnloaded, b.Status())
	assert.Equal(t, 0, b.Count())

	e, err := b.Get("s1")
	require.NoError(t, err, "Get reloads from disk after unload")
	assert.Equal(t, "alice", e.Data["user"])
}

func TestUnloadDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", dir, clock)
	require.NoError(t, b.Insert("s1", types.JSONObject{"user": "alice"}, -1))
	require.NoError(t, b.UnloadData(true, true, false))

	require.NoError(t, b.UnloadData(false, false, true))
	_, err := b.Get("s1")
	assert.True(t, jserr.Is(err, jserr.NotFound), "deleted bucket file should load back empty")
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	clock := config.NewFakeClock(1000)
	b := NewBucket("sessions", t.TempDir(), clock)
	require.NoError(t, b.Insert("expiring", types.JSONObject{"a": 1}, 1500))
	require.NoError(t, b.Insert("permanent", types.JSONObject{"a": 2}, -1))

	removed := b.Sweep(2000)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, b.Count())
	_, err := b.Get("permanent")
	assert.NoError(t, err)
}

func TestAdaptiveLoadFlag(t *testing.T) {
	b := NewBucket("sessions", t.TempDir(), config.NewFakeClock(0))
	assert.False(t, b.AdaptiveLoad())
	b.SetAdaptiveLoad(true)
	assert.True(t, b.AdaptiveLoad())
}
