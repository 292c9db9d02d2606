package types

import (
	"encoding/json"
	"time"
)

// JSONObject is a typed alias for a decoded JSON object, used for dataType
// values, cache payloads, and default-structure templates.
type JSONObject map[string]interface{}

// ShardStatus is the shard lifecycle state.
type ShardStatus int

const (
	ShardUnloaded  ShardStatus = 0
	ShardUnloading ShardStatus = 1
	ShardLoading   ShardStatus = 2
	ShardReady     ShardStatus = 3
	ShardError     ShardStatus = -1
	ShardOOM       ShardStatus = -2
)

func (s ShardStatus) String() string {
	switch s {
	case ShardUnloaded:
		return "unloaded"
	case ShardUnloading:
		return "unloading"
	case ShardLoading:
		return "loading"
	case ShardReady:
		return "ready"
	case ShardError:
		return "error"
	case ShardOOM:
		return "oom"
	default:
		return "unknown"
	}
}

// MutationKind enumerates the kinds of events the notification bus carries.
type MutationKind string

const (
	MutationCreated   MutationKind = "created"
	MutationUpdated   MutationKind = "updated"
	MutationDeleted   MutationKind = "deleted"
	MutationHeartbeat MutationKind = "heartbeat"
)

// MutationEvent describes a record mutation (or a synthesised heartbeat)
// published on the NotificationBus. Immutable after publication.
type MutationEvent struct {
	Origin          string // user reference; empty for synthesised events
	Database        string
	Table           string
	DataSet         string
	DataType        string
	Kind            MutationKind
	TimestampMillis int64
}

// CachedEntry is one record stored in a CacheBucket.
type CachedEntry struct {
	CacheIdentifier string
	ID              string
	Data            JSONObject
	ValidUntil      int64 // epoch millis; negative = never expires
}

// IsValid reports whether the entry is still valid at the given instant.
// validUntil < 0 never expires; validUntil >= now is valid. validUntil == 0
// behaves like any other non-negative deadline rather than "always expired".
func (e *CachedEntry) IsValid(nowMillis int64) bool {
	if e.ValidUntil < 0 {
		return true
	}
	return e.ValidUntil >= nowMillis
}

// cacheLine is the on-disk JSON shape for one cache record.
type cacheLine struct {
	CacheIdentifier string     `json:"cacheIdentifier"`
	Identifier      string     `json:"identifier"`
	ValidUntil      int64      `json:"validUntil"`
	Data            JSONObject `json:"data"`
}

// MarshalCacheLine encodes a CachedEntry to the on-disk line format.
func MarshalCacheLine(e *CachedEntry) ([]byte, error) {
	return json.Marshal(cacheLine{
		CacheIdentifier: e.CacheIdentifier,
		Identifier:      e.ID,
		ValidUntil:      e.ValidUntil,
		Data:            e.Data,
	})
}

// UnmarshalCacheLine decodes a cache file line into a CachedEntry.
func UnmarshalCacheLine(b []byte) (*CachedEntry, error) {
	var cl cacheLine
	if err := json.Unmarshal(b, &cl); err != nil {
		return nil, err
	}
	return &CachedEntry{
		CacheIdentifier: cl.CacheIdentifier,
		ID:              cl.Identifier,
		ValidUntil:      cl.ValidUntil,
		Data:            cl.Data,
	}, nil
}

// NowMillis is a small convenience used by code that does not carry an
// injected Clock (tests always inject one; see pkg/config.Clock).
func NowMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
