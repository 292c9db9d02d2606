package jstorage

import (
	"encoding/base64"
	"strings"
	"sync"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/cuemby/jstorage/pkg/types"
)

// DataSet is the atomic unit of storage: a record identified by a
// (database, table, identifier) triple, holding a map of named JSON
// sub-objects ("dataTypes") and the update tokens outstanding against
// them.
type DataSet struct {
	Database  string
	Table     string
	ID        string
	CreatedAt int64 // epoch millis
	UpdatedAt int64 // epoch millis

	mu            sync.Mutex
	DataTypes     map[string]types.JSONObject
	PendingTokens map[string]string // dataType -> outstanding update token
}

// NewDataSet creates an empty DataSet owned by (database, table, id).
// Record identifiers are lowercased so lookups are case-insensitive within
// a table.
func NewDataSet(database, table, id string, nowMillis int64) *DataSet {
	return &DataSet{
		Database:      database,
		Table:         table,
		ID:            strings.ToLower(id),
		CreatedAt:     nowMillis,
		UpdatedAt:     nowMillis,
		DataTypes:     make(map[string]types.JSONObject),
		PendingTokens: make(map[string]string),
	}
}

// Clone returns a deep-enough copy suitable for handing to a caller
// without exposing the live maps backing this DataSet.
func (d *DataSet) Clone() *DataSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &DataSet{
		Database:      d.Database,
		Table:         d.Table,
		ID:            d.ID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		DataTypes:     make(map[string]types.JSONObject, len(d.DataTypes)),
		PendingTokens: make(map[string]string, len(d.PendingTokens)),
	}
	for k, v := range d.DataTypes {
		c.DataTypes[k] = v
	}
	for k, v := range d.PendingTokens {
		c.PendingTokens[k] = v
	}
	return c
}

func newToken(rnd config.Random) (string, error) {
	b, err := rnd.Bytes(16)
	if err != nil {
		return "", jserr.Wrap(jserr.Unknown, err, "generate update token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Get reads one dataType. When
// requestToken is false it returns {dataType: value} (or {} if absent).
// When true it mints a fresh token, overwriting any pending token for
// that dataType, and returns {utoken: token} without the value — the
// caller must re-fetch token-less if it also needs the current value.
func (d *DataSet) Get(dataType string, requestToken bool, rnd config.Random) (types.JSONObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !requestToken {
		value, ok := d.DataTypes[dataType]
		if !ok {
			return types.JSONObject{}, nil
		}
		return types.JSONObject{dataType: value}, nil
	}

	token, err := newToken(rnd)
	if err != nil {
		return nil, err
	}
	d.PendingTokens[dataType] = token
	return types.JSONObject{"utoken": token}, nil
}

// Update replaces one dataType's value. Whenever the dataType already
// exists the payload must carry the currently pending token for that
// dataType; a missing or mismatched token fails NoToken/StaleToken and
// performs no write. In secure mode an update of a dataType the record
// lacks fails NoToken; outside secure mode it creates the dataType.
func (d *DataSet) Update(dataType string, payload types.JSONObject, secure bool, clock config.Clock, bus *notify.Bus, origin string) error {
	d.mu.Lock()

	_, exists := d.DataTypes[dataType]
	requireToken := secure || exists

	rawToken, hasToken := payload["utoken"]
	token, _ := rawToken.(string)

	if requireToken {
		if !exists {
			d.mu.Unlock()
			return jserr.New(jserr.NoToken, "dataType %q not present on record %s", dataType, d.ID)
		}
		if !hasToken || token == "" {
			d.mu.Unlock()
			return jserr.New(jserr.NoToken, "update of %q missing utoken", dataType)
		}
		pending, ok := d.PendingTokens[dataType]
		if !ok || pending != token {
			d.mu.Unlock()
			metrics.StaleTokenRejectionsTotal.WithLabelValues(d.Database, d.Table).Inc()
			return jserr.New(jserr.StaleToken, "update of %q carries a stale or unknown token", dataType)
		}
	}

	value, _ := payload[dataType].(map[string]interface{})
	if value == nil {
		value = map[string]interface{}{}
	}
	d.DataTypes[dataType] = types.JSONObject(value)
	delete(d.PendingTokens, dataType)
	d.UpdatedAt = clock.NowMillis()
	d.mu.Unlock()

	metrics.RecordWritesTotal.WithLabelValues(d.Database, d.Table).Inc()
	publish(bus, types.MutationUpdated, d, dataType, clock, origin)
	return nil
}

// Insert adds a new dataType, empty when payload is nil.
func (d *DataSet) Insert(dataType string, payload types.JSONObject, clock config.Clock, bus *notify.Bus, origin string) error {
	d.mu.Lock()
	if _, exists := d.DataTypes[dataType]; exists {
		d.mu.Unlock()
		return jserr.New(jserr.AlreadyExists, "dataType %q already present on record %s", dataType, d.ID)
	}
	if payload == nil {
		payload = types.JSONObject{}
	}
	d.DataTypes[dataType] = payload
	d.UpdatedAt = clock.NowMillis()
	d.mu.Unlock()

	publish(bus, types.MutationCreated, d, dataType, clock, origin)
	return nil
}

// Delete removes a dataType.
func (d *DataSet) Delete(dataType string, clock config.Clock, bus *notify.Bus, origin string) error {
	d.mu.Lock()
	if _, exists := d.DataTypes[dataType]; !exists {
		d.mu.Unlock()
		return jserr.New(jserr.NotFound, "dataType %q not present on record %s", dataType, d.ID)
	}
	delete(d.DataTypes, dataType)
	delete(d.PendingTokens, dataType)
	d.UpdatedAt = clock.NowMillis()
	d.mu.Unlock()

	publish(bus, types.MutationDeleted, d, dataType, clock, origin)
	return nil
}

func publish(bus *notify.Bus, kind types.MutationKind, d *DataSet, dataType string, clock config.Clock, origin string) {
	if bus == nil {
		return
	}
	bus.Publish(&types.MutationEvent{
		Origin:          origin,
		Database:        d.Database,
		Table:           d.Table,
		DataSet:         d.ID,
		DataType:        dataType,
		Kind:            kind,
		TimestampMillis: clock.NowMillis(),
	})
}
