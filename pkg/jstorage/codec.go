package jstorage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/cuemby/jstorage/pkg/types"
)

// recordLine is the on-disk JSON shape for one record.
type recordLine struct {
	Database   string                      `json:"database"`
	Table      string                      `json:"table"`
	Identifier string                      `json:"identifier"`
	CreatedAt  int64                       `json:"createdAt"`
	UpdatedAt  int64                       `json:"updatedAt"`
	DataTypes  map[string]types.JSONObject `json:"dataTypes"`
}

func marshalRecordLine(d *DataSet) ([]byte, error) {
	return json.Marshal(recordLine{
		Database:   d.Database,
		Table:      d.Table,
		Identifier: d.ID,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		DataTypes:  d.DataTypes,
	})
}

func unmarshalRecordLine(b []byte) (*DataSet, error) {
	var rl recordLine
	if err := json.Unmarshal(b, &rl); err != nil {
		return nil, err
	}
	dt := rl.DataTypes
	if dt == nil {
		dt = make(map[string]types.JSONObject)
	}
	return &DataSet{
		Database:      rl.Database,
		Table:         rl.Table,
		ID:            rl.Identifier,
		CreatedAt:     rl.CreatedAt,
		UpdatedAt:     rl.UpdatedAt,
		DataTypes:     dt,
		PendingTokens: make(map[string]string),
	}, nil
}

// readShardFile reads a shard's on-disk file, one JSON object per line,
// transparently decoding JS2-encrypted lines. A missing
// file is treated as an empty shard, not an error, so a freshly created
// shard that has never been saved can still "load".
func readShardFile(path string, ct *crypt.CryptTool) ([]*DataSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*DataSet
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := line
		if crypt.IsEncoded(line) {
			if ct == nil || !ct.Ready() {
				return nil, jserr.New(jserr.CryptNotReady, "encrypted line found but crypt tool not ready: %s", path)
			}
			decoded, err := ct.Decode(line)
			if err != nil {
				return nil, jserr.Wrap(jserr.CryptFailed, err, "decode shard line: %s", path)
			}
			raw = decoded
		}
		ds, err := unmarshalRecordLine(raw)
		if err != nil {
			return nil, jserr.Wrap(jserr.LoadFailed, err, "parse shard line: %s", path)
		}
		out = append(out, ds)
	}
	if err := scanner.Err(); err != nil {
		return nil, jserr.Wrap(jserr.LoadFailed, err, "read shard file: %s", path)
	}
	return out, nil
}

// writeShardFile snapshots records to a temporary file in the same
// directory as path and renames it atomically over the target, so readers
// never observe a half-written shard. Each line is
// independently JS2-encoded when ct is non-nil and ready.
func writeShardFile(path string, records []*DataSet, ct *crypt.CryptTool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "create shard directory: %s", dir)
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

	w := bufio.NewWriter(tmp)
	for _, ds := range records {
		line, err := marshalRecordLine(ds)
		if err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "marshal record %s", ds.ID)
		}
		if ct != nil && ct.Ready() {
			encoded, err := ct.Encode(line)
			if err != nil {
				return jserr.Wrap(jserr.UnloadFailed, err, "encrypt record %s", ds.ID)
			}
			line = []byte(encoded)
		}
		if _, err := w.Write(line); err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "write record %s", ds.ID)
		}
		if err := w.WriteByte('\n'); err != nil {
			return jserr.Wrap(jserr.UnloadFailed, err, "write record %s", ds.ID)
		}
	}
	if err := w.Flush(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "flush shard file: %s", path)
	}
	if err := tmp.Sync(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "sync shard file: %s", path)
	}
	if err := tmp.Close(); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "close shard file: %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return jserr.Wrap(jserr.UnloadFailed, err, "rename shard file: %s", path)
	}
	return nil
}
