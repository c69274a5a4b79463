package strata

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/zoobzio/capitan"
)

// keyedEntry is the wire shape of one collection member read from a keyed store.
type keyedEntry struct {
	Key string `json:"key"`
	Val any    `json:"val"`
}

// EncodeEntries renders a keyed store snapshot as a JSON array of
// {"key": k, "val": v} objects ordered by key, the shape a collection
// reconciles by default. Values holding valid JSON are embedded as is;
// anything else is embedded as a string.
func EncodeEntries(values map[string][]byte) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]keyedEntry, len(keys))
	for i, k := range keys {
		raw := values[k]
		if json.Valid(raw) {
			list[i] = keyedEntry{Key: k, Val: json.RawMessage(raw)}
		} else {
			list[i] = keyedEntry{Key: k, Val: string(raw)}
		}
	}
	return json.Marshal(list)
}

// ReportWatcherError emits WatcherError for source. Watchers call it for
// errors they recover from.
func ReportWatcherError(ctx context.Context, source string, err error) {
	capitan.Emit(ctx, WatcherError,
		KeySource.Field(source),
		KeyError.Field(err.Error()),
	)
}

// Snapshot tracks what a watcher has read from a keyed store. A single-key
// snapshot renders the raw value of its key; a list snapshot renders every
// key it holds with EncodeEntries. Snapshots are not safe for concurrent use.
type Snapshot struct {
	list   bool
	values map[string][]byte
}

// NewSnapshot creates a single-key snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string][]byte)}
}

// NewListSnapshot creates a snapshot that renders a keyed list.
func NewListSnapshot() *Snapshot {
	return &Snapshot{list: true, values: make(map[string][]byte)}
}

// Put records the value of key.
func (s *Snapshot) Put(key string, value []byte) {
	s.values[key] = value
}

// Delete forgets key.
func (s *Snapshot) Delete(key string) {
	delete(s.values, key)
}

// Reset replaces every recorded value.
func (s *Snapshot) Reset(values map[string][]byte) {
	s.values = make(map[string][]byte, len(values))
	for k, v := range values {
		s.values[k] = v
	}
}

// Len returns the number of recorded keys.
func (s *Snapshot) Len() int {
	return len(s.values)
}

// Render returns the bytes to emit. ok is false for a single-key snapshot
// whose key is absent, which emits nothing.
func (s *Snapshot) Render() (data []byte, ok bool, err error) {
	if s.list {
		data, err = EncodeEntries(s.values)
		return data, err == nil, err
	}
	for _, v := range s.values {
		return v, true, nil
	}
	return nil, false, nil
}
