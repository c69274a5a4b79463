// Package consul provides strata.Watcher implementations backed by Consul
// KV blocking queries.
package consul

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/strata"
)

// Watcher watches a Consul KV key or key prefix.
type Watcher struct {
	client  *api.Client
	key     string
	prefix  bool
	trim    bool
	wait    time.Duration
	backoff time.Duration
	clock   clockz.Clock
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithTrimPrefix reports list keys relative to the watched prefix.
func WithTrimPrefix() Option {
	return func(w *Watcher) {
		w.trim = true
	}
}

// WithWaitTime bounds each blocking query. Consul's default applies when unset.
func WithWaitTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.wait = d
	}
}

// WithBackoff sets the pause after a failed query. Defaults to one second.
func WithBackoff(d time.Duration) Option {
	return func(w *Watcher) {
		w.backoff = d
	}
}

// WithClock sets the clock used for backoff pauses.
func WithClock(clock clockz.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// New creates a Watcher for a single Consul KV key.
func New(client *api.Client, key string, opts ...Option) *Watcher {
	w := &Watcher{
		client:  client,
		key:     key,
		backoff: time.Second,
		clock:   clockz.RealClock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewPrefix creates a Watcher for every key under prefix. It emits a keyed
// list suitable for a collection.
func NewPrefix(client *api.Client, prefix string, opts ...Option) *Watcher {
	w := New(client, prefix, opts...)
	w.prefix = true
	return w
}

func (w *Watcher) source() string {
	return "consul:" + w.key
}

// read performs one (possibly blocking) query and returns the new index and
// whether snap changed.
func (w *Watcher) read(ctx context.Context, index uint64, snap *strata.Snapshot) (uint64, bool, error) {
	opts := (&api.QueryOptions{WaitIndex: index, WaitTime: w.wait}).WithContext(ctx)
	kv := w.client.KV()

	if !w.prefix {
		pair, meta, err := kv.Get(w.key, opts)
		if err != nil {
			return index, false, err
		}
		// A deleted key keeps its last value.
		if pair == nil {
			return meta.LastIndex, false, nil
		}
		snap.Put(pair.Key, pair.Value)
		return meta.LastIndex, true, nil
	}

	pairs, meta, err := kv.List(w.key, opts)
	if err != nil {
		return index, false, err
	}
	values := make(map[string][]byte, len(pairs))
	for _, pair := range pairs {
		// Folder placeholders carry no member.
		if strings.HasSuffix(pair.Key, "/") && len(pair.Value) == 0 {
			continue
		}
		name := pair.Key
		if w.trim {
			name = strings.TrimPrefix(name, w.key)
		}
		values[name] = pair.Value
	}
	snap.Reset(values)
	return meta.LastIndex, true, nil
}

// Watch reads the current value, emits it, then emits again whenever a
// blocking query returns a newer index.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	snap := strata.NewSnapshot()
	if w.prefix {
		snap = strata.NewListSnapshot()
	}

	lastIndex, _, err := w.read(ctx, 0, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		emit := func() bool {
			data, ok, err := snap.Render()
			if err != nil {
				strata.ReportWatcherError(ctx, w.source(), err)
				return true
			}
			if !ok {
				return true
			}
			select {
			case out <- data:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}

		for {
			if ctx.Err() != nil {
				return
			}

			index, changed, err := w.read(ctx, lastIndex, snap)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				strata.ReportWatcherError(ctx, w.source(), err)
				select {
				case <-w.clock.After(w.backoff):
				case <-ctx.Done():
					return
				}
				continue
			}

			// Consul may reset the index; start over from zero.
			if index < lastIndex {
				lastIndex = 0
				continue
			}
			if index == lastIndex {
				continue
			}
			lastIndex = index
			if changed && !emit() {
				return
			}
		}
	}()

	return out, nil
}
