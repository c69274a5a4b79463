// Package etcd provides strata.Watcher implementations backed by etcd's
// native Watch API.
//
// New watches one key and emits its value. NewPrefix watches every key
// under a prefix and emits them as a keyed list, ready to drive a
// collection through strata.Hydrate.
package etcd

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/strata"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Watcher watches an etcd key or key prefix.
type Watcher struct {
	client *clientv3.Client
	key    string
	prefix bool
	trim   bool
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

// New creates a Watcher for a single etcd key.
func New(client *clientv3.Client, key string, opts ...Option) *Watcher {
	w := &Watcher{client: client, key: key}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewPrefix creates a Watcher for every key under prefix.
func NewPrefix(client *clientv3.Client, prefix string, opts ...Option) *Watcher {
	w := New(client, prefix, opts...)
	w.prefix = true
	return w
}

func (w *Watcher) source() string {
	return "etcd:" + w.key
}

func (w *Watcher) name(key []byte) string {
	if w.trim {
		return strings.TrimPrefix(string(key), w.key)
	}
	return string(key)
}

// Watch reads the current value, emits it, then emits again after every
// watch response that changed it. A single key that does not exist yet
// emits nothing until it is created; a prefix always emits, starting with
// the empty list.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	var opts []clientv3.OpOption
	snap := strata.NewSnapshot()
	if w.prefix {
		opts = append(opts, clientv3.WithPrefix())
		snap = strata.NewListSnapshot()
	}

	resp, err := w.client.Get(ctx, w.key, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}
	for _, kv := range resp.Kvs {
		snap.Put(w.name(kv.Key), kv.Value)
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

		// Resume right after the revision the initial read saw.
		watchOpts := append(opts, clientv3.WithRev(resp.Header.Revision+1))
		watchChan := w.client.Watch(ctx, w.key, watchOpts...)

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := watchResp.Err(); err != nil {
					strata.ReportWatcherError(ctx, w.source(), err)
					continue
				}

				changed := false
				for _, event := range watchResp.Events {
					switch event.Type {
					case clientv3.EventTypePut:
						snap.Put(w.name(event.Kv.Key), event.Kv.Value)
						changed = true
					case clientv3.EventTypeDelete:
						// A deleted single key keeps its last value.
						if w.prefix {
							snap.Delete(w.name(event.Kv.Key))
							changed = true
						}
					}
				}
				if changed && !emit() {
					return
				}
			}
		}
	}()

	return out, nil
}
