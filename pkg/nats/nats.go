// Package nats provides strata.Watcher implementations backed by NATS
// JetStream key-value buckets.
package nats

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/strata"
)

// Watcher watches a NATS KV key, or every key matching a subject pattern.
type Watcher struct {
	kv      jetstream.KeyValue
	pattern string
	list    bool
	trim    string
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithTrimPrefix strips prefix from list keys.
func WithTrimPrefix(prefix string) Option {
	return func(w *Watcher) {
		w.trim = prefix
	}
}

// New creates a Watcher for a single NATS KV key.
func New(kv jetstream.KeyValue, key string, opts ...Option) *Watcher {
	w := &Watcher{kv: kv, pattern: key}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewList creates a Watcher for every key matching pattern, such as
// "todos.>" or "todos.*". It emits a keyed list suitable for a collection.
func NewList(kv jetstream.KeyValue, pattern string, opts ...Option) *Watcher {
	w := New(kv, pattern, opts...)
	w.list = true
	return w
}

func (w *Watcher) source() string {
	return "nats:" + w.kv.Bucket() + "/" + w.pattern
}

// Watch replays the current values, emits them once the replay is done,
// then emits after every update. Deletes and purges leave a single key's
// last value in place and drop a list member.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := w.kv.Watch(ctx, w.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", w.pattern, err)
	}

	snap := strata.NewSnapshot()
	if w.list {
		snap = strata.NewListSnapshot()
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

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

		replayed := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values.
				if entry == nil {
					replayed = true
					if !emit() {
						return
					}
					continue
				}

				name := strings.TrimPrefix(entry.Key(), w.trim)
				switch entry.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					if !w.list {
						continue
					}
					snap.Delete(name)
				default:
					snap.Put(name, entry.Value())
				}
				if replayed && !emit() {
					return
				}
			}
		}
	}()

	return out, nil
}
