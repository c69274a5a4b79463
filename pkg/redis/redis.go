// Package redis provides strata.Watcher implementations for Redis keys
// using keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/strata"
)

// Watcher watches a Redis key, or every key under a prefix. Requires
// keyspace notifications to be enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Watcher struct {
	client *redis.Client
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

// New creates a Watcher for a single Redis key.
func New(client *redis.Client, key string, opts ...Option) *Watcher {
	w := &Watcher{client: client, key: key}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewPrefix creates a Watcher for every string key starting with prefix.
// It emits a keyed list suitable for a collection.
func NewPrefix(client *redis.Client, prefix string, opts ...Option) *Watcher {
	w := New(client, prefix, opts...)
	w.prefix = true
	return w
}

func (w *Watcher) source() string {
	return "redis:" + w.key
}

func (w *Watcher) name(key string) string {
	if w.trim {
		return strings.TrimPrefix(key, w.key)
	}
	return key
}

// isWrite reports whether a keyspace event payload changed a value.
func isWrite(payload string) bool {
	switch payload {
	case "set", "mset", "setex", "psetex", "setnx", "setrange", "append", "incrby", "incrbyfloat":
		return true
	}
	return false
}

// isRemoval reports whether a keyspace event payload removed a key.
func isRemoval(payload string) bool {
	switch payload {
	case "del", "expired", "evicted", "rename_from":
		return true
	}
	return false
}

// load reads every key under the prefix.
func (w *Watcher) load(ctx context.Context) (map[string][]byte, error) {
	values := make(map[string][]byte)
	iter := w.client.Scan(ctx, 0, w.key+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := w.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		values[w.name(key)] = val
	}
	return values, iter.Err()
}

// Watch subscribes to keyspace notifications, emits the current value, then
// emits after every write. A removed single key keeps its last value; a
// removed prefixed key leaves the list.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	channelPrefix := fmt.Sprintf("__keyspace@%d__:", w.client.Options().DB)

	var pubsub *redis.PubSub
	if w.prefix {
		pubsub = w.client.PSubscribe(ctx, channelPrefix+w.key+"*")
	} else {
		pubsub = w.client.Subscribe(ctx, channelPrefix+w.key)
	}

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	snap := strata.NewSnapshot()
	if w.prefix {
		values, err := w.load(ctx)
		if err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to load %s: %w", w.key, err)
		}
		snap = strata.NewListSnapshot()
		snap.Reset(values)
	} else {
		val, err := w.client.Get(ctx, w.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			pubsub.Close()
			return nil, fmt.Errorf("failed to get initial value: %w", err)
		}
		if err == nil {
			snap.Put(w.key, val)
		}
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

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

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				key := strings.TrimPrefix(msg.Channel, channelPrefix)
				switch {
				case isWrite(msg.Payload):
					val, err := w.client.Get(ctx, key).Bytes()
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						strata.ReportWatcherError(ctx, w.source(), err)
						continue
					}
					snap.Put(w.name(key), val)
				case w.prefix && isRemoval(msg.Payload):
					snap.Delete(w.name(key))
				default:
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out, nil
}
