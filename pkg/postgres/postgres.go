// Package postgres provides strata.Watcher implementations for PostgreSQL
// using LISTEN/NOTIFY over a key/value table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/strata"
)

// Watcher watches rows of a key/value table. A trigger on the table must
// send the changed key as the notification payload.
//
// Example trigger setup:
//
//	CREATE OR REPLACE FUNCTION notify_state_change() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('state_changed', COALESCE(NEW.key, OLD.key));
//	    RETURN NULL;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER state_change_trigger
//	    AFTER INSERT OR UPDATE OR DELETE ON state
//	    FOR EACH ROW EXECUTE FUNCTION notify_state_change();
type Watcher struct {
	pool    *pgxpool.Pool
	channel string
	key     string
	table   string
	prefix  bool
	trim    bool
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithTable sets the table name to query for values.
// Defaults to "state".
func WithTable(table string) Option {
	return func(w *Watcher) {
		w.table = table
	}
}

// WithTrimPrefix reports list keys relative to the watched prefix.
func WithTrimPrefix() Option {
	return func(w *Watcher) {
		w.trim = true
	}
}

// New creates a Watcher for the row with the given key. The channel should
// match the one used in pg_notify.
func New(pool *pgxpool.Pool, channel, key string, opts ...Option) *Watcher {
	w := &Watcher{
		pool:    pool,
		channel: channel,
		key:     key,
		table:   "state",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewPrefix creates a Watcher for every row whose key starts with prefix.
// It emits a keyed list suitable for a collection.
func NewPrefix(pool *pgxpool.Pool, channel, prefix string, opts ...Option) *Watcher {
	w := New(pool, channel, prefix, opts...)
	w.prefix = true
	return w
}

func (w *Watcher) source() string {
	return "postgres:" + w.table + "/" + w.key
}

// matches reports whether a notification payload concerns this watcher.
func (w *Watcher) matches(payload string) bool {
	if w.prefix {
		return strings.HasPrefix(payload, w.key)
	}
	return payload == w.key
}

// refresh rereads the watched rows into snap. It reports false when a
// single key has no row, leaving its last value in place.
func (w *Watcher) refresh(ctx context.Context, snap *strata.Snapshot) (bool, error) {
	if !w.prefix {
		var value []byte
		query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{w.table}.Sanitize())
		err := w.pool.QueryRow(ctx, query, w.key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		snap.Put(w.key, value)
		return true, nil
	}

	query := fmt.Sprintf("SELECT key, value FROM %s WHERE starts_with(key, $1)", pgx.Identifier{w.table}.Sanitize())
	rows, err := w.pool.Query(ctx, query, w.key)
	if err != nil {
		return false, err
	}
	values := make(map[string][]byte)
	var (
		key   string
		value []byte
	)
	_, err = pgx.ForEachRow(rows, []any{&key, &value}, func() error {
		name := key
		if w.trim {
			name = strings.TrimPrefix(name, w.key)
		}
		values[name] = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return false, err
	}
	snap.Reset(values)
	return true, nil
}

// Watch listens on the notification channel, emits the current rows, then
// emits again after each notification for a watched key.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", w.channel, err)
	}

	snap := strata.NewSnapshot()
	if w.prefix {
		snap = strata.NewListSnapshot()
	}
	found, err := w.refresh(ctx, snap)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to read initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer conn.Release()

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

		if found && !emit() {
			return
		}

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// The listening connection is gone; nothing more will arrive.
				strata.ReportWatcherError(ctx, w.source(), err)
				return
			}

			if !w.matches(notification.Payload) {
				continue
			}

			changed, err := w.refresh(ctx, snap)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				strata.ReportWatcherError(ctx, w.source(), err)
				continue
			}
			if changed && !emit() {
				return
			}
		}
	}()

	return out, nil
}
