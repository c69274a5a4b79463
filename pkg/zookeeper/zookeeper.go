// Package zookeeper provides strata.Watcher implementations for ZooKeeper
// nodes using native watches.
package zookeeper

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/strata"
)

// Watcher watches a ZooKeeper node's data, or the data of its children.
type Watcher struct {
	conn     *zk.Conn
	path     string
	children bool
	backoff  time.Duration
	clock    clockz.Clock
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithBackoff sets the pause after a failed read. Defaults to one second.
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

// New creates a Watcher for the data of the node at path.
func New(conn *zk.Conn, path string, opts ...Option) *Watcher {
	w := &Watcher{
		conn:    conn,
		path:    path,
		backoff: time.Second,
		clock:   clockz.RealClock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewChildren creates a Watcher for the children of the node at path,
// keyed by child name. It emits a keyed list suitable for a collection.
func NewChildren(conn *zk.Conn, path string, opts ...Option) *Watcher {
	w := New(conn, path, opts...)
	w.children = true
	return w
}

func (w *Watcher) source() string {
	return "zookeeper:" + w.path
}

// Watch emits the current data, then emits again each time a watch fires.
// A node that does not exist yet emits nothing until it is created.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	if w.children {
		go w.watchChildren(ctx, out)
	} else {
		go w.watchNode(ctx, out)
	}
	return out, nil
}

func (w *Watcher) send(ctx context.Context, out chan<- []byte, data []byte) bool {
	select {
	case out <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// pause reports err and waits out the backoff.
func (w *Watcher) pause(ctx context.Context, err error) bool {
	strata.ReportWatcherError(ctx, w.source(), err)
	select {
	case <-w.clock.After(w.backoff):
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitNode blocks until the node exists.
func (w *Watcher) awaitNode(ctx context.Context) bool {
	exists, _, eventCh, err := w.conn.ExistsW(w.path)
	if err != nil {
		return w.pause(ctx, err)
	}
	if exists {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-eventCh:
		return true
	}
}

func (w *Watcher) watchNode(ctx context.Context, out chan<- []byte) {
	defer close(out)

	for {
		data, _, eventCh, err := w.conn.GetW(w.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, zk.ErrNoNode) {
				if !w.awaitNode(ctx) {
					return
				}
			} else if !w.pause(ctx, err) {
				return
			}
			continue
		}

		if !w.send(ctx, out, data) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-eventCh:
			// Loop back to read the new data and set a new watch.
		}
	}
}

func (w *Watcher) watchChildren(ctx context.Context, out chan<- []byte) {
	defer close(out)

	for {
		if !w.childRound(ctx, out) {
			return
		}
	}
}

// childRound reads every child with a watch set, emits the list, and waits
// for any of the watches to fire. It reports false when watching is over.
func (w *Watcher) childRound(ctx context.Context, out chan<- []byte) bool {
	names, _, childEv, err := w.conn.ChildrenW(w.path)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, zk.ErrNoNode) {
			return w.awaitNode(ctx)
		}
		return w.pause(ctx, err)
	}

	round, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan struct{}, 1)
	notify := func(ev <-chan zk.Event) {
		go func() {
			select {
			case <-ev:
				select {
				case changed <- struct{}{}:
				default:
				}
			case <-round.Done():
			}
		}()
	}
	notify(childEv)

	values := make(map[string][]byte, len(names))
	for _, name := range names {
		data, _, ev, err := w.conn.GetW(path.Join(w.path, name))
		if err != nil {
			// Removed since listing; the child watch has fired.
			continue
		}
		values[name] = data
		notify(ev)
	}

	snap := strata.NewListSnapshot()
	snap.Reset(values)
	data, _, err := snap.Render()
	if err != nil {
		return w.pause(ctx, err)
	}
	if !w.send(ctx, out, data) {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-changed:
		return true
	}
}
