// Package firestore provides strata.Watcher implementations for Firestore
// documents and collections using realtime listeners.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/strata"
	"google.golang.org/api/iterator"
)

// DefaultField is the document field holding the state bytes.
const DefaultField = "data"

// Watcher watches one document, or every document of a collection.
type Watcher struct {
	client     *firestore.Client
	collection string
	document   string
	field      string
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithField sets the document field holding the state. Defaults to
// DefaultField.
func WithField(field string) Option {
	return func(w *Watcher) {
		w.field = field
	}
}

// New creates a Watcher for a single document.
func New(client *firestore.Client, collection, document string, opts ...Option) *Watcher {
	w := &Watcher{
		client:     client,
		collection: collection,
		document:   document,
		field:      DefaultField,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewCollection creates a Watcher for every document of collection, keyed
// by document ID. It emits a keyed list suitable for a collection.
func NewCollection(client *firestore.Client, collection string, opts ...Option) *Watcher {
	return New(client, collection, "", opts...)
}

func (w *Watcher) source() string {
	return "firestore:" + w.collection + "/" + w.document
}

// value extracts the state field from document data.
func (w *Watcher) value(data map[string]any) ([]byte, bool) {
	switch v := data[w.field].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}

// Watch emits the current contents once the listener delivers its first
// snapshot, then after every change. Documents without the state field are
// skipped. A listener error closes the channel.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	if w.document == "" {
		go w.watchCollection(ctx, out)
	} else {
		go w.watchDocument(ctx, out)
	}
	return out, nil
}

func (w *Watcher) send(ctx context.Context, out chan<- []byte, snap *strata.Snapshot) bool {
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

func (w *Watcher) watchDocument(ctx context.Context, out chan<- []byte) {
	defer close(out)

	snapshots := w.client.Collection(w.collection).Doc(w.document).Snapshots(ctx)
	defer snapshots.Stop()

	for {
		doc, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, iterator.Done) {
				return
			}
			// The listener does not recover from errors.
			strata.ReportWatcherError(ctx, w.source(), err)
			return
		}
		if !doc.Exists() {
			continue
		}

		value, ok := w.value(doc.Data())
		if !ok {
			continue
		}
		snap := strata.NewSnapshot()
		snap.Put(w.document, value)
		if !w.send(ctx, out, snap) {
			return
		}
	}
}

func (w *Watcher) watchCollection(ctx context.Context, out chan<- []byte) {
	defer close(out)

	snapshots := w.client.Collection(w.collection).Snapshots(ctx)
	defer snapshots.Stop()

	for {
		qs, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, iterator.Done) {
				return
			}
			strata.ReportWatcherError(ctx, w.source(), err)
			return
		}

		docs, err := qs.Documents.GetAll()
		if err != nil {
			strata.ReportWatcherError(ctx, w.source(), err)
			continue
		}
		values := make(map[string][]byte, len(docs))
		for _, doc := range docs {
			if value, ok := w.value(doc.Data()); ok {
				values[doc.Ref.ID] = value
			}
		}

		snap := strata.NewListSnapshot()
		snap.Reset(values)
		if !w.send(ctx, out, snap) {
			return
		}
	}
}

// Put writes data into the state field of a document, creating it if needed.
func Put(ctx context.Context, client *firestore.Client, collection, document string, data []byte) error {
	_, err := client.Collection(collection).Doc(document).Set(ctx, map[string]any{
		DefaultField: data,
	})
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}
