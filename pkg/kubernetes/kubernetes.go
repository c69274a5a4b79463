// Package kubernetes provides strata.Watcher implementations for
// Kubernetes ConfigMaps and Secrets using the Watch API.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/strata"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// ResourceType specifies the type of Kubernetes resource to watch.
type ResourceType int

const (
	// ConfigMap watches a ConfigMap resource.
	ConfigMap ResourceType = iota
	// Secret watches a Secret resource.
	Secret
)

var errWatchClosed = errors.New("watch channel closed")

// Watcher watches one data key of a ConfigMap or Secret, or all of them.
type Watcher struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	key          string
	list         bool
	resourceType ResourceType
	backoff      time.Duration
	clock        clockz.Clock
}

var _ strata.Watcher = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithResourceType sets the resource type to watch.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(w *Watcher) {
		w.resourceType = rt
	}
}

// WithBackoff sets the pause before re-establishing a failed watch.
// Defaults to one second.
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

// New creates a Watcher for a single data key of the named resource.
func New(client kubernetes.Interface, namespace, name, key string, opts ...Option) *Watcher {
	w := &Watcher{
		client:       client,
		namespace:    namespace,
		name:         name,
		key:          key,
		resourceType: ConfigMap,
		backoff:      time.Second,
		clock:        clockz.RealClock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewData creates a Watcher for every data key of the named resource. It
// emits a keyed list suitable for a collection.
func NewData(client kubernetes.Interface, namespace, name string, opts ...Option) *Watcher {
	w := New(client, namespace, name, "", opts...)
	w.list = true
	return w
}

func (w *Watcher) source() string {
	kind := "configmap"
	if w.resourceType == Secret {
		kind = "secret"
	}
	return fmt.Sprintf("kubernetes:%s/%s/%s", kind, w.namespace, w.name)
}

// Watch emits the current value, then emits after every modification. A
// failed watch is re-established after the backoff. Deleting the resource
// emits nothing; its last value stays in place.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		for {
			err := w.watchLoop(ctx, out)
			if ctx.Err() != nil {
				return
			}
			strata.ReportWatcherError(ctx, w.source(), err)
			select {
			case <-w.clock.After(w.backoff):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (w *Watcher) watchLoop(ctx context.Context, out chan<- []byte) error {
	obj, err := w.get(ctx)
	if err != nil {
		return err
	}
	if err := w.emit(ctx, out, obj); err != nil {
		return err
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", w.name),
		ResourceVersion: resourceVersion(obj),
	}

	var watcher watch.Interface
	if w.resourceType == ConfigMap {
		watcher, err = w.client.CoreV1().ConfigMaps(w.namespace).Watch(ctx, opts)
	} else {
		watcher, err = w.client.CoreV1().Secrets(w.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errWatchClosed
			}

			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch error: %v", event.Object)
			case watch.Deleted, watch.Bookmark:
				continue
			}

			if err := w.emit(ctx, out, event.Object); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) get(ctx context.Context) (runtime.Object, error) {
	if w.resourceType == ConfigMap {
		return w.client.CoreV1().ConfigMaps(w.namespace).Get(ctx, w.name, metav1.GetOptions{})
	}
	return w.client.CoreV1().Secrets(w.namespace).Get(ctx, w.name, metav1.GetOptions{})
}

// emit renders obj and sends it. Objects of the wrong kind, or a single key
// missing from the data, send nothing.
func (w *Watcher) emit(ctx context.Context, out chan<- []byte, obj runtime.Object) error {
	data := w.extractData(obj)
	if data == nil {
		return nil
	}

	snap := strata.NewSnapshot()
	if w.list {
		snap = strata.NewListSnapshot()
		snap.Reset(data)
	} else if v, ok := data[w.key]; ok {
		snap.Put(w.key, v)
	}

	value, ok, err := snap.Render()
	if err != nil {
		strata.ReportWatcherError(ctx, w.source(), err)
		return nil
	}
	if !ok {
		return nil
	}
	select {
	case out <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extractData returns the data of a resource of the watched kind, or nil.
func (w *Watcher) extractData(obj runtime.Object) map[string][]byte {
	if w.resourceType == ConfigMap {
		cm, ok := obj.(*corev1.ConfigMap)
		if !ok {
			return nil
		}
		data := make(map[string][]byte, len(cm.Data)+len(cm.BinaryData))
		for k, v := range cm.BinaryData {
			data[k] = v
		}
		for k, v := range cm.Data {
			data[k] = []byte(v)
		}
		return data
	}

	secret, ok := obj.(*corev1.Secret)
	if !ok {
		return nil
	}
	data := make(map[string][]byte, len(secret.Data))
	for k, v := range secret.Data {
		data[k] = v
	}
	return data
}

func resourceVersion(obj runtime.Object) string {
	if m, ok := obj.(metav1.Object); ok {
		return m.GetResourceVersion()
	}
	return ""
}
