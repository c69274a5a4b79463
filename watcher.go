package strata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes an external source of state and emits its raw bytes.
// Implementations emit the current contents immediately so the state can
// be hydrated at startup. The channel is closed when ctx is done or the
// source is exhausted.
type Watcher interface {
	Watch(ctx context.Context) (<-chan []byte, error)
}

// ChannelWatcher adapts an existing byte channel.
type ChannelWatcher struct {
	ch     <-chan []byte
	direct bool
}

// NewChannelWatcher forwards ch through a goroutine that stops with the
// watch context.
func NewChannelWatcher(ch <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{ch: ch}
}

// NewSyncChannelWatcher hands ch out as is. Pair it with a sync-mode
// Runtime for deterministic tests.
func NewSyncChannelWatcher(ch <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{ch: ch, direct: true}
}

// Watch implements Watcher.
func (w *ChannelWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	if w.direct {
		return w.ch, nil
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			var (
				v  []byte
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case v, ok = <-w.ch:
				if !ok {
					return
				}
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FileWatcher emits the contents of a file each time it is written or
// replaced. The parent directory is watched so atomic renames are seen.
type FileWatcher struct {
	path string
}

// NewFileWatcher creates a FileWatcher for path.
func NewFileWatcher(path string) *FileWatcher {
	return &FileWatcher{path: path}
}

// Watch implements Watcher.
func (w *FileWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", w.path, err)
	}
	initial, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", w.path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer fsw.Close()

		emit := func(data []byte) bool {
			select {
			case out <- data:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(initial) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(abs)
				if err != nil {
					continue
				}
				if !emit(data) {
					return
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}
