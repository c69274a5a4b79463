// Package testing provides test utilities for strata components and runtimes.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/strata"
)

var validate = validator.New()

// Item is a keyed collection member as decoded from JSON or YAML.
type Item struct {
	Key string `json:"key" yaml:"key" validate:"required"`
	Val any    `json:"val" yaml:"val"`
}

// Validate implements strata.Validator.
func (i Item) Validate() error {
	return validate.Struct(i)
}

// Entry builds the map form of a collection member.
func Entry(key string, val any) map[string]any {
	return map[string]any{"key": key, "val": val}
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForStatus waits until the runtime reaches the expected status or timeout occurs.
func WaitForStatus(t *testing.T, rt *strata.Runtime, expected strata.Status, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return rt.Status() == expected
	})
}

// RequireStatus fails the test immediately if the runtime is not in the expected status.
func RequireStatus(t *testing.T, rt *strata.Runtime, expected strata.Status) {
	t.Helper()
	if got := rt.Status(); got != expected {
		t.Fatalf("expected status %s, got %s (last error: %v)", expected, got, rt.LastError())
	}
}

// RequireState fails the test if the runtime has no state or check rejects it.
func RequireState(t *testing.T, rt *strata.Runtime, check func(any) bool) {
	t.Helper()
	state, ok := rt.Current()
	if !ok {
		t.Fatal("expected state to be present, got none")
	}
	if !check(state) {
		t.Fatalf("state check failed: %+v", state)
	}
}

// StartSync starts main on a sync-mode runtime and stops it when the test ends.
func StartSync(t *testing.T, main strata.Component, opts ...strata.Option) (*strata.Runtime, strata.Sinks) {
	t.Helper()
	rt := strata.New(main, opts...).SyncMode()
	sinks, err := rt.Start(context.Background(), strata.Sources{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(rt.Stop)
	return rt, sinks
}

// StepUntil runs loop tasks of a sync-mode runtime until condition holds.
func StepUntil(t *testing.T, rt *strata.Runtime, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for !condition() {
		if !rt.Step(ctx) {
			return false
		}
	}
	return true
}

// Recorder captures the events of a stream. It is safe to read from any
// goroutine.
type Recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	completed bool
	sub       strata.Subscription
}

// Record subscribes a new Recorder to s. Call it on the loop.
func Record[T any](s *strata.Stream[T]) *Recorder[T] {
	r := &Recorder[T]{}
	r.sub = s.Subscribe(strata.Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		Complete: func() {
			r.mu.Lock()
			r.completed = true
			r.mu.Unlock()
		},
	})
	return r
}

// Values returns a copy of the values received so far.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Last returns the latest value and whether there is one.
func (r *Recorder[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		var zero T
		return zero, false
	}
	return r.values[len(r.values)-1], true
}

// Errors returns the errors received so far.
func (r *Recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Completed reports whether the stream completed.
func (r *Recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Unsubscribe detaches the recorder. Call it on the loop.
func (r *Recorder[T]) Unsubscribe() {
	r.sub.Unsubscribe()
}
