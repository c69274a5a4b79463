package strata

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// stateBox holds a state value for atomic storage.
type stateBox struct {
	v any
}

// Runtime closes the loop between a root component's state channel and its
// reducer sink. The state channel is a fold of every reducer the component
// emits, starting from nil.
//
// All stream activity happens on the runtime's Loop. In the default mode
// the loop runs on its own goroutine; use Do to touch streams from
// elsewhere. In sync mode the caller drives the loop with Process or Step.
type Runtime struct {
	main     Component
	pipeline pipz.Chainable[*Transition]
	name     string
	syncMode bool
	clock    clockz.Clock
	metrics  MetricsProvider
	onStop   func(Status)

	id           string
	status       atomic.Int32
	current      atomic.Pointer[stateBox]
	lastError    atomic.Pointer[error]
	errorHistory *ring[error]

	mu      sync.Mutex
	started bool
	stopped bool

	loop        *Loop
	base        context.Context
	ctx         context.Context
	cancel      context.CancelFunc
	env         *env
	proxy       *Proxy[Reducer]
	stateSource *StateSource
	stateSub    Subscription
	done        chan struct{}
}

// New creates a Runtime for the root component main.
//
// Pipeline options (With*) configure how reducers are applied. Instance
// configuration uses chainable methods before calling Start().
//
// Example:
//
//	rt := strata.New(app).Name("onion").SyncMode()
//	sinks, err := rt.Start(ctx, strata.Sources{})
func New(main Component, opts ...Option) *Runtime {
	r := &Runtime{
		main:    main,
		name:    DefaultChannel,
		clock:   clockz.RealClock,
		metrics: NoOpMetricsProvider{},
		id:      uuid.NewString(),
	}
	terminal := pipz.Apply("reducer", func(_ context.Context, t *Transition) (*Transition, error) {
		next, err := applyReducer(t.Reducer, t.Previous)
		if err != nil {
			return t, err
		}
		t.Next = next
		return t, nil
	})
	r.pipeline = buildPipeline(terminal, opts)
	r.status.Store(int32(StatusIdle))
	return r
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Name sets the channel the state is exposed under in sources, and read
// back from sinks. Default: "state". Must be called before Start().
func (r *Runtime) Name(name string) *Runtime {
	r.name = name
	return r
}

// SyncMode makes the caller drive the loop. Start wires the component and
// drains pending work inline; later work runs on Process or Step.
// Must be called before Start().
func (r *Runtime) SyncMode() *Runtime {
	r.syncMode = true
	return r
}

// Clock sets the clock used by the loop and for reducer timings.
// Use this with clockz.FakeClock for deterministic Delay testing.
// Must be called before Start().
func (r *Runtime) Clock(clock clockz.Clock) *Runtime {
	r.clock = clock
	return r
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (r *Runtime) Metrics(provider MetricsProvider) *Runtime {
	r.metrics = provider
	return r
}

// OnStop sets a callback invoked with the final status when the runtime
// stops. Must be called before Start().
func (r *Runtime) OnStop(fn func(Status)) *Runtime {
	r.onStop = fn
	return r
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (r *Runtime) ErrorHistorySize(n int) *Runtime {
	r.errorHistory = newRing[error](n)
	return r
}

// ID returns the unique identifier attached to this runtime's signals.
func (r *Runtime) ID() string {
	return r.id
}

// Status returns the current status.
func (r *Runtime) Status() Status {
	return Status(r.status.Load())
}

// Current returns the latest root state and true, or nil and false if no
// reducer has produced a state yet.
func (r *Runtime) Current() (any, bool) {
	ptr := r.current.Load()
	if ptr == nil {
		return nil, false
	}
	return ptr.v, true
}

// LastError returns the last error encountered, or nil if no error occurred.
func (r *Runtime) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (r *Runtime) ErrorHistory() []error {
	return r.errorHistory.all()
}

// Loop returns the loop the runtime's streams run on. It is nil before Start.
func (r *Runtime) Loop() *Loop {
	return r.loop
}

// State returns the root state channel. It is nil before Start.
func (r *Runtime) State() *StateSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateSource
}

// Start wires the root component: the state channel is handed to main
// under Name, and the reducer stream main returns under the same name is
// bound back into it. A component without that sink simply never changes
// state.
//
// Start returns the sinks of main. Subscribe to them on the loop (Do, or
// directly in sync mode).
//
// Start can only be called once. Subsequent calls return ErrAlreadyStarted.
func (r *Runtime) Start(ctx context.Context, sources Sources) (Sinks, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	r.started = true
	r.loop = NewLoop(r.clock)
	r.base = ctx
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.env = &env{ctx: ctx, metrics: r.metrics, runtime: r.id}
	r.done = make(chan struct{})
	r.mu.Unlock()

	if r.syncMode {
		sinks, err := r.wire(sources)
		r.loop.Flush()
		return sinks, err
	}

	type result struct {
		sinks Sinks
		err   error
	}
	wired := make(chan result, 1)
	r.loop.Post(func() {
		sinks, err := r.wire(sources)
		wired <- result{sinks, err}
	})
	go func() {
		defer close(r.done)
		_ = r.loop.Run(r.ctx) //nolint:errcheck // ends with context cancellation
	}()

	select {
	case res := <-wired:
		return res.sinks, res.err
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
}

// wire builds the feedback loop. It runs on the loop.
func (r *Runtime) wire(sources Sources) (Sinks, error) {
	proxy := NewProxy[Reducer]()
	folded := Fold(proxy.Stream(), r.apply, any(nil))
	state := newStateSource(Drop(folded, 1), r.name, r.env)

	r.mu.Lock()
	r.proxy = proxy
	r.stateSource = state
	r.mu.Unlock()

	r.stateSub = state.Subscribe(Observer[any]{
		Next: func(v any) {
			r.current.Store(&stateBox{v: v})
		},
		Error: r.fail,
	})

	in := sources.clone()
	in[r.name] = state

	var sinks Sinks
	if err := guard(func() { sinks = r.main(in) }); err != nil {
		r.fail(err)
		return nil, fmt.Errorf("root component: %w", err)
	}

	reducers, err := SinkOf[Reducer](sinks, r.name)
	if err != nil {
		r.fail(err)
		return sinks, err
	}
	if _, err := proxy.Bind(reducers, r.loop.Defer); err != nil {
		return sinks, err
	}

	r.transitionStatus(StatusIdle, StatusRunning)
	capitan.Emit(r.base, FeedbackBound,
		KeyRuntime.Field(r.id),
		KeyChannel.Field(r.name),
	)
	capitan.Emit(r.base, RuntimeStarted,
		KeyRuntime.Field(r.id),
		KeyChannel.Field(r.name),
	)
	return sinks, nil
}

// apply runs one reducer through the pipeline.
func (r *Runtime) apply(prev any, reducer Reducer) (any, error) {
	start := r.clock.Now()
	t, err := r.pipeline.Process(r.ctx, &Transition{Previous: prev, Reducer: reducer})
	elapsed := r.clock.Since(start)
	if err != nil {
		r.metrics.OnReducerFailed(elapsed)
		capitan.Emit(r.base, ReducerFailed,
			KeyRuntime.Field(r.id),
			KeyChannel.Field(r.name),
			KeyError.Field(err.Error()),
		)
		return nil, err
	}
	r.metrics.OnReducerApplied(elapsed)
	capitan.Emit(r.base, ReducerApplied,
		KeyRuntime.Field(r.id),
		KeyChannel.Field(r.name),
		KeyDuration.Field(elapsed),
	)
	return t.Next, nil
}

// applyReducer calls reducer, reporting a panic as ErrReducerPanic.
func applyReducer(reducer Reducer, prev any) (next any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recovered(rec, ErrReducerPanic)
		}
	}()
	return reducer(prev)
}

// fail records err and moves the runtime to StatusFailed.
func (r *Runtime) fail(err error) {
	e := err
	r.lastError.Store(&e)
	r.errorHistory.push(err)
	r.transitionStatus(r.Status(), StatusFailed)
}

// transitionStatus updates the status and emits a change event if changed.
func (r *Runtime) transitionStatus(from, to Status) {
	if from == to || !r.status.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	r.metrics.OnStatusChange(from, to)
	capitan.Emit(r.base, RuntimeStatusChanged,
		KeyRuntime.Field(r.id),
		KeyOldStatus.Field(from.String()),
		KeyNewStatus.Field(to.String()),
	)
}

// Do runs fn on the loop. In sync mode fn runs immediately and pending
// microtasks are drained before Do returns.
func (r *Runtime) Do(fn func()) {
	if r.loop == nil {
		return
	}
	if r.syncMode {
		fn()
		r.loop.Flush()
		return
	}
	r.loop.Post(fn)
}

// Process runs the next queued loop task. This is only available in sync
// mode and is used for deterministic testing. Returns false if nothing ran.
func (r *Runtime) Process() bool {
	if !r.syncMode || r.loop == nil {
		return false
	}
	return r.loop.Process()
}

// Step waits for the next loop task and runs it. Only available in sync mode.
func (r *Runtime) Step(ctx context.Context) bool {
	if !r.syncMode || r.loop == nil {
		return false
	}
	return r.loop.Step(ctx)
}

// Stop releases the root component: the reducer sink and the state channel
// are unsubscribed and the loop exits. Stop is idempotent.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	teardown := func() {
		if r.proxy != nil {
			r.proxy.Unbind()
		}
		if r.stateSub != nil {
			r.stateSub.Unsubscribe()
			r.stateSub = nil
		}
	}

	if r.syncMode {
		teardown()
		r.loop.Flush()
	} else {
		released := make(chan struct{})
		r.loop.Post(func() {
			teardown()
			close(released)
		})
		select {
		case <-released:
		case <-r.done:
		}
	}
	r.cancel()
	if !r.syncMode {
		<-r.done
	}

	final := r.Status()
	if final != StatusFailed {
		r.transitionStatus(final, StatusStopped)
		final = StatusStopped
	}
	capitan.Emit(r.base, RuntimeStopped,
		KeyRuntime.Field(r.id),
		KeyNewStatus.Field(final.String()),
	)
	if r.onStop != nil {
		r.onStop(final)
	}
}
