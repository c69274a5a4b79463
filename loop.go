package strata

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Loop is the single cooperative thread every stream of a Runtime runs on.
//
// Tasks posted from any goroutine run one at a time; after each task the
// microtask queue is drained. Microtasks are how re-entrant deliveries are
// pushed to the end of the current tick instead of recursing.
type Loop struct {
	clock clockz.Clock

	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}

	micro    []func()
	flushing bool
}

// NewLoop creates a Loop reading time from clock. A nil clock means the
// real clock.
func NewLoop(clock clockz.Clock) *Loop {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Loop{
		clock:  clock,
		notify: make(chan struct{}, 1),
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clockz.Clock {
	return l.clock
}

// Post queues fn to run on the loop. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Defer queues fn as a microtask. Only call it from the loop goroutine.
func (l *Loop) Defer(fn func()) {
	l.micro = append(l.micro, fn)
}

// Flush drains the microtask queue, including microtasks queued while it
// runs. A nested call returns immediately.
func (l *Loop) Flush() {
	if l.flushing {
		return
	}
	l.flushing = true
	defer func() { l.flushing = false }()
	for len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		fn()
	}
}

// Pending returns the number of queued tasks and microtasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	n := len(l.tasks)
	l.mu.Unlock()
	return n + len(l.micro)
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

// Process runs one queued task if there is one, then drains microtasks.
// It never blocks.
func (l *Loop) Process() bool {
	fn, ok := l.pop()
	if !ok {
		l.Flush()
		return false
	}
	fn()
	l.Flush()
	return true
}

// Step waits for a task and runs it. It returns false when ctx is done
// first.
func (l *Loop) Step(ctx context.Context) bool {
	for {
		if l.Process() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-l.notify:
		}
	}
}

// Drain runs queued tasks until none are left.
func (l *Loop) Drain() int {
	n := 0
	for l.Process() {
		n++
	}
	return n
}

// Run processes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if !l.Step(ctx) {
			return ctx.Err()
		}
	}
}

type delayEntry[T any] struct {
	v    T
	done chan struct{}
}

type delayState[T any] struct {
	queue     []*delayEntry[T]
	completed bool
}

type delayProducer[T any] struct {
	in    *Stream[T]
	loop  *Loop
	d     time.Duration
	link  *link
	state *delayState[T]
}

func (p *delayProducer[T]) Start(out Sink[T]) {
	st := &delayState[T]{}
	p.state = st
	l := &link{}
	p.link = l

	fire := func() {
		if p.state != st || len(st.queue) == 0 {
			return
		}
		e := st.queue[0]
		st.queue = st.queue[1:]
		out.Next(e.v)
		if st.completed && len(st.queue) == 0 && p.state == st {
			out.Complete()
		}
	}

	l.attach(p.in.Subscribe(Observer[T]{
		Next: func(v T) {
			e := &delayEntry[T]{v: v, done: make(chan struct{})}
			st.queue = append(st.queue, e)
			timer := p.loop.clock.NewTimer(p.d)
			go func() {
				select {
				case <-timer.C():
					p.loop.Post(fire)
				case <-e.done:
					timer.Stop()
				}
			}()
		},
		Error: out.Error,
		Complete: func() {
			st.completed = true
			if len(st.queue) == 0 {
				out.Complete()
			}
		},
	}))
}

func (p *delayProducer[T]) Stop() {
	if p.link != nil {
		p.link.detach()
		p.link = nil
	}
	if st := p.state; st != nil {
		for _, e := range st.queue {
			close(e.done)
		}
		st.queue = nil
		p.state = nil
	}
}

// Delay re-emits every value of in after d has elapsed on the loop's clock.
// Values keep their order. The delayed delivery runs as a loop task.
func Delay[T any](in *Stream[T], loop *Loop, d time.Duration) *Stream[T] {
	return NewStream[T](&delayProducer[T]{in: in, loop: loop, d: d})
}
