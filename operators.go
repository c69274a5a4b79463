package strata

// link tracks an upstream subscription that may be torn down while it is
// still being established.
type link struct {
	sub     Subscription
	stopped bool
}

func (l *link) attach(sub Subscription) {
	if l.stopped {
		sub.Unsubscribe()
		return
	}
	l.sub = sub
}

func (l *link) detach() {
	l.stopped = true
	if l.sub != nil {
		l.sub.Unsubscribe()
		l.sub = nil
	}
}

// operator is a Producer that subscribes to one upstream. init is called on
// every start, so per-subscription state lives in its closure.
type operator[T, R any] struct {
	in   *Stream[T]
	init func(out Sink[R]) Observer[T]
	link *link
}

func (op *operator[T, R]) Start(out Sink[R]) {
	l := &link{}
	op.link = l
	l.attach(op.in.Subscribe(op.init(out)))
}

func (op *operator[T, R]) Stop() {
	if op.link != nil {
		op.link.detach()
		op.link = nil
	}
}

func derive[T, R any](in *Stream[T], init func(out Sink[R]) Observer[T]) *Stream[R] {
	return NewStream[R](&operator[T, R]{in: in, init: init})
}

// relay builds an observer that forwards termination to out.
func relay[T, R any](out Sink[R], next func(T)) Observer[T] {
	return Observer[T]{Next: next, Error: out.Error, Complete: out.Complete}
}

// Map transforms every value with fn. A panic in fn terminates the result
// with an error.
func Map[T, R any](in *Stream[T], fn func(T) R) *Stream[R] {
	return derive(in, func(out Sink[R]) Observer[T] {
		return relay[T](out, func(v T) {
			var r R
			if err := guard(func() { r = fn(v) }); err != nil {
				out.Error(err)
				return
			}
			out.Next(r)
		})
	})
}

// Filter passes the values for which keep returns true.
func Filter[T any](in *Stream[T], keep func(T) bool) *Stream[T] {
	return derive(in, func(out Sink[T]) Observer[T] {
		return relay[T](out, func(v T) {
			var ok bool
			if err := guard(func() { ok = keep(v) }); err != nil {
				out.Error(err)
				return
			}
			if ok {
				out.Next(v)
			}
		})
	})
}

// Fold emits seed, then the accumulated value after every upstream event.
// An error returned by fn terminates the result.
func Fold[T, R any](in *Stream[T], fn func(acc R, v T) (R, error), seed R) *Stream[R] {
	return derive(in, func(out Sink[R]) Observer[T] {
		acc := seed
		out.Next(acc)
		return relay[T](out, func(v T) {
			var (
				next R
				err  error
			)
			if perr := guard(func() { next, err = fn(acc, v) }); perr != nil {
				err = perr
			}
			if err != nil {
				out.Error(err)
				return
			}
			acc = next
			out.Next(acc)
		})
	})
}

// Drop skips the first n values.
func Drop[T any](in *Stream[T], n int) *Stream[T] {
	return derive(in, func(out Sink[T]) Observer[T] {
		seen := 0
		return relay[T](out, func(v T) {
			if seen < n {
				seen++
				return
			}
			out.Next(v)
		})
	})
}

// DropRepeats skips values equal to their predecessor according to eq.
func DropRepeats[T any](in *Stream[T], eq func(a, b T) bool) *Stream[T] {
	return derive(in, func(out Sink[T]) Observer[T] {
		var (
			prev T
			has  bool
		)
		return relay[T](out, func(v T) {
			if has && eq(prev, v) {
				return
			}
			prev, has = v, true
			out.Next(v)
		})
	})
}

// Remember returns a stream that replays its latest value to new observers.
func Remember[T any](in *Stream[T]) *Stream[T] {
	s := derive(in, func(out Sink[T]) Observer[T] {
		return relay[T](out, out.Next)
	})
	s.memory = true
	return s
}

type mergeProducer[T any] struct {
	ins   []*Stream[T]
	links []*link
}

func (m *mergeProducer[T]) Start(out Sink[T]) {
	remaining := len(m.ins)
	if remaining == 0 {
		out.Complete()
		return
	}
	links := make([]*link, len(m.ins))
	for i := range links {
		links[i] = &link{}
	}
	m.links = links
	for i, in := range m.ins {
		links[i].attach(in.Subscribe(Observer[T]{
			Next:  out.Next,
			Error: out.Error,
			Complete: func() {
				remaining--
				if remaining == 0 {
					out.Complete()
				}
			},
		}))
	}
}

func (m *mergeProducer[T]) Stop() {
	for _, l := range m.links {
		l.detach()
	}
	m.links = nil
}

// Merge forwards the events of every input. It completes once all inputs
// have completed.
func Merge[T any](ins ...*Stream[T]) *Stream[T] {
	return NewStream[T](&mergeProducer[T]{ins: ins})
}

type funcProducer[T any] struct {
	start func(out Sink[T])
}

func (p funcProducer[T]) Start(out Sink[T]) { p.start(out) }
func (funcProducer[T]) Stop()               {}

// Of emits vals in order and completes.
func Of[T any](vals ...T) *Stream[T] {
	return NewStream[T](funcProducer[T]{start: func(out Sink[T]) {
		for _, v := range vals {
			out.Next(v)
		}
		out.Complete()
	}})
}

// Never returns a stream that emits nothing and never terminates.
func Never[T any]() *Stream[T] {
	return NewStream[T](funcProducer[T]{start: func(Sink[T]) {}})
}

// Empty returns a stream that completes immediately.
func Empty[T any]() *Stream[T] {
	return NewStream[T](funcProducer[T]{start: func(out Sink[T]) { out.Complete() }})
}

// Throw returns a stream that fails immediately with err.
func Throw[T any](err error) *Stream[T] {
	return NewStream[T](funcProducer[T]{start: func(out Sink[T]) { out.Error(err) }})
}
