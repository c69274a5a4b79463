package strata

// Observer receives the events of a Stream. Nil callbacks are ignored.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Sink is the push side handed to a Producer while it is running.
type Sink[T any] interface {
	Next(v T)
	Error(err error)
	Complete()
}

// Producer generates the events of a Stream. Start is called when the
// first observer subscribes and Stop when the last one leaves or the
// stream terminates.
type Producer[T any] interface {
	Start(out Sink[T])
	Stop()
}

// Subscription detaches an observer from a Stream. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type listener[T any] struct {
	obs     Observer[T]
	removed bool
}

// Stream is a hot, multicast, synchronous push stream.
//
// Every event is delivered to all current observers within the producer's
// emission call. Error and completion tear the stream down: observers are
// released, the producer is stopped and a later Subscribe starts it again.
//
// A Stream is not safe for concurrent use. Drive it from a single goroutine,
// normally the one running a Loop.
type Stream[T any] struct {
	producer  Producer[T]
	listeners []*listener[T]
	active    bool
	gen       uint64

	memory  bool
	hasLast bool
	last    T
}

// NewStream creates a stream backed by the given producer.
func NewStream[T any](p Producer[T]) *Stream[T] {
	return &Stream[T]{producer: p}
}

// Subscribe attaches an observer. A remembering stream replays its latest
// value to the new observer before anything else is delivered.
func (s *Stream[T]) Subscribe(obs Observer[T]) Subscription {
	l := &listener[T]{obs: obs}
	s.listeners = append(s.listeners, l)

	if s.memory && s.hasLast && obs.Next != nil {
		obs.Next(s.last)
	}

	if len(s.listeners) == 1 && !s.active && !l.removed {
		s.start()
	}
	return &subscription[T]{s: s, l: l}
}

// Observed reports whether the stream currently has observers.
func (s *Stream[T]) Observed() bool {
	return len(s.listeners) > 0
}

func (s *Stream[T]) start() {
	s.active = true
	s.gen++
	if s.producer != nil {
		s.producer.Start(&emitter[T]{s: s, gen: s.gen})
	}
}

func (s *Stream[T]) remove(l *listener[T]) {
	if l.removed {
		return
	}
	l.removed = true
	for i, cur := range s.listeners {
		if cur == l {
			next := make([]*listener[T], 0, len(s.listeners)-1)
			next = append(next, s.listeners[:i]...)
			next = append(next, s.listeners[i+1:]...)
			s.listeners = next
			break
		}
	}
	if len(s.listeners) == 0 {
		s.teardown()
	}
}

// teardown releases observers, stops the producer and forgets memory.
func (s *Stream[T]) teardown() {
	for _, l := range s.listeners {
		l.removed = true
	}
	s.listeners = nil
	s.hasLast = false
	var zero T
	s.last = zero
	if s.active {
		s.active = false
		s.gen++
		if s.producer != nil {
			s.producer.Stop()
		}
	}
}

func (s *Stream[T]) next(v T) {
	if s.memory {
		s.hasLast = true
		s.last = v
	}
	for _, l := range s.listeners {
		if l.removed || l.obs.Next == nil {
			continue
		}
		l.obs.Next(v)
	}
}

func (s *Stream[T]) error(err error) {
	ls := s.listeners
	s.teardown()
	for _, l := range ls {
		if l.obs.Error != nil {
			l.obs.Error(err)
		}
	}
}

func (s *Stream[T]) complete() {
	ls := s.listeners
	s.teardown()
	for _, l := range ls {
		if l.obs.Complete != nil {
			l.obs.Complete()
		}
	}
}

type subscription[T any] struct {
	s *Stream[T]
	l *listener[T]
}

func (sub *subscription[T]) Unsubscribe() {
	sub.s.remove(sub.l)
}

// emitter is the Sink handed to a producer. Events from a producer that
// has already been stopped are dropped.
type emitter[T any] struct {
	s   *Stream[T]
	gen uint64
}

func (e *emitter[T]) live() bool {
	return e.s.active && e.s.gen == e.gen
}

func (e *emitter[T]) Next(v T) {
	if e.live() {
		e.s.next(v)
	}
}

func (e *emitter[T]) Error(err error) {
	if e.live() {
		e.s.error(err)
	}
}

func (e *emitter[T]) Complete() {
	if e.live() {
		e.s.complete()
	}
}

// Subject is a stream driven imperatively. Events pushed while nobody is
// subscribed are lost.
type Subject[T any] struct {
	stream *Stream[T]
}

// NewSubject creates a Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{stream: &Stream[T]{}}
}

// Stream returns the stream observers subscribe to.
func (s *Subject[T]) Stream() *Stream[T] { return s.stream }

// Next pushes a value to the current observers.
func (s *Subject[T]) Next(v T) { s.stream.next(v) }

// Error terminates the stream with err.
func (s *Subject[T]) Error(err error) { s.stream.error(err) }

// Complete terminates the stream normally.
func (s *Subject[T]) Complete() { s.stream.complete() }

// Proxy is a stream whose source is supplied after the stream itself has
// been handed out. Bind connects the source exactly once.
//
// The bound source is subscribed immediately and kept hot. Each of its
// events is handed to the schedule function, which decides when the event
// reaches the proxy's observers. Completion of the source is swallowed so
// the proxy never completes; errors are forwarded.
type Proxy[T any] struct {
	stream *Stream[T]
	bound  bool
	sub    Subscription
}

// NewProxy creates an unbound Proxy.
func NewProxy[T any]() *Proxy[T] {
	return &Proxy[T]{stream: &Stream[T]{}}
}

// Stream returns the placeholder stream.
func (p *Proxy[T]) Stream() *Stream[T] { return p.stream }

// Bound reports whether Bind has been called.
func (p *Proxy[T]) Bound() bool { return p.bound }

// Bind connects src to the proxy. A nil schedule delivers synchronously.
func (p *Proxy[T]) Bind(src *Stream[T], schedule func(func())) (Subscription, error) {
	if p.bound {
		return nil, ErrAlreadyBound
	}
	p.bound = true
	if schedule == nil {
		schedule = func(fn func()) { fn() }
	}
	p.sub = src.Subscribe(Observer[T]{
		Next: func(v T) {
			schedule(func() { p.stream.next(v) })
		},
		Error: func(err error) {
			schedule(func() { p.stream.error(err) })
		},
	})
	return p.sub, nil
}

// Unbind releases the bound source.
func (p *Proxy[T]) Unbind() {
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
}
