package strata

import (
	"errors"
	"testing"
)

// recorder captures everything a stream delivers.
type recorder[T any] struct {
	values    []T
	errs      []error
	completed bool
	sub       Subscription
}

func record[T any](s *Stream[T]) *recorder[T] {
	r := &recorder[T]{}
	r.sub = s.Subscribe(Observer[T]{
		Next:     func(v T) { r.values = append(r.values, v) },
		Error:    func(err error) { r.errs = append(r.errs, err) },
		Complete: func() { r.completed = true },
	})
	return r
}

func (r *recorder[T]) last() T {
	return r.values[len(r.values)-1]
}

// countingProducer exposes its sink and counts starts and stops.
type countingProducer[T any] struct {
	starts int
	stops  int
	sink   Sink[T]
}

func (p *countingProducer[T]) Start(out Sink[T]) {
	p.starts++
	p.sink = out
}

func (p *countingProducer[T]) Stop() {
	p.stops++
	p.sink = nil
}

func TestStream_StartsProducerOnFirstSubscriber(t *testing.T) {
	p := &countingProducer[int]{}
	s := NewStream[int](p)

	if p.starts != 0 {
		t.Fatalf("expected producer idle before subscribe, got %d starts", p.starts)
	}

	a := record(s)
	b := record(s)
	if p.starts != 1 {
		t.Fatalf("expected 1 start, got %d", p.starts)
	}

	p.sink.Next(1)
	if len(a.values) != 1 || len(b.values) != 1 {
		t.Errorf("expected both observers to see the value, got %v and %v", a.values, b.values)
	}

	a.sub.Unsubscribe()
	if p.stops != 0 {
		t.Errorf("expected producer running while b is subscribed")
	}
	b.sub.Unsubscribe()
	if p.stops != 1 {
		t.Errorf("expected 1 stop after last unsubscribe, got %d", p.stops)
	}

	b.sub.Unsubscribe()
	if p.stops != 1 {
		t.Errorf("expected Unsubscribe to be idempotent, got %d stops", p.stops)
	}
}

func TestStream_ErrorTearsDown(t *testing.T) {
	p := &countingProducer[int]{}
	s := NewStream[int](p)
	r := record(s)
	sink := p.sink

	boom := errors.New("boom")
	sink.Error(boom)

	if len(r.errs) != 1 || !errors.Is(r.errs[0], boom) {
		t.Fatalf("expected boom, got %v", r.errs)
	}
	if p.stops != 1 {
		t.Errorf("expected producer stopped on error, got %d stops", p.stops)
	}
	if s.Observed() {
		t.Error("expected no observers after error")
	}

	sink.Next(1)
	if len(r.values) != 0 {
		t.Errorf("expected stale sink to be ignored, got %v", r.values)
	}

	record(s)
	if p.starts != 2 {
		t.Errorf("expected producer restarted by new subscriber, got %d starts", p.starts)
	}
}

func TestStream_UnsubscribeDuringDelivery(t *testing.T) {
	subj := NewSubject[int]()
	var second []int
	var firstSub Subscription
	firstSub = subj.Stream().Subscribe(Observer[int]{
		Next: func(int) { firstSub.Unsubscribe() },
	})
	subj.Stream().Subscribe(Observer[int]{
		Next: func(v int) { second = append(second, v) },
	})

	subj.Next(1)
	subj.Next(2)

	if len(second) != 2 {
		t.Errorf("expected second observer to see both values, got %v", second)
	}
}

func TestRemember_ReplaysLatest(t *testing.T) {
	subj := NewSubject[string]()
	mem := Remember(subj.Stream())

	first := record(mem)
	subj.Next("a")
	subj.Next("b")

	late := record(mem)
	if len(late.values) != 1 || late.values[0] != "b" {
		t.Fatalf("expected late observer to receive b, got %v", late.values)
	}

	first.sub.Unsubscribe()
	late.sub.Unsubscribe()

	fresh := record(mem)
	if len(fresh.values) != 0 {
		t.Errorf("expected memory to be forgotten after stop, got %v", fresh.values)
	}
}

func TestSubject_DropsWithoutObservers(t *testing.T) {
	subj := NewSubject[int]()
	subj.Next(1)

	r := record(subj.Stream())
	subj.Next(2)
	subj.Complete()

	if len(r.values) != 1 || r.values[0] != 2 {
		t.Errorf("expected [2], got %v", r.values)
	}
	if !r.completed {
		t.Error("expected completion")
	}
}

func TestProxy_BindOnce(t *testing.T) {
	p := NewProxy[int]()
	if _, err := p.Bind(Never[int](), nil); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := p.Bind(Never[int](), nil); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound, got %v", err)
	}
	if !p.Bound() {
		t.Error("expected proxy to report bound")
	}
}

func TestProxy_SwallowsCompletion(t *testing.T) {
	p := NewProxy[int]()
	r := record(p.Stream())

	if _, err := p.Bind(Of(1, 2), nil); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if len(r.values) != 2 {
		t.Errorf("expected [1 2], got %v", r.values)
	}
	if r.completed {
		t.Error("expected completion of the bound source to be swallowed")
	}
}

func TestProxy_ForwardsErrors(t *testing.T) {
	p := NewProxy[int]()
	r := record(p.Stream())
	boom := errors.New("boom")

	if _, err := p.Bind(Throw[int](boom), nil); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if len(r.errs) != 1 || !errors.Is(r.errs[0], boom) {
		t.Errorf("expected boom, got %v", r.errs)
	}
}

func TestProxy_SchedulesDelivery(t *testing.T) {
	var queued []func()
	schedule := func(fn func()) { queued = append(queued, fn) }

	p := NewProxy[int]()
	r := record(p.Stream())
	if _, err := p.Bind(Of(7), schedule); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if len(r.values) != 0 {
		t.Fatalf("expected delivery to wait for the scheduler, got %v", r.values)
	}
	for _, fn := range queued {
		fn()
	}
	if len(r.values) != 1 || r.values[0] != 7 {
		t.Errorf("expected [7], got %v", r.values)
	}
}
