package strata

import "time"

type debounceState[T any] struct {
	v         T
	pending   bool
	gen       int
	cancel    chan struct{}
	completed bool
}

type debounceProducer[T any] struct {
	in    *Stream[T]
	loop  *Loop
	d     time.Duration
	link  *link
	state *debounceState[T]
}

func (p *debounceProducer[T]) Start(out Sink[T]) {
	st := &debounceState[T]{}
	p.state = st
	l := &link{}
	p.link = l

	flush := func(gen int) func() {
		return func() {
			if p.state != st || !st.pending || st.gen != gen {
				return
			}
			st.pending = false
			out.Next(st.v)
			if st.completed {
				out.Complete()
			}
		}
	}

	l.attach(p.in.Subscribe(Observer[T]{
		Next: func(v T) {
			st.v = v
			st.pending = true
			st.gen++
			if st.cancel != nil {
				close(st.cancel)
			}
			cancel := make(chan struct{})
			st.cancel = cancel
			fire := flush(st.gen)
			timer := p.loop.clock.NewTimer(p.d)
			go func() {
				select {
				case <-timer.C():
					p.loop.Post(fire)
				case <-cancel:
					timer.Stop()
				}
			}()
		},
		Error: out.Error,
		Complete: func() {
			st.completed = true
			if !st.pending {
				out.Complete()
			}
		},
	}))
}

func (p *debounceProducer[T]) Stop() {
	if p.link != nil {
		p.link.detach()
		p.link = nil
	}
	if st := p.state; st != nil {
		if st.cancel != nil {
			close(st.cancel)
			st.cancel = nil
		}
		p.state = nil
	}
}

// Debounce emits the latest value of in once d has passed on the loop's
// clock without a newer one. Completion waits for the pending value.
//
// Bursts of writes from a watcher settle into one reducer:
//
//	strata.Debounce(strata.Hydrate[Settings](ctx, rt.Loop(), watcher, nil), rt.Loop(), 100*time.Millisecond)
func Debounce[T any](in *Stream[T], loop *Loop, d time.Duration) *Stream[T] {
	return NewStream[T](&debounceProducer[T]{in: in, loop: loop, d: d})
}
