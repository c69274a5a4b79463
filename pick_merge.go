package strata

import (
	"fmt"

	"github.com/zoobzio/capitan"
)

type mergeListener struct {
	sub Subscription
}

type pickMerge[T any] struct {
	in       *Stream[Instances]
	selector string
	link     *link
	stop     func()
}

func (p *pickMerge[T]) Start(out Sink[T]) {
	var (
		live    = map[any]*mergeListener{}
		env     = defaultEnv()
		stopped bool
	)

	// fail terminates out; it is a no-op once the operator has stopped.
	fail := func(err error) {
		if !stopped {
			out.Error(err)
		}
	}

	p.stop = func() {
		stopped = true
		for key, l := range live {
			p.detach(env, key, l)
		}
		live = map[any]*mergeListener{}
	}

	l := &link{}
	p.link = l
	l.attach(p.in.Subscribe(Observer[Instances]{
		Next: func(insts Instances) {
			env = insts.environment()
			for _, inst := range insts.arr {
				if stopped {
					return
				}
				if _, ok := live[inst.Key]; ok {
					continue
				}
				src, err := SinkOf[T](inst, p.selector)
				if err != nil {
					fail(fmt.Errorf("member %v: %w", inst.Key, err))
					return
				}
				ml := &mergeListener{}
				live[inst.Key] = ml
				sub := src.Subscribe(Observer[T]{
					Next: func(v T) {
						if !stopped {
							out.Next(v)
						}
					},
					Error: fail,
				})
				if stopped || live[inst.Key] != ml {
					sub.Unsubscribe()
					return
				}
				ml.sub = sub
				capitan.Emit(env.ctx, ListenerAttached,
					KeyRuntime.Field(env.runtime),
					KeyOperator.Field("merge"),
					KeySelector.Field(p.selector),
					KeyMember.Field(fmt.Sprint(inst.Key)),
					KeyCount.Field(len(live)),
				)
			}
			for key, ml := range live {
				if insts.Has(key) {
					continue
				}
				delete(live, key)
				p.detach(env, key, ml)
			}
		},
		Error:    out.Error,
		Complete: out.Complete,
	}))
}

func (p *pickMerge[T]) detach(e *env, key any, l *mergeListener) {
	if l.sub == nil {
		return
	}
	l.sub.Unsubscribe()
	l.sub = nil
	capitan.Emit(e.ctx, ListenerDetached,
		KeyRuntime.Field(e.runtime),
		KeyOperator.Field("merge"),
		KeySelector.Field(p.selector),
		KeyMember.Field(fmt.Sprint(key)),
	)
}

func (p *pickMerge[T]) Stop() {
	if p.link != nil {
		p.link.detach()
		p.link = nil
	}
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
}

// PickMerge forwards every event of the selector output of every live
// member of in. Members joining are subscribed before members leaving are
// released. Member completion is ignored; the result completes when in does.
// The first error from in or from a member terminates the result.
func PickMerge[T any](in *Stream[Instances], selector string) *Stream[T] {
	return NewStream[T](&pickMerge[T]{in: in, selector: selector})
}
