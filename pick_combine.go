package strata

import (
	"fmt"

	"github.com/zoobzio/capitan"
)

type combineEntry[T any] struct {
	sub Subscription
	val T
	has bool
}

type pickCombine[T any] struct {
	in       *Stream[Instances]
	selector string
	link     *link
	stop     func()
}

func (p *pickCombine[T]) Start(out Sink[[]T]) {
	var (
		live    = map[any]*combineEntry[T]{}
		order   []any
		env     = defaultEnv()
		stopped bool
	)

	fail := func(err error) {
		if !stopped {
			out.Error(err)
		}
	}

	// up emits the latest values in member order once every member has one.
	up := func() {
		if stopped {
			return
		}
		vals := make([]T, 0, len(order))
		for _, key := range order {
			e, ok := live[key]
			if !ok || !e.has {
				return
			}
			vals = append(vals, e.val)
		}
		out.Next(vals)
	}

	p.stop = func() {
		stopped = true
		for key, e := range live {
			p.detach(env, key, e)
		}
		live = map[any]*combineEntry[T]{}
		order = nil
	}

	l := &link{}
	p.link = l
	l.attach(p.in.Subscribe(Observer[Instances]{
		Next: func(insts Instances) {
			env = insts.environment()

			removed := false
			for key, e := range live {
				if insts.Has(key) {
					continue
				}
				delete(live, key)
				p.detach(env, key, e)
				removed = true
			}
			order = insts.Keys()

			if insts.Len() == 0 {
				out.Next([]T{})
				return
			}

			type pending struct {
				key any
				src *Stream[T]
				e   *combineEntry[T]
			}
			var added []pending
			for _, inst := range insts.arr {
				if _, ok := live[inst.Key]; ok {
					continue
				}
				src, err := SinkOf[T](inst, p.selector)
				if err != nil {
					fail(fmt.Errorf("member %v: %w", inst.Key, err))
					return
				}
				e := &combineEntry[T]{}
				live[inst.Key] = e
				added = append(added, pending{key: inst.Key, src: src, e: e})
			}

			for _, a := range added {
				if stopped {
					return
				}
				e := a.e
				sub := a.src.Subscribe(Observer[T]{
					Next: func(v T) {
						if stopped {
							return
						}
						e.val, e.has = v, true
						up()
					},
					Error: fail,
				})
				if stopped || live[a.key] != e {
					sub.Unsubscribe()
					return
				}
				e.sub = sub
				capitan.Emit(env.ctx, ListenerAttached,
					KeyRuntime.Field(env.runtime),
					KeyOperator.Field("combine"),
					KeySelector.Field(p.selector),
					KeyMember.Field(fmt.Sprint(a.key)),
					KeyCount.Field(len(live)),
				)
			}

			if removed {
				up()
			}
		},
		Error:    out.Error,
		Complete: out.Complete,
	}))
}

func (p *pickCombine[T]) detach(e *env, key any, entry *combineEntry[T]) {
	if entry.sub == nil {
		return
	}
	entry.sub.Unsubscribe()
	entry.sub = nil
	capitan.Emit(e.ctx, ListenerDetached,
		KeyRuntime.Field(e.runtime),
		KeyOperator.Field("combine"),
		KeySelector.Field(p.selector),
		KeyMember.Field(fmt.Sprint(key)),
	)
}

func (p *pickCombine[T]) Stop() {
	if p.link != nil {
		p.link.detach()
		p.link = nil
	}
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
}

// PickCombine emits the latest values of the selector output of every live
// member of in, in member order, once each member has produced a value.
// Removing members recomputes immediately; an empty collection emits an
// empty slice. Termination follows PickMerge.
func PickCombine[T any](in *Stream[Instances], selector string) *Stream[[]T] {
	return NewStream[[]T](&pickCombine[T]{in: in, selector: selector})
}
