package strata

import "context"

// env is what a runtime shares with everything derived from its state
// channel.
type env struct {
	ctx     context.Context
	metrics MetricsProvider
	runtime string
}

func defaultEnv() *env {
	return &env{ctx: context.Background(), metrics: NoOpMetricsProvider{}}
}

// StateSource is a state channel: it never emits nil, suppresses
// consecutive repeats of the same snapshot and replays the latest snapshot
// to new observers.
type StateSource struct {
	name   string
	stream *Stream[any]
	env    *env
}

// NewStateSource wraps a raw snapshot stream as the state channel name.
func NewStateSource(raw *Stream[any], name string) *StateSource {
	return newStateSource(raw, name, defaultEnv())
}

func newStateSource(raw *Stream[any], name string, e *env) *StateSource {
	present := Filter(raw, func(v any) bool { return v != nil })
	return &StateSource{
		name:   name,
		stream: Remember(DropRepeats(present, Same)),
		env:    e,
	}
}

// Name returns the channel name.
func (s *StateSource) Name() string { return s.name }

// Stream returns the snapshot stream.
func (s *StateSource) Stream() *Stream[any] { return s.stream }

// Subscribe attaches obs to the snapshot stream.
func (s *StateSource) Subscribe(obs Observer[any]) Subscription {
	return s.stream.Subscribe(obs)
}

// Select derives the channel of the sub-state addressed by scope. The
// derived channel stays silent while the sub-state is absent.
func (s *StateSource) Select(scope Scope) *StateSource {
	return newStateSource(Map(s.stream, Getter(scope)), s.name, s.env)
}

// IsolateSource narrows src to scope.
func IsolateSource(src *StateSource, scope Scope) *StateSource {
	return src.Select(scope)
}

// IsolateSink lifts reducers written against the sub-state addressed by
// scope into reducers over the enclosing state. When the inner state is
// unchanged the enclosing state is returned as is.
func IsolateSink(reducers *Stream[Reducer], scope Scope) *Stream[Reducer] {
	get, set := Getter(scope), Setter(scope)
	return Map(reducers, func(inner Reducer) Reducer {
		return func(prev any) (any, error) {
			prevInner := get(prev)
			nextInner, err := inner(prevInner)
			if err != nil {
				return nil, err
			}
			if Same(prevInner, nextInner) {
				return prev, nil
			}
			return set(prev, nextInner), nil
		}
	})
}
