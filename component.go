package strata

import "fmt"

// DefaultChannel is the name of the state channel when none is configured.
const DefaultChannel = "state"

// Reducer computes the next state from the previous one. prev is nil when
// the state has not been initialized; returning nil deletes the node the
// reducer governs.
type Reducer func(prev any) (any, error)

// Pure adapts an infallible transition into a Reducer.
func Pure(fn func(prev any) any) Reducer {
	return func(prev any) (any, error) {
		return fn(prev), nil
	}
}

// Replace returns a reducer that sets the state to v regardless of prev.
func Replace(v any) Reducer {
	return func(any) (any, error) {
		return v, nil
	}
}

// Sources is the input of a Component, keyed by channel name.
type Sources map[string]any

// State returns the state channel registered under name, or nil.
func (s Sources) State(name string) *StateSource {
	src, _ := s[name].(*StateSource)
	return src
}

func (s Sources) clone() Sources {
	out := make(Sources, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Outputs is implemented by anything exposing named output channels.
type Outputs interface {
	Output(name string) (any, bool)
}

// Sinks is the output of a Component, keyed by channel name.
type Sinks map[string]any

// Output returns the channel registered under name.
func (s Sinks) Output(name string) (any, bool) {
	v, ok := s[name]
	return v, ok && v != nil
}

// SinkOf resolves the channel name of o as a stream of T. An absent channel
// resolves to a stream that never emits.
func SinkOf[T any](o Outputs, name string) (*Stream[T], error) {
	if o == nil {
		return Never[T](), nil
	}
	v, ok := o.Output(name)
	if !ok {
		return Never[T](), nil
	}
	s, ok := v.(*Stream[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T", ErrSinkType, name, v)
	}
	return s, nil
}

// Component is a unit of the application: it maps sources to sinks.
type Component func(Sources) Sinks

// Isolate scopes the state channel name of comp to scope. The component
// sees only its sub-state and its reducers are lifted back to the parent's
// coordinates. Other channels pass through unchanged.
func Isolate(comp Component, name string, scope Scope) Component {
	return func(sources Sources) Sinks {
		inner := sources.clone()
		if state := sources.State(name); state != nil {
			inner[name] = IsolateSource(state, scope)
		}

		sinks := comp(inner)
		out := make(Sinks, len(sinks))
		for k, v := range sinks {
			out[k] = v
		}
		if _, ok := sinks.Output(name); !ok {
			return out
		}
		reducers, err := SinkOf[Reducer](sinks, name)
		if err != nil {
			out[name] = Throw[Reducer](err)
			return out
		}
		out[name] = IsolateSink(reducers, scope)
		return out
	}
}
