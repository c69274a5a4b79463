package strata

import "fmt"

// CollectionSpec describes a collection component.
type CollectionSpec struct {
	// Item is the component instantiated for every member.
	Item Component `validate:"required"`

	// Channel is the state channel holding the collection. Default: "state".
	Channel string `validate:"omitempty,printascii"`

	// ItemKey reads a member's key from its state. Default: DefaultItemKey.
	ItemKey func(item any, index int) any

	// IndexKeys keys members by array position. See WithIndexKeys.
	IndexKeys bool

	// ItemScope overrides the scope each member is isolated with.
	ItemScope func(key any) Scope

	// Collect builds the collection's sinks from its instances. Default:
	// the reducers of every member merged under Channel.
	Collect func(instances *Stream[Instances]) Sinks
}

// MakeCollection builds a component that renders the state under
// spec.Channel as a collection of spec.Item members.
func MakeCollection(spec CollectionSpec) (Component, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("invalid collection spec: %w", err)
	}
	channel := spec.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	opts := []CollectionOption{WithChannel(channel)}
	if spec.ItemKey != nil {
		opts = append(opts, WithItemKey(spec.ItemKey))
	}
	if spec.IndexKeys {
		opts = append(opts, WithIndexKeys())
	}
	if spec.ItemScope != nil {
		opts = append(opts, WithItemScope(spec.ItemScope))
	}

	collect := spec.Collect
	if collect == nil {
		collect = func(instances *Stream[Instances]) Sinks {
			return Sinks{channel: PickMerge[Reducer](instances, channel)}
		}
	}

	return func(sources Sources) Sinks {
		state := sources.State(channel)
		if state == nil {
			return Sinks{}
		}
		return collect(state.AsCollection(spec.Item, sources, opts...))
	}, nil
}
