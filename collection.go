package strata

import (
	"fmt"
	"reflect"

	"github.com/zoobzio/capitan"
)

// Instance is one live member of a collection.
type Instance struct {
	// Key identifies the member across snapshots.
	Key any
	// Sinks are the outputs of the member's component.
	Sinks Sinks
}

// Output implements Outputs.
func (i *Instance) Output(name string) (any, bool) {
	return i.Sinks.Output(name)
}

// Instances is a read-only snapshot of a collection: members in state
// order plus a lookup by key. A new value is produced for every state
// snapshot; members whose key survived are the same *Instance.
type Instances struct {
	dict map[any]*Instance
	arr  []*Instance
	env  *env
}

// Len returns the number of members.
func (in Instances) Len() int { return len(in.arr) }

// At returns the member at position i.
func (in Instances) At(i int) *Instance { return in.arr[i] }

// Get returns the member with the given key.
func (in Instances) Get(key any) (*Instance, bool) {
	inst, ok := in.dict[key]
	return inst, ok
}

// Has reports whether a member with the given key is live.
func (in Instances) Has(key any) bool {
	_, ok := in.dict[key]
	return ok
}

// Keys returns the member keys in state order.
func (in Instances) Keys() []any {
	keys := make([]any, len(in.arr))
	for i, inst := range in.arr {
		keys[i] = inst.Key
	}
	return keys
}

// All returns the members in state order.
func (in Instances) All() []*Instance {
	out := make([]*Instance, len(in.arr))
	copy(out, in.arr)
	return out
}

func (in Instances) environment() *env {
	if in.env == nil {
		return defaultEnv()
	}
	return in.env
}

// singletonKey is the key of the only member of a non-array state.
type singletonKey struct{}

// Singleton is the key under which a non-array state is instantiated. The
// member is kept across consecutive non-array snapshots rather than rebuilt.
var Singleton any = singletonKey{}

type collectionConfig struct {
	channel   string
	itemKey   func(item any, index int) any
	itemScope func(key any) Scope
	indexKeys bool
}

// CollectionOption configures AsCollection.
type CollectionOption func(*collectionConfig)

// WithItemKey sets how a member's key is read from its state. The default
// reads the "key" field of an object state.
func WithItemKey(fn func(item any, index int) any) CollectionOption {
	return func(c *collectionConfig) {
		c.itemKey = fn
	}
}

// WithIndexKeys keys members by position and scopes each one to its array
// index. Inserting or reordering anywhere but the tail shifts state between
// members.
func WithIndexKeys() CollectionOption {
	return func(c *collectionConfig) {
		c.indexKeys = true
	}
}

// WithItemScope overrides the scope each member is isolated with.
func WithItemScope(fn func(key any) Scope) CollectionOption {
	return func(c *collectionConfig) {
		c.itemScope = fn
	}
}

// WithChannel sets the state channel members are isolated on. It defaults
// to the name of the collected state channel.
func WithChannel(name string) CollectionOption {
	return func(c *collectionConfig) {
		c.channel = name
	}
}

// DefaultItemKey reads the "key" field of an object state.
func DefaultItemKey(item any, _ int) any {
	if m, ok := item.(map[string]any); ok {
		return m["key"]
	}
	return nil
}

// AsCollection treats the snapshots of s as a dynamic collection of item
// components. Each array element becomes a member isolated on its own
// element; a non-array snapshot becomes a single member isolated on the
// whole state. The first emission is the empty collection, and the latest
// value is replayed to late observers.
//
// Duplicate keys within one snapshot are a caller error: both positions
// render the same member and a KeyCollision signal is emitted.
func (s *StateSource) AsCollection(item Component, sources Sources, opts ...CollectionOption) *Stream[Instances] {
	cfg := &collectionConfig{
		channel: s.name,
		itemKey: DefaultItemKey,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.indexKeys {
		cfg.itemKey = func(_ any, index int) any { return index }
	}

	base := sources.clone()
	base[cfg.channel] = s

	instances := NewStream[Instances](&collectionProducer{
		in:    s.stream,
		build: func() *reconciler { return &reconciler{cfg: cfg, item: item, sources: base, env: s.env} },
		env:   s.env,
	})
	instances.memory = true
	return instances
}

// collectionProducer runs one reconciler per subscription. Members still
// held when the subscription ends are released.
type collectionProducer struct {
	in    *Stream[any]
	build func() *reconciler
	env   *env
	r     *reconciler
	link  *link
}

func (p *collectionProducer) Start(out Sink[Instances]) {
	r := p.build()
	l := &link{}
	p.r, p.link = r, l
	out.Next(Instances{env: p.env})
	l.attach(p.in.Subscribe(relay[any](out, func(snapshot any) {
		var (
			next Instances
			err  error
		)
		if perr := guard(func() { next, err = r.apply(snapshot) }); perr != nil {
			err = perr
		}
		if err != nil {
			out.Error(err)
			return
		}
		out.Next(next)
	})))
}

func (p *collectionProducer) Stop() {
	if p.link != nil {
		p.link.detach()
		p.link = nil
	}
	if p.r != nil {
		p.r.release(p.r.dict, nil)
		p.r.dict = nil
		p.r = nil
	}
}

// reconciler holds the member table of one collection subscription.
type reconciler struct {
	cfg     *collectionConfig
	item    Component
	sources Sources
	env     *env
	dict    map[any]*Instance
}

func (r *reconciler) key(item any, index int) (any, error) {
	k := r.cfg.itemKey(item, index)
	if k == nil {
		return nil, fmt.Errorf("%w: item %d", ErrMissingKey, index)
	}
	if !reflect.ValueOf(k).Comparable() {
		return nil, fmt.Errorf("%w: item %d has key of type %T", ErrUncomparableKey, index, k)
	}
	return k, nil
}

func (r *reconciler) scope(key any) Scope {
	switch {
	case r.cfg.itemScope != nil:
		return r.cfg.itemScope(key)
	case r.cfg.indexKeys:
		return Index(key.(int))
	default:
		return instanceLens(func(item any) (any, error) { return r.key(item, -1) }, key)
	}
}

func (r *reconciler) instantiate(key any, scope Scope) *Instance {
	sinks := Isolate(r.item, r.cfg.channel, scope)(r.sources)
	capitan.Emit(r.env.ctx, InstanceAdded,
		KeyRuntime.Field(r.env.runtime),
		KeyChannel.Field(r.cfg.channel),
		KeyMember.Field(fmt.Sprint(key)),
	)
	r.env.metrics.OnInstanceAdded(r.cfg.channel)
	return &Instance{Key: key, Sinks: sinks}
}

func (r *reconciler) apply(snapshot any) (Instances, error) {
	prev := r.dict
	items, isArray := snapshot.([]any)

	if !isArray {
		inst, ok := prev[Singleton]
		if !ok {
			inst = r.instantiate(Singleton, IdentityLens())
		}
		next := map[any]*Instance{Singleton: inst}
		r.release(prev, next)
		r.dict = next
		return Instances{dict: next, arr: []*Instance{inst}, env: r.env}, nil
	}

	next := make(map[any]*Instance, len(items))
	arr := make([]*Instance, 0, len(items))
	created := make(map[any]*Instance)
	done := false
	defer func() {
		if !done {
			r.release(created, nil)
		}
	}()
	for i, item := range items {
		key, err := r.key(item, i)
		if err != nil {
			return Instances{}, err
		}
		inst, seen := next[key]
		switch {
		case seen:
			capitan.Emit(r.env.ctx, KeyCollision,
				KeyRuntime.Field(r.env.runtime),
				KeyChannel.Field(r.cfg.channel),
				KeyMember.Field(fmt.Sprint(key)),
			)
		case prev[key] != nil:
			inst = prev[key]
		default:
			inst = r.instantiate(key, r.scope(key))
			created[key] = inst
		}
		next[key] = inst
		arr = append(arr, inst)
	}

	done = true
	r.release(prev, next)
	r.dict = next
	return Instances{dict: next, arr: arr, env: r.env}, nil
}

// release reports members of prev that are absent from next.
func (r *reconciler) release(prev, next map[any]*Instance) {
	for key := range prev {
		if _, ok := next[key]; ok {
			continue
		}
		capitan.Emit(r.env.ctx, InstanceRemoved,
			KeyRuntime.Field(r.env.runtime),
			KeyChannel.Field(r.cfg.channel),
			KeyMember.Field(fmt.Sprint(key)),
		)
		r.env.metrics.OnInstanceRemoved(r.cfg.channel)
	}
}
