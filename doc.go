/*
Package strata provides a single state tree for stream-based components,
with lens-scoped children, keyed collections of child components and a
runtime that closes the feedback loop between state and reducers.

A component is a function from sources to sinks. The runtime gives the
root component a "state" source and reads a stream of reducers back from
its "state" sink. Every reducer folds into the current state, and the
result is fed to the state source again.

# Basic Usage

	counter := func(src strata.Sources) strata.Sinks {
	    inc := strata.Map(clicks.Stream(), func(struct{}) strata.Reducer {
	        return strata.Pure(func(prev any) any {
	            n, _ := prev.(int)
	            return n + 1
	        })
	    })
	    return strata.Sinks{"state": strata.Merge(strata.Of(strata.Replace(0)), inc)}
	}

	rt := strata.New(counter)
	sinks, err := rt.Start(ctx, strata.Sources{})
	defer rt.Stop()

# Scopes

A child sees a slice of its parent's state through a scope. A Key selects a
map entry, an Index selects an array position, and a Lens
pairs a custom getter with a setter:

	child := strata.Isolate(profile, "state", strata.Key("profile"))

Reducers emitted by the child are lifted to the parent's state. Setting a
key to nil removes it; a child that returns the same value leaves the
parent untouched.

# Collections

The state under a channel can hold a list of items, each rendered as its
own child component:

	list, err := strata.MakeCollection(strata.CollectionSpec{Item: todo})

Members are keyed by their "key" field by default. Adding an item creates a
member, removing one tears it down, and reordering preserves members.
PickMerge merges one sink across every member; PickCombine combines the
latest value of each member into a list ordered like the collection.

# External State

Hydrate turns a Watcher into reducers. Each payload is decoded, validated
with struct tags when it decodes into a struct, and replaces the state:

	hydrated := strata.Hydrate[Settings](ctx, rt.Loop(), strata.NewFileWatcher("settings.yaml"), nil)

Watchers for etcd, Consul, NATS KV, Redis, PostgreSQL, Kubernetes,
Firestore and ZooKeeper live under pkg/. Their list modes emit keyed
lists a collection reconciles directly.

# Pipeline Options

Reducer application runs through a pipz pipeline:

	rt := strata.New(app,
	    strata.WithRetry(3),
	    strata.WithTimeout(time.Second),
	    strata.WithMiddleware(strata.UseEffect("audit", audit)),
	)

# Observability

Lifecycle, reducer and collection events are emitted as capitan signals.
LogSignals forwards them to a zap logger; metrics/prometheus exports
counters and timings.
*/
package strata
