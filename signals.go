package strata

import "github.com/zoobzio/capitan"

// Runtime lifecycle signals.
var (
	// RuntimeStarted is emitted when a Runtime has wired its root component.
	RuntimeStarted = capitan.NewSignal(
		"strata.runtime.started",
		"Runtime feedback loop started",
	)

	// RuntimeStopped is emitted when a Runtime releases its root component.
	RuntimeStopped = capitan.NewSignal(
		"strata.runtime.stopped",
		"Runtime feedback loop stopped",
	)

	// RuntimeStatusChanged is emitted when a Runtime transitions between statuses.
	RuntimeStatusChanged = capitan.NewSignal(
		"strata.runtime.status.changed",
		"Runtime status transition",
	)

	// FeedbackBound is emitted once the root reducer sink is bound back into the state channel.
	FeedbackBound = capitan.NewSignal(
		"strata.runtime.feedback.bound",
		"Reducer sink bound to state channel",
	)
)

// Reducer signals.
var (
	// ReducerApplied is emitted when a reducer produced a new root state.
	ReducerApplied = capitan.NewSignal(
		"strata.reducer.applied",
		"Reducer applied to state",
	)

	// ReducerFailed is emitted when a reducer returned an error or panicked.
	ReducerFailed = capitan.NewSignal(
		"strata.reducer.failed",
		"Reducer failed",
	)
)

// Collection signals.
var (
	// InstanceAdded is emitted when a collection instantiates a member.
	InstanceAdded = capitan.NewSignal(
		"strata.collection.instance.added",
		"Collection member instantiated",
	)

	// InstanceRemoved is emitted when a collection drops a member.
	InstanceRemoved = capitan.NewSignal(
		"strata.collection.instance.removed",
		"Collection member removed",
	)

	// KeyCollision is emitted when one snapshot carries the same key twice.
	KeyCollision = capitan.NewSignal(
		"strata.collection.key.collision",
		"Duplicate key in collection snapshot",
	)

	// ListenerAttached is emitted when a pick operator subscribes to a member.
	ListenerAttached = capitan.NewSignal(
		"strata.pick.listener.attached",
		"Member output subscribed",
	)

	// ListenerDetached is emitted when a pick operator unsubscribes from a member.
	ListenerDetached = capitan.NewSignal(
		"strata.pick.listener.detached",
		"Member output unsubscribed",
	)
)

// Hydration signals.
var (
	// HydrateReceived is emitted when raw bytes arrive from a watcher.
	HydrateReceived = capitan.NewSignal(
		"strata.hydrate.received",
		"Raw state received from watcher",
	)

	// HydrateFailed is emitted when raw bytes cannot be decoded or validated.
	HydrateFailed = capitan.NewSignal(
		"strata.hydrate.failed",
		"State hydration failed",
	)

	// HydrateApplied is emitted when a decoded value is delivered as a reducer.
	HydrateApplied = capitan.NewSignal(
		"strata.hydrate.applied",
		"Hydrated state delivered",
	)
)

// Watcher signals.
var (
	// WatcherError is emitted when an external watcher hits a recoverable
	// error and keeps watching.
	WatcherError = capitan.NewSignal(
		"strata.watcher.error",
		"Watcher error, still watching",
	)
)

// Signals lists every signal emitted by this package.
var Signals = []capitan.Signal{
	RuntimeStarted,
	RuntimeStopped,
	RuntimeStatusChanged,
	FeedbackBound,
	ReducerApplied,
	ReducerFailed,
	InstanceAdded,
	InstanceRemoved,
	KeyCollision,
	ListenerAttached,
	ListenerDetached,
	HydrateReceived,
	HydrateFailed,
	HydrateApplied,
	WatcherError,
}
