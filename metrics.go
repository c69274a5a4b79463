package strata

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key runtime events.
type MetricsProvider interface {
	// OnStatusChange is called when the runtime transitions between statuses.
	OnStatusChange(from, to Status)

	// OnReducerApplied is called after a reducer produced the next root state.
	OnReducerApplied(duration time.Duration)

	// OnReducerFailed is called when a reducer returned an error or panicked.
	OnReducerFailed(duration time.Duration)

	// OnInstanceAdded is called when a collection instantiates a member.
	OnInstanceAdded(channel string)

	// OnInstanceRemoved is called when a collection drops a member.
	OnInstanceRemoved(channel string)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStatusChange(_, _ Status)        {}
func (NoOpMetricsProvider) OnReducerApplied(_ time.Duration) {}
func (NoOpMetricsProvider) OnReducerFailed(_ time.Duration)  {}
func (NoOpMetricsProvider) OnInstanceAdded(_ string)         {}
func (NoOpMetricsProvider) OnInstanceRemoved(_ string)       {}
