package strata

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Transition is one reducer application flowing through the pipeline.
// The terminal stage runs Reducer against Previous and stores the result
// in Next. Middleware sees the transition after the reducer ran and may
// rewrite Next or reject the transition with an error, which fails the
// runtime like a reducer error.
type Transition struct {
	Previous any
	Next     any
	Reducer  Reducer
}

// Option configures the reducer pipeline of a Runtime.
//
// Instance configuration (clock, sync mode, metrics, etc.) is handled via
// chainable methods on the Runtime before calling Start().
type Option func(pipz.Chainable[*Transition]) pipz.Chainable[*Transition]

// buildPipeline wraps a terminal with pipeline options.
func buildPipeline(terminal pipz.Chainable[*Transition], opts []Option) pipz.Chainable[*Transition] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry retries a failed reducer application up to maxAttempts times.
// Only useful for reducers with side effects that can fail transiently.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewRetry("retry", p, maxAttempts)
	}
}

// WithBackoff retries with exponential backoff starting at baseDelay.
// The delay blocks the loop.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds each reducer application.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewTimeout("timeout", p, d)
	}
}

// WithFallback tries fallbacks, in order, with the same transition when the
// pipeline fails.
//
// Example:
//
//	keep := strata.UseTransform("keep-previous", func(_ context.Context, t *strata.Transition) *strata.Transition {
//	    t.Next = t.Previous
//	    return t
//	})
//	strata.New(app, strata.WithFallback(keep))
func WithFallback(fallbacks ...pipz.Chainable[*Transition]) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		all := append([]pipz.Chainable[*Transition]{p}, fallbacks...)
		return pipz.NewFallback("fallback", all...)
	}
}

// WithCircuitBreaker stops applying reducers after failures consecutive
// failures, until recovery has passed.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	}
}

// WithRateLimit paces reducer applications to rate per second with the
// given burst. Waiting for capacity blocks the loop.
func WithRateLimit(rate float64, burst int) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewSequence("rate-limited", UseRateLimit(rate, burst), p)
	}
}

// WithErrorHandler runs handler when the pipeline fails. The original
// error is still returned.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Transition]]) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		return pipz.NewHandle("error-handler", p, handler)
	}
}

// WithMiddleware runs processors, in order, on every transition after the
// reducer produced the next state.
//
// Example:
//
//	strata.New(app,
//	    strata.WithMiddleware(
//	        strata.UseEffect("audit", audit),
//	        strata.UseTransform("normalize", normalize),
//	    ),
//	).SyncMode()
func WithMiddleware(processors ...pipz.Chainable[*Transition]) Option {
	return func(p pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
		all := make([]pipz.Chainable[*Transition], 0, len(processors)+1)
		all = append(all, p)
		all = append(all, processors...)
		return pipz.NewSequence("middleware", all...)
	}
}

// -----------------------------------------------------------------------------
// Middleware processors
// -----------------------------------------------------------------------------

// UseTransform creates a processor that rewrites the transition. Cannot fail.
func UseTransform(name string, fn func(context.Context, *Transition) *Transition) pipz.Chainable[*Transition] {
	return pipz.Transform(pipz.Name(name), fn)
}

// UseApply creates a processor that can rewrite or reject the transition.
func UseApply(name string, fn func(context.Context, *Transition) (*Transition, error)) pipz.Chainable[*Transition] {
	return pipz.Apply(pipz.Name(name), fn)
}

// UseEffect creates a processor that observes the transition. Returning an
// error rejects it.
func UseEffect(name string, fn func(context.Context, *Transition) error) pipz.Chainable[*Transition] {
	return pipz.Effect(pipz.Name(name), fn)
}

// UseMutate creates a processor that rewrites the transition when condition holds.
func UseMutate(name string, transformer func(context.Context, *Transition) *Transition, condition func(context.Context, *Transition) bool) pipz.Chainable[*Transition] {
	return pipz.Mutate(pipz.Name(name), transformer, condition)
}

// UseEnrich creates a processor whose failures are ignored; the transition
// continues unchanged.
func UseEnrich(name string, fn func(context.Context, *Transition) (*Transition, error)) pipz.Chainable[*Transition] {
	return pipz.Enrich(pipz.Name(name), fn)
}

// UseFilter runs processor only for transitions matching condition.
func UseFilter(name string, condition func(context.Context, *Transition) bool, processor pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
	return pipz.NewFilter(pipz.Name(name), condition, processor)
}

// UseRetry wraps a single processor with retries.
func UseRetry(maxAttempts int, processor pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
	return pipz.NewRetry("retry", processor, maxAttempts)
}

// UseBackoff wraps a single processor with exponential backoff retries.
func UseBackoff(maxAttempts int, baseDelay time.Duration, processor pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
	return pipz.NewBackoff("backoff", processor, maxAttempts, baseDelay)
}

// UseRateLimit creates a token bucket processor. Transitions wait for a
// token when the bucket is empty.
func UseRateLimit(rate float64, burst int) pipz.Chainable[*Transition] {
	return pipz.NewRateLimiter[*Transition]("rate-limiter", rate, burst)
}

// UseTimeout bounds a single processor.
func UseTimeout(d time.Duration, processor pipz.Chainable[*Transition]) pipz.Chainable[*Transition] {
	return pipz.NewTimeout("timeout", processor, d)
}
