package strata

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
)

// validate is the shared validator instance.
var validate = validator.New()

// Validator is implemented by hydrated values that check themselves.
type Validator interface {
	Validate() error
}

// check validates v with its Validate method, or with struct tags when v is
// a struct without one.
func check(v any) error {
	if vv, ok := v.(Validator); ok {
		return vv.Validate()
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(v)
}

type hydrateProducer[T any] struct {
	ctx     context.Context
	loop    *Loop
	watcher Watcher
	codec   Codec
	cancel  context.CancelFunc
}

func (p *hydrateProducer[T]) Start(out Sink[Reducer]) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel

	changes, err := p.watcher.Watch(ctx)
	if err != nil {
		out.Error(fmt.Errorf("failed to start watcher: %w", err))
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-changes:
				if !ok {
					p.loop.Post(func() {
						if ctx.Err() == nil {
							out.Complete()
						}
					})
					return
				}
				capitan.Emit(p.ctx, HydrateReceived,
					KeyContentType.Field(p.codec.ContentType()),
				)
				p.loop.Post(func() {
					if ctx.Err() != nil {
						return
					}
					if reducer, ok := p.decode(raw); ok {
						out.Next(reducer)
					}
				})
			}
		}
	}()
}

// decode turns raw into a replacing reducer. Payloads that fail to decode
// or validate are dropped and the state keeps its previous value.
func (p *hydrateProducer[T]) decode(raw []byte) (Reducer, bool) {
	var v T
	if err := p.codec.Unmarshal(raw, &v); err != nil {
		capitan.Emit(p.ctx, HydrateFailed,
			KeyContentType.Field(p.codec.ContentType()),
			KeyError.Field(fmt.Sprintf("decode: %v", err)),
		)
		return nil, false
	}
	if err := check(v); err != nil {
		capitan.Emit(p.ctx, HydrateFailed,
			KeyContentType.Field(p.codec.ContentType()),
			KeyError.Field(fmt.Sprintf("validate: %v", err)),
		)
		return nil, false
	}
	capitan.Emit(p.ctx, HydrateApplied,
		KeyContentType.Field(p.codec.ContentType()),
	)
	return Replace(v), true
}

func (p *hydrateProducer[T]) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Hydrate turns the payloads of watcher into reducers that replace the
// state with the decoded value. Decoding happens on loop; invalid payloads
// are skipped with a HydrateFailed signal. A nil codec means AutoCodec.
//
// Merge the result into a component's reducer sink to load state from an
// external source:
//
//	reducers := strata.Merge(initial, strata.Hydrate[Settings](ctx, rt.Loop(), strata.NewFileWatcher("state.yaml"), nil))
func Hydrate[T any](ctx context.Context, loop *Loop, watcher Watcher, codec Codec) *Stream[Reducer] {
	if codec == nil {
		codec = AutoCodec{}
	}
	return NewStream[Reducer](&hydrateProducer[T]{ctx: ctx, loop: loop, watcher: watcher, codec: codec})
}
