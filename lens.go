package strata

import (
	"fmt"
	"reflect"
)

// Scope addresses a sub-state of a state tree. It is one of Key, Index or Lens.
type Scope interface {
	scope()
}

// Key addresses a field of an object state (map[string]any).
type Key string

// Index addresses an element of an array state ([]any).
type Index int

// Lens is an explicit bidirectional projection.
//
// Get must return the same inner reference for the same outer reference.
// Set must return outer itself when inner is unchanged; the setters built
// by this package enforce that on top of Set.
type Lens struct {
	Get func(outer any) any
	Set func(outer, inner any) any
}

func (Key) scope()   {}
func (Index) scope() {}
func (Lens) scope()  {}

func (k Key) String() string   { return fmt.Sprintf("key %q", string(k)) }
func (i Index) String() string { return fmt.Sprintf("index %d", int(i)) }
func (Lens) String() string    { return "lens" }

// IdentityLens addresses the whole state.
func IdentityLens() Lens {
	return Lens{
		Get: func(outer any) any { return outer },
		Set: func(_, inner any) any { return inner },
	}
}

// Getter returns the read half of scope.
func Getter(scope Scope) func(outer any) any {
	switch s := scope.(type) {
	case Key:
		return func(outer any) any {
			switch o := outer.(type) {
			case nil:
				return nil
			case map[string]any:
				return o[string(s)]
			default:
				panic(shapeError(s, "get", outer))
			}
		}
	case Index:
		return func(outer any) any {
			switch o := outer.(type) {
			case nil:
				return nil
			case []any:
				if int(s) < 0 || int(s) >= len(o) {
					return nil
				}
				return o[s]
			default:
				panic(shapeError(s, "get", outer))
			}
		}
	case Lens:
		if s.Get == nil {
			panic(&ScopeError{Scope: s, Op: "get", Reason: "lens has no getter"})
		}
		return s.Get
	default:
		panic(&ScopeError{Scope: scope, Op: "get", Reason: "unknown scope"})
	}
}

// Setter returns the write half of scope. The returned function hands back
// outer unchanged when inner is the same as what Getter reads.
func Setter(scope Scope) func(outer, inner any) any {
	get := Getter(scope)
	var set func(outer, inner any) any
	switch s := scope.(type) {
	case Key:
		set = func(outer, inner any) any { return setKey(s, outer, inner) }
	case Index:
		set = func(outer, inner any) any { return setIndex(s, outer, inner) }
	case Lens:
		if s.Set == nil {
			panic(&ScopeError{Scope: s, Op: "set", Reason: "lens has no setter"})
		}
		set = s.Set
	}
	return func(outer, inner any) any {
		if Same(get(outer), inner) {
			return outer
		}
		return set(outer, inner)
	}
}

func setKey(k Key, outer, inner any) any {
	switch o := outer.(type) {
	case nil:
		if inner == nil {
			return nil
		}
		return map[string]any{string(k): inner}
	case map[string]any:
		next := make(map[string]any, len(o)+1)
		for name, v := range o {
			next[name] = v
		}
		if inner == nil {
			delete(next, string(k))
		} else {
			next[string(k)] = inner
		}
		return next
	default:
		panic(shapeError(k, "set", outer))
	}
}

func setIndex(i Index, outer, inner any) any {
	if i < 0 {
		panic(&ScopeError{Scope: i, Op: "set", Reason: "negative index"})
	}
	switch o := outer.(type) {
	case nil:
		// An absent array is empty: only index 0 can be set.
		if inner == nil {
			return nil
		}
		if i > 0 {
			panic(&ScopeError{Scope: i, Op: "set", Reason: "index out of range for length 0"})
		}
		return []any{inner}
	case []any:
		n := len(o)
		switch {
		case int(i) < n && inner == nil:
			next := make([]any, 0, n-1)
			next = append(next, o[:i]...)
			return append(next, o[i+1:]...)
		case int(i) < n:
			next := make([]any, n)
			copy(next, o)
			next[i] = inner
			return next
		case int(i) == n && inner != nil:
			next := make([]any, n, n+1)
			copy(next, o)
			return append(next, inner)
		case inner == nil:
			return outer
		default:
			panic(&ScopeError{Scope: i, Op: "set", Reason: fmt.Sprintf("index out of range for length %d", n)})
		}
	default:
		panic(shapeError(i, "set", outer))
	}
}

func shapeError(s Scope, op string, outer any) *ScopeError {
	return &ScopeError{Scope: s, Op: op, Reason: fmt.Sprintf("unexpected state of type %T", outer)}
}

// instanceLens addresses the element of an array state whose key equals
// key, wherever it sits.
func instanceLens(keyOf func(any) (any, error), key any) Lens {
	match := func(item any) bool {
		k, err := keyOf(item)
		return err == nil && k == key
	}
	return Lens{
		Get: func(outer any) any {
			switch o := outer.(type) {
			case nil:
				return nil
			case []any:
				for _, item := range o {
					if match(item) {
						return item
					}
				}
				return nil
			default:
				panic(&ScopeError{Scope: Lens{}, Op: "get", Reason: fmt.Sprintf("collection state of type %T", outer)})
			}
		},
		Set: func(outer, inner any) any {
			switch o := outer.(type) {
			case nil:
				if inner == nil {
					return nil
				}
				return []any{inner}
			case []any:
				next := make([]any, 0, len(o))
				for _, item := range o {
					switch {
					case !match(item):
						next = append(next, item)
					case inner != nil:
						next = append(next, inner)
					}
				}
				return next
			default:
				panic(&ScopeError{Scope: Lens{}, Op: "set", Reason: fmt.Sprintf("collection state of type %T", outer)})
			}
		},
	}
}

// Same reports whether a and b are the same state. Maps, slices and
// pointers compare by reference; other comparable values by ==.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Func:
		return false
	}
	if va.Comparable() && vb.Comparable() {
		return a == b
	}
	return false
}
