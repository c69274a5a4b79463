package strata

import (
	"errors"
	"reflect"
	"testing"
)

func TestGetter_Key(t *testing.T) {
	get := Getter(Key("name"))

	if got := get(nil); got != nil {
		t.Errorf("expected nil for absent outer, got %v", got)
	}
	if got := get(map[string]any{"name": "ada"}); got != "ada" {
		t.Errorf("expected ada, got %v", got)
	}
	if got := get(map[string]any{}); got != nil {
		t.Errorf("expected nil for missing key, got %v", got)
	}
}

func TestGetter_Index(t *testing.T) {
	get := Getter(Index(1))

	if got := get([]any{"a", "b"}); got != "b" {
		t.Errorf("expected b, got %v", got)
	}
	if got := get([]any{"a"}); got != nil {
		t.Errorf("expected nil out of range, got %v", got)
	}
}

func TestGetter_FalsyValues(t *testing.T) {
	state := map[string]any{"zero": 0, "empty": "", "off": false}

	for _, k := range []Key{"zero", "empty", "off"} {
		if got := Getter(k)(state); got == nil {
			t.Errorf("%s: expected falsy value to be present", k)
		}
	}
}

func TestSetter_KeyOnNilOuter(t *testing.T) {
	got := Setter(Key("count"))(nil, 3)

	m, ok := got.(map[string]any)
	if !ok || m["count"] != 3 || len(m) != 1 {
		t.Errorf("expected {count: 3}, got %v", got)
	}
}

func TestSetter_KeyCopiesOuter(t *testing.T) {
	outer := map[string]any{"a": 1, "b": 2}
	got := Setter(Key("a"))(outer, 10).(map[string]any)

	if got["a"] != 10 || got["b"] != 2 {
		t.Errorf("expected {a: 10, b: 2}, got %v", got)
	}
	if outer["a"] != 1 {
		t.Error("expected outer to be left untouched")
	}
}

func TestSetter_KeyDeletes(t *testing.T) {
	outer := map[string]any{"a": 1, "b": 2}
	got := Setter(Key("a"))(outer, nil).(map[string]any)

	if _, ok := got["a"]; ok {
		t.Errorf("expected key a removed, got %v", got)
	}
	if got["b"] != 2 {
		t.Errorf("expected b kept, got %v", got)
	}
}

func TestSetter_IndexReplaceAndDelete(t *testing.T) {
	outer := []any{3, 5, 6}

	replaced := Setter(Index(1))(outer, 15).([]any)
	if !reflect.DeepEqual(replaced, []any{3, 15, 6}) {
		t.Errorf("expected [3 15 6], got %v", replaced)
	}

	deleted := Setter(Index(1))(replaced, nil).([]any)
	if !reflect.DeepEqual(deleted, []any{3, 6}) {
		t.Errorf("expected [3 6], got %v", deleted)
	}
	if !reflect.DeepEqual(outer, []any{3, 5, 6}) {
		t.Error("expected outer to be left untouched")
	}
}

func TestSetter_IndexAppendsAtLength(t *testing.T) {
	got := Setter(Index(2))([]any{1, 2}, 3).([]any)
	if !reflect.DeepEqual(got, []any{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestSetter_IndexPastLengthPanics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrScopeShape) {
			t.Errorf("expected ScopeError panic, got %v", r)
		}
	}()
	Setter(Index(5))([]any{1}, 2)
}

func TestSetter_UnchangedReturnsOuter(t *testing.T) {
	inner := map[string]any{"v": 1}
	outer := map[string]any{"child": inner}

	got := Setter(Key("child"))(outer, Getter(Key("child"))(outer))
	if !Same(got, outer) {
		t.Error("expected set(outer, get(outer)) to return outer itself")
	}

	list := []any{1, 2}
	if got := Setter(Index(0))(list, 1); !Same(got, list) {
		t.Error("expected unchanged index set to return outer itself")
	}
}

func TestSetter_Lens(t *testing.T) {
	// celsius view of a kelvin field
	celsius := Lens{
		Get: func(outer any) any {
			return outer.(map[string]any)["kelvin"].(float64) - 273
		},
		Set: func(outer, inner any) any {
			next := map[string]any{}
			for k, v := range outer.(map[string]any) {
				next[k] = v
			}
			next["kelvin"] = inner.(float64) + 273
			return next
		},
	}

	state := map[string]any{"kelvin": 293.0}
	if got := Getter(celsius)(state); got != 20.0 {
		t.Fatalf("expected 20, got %v", got)
	}
	next := Setter(celsius)(state, 30.0).(map[string]any)
	if next["kelvin"] != 303.0 {
		t.Errorf("expected 303 kelvin, got %v", next["kelvin"])
	}
}

func TestInstanceLens(t *testing.T) {
	keyOf := func(item any) (any, error) { return item.(map[string]any)["key"], nil }
	b := map[string]any{"key": "b", "val": 2}
	list := []any{map[string]any{"key": "a", "val": 1}, b}
	lens := instanceLens(keyOf, "b")

	if got := lens.Get(list); !Same(got, b) {
		t.Errorf("expected element b, got %v", got)
	}

	moved := []any{b, list[0]}
	if got := lens.Get(moved); !Same(got, b) {
		t.Error("expected lookup to follow the key, not the position")
	}

	nb := map[string]any{"key": "b", "val": 20}
	updated := lens.Set(list, nb).([]any)
	if !Same(updated[1], nb) || !Same(updated[0], list[0]) {
		t.Errorf("expected b replaced in place, got %v", updated)
	}

	removed := lens.Set(list, nil).([]any)
	if len(removed) != 1 || !Same(removed[0], list[0]) {
		t.Errorf("expected b removed, got %v", removed)
	}

	if got := lens.Set(nil, nb).([]any); len(got) != 1 {
		t.Errorf("expected single-element list from nil, got %v", got)
	}
}

func TestSame(t *testing.T) {
	m := map[string]any{"a": 1}
	s := []any{1, 2}

	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil", nil, nil, true},
		{"nil and value", nil, 0, false},
		{"same map", m, m, true},
		{"equal maps", m, map[string]any{"a": 1}, false},
		{"same slice", s, s, true},
		{"resliced", s, s[:1], false},
		{"ints", 3, 3, true},
		{"strings", "x", "y", false},
		{"mixed types", 1, 1.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Same(tc.a, tc.b); got != tc.want {
				t.Errorf("Same(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSetter_IndexOnNilOuter(t *testing.T) {
	got := Setter(Index(0))(nil, "x")
	if !reflect.DeepEqual(got, []any{"x"}) {
		t.Errorf("expected [x], got %v", got)
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrScopeShape) {
			t.Errorf("expected ScopeError panic for a hole, got %v", r)
		}
	}()
	Setter(Index(3))(nil, "x")
}
