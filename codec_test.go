package strata

import "testing"

type settings struct {
	Theme string `json:"theme" yaml:"theme" validate:"required"`
	Count int    `json:"count" yaml:"count" validate:"min=0"`
}

func TestCodecs_Unmarshal(t *testing.T) {
	cases := []struct {
		name  string
		codec Codec
		data  string
	}{
		{"json", JSONCodec{}, `{"theme": "dark", "count": 3}`},
		{"yaml", YAMLCodec{}, "theme: dark\ncount: 3"},
		{"yaml accepts json", YAMLCodec{}, `{"theme": "dark", "count": 3}`},
		{"auto json object", AutoCodec{}, `  {"theme": "dark", "count": 3}`},
		{"auto yaml", AutoCodec{}, "theme: dark\ncount: 3\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s settings
			if err := tc.codec.Unmarshal([]byte(tc.data), &s); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if s.Theme != "dark" || s.Count != 3 {
				t.Errorf("expected {dark 3}, got %+v", s)
			}
		})
	}
}

func TestCodecs_UnmarshalInvalid(t *testing.T) {
	var s settings
	if err := (JSONCodec{}).Unmarshal([]byte(`{not valid json}`), &s); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if err := (YAMLCodec{}).Unmarshal([]byte("theme: [unclosed"), &s); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if err := (AutoCodec{}).Unmarshal([]byte(`{"theme": `), &s); err == nil {
		t.Error("expected auto codec to report JSON errors")
	}
}

func TestAutoCodec_Array(t *testing.T) {
	var list []any
	if err := (AutoCodec{}).Unmarshal([]byte(`[{"key": "a"}]`), &list); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected one element, got %v", list)
	}
}

func TestCodecs_ContentType(t *testing.T) {
	if ct := (JSONCodec{}).ContentType(); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if ct := (YAMLCodec{}).ContentType(); ct != "application/x-yaml" {
		t.Errorf("expected application/x-yaml, got %q", ct)
	}
}
