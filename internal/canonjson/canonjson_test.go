package canonjson

import "testing"

func TestEncode(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"bool", true, "true"},
		{"int", 5, "5"},
		{"float_int_valued", 5.0, "5"},
		{"float_fractional", 5.5, "5.5"},
		{"string", "hi", `"hi"`},
		{"string_with_quote", `a"b`, `"a\"b"`},
		{"array", []any{1, "a", nil}, `[1,"a",null]`},
		{
			"object_sorts_keys",
			map[string]any{"b": 1, "a": 2},
			`{"a":2,"b":1}`,
		},
		{
			"nested",
			map[string]any{"filter": map[string]any{"z": 1, "a": []any{1, 2}}},
			`{"filter":{"a":[1,2],"z":1}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Encode(tc.in)
			if got != tc.want {
				t.Errorf("Encode(%#v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncodeDeterministicAcrossCalls(t *testing.T) {
	v := map[string]any{"c": 1, "a": 2, "b": 3}
	first := Encode(v)
	for i := 0; i < 10; i++ {
		if got := Encode(v); got != first {
			t.Fatalf("Encode not deterministic: call %d got %q, want %q", i, got, first)
		}
	}
}

func TestEncodeUnsupportedTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic encoding unsupported type")
		}
	}()
	Encode(struct{}{})
}
