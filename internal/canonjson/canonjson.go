// Package canonjson produces a deterministic, sorted-key JSON encoding of
// a Go value built from the usual decoded-JSON shapes
// (nil, bool, float64/int64/string, []any, map[string]any). Two values
// that are structurally equal but were built with maps in different
// key orders always encode to byte-identical strings.
package canonjson

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Encode returns the canonical JSON serialization of v.
//
// v must be composed only of: nil, bool, string, int, int64, float64,
// []any and map[string]any (the shapes produced by resolving a
// gqlast.ValueNode tree). Any other type is a programmer error and
// panics, since it indicates a caller bug in value-node conversion
// rather than a recoverable runtime condition.
func Encode(v any) string {
	var b strings.Builder
	encode(&b, v)
	return b.String()
}

func encode(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, x)
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		encodeNumber(b, x)
	case []any:
		encodeArray(b, x)
	case map[string]any:
		encodeObject(b, x)
	default:
		panic(fmt.Sprintf("canonjson: unsupported value type %T", v))
	}
}

func encodeArray(b *strings.Builder, arr []any) {
	b.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		encode(b, elem)
	}
	b.WriteByte(']')
}

func encodeObject(b *strings.Builder, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		encode(b, obj[k])
	}
	b.WriteByte('}')
}

// encodeNumber uses the shortest round-trippable representation so that
// e.g. 1.0 and 1 (both decoded as float64) encode identically.
func encodeNumber(b *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
