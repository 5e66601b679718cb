// Package fieldkey computes the argument-aware, deterministic per-entity
// storage key for a selected field (SPEC_FULL §4.1). It is a small,
// single-purpose pure-function package, in the shape of the reference
// repository's pkg/urlutil and pkg/avurl helpers.
package fieldkey

import (
	"fmt"

	"github.com/apollostack/gqlcache/cacheerr"
	"github.com/apollostack/gqlcache/internal/canonjson"
	"github.com/apollostack/gqlcache/internal/gqlast"
)

// Encode returns the storage key for field, given a variable environment.
// The alias (if any) is not part of the key: it affects only response
// shape, never storage identity.
func Encode(field *gqlast.Field, variables map[string]any) (string, error) {
	if len(field.Arguments) == 0 {
		return field.Name, nil
	}

	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := resolveValue(arg.Value, variables)
		if err != nil {
			return "", fmt.Errorf("fieldkey: argument %q: %w", arg.Name, err)
		}
		args[arg.Name] = v
	}

	return fmt.Sprintf("%s(%s)", field.Name, canonjson.Encode(args)), nil
}

// resolveValue converts a literal ValueNode (or substitutes a variable)
// into the plain decoded-JSON shape canonjson expects.
func resolveValue(node gqlast.ValueNode, variables map[string]any) (any, error) {
	switch node.Kind {
	case gqlast.KindIntValue:
		return node.IntValue, nil
	case gqlast.KindFloatValue:
		return node.FloatValue, nil
	case gqlast.KindStringValue:
		return node.StringValue, nil
	case gqlast.KindBoolValue:
		return node.BoolValue, nil
	case gqlast.KindNullValue:
		return nil, nil
	case gqlast.KindEnumValue:
		return node.EnumValue, nil
	case gqlast.KindVariable:
		// A referenced variable absent from the environment resolves to
		// nil, matching how an omitted optional GraphQL variable behaves.
		return variables[node.VariableName], nil
	case gqlast.KindListValue:
		out := make([]any, len(node.ListValue))
		for i, elem := range node.ListValue {
			v, err := resolveValue(elem, variables)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case gqlast.KindObjectValue:
		out := make(map[string]any, len(node.ObjectValue))
		for _, f := range node.ObjectValue {
			v, err := resolveValue(f.Value, variables)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", cacheerr.ErrUnsupportedArgumentKind, node.Kind)
	}
}
