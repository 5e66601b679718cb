// Package cacheerr defines the typed error kinds raised by the cache
// core. Each kind is a distinct sentinel; raising sites wrap it with
// fmt.Errorf("...: %w", ...) so callers can recover the kind with
// errors.Is, following the reference style of
// internal/repo's ErrChannelNotFound / internal/infrastructure's
// ErrNotFound sentinels.
package cacheerr

import "errors"

var (
	// ErrIdentityViolation: identify() returned an id beginning with "$".
	ErrIdentityViolation = errors.New("cache: identify returned a reserved synthetic-id prefix")

	// ErrIdentityOverwrite: a write attempted to replace a real-id
	// reference with a synthetic-id reference at the same slot.
	ErrIdentityOverwrite = errors.New("cache: cannot overwrite a real entity id with a synthetic one")

	// ErrMissingFragment: a fragment spread names a fragment absent from
	// the fragment map.
	ErrMissingFragment = errors.New("cache: fragment spread names an unknown fragment")

	// ErrUnknownSelection: a selection's Kind is outside
	// {KindField, KindInlineFragment, KindFragmentSpread}.
	ErrUnknownSelection = errors.New("cache: unrecognized selection kind")

	// ErrUnsupportedArgumentKind: a ValueNode's Kind is not handled by
	// the field-key encoder.
	ErrUnsupportedArgumentKind = errors.New("cache: unsupported argument value kind")

	// ErrUnknownMutation: RemoveOptimistic/CommitOptimistic named a
	// mutation id with no matching layer.
	ErrUnknownMutation = errors.New("cache: no optimistic layer for mutation id")
)
