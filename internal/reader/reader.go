// Package reader implements the denormalization protocol (SPEC_FULL
// §4.3): walking a selection set against the store from a start id,
// rebuilding a response tree, and reporting missing-field paths.
//
// Grounded on internal/infrastructure/objectstore.ObjectStore's
// copy-out-under-RLock read path in the reference repository; missing-
// field accumulation is modeled after pkg/jsonx.Field[T]'s explicit
// set/null/value tri-state, generalized here with a fourth "missing"
// state recorded as a path rather than a per-field flag.
package reader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/cacheerr"
	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
	"github.com/apollostack/gqlcache/internal/fieldkey"
	"github.com/apollostack/gqlcache/internal/gqlast"
)

// maxTraversalDepth bounds recursion when the same entity is re-entered
// via the same selection path (Design Notes §9): a legitimate,
// finite GraphQL selection set never nests anywhere near this deep, so
// tripping it indicates a cyclic entity graph walked through a
// self-referential fragment, not a real query.
const maxTraversalDepth = 10000

// Result is the output of a read: the reassembled tree and the list of
// paths (dotted field-response-key paths, with [i] array indices) that
// were missing from the store.
type Result struct {
	Data    map[string]any
	Missing []string
	// Touched is every entity id the read depended on, for the watch
	// layer's dependency tracking (SPEC_FULL §4.5).
	Touched map[cachevalue.EntityId]struct{}
}

// Reader denormalizes selection sets against a Store.
type Reader struct {
	log   *zap.Logger
	store entitystore.View
}

// New constructs a Reader over store.
func New(log *zap.Logger, store entitystore.View) *Reader {
	return &Reader{log: cachelog.Named(log, "reader"), store: store}
}

// Read denormalizes ss starting at startID.
func (r *Reader) Read(ss *gqlast.SelectionSet, startID cachevalue.EntityId, variables map[string]any, fragments gqlast.FragmentMap) (Result, error) {
	res := Result{Touched: make(map[cachevalue.EntityId]struct{})}

	if !r.store.Has(startID) {
		res.Touched[startID] = struct{}{}
		res.Missing = []string{""}
		return res, nil
	}

	data, err := r.readSelections(ss, startID, "", variables, fragments, maxTraversalDepth, &res)
	if err != nil {
		return Result{}, err
	}
	res.Data = data
	return res, nil
}

func (r *Reader) readSelections(
	ss *gqlast.SelectionSet,
	entityID cachevalue.EntityId,
	path string,
	variables map[string]any,
	fragments gqlast.FragmentMap,
	depth int,
	res *Result,
) (map[string]any, error) {
	res.Touched[entityID] = struct{}{}
	out := make(map[string]any)

	for _, sel := range ss.Selections {
		switch sel.Kind {
		case gqlast.KindField:
			if err := r.readField(sel.Field, entityID, path, variables, fragments, depth, res, out); err != nil {
				return nil, err
			}

		case gqlast.KindInlineFragment:
			sub, err := r.readSelections(sel.InlineFragment, entityID, path, variables, fragments, depth, res)
			if err != nil {
				return nil, err
			}
			mergeInto(out, sub)

		case gqlast.KindFragmentSpread:
			frag, ok := fragments[sel.FragmentName]
			if !ok {
				return nil, fmt.Errorf("%w: %q", cacheerr.ErrMissingFragment, sel.FragmentName)
			}
			sub, err := r.readSelections(frag, entityID, path, variables, fragments, depth, res)
			if err != nil {
				return nil, err
			}
			mergeInto(out, sub)

		default:
			return nil, fmt.Errorf("%w: %d", cacheerr.ErrUnknownSelection, sel.Kind)
		}
	}

	return out, nil
}

func (r *Reader) readField(
	field *gqlast.Field,
	entityID cachevalue.EntityId,
	path string,
	variables map[string]any,
	fragments gqlast.FragmentMap,
	depth int,
	res *Result,
	out map[string]any,
) error {
	fieldKey, err := fieldkey.Encode(field, variables)
	if err != nil {
		return err
	}
	responseKey := field.ResponseKey()
	fieldPath := joinPath(path, responseKey)

	val, ok := r.store.GetField(entityID, fieldKey)
	if !ok {
		res.Missing = append(res.Missing, fieldPath)
		return nil
	}

	if field.SubSelection == nil {
		switch val.Kind() {
		case cachevalue.KindScalar:
			out[responseKey] = val.AsScalar()
		case cachevalue.KindJsonBlob:
			out[responseKey] = val.AsJsonBlob()
		default:
			// Taxonomy violation: a Reference/ReferenceList can only
			// occupy a slot whose field carries a sub-selection.
			return fmt.Errorf("reader: field %q has no sub-selection but store holds a reference", fieldKey)
		}
		return nil
	}

	if depth <= 0 {
		r.log.Debug("traversal depth guard tripped; treating as missing", zap.String("path", fieldPath))
		res.Missing = append(res.Missing, fieldPath)
		return nil
	}

	v, err := r.readComposite(val, field.SubSelection, fieldPath, variables, fragments, depth-1, res)
	if err != nil {
		return err
	}
	out[responseKey] = v
	return nil
}

// readComposite resolves a field's composite value: null, a single
// reference, or a (possibly nested) list of references.
func (r *Reader) readComposite(
	val cachevalue.StoreValue,
	sub *gqlast.SelectionSet,
	path string,
	variables map[string]any,
	fragments gqlast.FragmentMap,
	depth int,
	res *Result,
) (any, error) {
	switch val.Kind() {
	case cachevalue.KindReference:
		id, _, isNull := val.AsReference()
		if isNull {
			return nil, nil
		}
		if !r.store.Has(id) {
			res.Touched[id] = struct{}{}
			res.Missing = append(res.Missing, path)
			return nil, nil
		}
		return r.readSelections(sub, id, path, variables, fragments, depth, res)

	case cachevalue.KindReferenceList:
		list := val.AsReferenceList()
		out := make([]any, len(list))
		for i, elem := range list {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			v, err := r.readComposite(elem, sub, elemPath, variables, fragments, depth, res)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		return nil, fmt.Errorf("reader: composite field holds unexpected value kind %d", val.Kind())
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
